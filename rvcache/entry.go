package rvcache

import "container/list"

type flags uint8

const (
	flagProcessed flags = 1 << iota
	flagAttached
	flagOnDisk
)

// Entry is the cache-mechanics header every cached block embeds as its
// first field. It tracks identity, lifecycle flags, LRU linkage and
// refcount, and the transient link to a block's previous version during
// commit. Everything else — the raw bytes, the block type, side data —
// belongs to the plugin's concrete type.
//
// Fields are unexported: code outside this package must go through Cache,
// never poke at an Entry directly.
type Entry[T any] struct {
	nr       int
	knd      Kind
	fl       flags
	refcount int
	lruElem  *list.Element
	prev     T
	hasPrev  bool
}

// Number returns the block number this entry was created for.
func (e *Entry[T]) Number() int { return e.nr }

// Kind reports which cache half currently holds this entry: ReadCache or
// WriteCache. A plugin's Destroy needs this to call the matching
// Cache.Remove.
func (e *Entry[T]) Kind() Kind { return e.knd }

// Processed reports whether the plugin has finished diffing this entry
// (commit step 4's fixed-point loop skips entries that are already
// Processed).
func (e *Entry[T]) Processed() bool { return e.fl&flagProcessed != 0 }

// SetProcessed marks the entry as diffed. Idempotent.
func (e *Entry[T]) SetProcessed() { e.fl |= flagProcessed }

// Attached reports whether the entry's byte buffer has been populated.
func (e *Entry[T]) Attached() bool { return e.fl&flagAttached != 0 }

func (e *Entry[T]) setAttached() { e.fl |= flagAttached }

// OnDisk reports whether the entry's buffer has been evicted; Find
// transparently reloads an OnDisk read-cache entry before returning it.
func (e *Entry[T]) OnDisk() bool { return e.fl&flagOnDisk != 0 }

func (e *Entry[T]) setOnDisk(v bool) {
	if v {
		e.fl |= flagOnDisk
	} else {
		e.fl &^= flagOnDisk
	}
}

// Refcount reports the entry's current reference count. Only meaningful
// while the entry is Attached; eviction skips any entry with Refcount() > 0.
func (e *Entry[T]) Refcount() int { return e.refcount }

// PrevVersion returns the write-cache entry's paired read-cache version, as
// set up for the duration of a single commit by Cache.LinkPreviousVersion.
// It is the value-typed stand-in the design notes call for: valid only
// between preprocess and promotion, cleared at promotion, never an
// ownership edge.
func (e *Entry[T]) PrevVersion() (T, bool) { return e.prev, e.hasPrev }

func (e *Entry[T]) setPrevVersion(v T) {
	e.prev = v
	e.hasPrev = true
}

// ClearPrevVersion drops the back-pointer. Cache clears it unconditionally
// at Add, at promotion and at Remove; the core's commit reads the link at
// promotion to destroy the previous version, so it stays set until then.
func (e *Entry[T]) ClearPrevVersion() {
	var zero T
	e.prev = zero
	e.hasPrev = false
}
