// Package rvcache is the two-level block cache (C3): a read cache and a
// write cache, each holding at most one entry per block number, with an
// LRU list over attached entries and refcount-gated eviction.
//
// Concurrent reloads of the same on-disk read-cache entry are deduplicated
// with golang.org/x/sync/singleflight instead of a hand-rolled condition
// variable: the first caller to find an ON_DISK entry does the reload,
// every other caller racing on the same block number blocks on the same
// call and observes its result.
package rvcache

import (
	"container/list"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Kind selects which half (or both halves) of the cache an operation
// applies to.
type Kind uint8

const (
	ReadCache Kind = 1 << iota
	WriteCache
)

// BothCaches checks both the read and write cache, write cache first.
const BothCaches = ReadCache | WriteCache

// ErrExists is returned by Add when an entry already exists for the given
// (kind, block number) pair — every cache enforces at most one entry per
// pair.
var ErrExists = fmt.Errorf("rvcache: entry already exists")

// ErrBusy is returned by Remove when the entry's refcount is nonzero.
var ErrBusy = fmt.Errorf("rvcache: entry is referenced")

// Handle is the constraint every cacheable type must satisfy: exposing its
// embedded Entry. T is the handle type itself (typically a pointer to a
// plugin-defined block struct), so a cache of T can hand T back out of
// Find/Add/Promote instead of the bare Entry header.
type Handle[T any] interface {
	comparable
	Base() *Entry[T]
}

// Cache is a two-level, generic block cache. The zero value is not usable;
// construct with New.
type Cache[T Handle[T]] struct {
	mu sync.Mutex

	read  map[int]T
	write map[int]T

	writeOrder *list.List // list.Element.Value = T; stable commit iteration
	writeElem  map[int]*list.Element

	lru *list.List // list.Element.Value = T; front = most recently used

	blocksInMemory int
	threshold      int // 0 means unlimited: eviction never runs

	reload func(T) error
	group  singleflight.Group
}

// New builds an empty cache. threshold is the number of attached blocks
// above which InvalidateBlocks will start evicting; 0 disables eviction
// entirely, which is also what a build with no LRU support looks like.
// reload is called by Find to pull an ON_DISK read-cache entry back in; it
// must attach the handle (calling Cache.MarkAttached) before returning nil.
func New[T Handle[T]](threshold int, reload func(T) error) *Cache[T] {
	return &Cache[T]{
		read:       make(map[int]T),
		write:      make(map[int]T),
		writeOrder: list.New(),
		writeElem:  make(map[int]*list.Element),
		lru:        list.New(),
		threshold:  threshold,
		reload:     reload,
	}
}

// Add registers a newly allocated handle under nr in the given single
// cache kind (ReadCache xor WriteCache — never BothCaches). It does not
// attach the entry; call MarkAttached once the buffer is populated.
func (c *Cache[T]) Add(nr int, kind Kind, h T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.mapFor(kind)
	if _, ok := m[nr]; ok {
		return ErrExists
	}
	base := h.Base()
	base.nr = nr
	base.knd = kind
	base.fl = 0
	base.refcount = 0
	base.ClearPrevVersion()
	m[nr] = h
	if kind == WriteCache {
		c.writeElem[nr] = c.writeOrder.PushBack(h)
	}
	return nil
}

func (c *Cache[T]) mapFor(kind Kind) map[int]T {
	switch kind {
	case ReadCache:
		return c.read
	case WriteCache:
		return c.write
	default:
		panic("rvcache: Add/mapFor requires exactly one cache kind")
	}
}

// Find looks up nr across the requested kinds, preferring the write cache
// when both are requested (a dirty version always shadows the clean one).
// A read-cache hit that is ON_DISK is transparently reloaded and promoted
// to most-recently-used before being returned.
func (c *Cache[T]) Find(nr int, kinds Kind) (T, bool, error) {
	c.mu.Lock()
	if kinds&WriteCache != 0 {
		if h, ok := c.write[nr]; ok {
			c.mu.Unlock()
			return h, true, nil
		}
	}
	if kinds&ReadCache == 0 {
		c.mu.Unlock()
		var zero T
		return zero, false, nil
	}
	h, ok := c.read[nr]
	if !ok {
		c.mu.Unlock()
		var zero T
		return zero, false, nil
	}
	needsReload := h.Base().OnDisk()
	c.mu.Unlock()

	if needsReload {
		if err := c.reloadBlocking(nr, h); err != nil {
			var zero T
			return zero, false, err
		}
	}

	c.mu.Lock()
	c.touchLocked(h)
	c.mu.Unlock()
	return h, true, nil
}

func (c *Cache[T]) reloadBlocking(nr int, h T) error {
	_, err, _ := c.group.Do(strconv.Itoa(nr), func() (interface{}, error) {
		// a caller that saw ON_DISK just before an earlier reload
		// finished arrives here after it: the entry is already back
		c.mu.Lock()
		onDisk := h.Base().OnDisk()
		c.mu.Unlock()
		if !onDisk {
			return nil, nil
		}
		return nil, c.reload(h)
	})
	return err
}

// MarkAttached marks h as attached, gives it an initial refcount of 1, and
// pushes it to the front of the LRU list. Called by a plugin's create/read
// path once the handle's buffer holds valid bytes, and by Find's reload
// path for a handle coming back from ON_DISK.
func (c *Cache[T]) MarkAttached(h T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	base := h.Base()
	base.setAttached()
	base.setOnDisk(false)
	base.refcount = 1
	base.lruElem = c.lru.PushFront(h)
	c.blocksInMemory++
}

func (c *Cache[T]) touchLocked(h T) {
	base := h.Base()
	base.refcount++
	if base.lruElem != nil {
		c.lru.MoveToFront(base.lruElem)
	}
}

// Get increments h's refcount. It is a no-op on a handle that was never
// attached.
func (c *Cache[T]) Get(h T) {
	base := h.Base()
	if !base.Attached() {
		return
	}
	c.mu.Lock()
	c.touchLocked(h)
	c.mu.Unlock()
}

// Put decrements h's refcount, floored at zero. A no-op on a handle that
// was never attached.
func (c *Cache[T]) Put(h T) {
	base := h.Base()
	if !base.Attached() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if base.refcount > 0 {
		base.refcount--
	}
}

// Remove unlinks h from kind's map (and, for the write cache, from the
// stable commit order). It fails with ErrBusy if h is currently
// referenced; the caller — normally a plugin's destroy op driven from the
// commit loop or from eviction — must drop its own references first.
func (c *Cache[T]) Remove(kind Kind, h T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	base := h.Base()
	if base.Attached() && base.refcount > 0 {
		return ErrBusy
	}
	delete(c.mapFor(kind), base.nr)
	if kind == WriteCache {
		if el, ok := c.writeElem[base.nr]; ok {
			c.writeOrder.Remove(el)
			delete(c.writeElem, base.nr)
		}
	}
	if base.lruElem != nil {
		c.lru.Remove(base.lruElem)
		base.lruElem = nil
		if base.Attached() {
			c.blocksInMemory--
		}
	}
	base.fl = 0
	base.ClearPrevVersion()
	return nil
}

// Promote moves h from the write cache to the read cache under the same
// block number. The read-cache slot must be free — the caller destroys or
// otherwise clears any previous version (available via h.Base().PrevVersion)
// before calling Promote.
func (c *Cache[T]) Promote(h T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	base := h.Base()
	if _, ok := c.read[base.nr]; ok {
		return fmt.Errorf("rvcache: Promote: read cache slot %d is occupied", base.nr)
	}
	if _, ok := c.write[base.nr]; !ok {
		return fmt.Errorf("rvcache: Promote: %d is not in the write cache", base.nr)
	}
	delete(c.write, base.nr)
	if el, ok := c.writeElem[base.nr]; ok {
		c.writeOrder.Remove(el)
		delete(c.writeElem, base.nr)
	}
	c.read[base.nr] = h
	base.knd = ReadCache
	base.ClearPrevVersion()
	return nil
}

// WriteEntries returns a stable, point-in-time snapshot of the write cache
// in insertion order, safe to range over while the cache itself mutates
// (promotions, removals) as a result of acting on each entry.
func (c *Cache[T]) WriteEntries() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, 0, c.writeOrder.Len())
	for el := c.writeOrder.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(T))
	}
	return out
}

// Len reports how many entries are currently tracked in the given single
// cache kind.
func (c *Cache[T]) Len(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mapFor(kind))
}

// BlocksInMemory reports how many attached blocks currently count against
// the eviction threshold.
func (c *Cache[T]) BlocksInMemory() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocksInMemory
}

// LinkPreviousVersion records prev as h's previous version for the
// duration of one commit. Called during preprocess, after the core has
// already looked prev up itself via Find (which accounts for prev's
// refcount); Promote and destroy both clear the link.
func (c *Cache[T]) LinkPreviousVersion(h, prev T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h.Base().setPrevVersion(prev)
}

// snapshot returns every handle currently in the given single cache kind,
// in no particular order.
func (c *Cache[T]) snapshot(kind Kind) []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.mapFor(kind)
	out := make([]T, 0, len(m))
	for _, h := range m {
		out = append(out, h)
	}
	return out
}

// DestroyAll calls destroy on every entry in both caches, read cache
// first. It is used only for teardown (rv's disable path), so it is
// best-effort: a destroy failure (for example an entry still referenced)
// is not fatal to the teardown and does not stop it from proceeding to
// the rest of the entries.
func (c *Cache[T]) DestroyAll(destroy func(T) error) {
	for _, h := range c.snapshot(ReadCache) {
		_ = destroy(h)
	}
	for _, h := range c.snapshot(WriteCache) {
		h.Base().ClearPrevVersion()
		_ = destroy(h)
	}
}
