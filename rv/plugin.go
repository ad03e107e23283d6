package rv

import "github.com/jacksun007/testfs-rv/rvcache"

// Plugin is the vtable a filesystem implementation supplies to interpose
// on block reads and writes of one on-disk layout. T is the plugin's own
// cache handle type (see rvcache.Handle). Every method must be callable
// immediately after construction; Instance's constructor checks this by
// requiring a non-nil Plugin value, not by reflecting over its methods
// the way the original's null-function-pointer table scan did — Go
// interfaces don't have a clean equivalent of a half-populated vtable.
type Plugin[T rvcache.Handle[T]] interface {
	// TxStart allocates any per-transaction scratch state. Called once at
	// the top of tx_commit, before any block is preprocessed.
	TxStart(txType string) error
	// TxEnd flushes the change sink and releases per-transaction scratch.
	// Called once at the bottom of tx_commit, after every entry has been
	// promoted or destroyed.
	TxEnd() error

	// Create allocates a cache entry for block nr and registers it with
	// inst's cache (via rvcache.Cache.Add) under the appropriate kind.
	// A nil handle with a nil error means nr is an untyped data block:
	// the core does not track it at all.
	Create(inst *Instance[T], nr int, write bool) (T, error)
	// Attach copies block into the handle's own buffer and marks it
	// attached (via rvcache.Cache.MarkAttached).
	Attach(h T, block []byte) error
	// Destroy releases the handle's buffer, unrefs any side data, and
	// unregisters it from the cache (via rvcache.Cache.Remove).
	Destroy(h T) error
	// Invalidate frees the handle's buffer but keeps the shell entry
	// around, marked ON_DISK (via rvcache.Cache.MarkOnDisk).
	Invalidate(h T) error
	// Read re-fetches the handle's bytes from the device after an
	// ON_DISK reload.
	Read(h T) error

	// References walks the block's on-disk structure and predeclares
	// any child blocks it references, both in the interval map and in
	// the cache.
	References(h T) error
	// Preprocess propagates type and side data onto a freshly-created
	// write-cache handle from its previous version (if any) or from the
	// interval map.
	Preprocess(h T) error
	// Process diffs h against its previous version and emits change
	// records, marking h Processed once its type is known and the diff
	// is complete. done reports whether this call made any progress at
	// all (including resolving the type of some other, unrelated
	// handle) — the core keeps sweeping the write cache as long as any
	// entry in a round reports done, since resolving one block's type
	// can be what a sibling needed to resolve its own.
	Process(h T) (done bool, err error)

	// Corrupt injects random bit errors into h's buffer, used only when
	// the instance was built with corruption enabled.
	Corrupt(h T) error
}
