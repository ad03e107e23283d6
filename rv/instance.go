// Package rv is the runtime-verification core (C4): it interposes on a
// host filesystem's block reads and writes, drives a plugin through a
// two-phase commit on every transaction, and disables itself for good on
// the first error rather than ever surfacing one to the host.
package rv

import (
	"fmt"
	"strings"

	"github.com/jacksun007/testfs-rv/rvcache"
	"github.com/jacksun007/testfs-rv/rvinterval"
)

// Instance is one runtime-verification session over a single device. T is
// the filesystem plugin's own cache handle type. The zero value is not
// usable; construct with New.
type Instance[T rvcache.Handle[T]] struct {
	enabled bool
	corrupt bool
	inTx    bool
	txID    int

	crashConsistent bool
	multipleUpdates bool

	cache     *rvcache.Cache[T]
	intervals *rvinterval.Map

	ops Plugin[T]
	log Logger
}

// New builds an enabled Instance. ops must be non-nil; a nil plugin is
// the Go equivalent of the original's null-slot vtable check. ops.Read is
// used as the backing cache's lazy-reload callback for ON_DISK entries.
func New[T rvcache.Handle[T]](cfg Config, ops Plugin[T], log Logger) (*Instance[T], error) {
	if ops == nil {
		return nil, EINVAL
	}
	if log == nil {
		log = NopLogger{}
	}
	return &Instance[T]{
		enabled:         true,
		corrupt:         cfg.Corrupt,
		crashConsistent: cfg.CrashConsistent,
		multipleUpdates: cfg.MultipleBlockUpdates,
		cache:           rvcache.New[T](cfg.BlockThreshold, ops.Read),
		intervals:       rvinterval.New(),
		ops:             ops,
		log:             log,
	}, nil
}

// Enabled reports whether the instance is still interposing. Once false
// (set by disable), every public method is a no-op.
func (inst *Instance[T]) Enabled() bool { return inst.enabled }

// TxID returns the id of the transaction being committed, or of the last
// one committed. The id is assigned by TxCommit, not by TxStart.
func (inst *Instance[T]) TxID() int { return inst.txID }

// Cache exposes the backing two-level cache so a plugin's Create,
// Attach, Destroy, Invalidate, and Read implementations can register and
// manipulate their own handles. Code outside a plugin should not need
// this.
func (inst *Instance[T]) Cache() *rvcache.Cache[T] { return inst.cache }

// Intervals exposes the backing interval map so a plugin's References
// implementation can predeclare child block ranges.
func (inst *Instance[T]) Intervals() *rvinterval.Map { return inst.intervals }

// Log writes one line to the general log under the given function name.
func (inst *Instance[T]) Log(fname, msg string) { inst.log.Log(fname, msg) }

// Read interposes on a block read of nr, whose on-disk bytes are block.
// It is a no-op once the instance is disabled.
func (inst *Instance[T]) Read(nr int, block []byte) {
	if !inst.enabled {
		return
	}
	if h, ok, err := inst.cache.Find(nr, rvcache.WriteCache); err != nil {
		inst.disable(err)
		return
	} else if ok {
		inst.cache.Put(h)
		if inst.crashConsistent {
			// a consistent filesystem must not read its own
			// uncommitted writes
			inst.disable(EIO)
		}
		return
	}

	h, found, err := inst.cache.Find(nr, rvcache.ReadCache)
	if err != nil {
		inst.disable(err)
		return
	}
	if !found {
		created, err := inst.ops.Create(inst, nr, false)
		if err != nil {
			inst.disable(err)
			return
		}
		var zero T
		if created == zero {
			// untyped data block: nothing to track
			return
		}
		h = created
	}

	if h.Base().Attached() {
		inst.cache.Put(h)
		return
	}

	if err := inst.ops.Attach(h, block); err != nil {
		inst.disable(err)
		return
	}
	err = inst.ops.References(h)
	inst.cache.Put(h)
	if err != nil {
		inst.disable(err)
	}
}

// Write interposes on a block write of nr, whose new bytes are block. It
// must be called between TxStart and TxCommit.
func (inst *Instance[T]) Write(nr int, block []byte) {
	if !inst.enabled {
		return
	}
	if !inst.inTx {
		inst.disable(EINVAL)
		return
	}

	if existing, ok, err := inst.cache.Find(nr, rvcache.WriteCache); err != nil {
		inst.disable(err)
		return
	} else if ok {
		inst.cache.Put(existing)
		if !inst.multipleUpdates {
			inst.disable(EIO)
			return
		}
		if err := inst.ops.Destroy(existing); err != nil {
			inst.disable(err)
			return
		}
	}

	if !inst.crashConsistent {
		// touch the read-cache version, if any, so later eviction
		// replays see a still-valid entry rather than reading the
		// just-written data back into the read cache
		if rh, ok, err := inst.cache.Find(nr, rvcache.ReadCache); err != nil {
			inst.disable(err)
			return
		} else if ok {
			inst.cache.Put(rh)
		}
	}

	h, err := inst.ops.Create(inst, nr, true)
	if err != nil {
		inst.disable(err)
		return
	}
	var zero T
	if h == zero {
		inst.disable(EINVAL)
		return
	}
	if err := inst.ops.Attach(h, block); err != nil {
		inst.disable(err)
		return
	}
	if inst.corrupt {
		if err := inst.ops.Corrupt(h); err != nil {
			inst.cache.Put(h)
			inst.disable(err)
			return
		}
	}
	inst.cache.Put(h)
}

// TxStart begins a transaction of the given type (used only for logging
// — the core itself does not branch on it). txType accepts either a
// TxType or a plain string, for a plugin built against a filesystem with
// its own transaction taxonomy.
func (inst *Instance[T]) TxStart(txType interface{}) {
	if !inst.enabled {
		return
	}
	inst.log.Log("rv.TxStart", fmt.Sprintf("type = %s", txTypeName(txType)))
	inst.inTx = true
}

// TxCommit ends the current transaction and drives the plugin through
// preprocess, the diff fixed-point loop, and promotion. Any failure
// disables the instance instead of propagating. txType accepts either a
// TxType or a plain string.
func (inst *Instance[T]) TxCommit(txType interface{}) {
	if !inst.enabled {
		return
	}
	inst.inTx = false
	if err := inst.commit(txTypeName(txType)); err != nil {
		inst.disable(err)
	}
}

func (inst *Instance[T]) commit(txType string) error {
	inst.txID++
	ltype := strings.ToLower(txType)
	inst.log.LogChange(inst.txID, "rv.commit", fmt.Sprintf("tx_begin, type=%s", ltype))

	if err := inst.ops.TxStart(txType); err != nil {
		return err
	}

	// link each write-cache entry to its previous read-cache version,
	// then let the plugin propagate type and side data from it
	for _, h := range inst.cache.WriteEntries() {
		prev, ok, err := inst.cache.Find(h.Base().Number(), rvcache.ReadCache)
		if err != nil {
			return err
		}
		if ok {
			inst.cache.LinkPreviousVersion(h, prev)
		}
		if err := inst.ops.Preprocess(h); err != nil {
			return err
		}
	}

	// fixed-point diff: a round that resolves one block's type may be
	// exactly what a sibling needed to resolve its own, so keep
	// sweeping until a full round makes no progress at all
	for {
		progress := false
		for _, h := range inst.cache.WriteEntries() {
			if h.Base().Processed() {
				continue
			}
			done, err := inst.ops.Process(h)
			if err != nil {
				return err
			}
			if done {
				progress = true
			}
		}
		if !progress {
			break
		}
	}

	// promote every processed entry into the read cache; anything that
	// never got a type (almost certainly a data block) is discarded
	for _, h := range inst.cache.WriteEntries() {
		if !h.Base().Processed() {
			if err := inst.ops.Destroy(h); err != nil {
				return err
			}
			continue
		}
		if prev, ok := h.Base().PrevVersion(); ok {
			inst.cache.Put(prev)
			if err := inst.ops.Destroy(prev); err != nil {
				return err
			}
		}
		if err := inst.cache.Promote(h); err != nil {
			return err
		}
	}

	if err := inst.ops.TxEnd(); err != nil {
		return err
	}

	if err := inst.cache.InvalidateBlocks(inst.ops.Invalidate); err != nil {
		return err
	}

	inst.log.LogChange(inst.txID, "rv.commit", fmt.Sprintf("tx_end, type=%s", ltype))
	return nil
}

// disable tears the instance down: every cache entry is destroyed
// best-effort, every interval is discarded, and the instance is marked
// disabled so every subsequent public method becomes a no-op. disable is
// idempotent.
func (inst *Instance[T]) disable(err error) {
	if !inst.enabled {
		return
	}
	inst.enabled = false
	inst.cache.DestroyAll(inst.ops.Destroy)
	inst.intervals.DeleteAll()
	inst.log.Log("rv.disable", fmt.Sprintf("WARN: rv_enabled is set to 0 (%v)", asErrKind(err)))
}
