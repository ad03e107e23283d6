// Package testfs is the filesystem plugin (C5): it implements rv.Plugin
// for one on-disk layout — a superblock, an inode freemap, a block
// freemap, inode blocks, indirect blocks and directory blocks — turning
// raw block reads and writes into typed blocks, discovered references,
// and per-transaction semantic diffs.
package testfs

import (
	"math/rand"

	"github.com/jacksun007/testfs-rv/blockdev"
	"github.com/jacksun007/testfs-rv/changesink"
	"github.com/jacksun007/testfs-rv/rv"
	"github.com/jacksun007/testfs-rv/rvcache"
	"github.com/jacksun007/testfs-rv/rvinterval"
)

var zeroBlock = make([]byte, BlockSize)

// Plugin implements rv.Plugin[*Block] for the testfs on-disk layout.
// Construct with NewPlugin, then Bind it to the rv.Instance built around
// it — References, Preprocess, Process and the rest of the vtable only
// receive a handle, not the instance, so the instance reference has to
// live on the plugin itself.
type Plugin struct {
	inst *rv.Instance[*Block]
	dev  *blockdev.Device
	sink *changesink.Sink

	sb superBlock // most recently seen superblock fields

	processedDirs map[int]bool
	deletedBlocks []int
}

// NewPlugin returns a Plugin backed by dev for block I/O and sink for
// change reporting. Call Bind once the owning rv.Instance exists.
func NewPlugin(dev *blockdev.Device, sink *changesink.Sink) *Plugin {
	return &Plugin{dev: dev, sink: sink}
}

// Bind attaches the owning instance. Must be called exactly once, right
// after rv.New returns.
func (p *Plugin) Bind(inst *rv.Instance[*Block]) { p.inst = inst }

// Bootstrap registers the one interval the plugin contract promises at
// init: block 0 is always the superblock. Call once, before the first
// Read.
func (p *Plugin) Bootstrap() error {
	return p.inst.Intervals().Create(0, 1, rvinterval.BlockType(SuperBlock))
}

func (p *Plugin) TxStart(txType string) error {
	p.processedDirs = make(map[int]bool)
	p.deletedBlocks = p.deletedBlocks[:0]
	return nil
}

func (p *Plugin) TxEnd() error {
	for _, bnr := range p.deletedBlocks {
		h, ok, err := p.inst.Cache().Find(bnr, rvcache.ReadCache)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		p.inst.Cache().Put(h)
		if err := p.Destroy(h); err != nil {
			return err
		}
	}
	p.deletedBlocks = p.deletedBlocks[:0]
	p.processedDirs = nil
	p.sink.EndTransaction()
	return nil
}

// scheduleDelete adds bnr to the list of blocks TxEnd will look up in the
// read cache and destroy at the end of the commit, so later lookups see no
// stale references.
func (p *Plugin) scheduleDelete(bnr int) {
	p.deletedBlocks = append(p.deletedBlocks, bnr)
}

// Create allocates a cache entry for nr. On a read, the type comes from
// the interval map — a miss means an untyped data block, reported as
// (nil, nil) so the core leaves it untracked. On a write, the type
// starts UnknownBlock and is resolved later, during preprocess/process.
func (p *Plugin) Create(inst *rv.Instance[*Block], nr int, write bool) (*Block, error) {
	typ := UnknownBlock
	kind := rvcache.WriteCache
	if !write {
		kind = rvcache.ReadCache
		iv, ok := inst.Intervals().Find(nr)
		if !ok {
			return nil, nil
		}
		typ = BlockType(iv.Type)
	}
	b := &Block{typ: typ}
	if err := inst.Cache().Add(nr, kind, b); err != nil {
		return nil, err
	}
	return b, nil
}

// createTyped is the references-pass helper behind every "predeclare a
// child block" call: it allocates a read-cache entry of a known type,
// failing with rv.EEXIST if one is already there (mirroring
// testfs_block_create_typed).
func (p *Plugin) createTyped(nr int, typ BlockType) (*Block, error) {
	if _, ok, err := p.inst.Cache().Find(nr, rvcache.BothCaches); err != nil {
		return nil, err
	} else if ok {
		return nil, rv.EEXIST
	}
	b := &Block{typ: typ}
	if err := p.inst.Cache().Add(nr, rvcache.ReadCache, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (p *Plugin) Attach(h *Block, block []byte) error {
	h.data = append([]byte(nil), block...)
	p.inst.Cache().MarkAttached(h)
	return nil
}

func (p *Plugin) Destroy(h *Block) error {
	h.unrefSideData()
	h.data = nil
	return p.inst.Cache().Remove(h.Base().Kind(), h)
}

func (p *Plugin) Invalidate(h *Block) error {
	h.data = nil
	p.inst.Cache().MarkOnDisk(h)
	return nil
}

// Read re-fetches h's bytes from the device after an ON_DISK reload.
func (p *Plugin) Read(h *Block) error {
	buf := make([]byte, BlockSize)
	if err := p.dev.ReadBlock(h.Base().Number(), buf); err != nil {
		return rv.EIO
	}
	h.data = buf
	p.inst.Cache().MarkAttached(h)
	return nil
}

// Corrupt injects zero to two randomly-sized runs of random bytes into
// h's buffer, following original_source's testfs_block_corrupt: a count
// drawn from [-7, 2] with only positive draws producing any corruption.
func (p *Plugin) Corrupt(h *Block) error {
	if h.data == nil {
		return nil
	}
	n := rand.Intn(10) - 7
	for i := 0; i < n; i++ {
		start := rand.Intn(BlockSize)
		end := start + rand.Intn(BlockSize-start)
		for j := start; j < end; j++ {
			h.data[j] = byte(rand.Intn(256))
		}
	}
	return nil
}
