package testfs

import (
	"github.com/jacksun007/testfs-rv/bitops"
	"github.com/jacksun007/testfs-rv/changesink"
	"github.com/jacksun007/testfs-rv/rv"
	"github.com/jacksun007/testfs-rv/rvcache"
)

// Preprocess propagates type and side data onto a freshly-created
// write-cache handle, either from its previous version or, for a block
// with no previous version, from whatever the interval map already
// knows about its number.
func (p *Plugin) Preprocess(h *Block) error {
	if prev, ok := h.Base().PrevVersion(); ok {
		h.typ = prev.typ
		h.refSideData(prev.side)
		return nil
	}
	if iv, ok := p.inst.Intervals().Find(h.Base().Number()); ok {
		h.typ = BlockType(iv.Type)
	}
	return nil
}

// Process diffs h against its previous version (or a block of zeroes, for
// a block with none) and emits change records through the sink. An entry
// whose type is still unknown makes no progress and is left for a later
// round, or for the promote step to discard as a plain data block.
func (p *Plugin) Process(h *Block) (bool, error) {
	if h.typ == UnknownBlock {
		return false, nil
	}
	h.Base().SetProcessed()
	txID := p.inst.TxID()

	var old []byte
	if prev, ok := h.Base().PrevVersion(); ok {
		old = prev.data
	}

	switch h.typ {
	case SuperBlock:
		return true, p.diffSuperBlock(txID, old, h)
	case InodeFreemap:
		return true, p.diffInodeFreemap(txID, old, h)
	case BlockFreemap:
		return true, p.diffBlockFreemap(txID, old, h)
	case InodeBlock:
		return true, p.diffInodeBlock(txID, old, h)
	case IndirectBlock:
		return true, p.diffIndirectBlock(txID, old, h)
	case IndirectDirBlock:
		return true, p.diffIndirectDirBlock(txID, old, h)
	case DirBlock:
		return true, p.diffDirBlock(txID, h)
	default:
		return true, nil
	}
}

func (p *Plugin) diffSuperBlock(txID int, old []byte, h *Block) error {
	if old == nil {
		old = zeroBlock
	}
	oldSB := decodeSuperBlock(old)
	newSB := decodeSuperBlock(h.data)
	p.sb = newSB
	for i := 0; i < 5; i++ {
		ov, nv := oldSB.field(i), newSB.field(i)
		if ov != nv {
			p.sink.SuperBlock(txID, i, int(ov), int(nv))
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (p *Plugin) diffInodeFreemap(txID int, old []byte, h *Block) error {
	if old == nil {
		old = zeroBlock
	}
	return p.scanFreemap(old, h.data, func(bit, ov, nv int) {
		p.sink.InodeFreemap(txID, bit, ov, nv)
	})
}

func (p *Plugin) diffBlockFreemap(txID int, old []byte, h *Block) error {
	if old == nil {
		old = zeroBlock
	}
	base := int(p.sb.DataBlocksStart)
	return p.scanFreemap(old, h.data, func(bit, ov, nv int) {
		p.sink.BlockFreemap(txID, bit+base, ov, nv)
	})
}

// scanFreemap XORs old against new and calls emit once per flipped bit,
// little-endian numbered, in ascending bit order.
func (p *Plugin) scanFreemap(old, new []byte, emit func(bit, old, new int)) error {
	diff := make([]byte, BlockSize)
	if !bitops.Diff(old, new, diff) {
		return nil
	}
	for n := 0; ; {
		n = bitops.NextDiff(diff, n, true)
		if n == -1 {
			return nil
		}
		emit(n, boolToInt(bitops.GetBit(old, n, true)), boolToInt(bitops.GetBit(new, n, true)))
		n++
	}
}

// diffInodeBlock diffs each occupied inode slot field by field. A direct
// or indirect pointer transitioning non-zero to zero schedules the old
// block for deletion; zero to non-zero locates the newly-referenced
// write-cache entry and retypes it according to the host inode's type.
func (p *Plugin) diffInodeBlock(txID int, old []byte, h *Block) error {
	if old == nil {
		old = zeroBlock
	}
	nr := h.Base().Number()
	for slot := 0; slot < InodesPerBlock; slot++ {
		oldDi := decodeDinode(old, slot)
		newDi := decodeDinode(h.data, slot)
		inodeNr := inodeToNr(int(p.sb.InodeBlocksStart), nr, slot)
		for f := 0; f < 8; f++ {
			ov, nv := oldDi.field(f), newDi.field(f)
			if ov == nv {
				continue
			}
			if f >= 3 && f <= 7 {
				if ov != 0 && nv != 0 {
					return rv.EINVAL
				}
				switch {
				case ov != 0:
					p.scheduleDelete(int(ov))
				case f <= 6 && newDi.IType == IDir:
					if err := p.retypeWriteCacheBlock(int(nv), DirBlock, inodeNr); err != nil {
						return err
					}
				case f == 7 && (newDi.IType == IDir || newDi.IType == IFile):
					typ := IndirectBlock
					if newDi.IType == IDir {
						typ = IndirectDirBlock
					}
					if err := p.retypeWriteCacheBlock(int(nv), typ, inodeNr); err != nil {
						return err
					}
				}
			}
			p.sink.Inode(txID, inodeNr, f, int(ov), int(nv))
		}
	}
	return nil
}

// retypeWriteCacheBlock looks a freshly-written block up in the write
// cache and assigns it a concrete type and fresh side data, for the case
// where a parent's diff pass is what first reveals a child's type.
func (p *Plugin) retypeWriteCacheBlock(nr int, typ BlockType, dirInodeNr int) error {
	h, ok, err := p.inst.Cache().Find(nr, rvcache.WriteCache)
	if err != nil {
		return err
	}
	if !ok {
		return rv.ENOTFOUND
	}
	h.typ = typ
	h.newSideData(dirInodeNr)
	p.inst.Cache().Put(h)
	return nil
}

// diffIndirectBlock diffs a file's indirect block slot by slot. Entries
// may only transition 0 <-> non-zero; a newly-referenced block is a data
// block of unknown type and is left untyped, to be discarded at promote
// if nothing else ever resolves it.
func (p *Plugin) diffIndirectBlock(txID int, old []byte, h *Block) error {
	if old == nil {
		old = zeroBlock
	}
	nr := h.Base().Number()
	for i := 0; i < NRIndirectBlocks; i++ {
		ov := decodeIndirectSlot(old, i)
		nv := decodeIndirectSlot(h.data, i)
		if ov == nv {
			continue
		}
		if ov != 0 {
			p.scheduleDelete(int(ov))
		}
		p.sink.IndirectBlock(txID, nr, i, int(ov), int(nv))
	}
	return nil
}

// diffIndirectDirBlock is diffIndirectBlock plus: a zero to non-zero
// transition marks the new target as a DIR_BLOCK carrying the same
// owning inode as this indirect block.
func (p *Plugin) diffIndirectDirBlock(txID int, old []byte, h *Block) error {
	if old == nil {
		old = zeroBlock
	}
	nr := h.Base().Number()
	dirInodeNr, _ := h.ownerInode()
	for i := 0; i < NRIndirectBlocks; i++ {
		ov := decodeIndirectSlot(old, i)
		nv := decodeIndirectSlot(h.data, i)
		if ov == nv {
			continue
		}
		if ov != 0 {
			p.scheduleDelete(int(ov))
		} else if err := p.retypeWriteCacheBlock(int(nv), DirBlock, dirInodeNr); err != nil {
			return err
		}
		p.sink.IndirectDirBlock(txID, nr, i, int(ov), int(nv))
	}
	return nil
}

type dirKey struct {
	inodeNr int
	name    string
}

// diffDirBlock computes the add/remove set for one directory inode at
// most once per transaction: every entry read through the read cache
// alone (the pre-transaction listing) that has no matching
// (inode_nr, name) pair when the directory is re-walked through both
// caches (the post-transaction listing) is a remove; every entry in the
// post-transaction listing with no such match is an add.
func (p *Plugin) diffDirBlock(txID int, h *Block) error {
	dirInodeNr, ok := h.ownerInode()
	if !ok {
		return rv.EINVAL
	}
	if p.processedDirs[dirInodeNr] {
		return nil
	}

	old := make(map[dirKey]int) // value: dirent size, for the eventual remove log line
	err := p.dirIterate(dirInodeNr, rvcache.ReadCache, func(d dirent) error {
		old[dirKey{int(d.InodeNr), d.Name}] = d.size()
		return nil
	})
	if err != nil && err != rv.ENOTFOUND {
		return err
	}

	matched := make(map[dirKey]bool, len(old))
	err = p.dirIterate(dirInodeNr, rvcache.BothCaches, func(d dirent) error {
		key := dirKey{int(d.InodeNr), d.Name}
		if _, ok := old[key]; ok {
			matched[key] = true
			return nil
		}
		p.sink.DirBlock(txID, changesink.ActionAdd, dirInodeNr, d.Name, int(d.InodeNr), d.size())
		return nil
	})
	if err != nil && err != rv.ENOTFOUND {
		return err
	}

	for key, size := range old {
		if !matched[key] {
			p.sink.DirBlock(txID, changesink.ActionRemove, dirInodeNr, key.name, key.inodeNr, size)
		}
	}
	p.processedDirs[dirInodeNr] = true
	return nil
}
