package testfs

import (
	"github.com/jacksun007/testfs-rv/rv"
	"github.com/jacksun007/testfs-rv/rvinterval"
)

// references dispatches to the per-type references-pass implementation,
// per spec.md §4.5. Called once per handle, the first time its type
// becomes known via a successful read.
func (p *Plugin) References(h *Block) error {
	switch h.typ {
	case SuperBlock:
		return p.superBlockRefs(h)
	case InodeBlock:
		return p.inodeBlockRefs(h)
	case IndirectDirBlock:
		return p.indirectDirBlockRefs(h)
	default:
		return nil
	}
}

// superBlockRefs parses the four fixed regions out of the superblock and
// registers them as intervals, bootstrapping everything the rest of the
// plugin depends on to classify a block by number alone.
func (p *Plugin) superBlockRefs(h *Block) error {
	p.sb = decodeSuperBlock(h.data)
	intervals := p.inst.Intervals()
	if err := intervals.Create(int(p.sb.InodeFreemapStart), int(p.sb.BlockFreemapStart), rvinterval.BlockType(InodeFreemap)); err != nil {
		return err
	}
	if err := intervals.Create(int(p.sb.BlockFreemapStart), int(p.sb.InodeBlocksStart), rvinterval.BlockType(BlockFreemap)); err != nil {
		return err
	}
	return intervals.Create(int(p.sb.InodeBlocksStart), int(p.sb.DataBlocksStart), rvinterval.BlockType(InodeBlock))
}

// inodeBlockRefs walks every occupied inode slot in the block, predeclaring
// its directory data blocks and its indirect block (typed according to
// whether the inode is a file or a directory).
func (p *Plugin) inodeBlockRefs(h *Block) error {
	nr := h.Base().Number()
	for i := 0; i < InodesPerBlock; i++ {
		di := decodeDinode(h.data, i)
		if di.IType == INone {
			continue
		}
		inodeNr := inodeToNr(int(p.sb.InodeBlocksStart), nr, i)
		if di.IType == IDir {
			for j := 0; j < NRDirectBlocks; j++ {
				bnr := int(di.IBlockNr[j])
				if bnr == 0 {
					continue
				}
				if err := p.predeclare(bnr, DirBlock, inodeNr); err != nil {
					return err
				}
			}
		}
		if bnr := int(di.IIndirect); bnr != 0 {
			typ := IndirectBlock
			if di.IType == IDir {
				typ = IndirectDirBlock
			}
			if err := p.predeclare(bnr, typ, inodeNr); err != nil {
				return err
			}
		}
	}
	return nil
}

// indirectDirBlockRefs predeclares a DIR_BLOCK, carrying the same owning
// inode, for every populated slot of a directory's indirect block.
func (p *Plugin) indirectDirBlockRefs(h *Block) error {
	dirInodeNr, ok := h.ownerInode()
	if !ok {
		return rv.EINVAL
	}
	for i := 0; i < NRIndirectBlocks; i++ {
		bnr := int(decodeIndirectSlot(h.data, i))
		if bnr > 0 {
			if err := p.predeclare(bnr, DirBlock, dirInodeNr); err != nil {
				return err
			}
		}
	}
	return nil
}

// predeclare creates a read-cache entry of a known type for a block that
// hasn't been read yet, giving it fresh side data under dirInodeNr. A
// block already predeclared by a sibling reference (two indirect entries
// pointing at the same child, say) is left alone.
func (p *Plugin) predeclare(nr int, typ BlockType, dirInodeNr int) error {
	b, err := p.createTyped(nr, typ)
	if err == rv.EEXIST {
		return nil
	}
	if err != nil {
		return err
	}
	b.newSideData(dirInodeNr)
	return nil
}
