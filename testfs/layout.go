package testfs

import "encoding/binary"

// BlockSize is the fixed block size of the on-disk layout. It is a
// compile-time constant of the host filesystem, passed down to bitops
// wherever a free-map is diffed.
const BlockSize = 512

// Fixed geometry of the on-disk layout.
const (
	NRDirectBlocks   = 4          // direct block pointers per inode
	dinodeSize       = 32         // bytes
	InodesPerBlock   = BlockSize / dinodeSize
	NRIndirectBlocks = BlockSize / 4 // int32 slots per indirect block
	direntHeaderSize = 8          // bytes, before the variable-length name
)

// Inode types.
const (
	INone = 0
	IFile = 1
	IDir  = 2
)

// superBlock is the on-disk superblock: the boundaries of the four
// fixed-position regions that follow it, plus a last-modified timestamp.
// Field order and widths (4 bytes each) mirror original_source's
// dsuper_descriptor exactly, since spec.md §4.5 diffs them by that same
// field list.
type superBlock struct {
	InodeFreemapStart uint32
	BlockFreemapStart uint32
	InodeBlocksStart  uint32
	DataBlocksStart   uint32
	ModificationTime  uint32
}

func (sb *superBlock) field(i int) uint32 {
	switch i {
	case 0:
		return sb.InodeFreemapStart
	case 1:
		return sb.BlockFreemapStart
	case 2:
		return sb.InodeBlocksStart
	case 3:
		return sb.DataBlocksStart
	case 4:
		return sb.ModificationTime
	default:
		panic("testfs: superBlock: bad field index")
	}
}

func decodeSuperBlock(block []byte) superBlock {
	return superBlock{
		InodeFreemapStart: binary.LittleEndian.Uint32(block[0:4]),
		BlockFreemapStart: binary.LittleEndian.Uint32(block[4:8]),
		InodeBlocksStart:  binary.LittleEndian.Uint32(block[8:12]),
		DataBlocksStart:   binary.LittleEndian.Uint32(block[12:16]),
		ModificationTime:  binary.LittleEndian.Uint32(block[16:20]),
	}
}

func (sb superBlock) encode(block []byte) {
	binary.LittleEndian.PutUint32(block[0:4], sb.InodeFreemapStart)
	binary.LittleEndian.PutUint32(block[4:8], sb.BlockFreemapStart)
	binary.LittleEndian.PutUint32(block[8:12], sb.InodeBlocksStart)
	binary.LittleEndian.PutUint32(block[12:16], sb.DataBlocksStart)
	binary.LittleEndian.PutUint32(block[16:20], sb.ModificationTime)
}

// dinode is one on-disk inode. Field order and widths mirror
// original_source's dinode_descriptor.
type dinode struct {
	IType     uint32
	IModTime  uint32
	ISize     uint32
	IBlockNr  [NRDirectBlocks]uint32
	IIndirect uint32
}

// field returns field i of the inode: 0=i_type, 1=i_mod_time, 2=i_size,
// 3..6=i_block_nr[0..3], 7=i_indirect — the numbering changesink.Inode's
// fieldIndex argument and diffInodeBlock share.
func (di *dinode) field(i int) uint32 {
	switch {
	case i == 0:
		return di.IType
	case i == 1:
		return di.IModTime
	case i == 2:
		return di.ISize
	case i >= 3 && i <= 6:
		return di.IBlockNr[i-3]
	case i == 7:
		return di.IIndirect
	default:
		panic("testfs: dinode: bad field index")
	}
}

func decodeDinode(block []byte, slot int) dinode {
	b := block[slot*dinodeSize : (slot+1)*dinodeSize]
	var di dinode
	di.IType = binary.LittleEndian.Uint32(b[0:4])
	di.IModTime = binary.LittleEndian.Uint32(b[4:8])
	di.ISize = binary.LittleEndian.Uint32(b[8:12])
	for j := 0; j < NRDirectBlocks; j++ {
		di.IBlockNr[j] = binary.LittleEndian.Uint32(b[12+4*j : 16+4*j])
	}
	di.IIndirect = binary.LittleEndian.Uint32(b[28:32])
	return di
}

func (di dinode) encode(block []byte, slot int) {
	b := block[slot*dinodeSize : (slot+1)*dinodeSize]
	binary.LittleEndian.PutUint32(b[0:4], di.IType)
	binary.LittleEndian.PutUint32(b[4:8], di.IModTime)
	binary.LittleEndian.PutUint32(b[8:12], di.ISize)
	for j := 0; j < NRDirectBlocks; j++ {
		binary.LittleEndian.PutUint32(b[12+4*j:16+4*j], di.IBlockNr[j])
	}
	binary.LittleEndian.PutUint32(b[28:32], di.IIndirect)
}

// inodeToNr converts a (inode-block number, slot) pair to a flat inode
// number, given the inode region's starting block.
func inodeToNr(inodeBlocksStart, nr, slot int) int {
	return (nr-inodeBlocksStart)*InodesPerBlock + slot
}

// inodeNrToBlockNr converts a flat inode number back to the block number
// holding it.
func inodeNrToBlockNr(inodeBlocksStart, inodeNr int) int {
	return inodeBlocksStart + inodeNr/InodesPerBlock
}

// dirent is one on-disk directory entry: a fixed 8-byte header (inode
// number, name length) followed by exactly NameLen bytes of name, no
// terminator and no padding. InodeNr is -1 for a deleted (tombstoned)
// entry.
type dirent struct {
	InodeNr int32
	NameLen int32
	Name    string
}

// size returns the on-disk footprint of the entry, header plus name —
// the same quantity spec.md's S1/S2 scenarios call dirent_size.
func (d dirent) size() int { return direntHeaderSize + len(d.Name) }

func decodeDirentHeader(block []byte) (inodeNr int32, nameLen int32) {
	inodeNr = int32(binary.LittleEndian.Uint32(block[0:4]))
	nameLen = int32(binary.LittleEndian.Uint32(block[4:8]))
	return
}

func encodeDirentHeader(block []byte, inodeNr, nameLen int32) {
	binary.LittleEndian.PutUint32(block[0:4], uint32(inodeNr))
	binary.LittleEndian.PutUint32(block[4:8], uint32(nameLen))
}

// decodeIndirectSlot/encodeIndirectSlot address the int32 entries of an
// indirect or indirect-dir block by slot index.
func decodeIndirectSlot(block []byte, i int) int32 {
	return int32(binary.LittleEndian.Uint32(block[i*4 : i*4+4]))
}

func encodeIndirectSlot(block []byte, i int, v int32) {
	binary.LittleEndian.PutUint32(block[i*4:i*4+4], uint32(v))
}
