package testfs

import (
	"bytes"

	"github.com/jacksun007/testfs-rv/bitops"
	"github.com/natefinch/atomic"
)

const rootInodeNr = 0

// FormatOptions sizes a freshly-formatted disk image.
type FormatOptions struct {
	// InodeBlocks is the number of inode blocks, each holding
	// InodesPerBlock inodes.
	InodeBlocks int
	// DataBlocks is the number of blocks in the data region, covering
	// both directory/indirect blocks and plain file data.
	DataBlocks int
}

// DefaultFormatOptions sizes a small image: 128 inodes (8 inode blocks)
// and 256 data blocks, comfortably covered by one freemap block each.
var DefaultFormatOptions = FormatOptions{InodeBlocks: 8, DataBlocks: 256}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// layoutFor computes the four region starts original_source's
// testfs_init_super_block derives from a requested inode/data block
// count: one freemap bit per inode and per data block, rounded up to
// whole blocks.
func layoutFor(opts FormatOptions) superBlock {
	const bitsPerBlock = BlockSize * 8
	numInodes := opts.InodeBlocks * InodesPerBlock

	inodeFreemapStart := uint32(1)
	inodeFreemapBlocks := ceilDiv(numInodes, bitsPerBlock)
	blockFreemapStart := inodeFreemapStart + uint32(inodeFreemapBlocks)
	blockFreemapBlocks := ceilDiv(opts.DataBlocks, bitsPerBlock)
	inodeBlocksStart := blockFreemapStart + uint32(blockFreemapBlocks)
	dataBlocksStart := inodeBlocksStart + uint32(opts.InodeBlocks)

	return superBlock{
		InodeFreemapStart: inodeFreemapStart,
		BlockFreemapStart: blockFreemapStart,
		InodeBlocksStart:  inodeBlocksStart,
		DataBlocksStart:   dataBlocksStart,
	}
}

// Format writes a fresh disk image to path: a superblock, empty inode
// and block freemaps with their header bits claimed, an inode block with
// the root directory pre-created, and the root directory's (empty) data
// block. The whole image is built in memory and written out in one
// atomic rename, so a crash mid-format never leaves a half-written
// device file behind.
func Format(path string, opts FormatOptions) error {
	sb := layoutFor(opts)
	totalBlocks := int(sb.DataBlocksStart) + opts.DataBlocks
	image := make([]byte, totalBlocks*BlockSize)

	block := func(nr int) []byte { return image[nr*BlockSize : (nr+1)*BlockSize] }

	sb.encode(block(0))

	bitops.SetBit(block(int(sb.InodeFreemapStart)), rootInodeNr, true, true)
	bitops.SetBit(block(int(sb.BlockFreemapStart)), 0, true, true)

	rootDirBlockNr := int(sb.DataBlocksStart)
	di := dinode{
		IType:    IDir,
		IModTime: 0,
		ISize:    0,
		IBlockNr: [NRDirectBlocks]uint32{uint32(rootDirBlockNr)},
	}
	di.encode(block(int(sb.InodeBlocksStart)), rootInodeNr%InodesPerBlock)

	return atomic.WriteFile(path, bytes.NewReader(image))
}

// Layout exposes the region boundaries Format lays an image out with, so
// a caller outside the package (a tool driving raw block writes against
// an already-formatted image, say) can address the right block numbers
// without duplicating layoutFor's arithmetic.
type Layout struct {
	InodeFreemapStart int
	BlockFreemapStart int
	InodeBlocksStart  int
	DataBlocksStart   int
}

// LayoutFor returns the region boundaries Format would use for opts,
// without writing anything.
func LayoutFor(opts FormatOptions) Layout {
	sb := layoutFor(opts)
	return Layout{
		InodeFreemapStart: int(sb.InodeFreemapStart),
		BlockFreemapStart: int(sb.BlockFreemapStart),
		InodeBlocksStart:  int(sb.InodeBlocksStart),
		DataBlocksStart:   int(sb.DataBlocksStart),
	}
}

// InodeBlockNr returns the block number holding inodeNr under this
// layout.
func (l Layout) InodeBlockNr(inodeNr int) int {
	return inodeNrToBlockNr(l.InodeBlocksStart, inodeNr)
}

// RootInodeNr is the flat inode number of the root directory, fixed by
// Format.
const RootInodeNr = rootInodeNr

// EncodeFileInode returns a fresh inode block with a single I_FILE inode
// at inodeNr's slot and every other slot left zeroed, as a host
// filesystem would write after allocating a new file.
func EncodeFileInode(inodeNr int) []byte {
	block := make([]byte, BlockSize)
	dinode{IType: IFile}.encode(block, inodeNr%InodesPerBlock)
	return block
}

// EncodeRootInode returns the root directory's inode block after it has
// grown to hold one DirentHeaderSize+len(name)-sized entry pointing at
// rootDirBlockNr.
func EncodeRootInode(rootDirBlockNr int, entrySize int) []byte {
	block := make([]byte, BlockSize)
	dinode{
		IType:    IDir,
		ISize:    uint32(entrySize),
		IBlockNr: [NRDirectBlocks]uint32{uint32(rootDirBlockNr)},
	}.encode(block, RootInodeNr%InodesPerBlock)
	return block
}

// DirentHeaderSize is the fixed-size portion of an on-disk directory
// entry, before its variable-length name.
const DirentHeaderSize = direntHeaderSize

// EncodeSingleEntryDir returns a directory data block holding one live
// entry mapping name to inodeNr.
func EncodeSingleEntryDir(inodeNr int, name string) []byte {
	block := make([]byte, BlockSize)
	encodeDirentHeader(block, int32(inodeNr), int32(len(name)))
	copy(block[DirentHeaderSize:], name)
	return block
}

// EncodeTombstonedDir returns a directory data block holding one deleted
// entry (InodeNr -1) that used to be named name, mirroring how a host
// filesystem marks a dirent removed without compacting the block.
func EncodeTombstonedDir(name string) []byte {
	block := make([]byte, BlockSize)
	encodeDirentHeader(block, -1, int32(len(name)))
	copy(block[DirentHeaderSize:], name)
	return block
}
