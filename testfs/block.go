package testfs

import "github.com/jacksun007/testfs-rv/rvcache"

// BlockType is the closed block-type tag from spec.md §3. SuperBlock must
// be zero: it is the bootstrap interval registered at block 0 before
// anything else is known.
type BlockType int

const (
	SuperBlock BlockType = iota
	InodeFreemap
	BlockFreemap
	InodeBlock
	IndirectBlock
	IndirectDirBlock
	DirBlock
	UnknownBlock
)

var blockTypeNames = [...]string{
	"SUPER_BLOCK",
	"INODE_FREEMAP",
	"BLOCK_FREEMAP",
	"INODE_BLOCK",
	"INDIRECT_BLOCK",
	"INDIRECT_DIR_BLOCK",
	"DIR_BLOCK",
	"UNKNOWN_BLOCK",
}

func (t BlockType) String() string {
	if t < 0 || int(t) >= len(blockTypeNames) {
		return blockTypeNames[UnknownBlock]
	}
	return blockTypeNames[t]
}

// sideData is the shared, reference-counted record that DirBlock,
// IndirectBlock and IndirectDirBlock handles carry: which directory
// inode owns this block. Multiple indirect entries can point at the same
// child dir block, so the record is shared and freed only when the last
// referring handle is destroyed.
type sideData struct {
	refcount   int
	dirInodeNr int
}

// Block is the cache handle testfs registers with rvcache: the generic
// mechanics header first (as rvcache.Handle requires), then the raw
// bytes and the type/side-data fields that commit's preprocess step
// copies forward from a block's previous version.
type Block struct {
	rvcache.Entry[*Block]

	data []byte
	typ  BlockType
	side *sideData
}

// Base satisfies rvcache.Handle.
func (b *Block) Base() *rvcache.Entry[*Block] { return &b.Entry }

// Type reports the block's current type tag.
func (b *Block) Type() BlockType { return b.typ }

func (b *Block) ownerInode() (int, bool) {
	if b.side == nil {
		return 0, false
	}
	return b.side.dirInodeNr, true
}

func (b *Block) refSideData(d *sideData) {
	if d != nil {
		d.refcount++
	}
	b.side = d
}

func (b *Block) newSideData(dirInodeNr int) {
	b.side = &sideData{refcount: 1, dirInodeNr: dirInodeNr}
}

func (b *Block) unrefSideData() {
	if b.side == nil {
		return
	}
	b.side.refcount--
	b.side = nil
}
