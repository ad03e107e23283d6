// Package changesink is the change sink (C6): every diff event the
// filesystem plugin discovers during commit is appended as a
// human-readable line to the change log and, in parallel, asserted as a
// typed fact into an in-memory fact base for the duration of the
// transaction. At the end of the transaction the sink's facts are
// retracted in full; the deductive rule engine that would otherwise
// consume them is out of scope.
package changesink

import "fmt"

// Logger is the minimal append-only logging capability a Sink needs.
// rv.Logger satisfies it.
type Logger interface {
	LogChange(txID int, fname, msg string)
}

var superBlockFieldNames = [...]string{
	"inode_freemap_start",
	"block_freemap_start",
	"inode_blocks_start",
	"data_blocks_start",
	"modification_time",
}

var inodeFieldNames = [...]string{
	"i_type",
	"i_mod_time",
	"i_size",
	"i_block_nr[0]",
	"i_block_nr[1]",
	"i_block_nr[2]",
	"i_block_nr[3]",
	"i_indirect",
}

// Sink is the change sink for one RV instance. The zero value is not
// usable; construct with New.
type Sink struct {
	log   Logger
	Facts *FactBase
}

// New returns a Sink that writes through log and keeps its own fact base.
func New(log Logger) *Sink {
	return &Sink{log: log, Facts: newFactBase()}
}

// SuperBlock records one differing superblock field.
func (s *Sink) SuperBlock(txID, fieldIndex, old, new int) {
	name := "field"
	if fieldIndex >= 0 && fieldIndex < len(superBlockFieldNames) {
		name = superBlockFieldNames[fieldIndex]
	}
	s.log.LogChange(txID, "changesink.SuperBlock", fmt.Sprintf("super_block, %s=%d, old=%d, new=%d", name, fieldIndex, old, new))
	s.Facts.assertSuperBlock(SuperBlockFact{fieldIndex, old, new})
}

// InodeFreemap records one flipped inode-freemap bit.
func (s *Sink) InodeFreemap(txID, inodeNr, old, new int) {
	s.log.LogChange(txID, "changesink.InodeFreemap", fmt.Sprintf("inode_freemap, inode_nr=%d, old=%d, new=%d", inodeNr, old, new))
	s.Facts.assertInodeFreemap(InodeFreemapFact{inodeNr, old, new})
}

// BlockFreemap records one flipped block-freemap bit.
func (s *Sink) BlockFreemap(txID, blockNr, old, new int) {
	s.log.LogChange(txID, "changesink.BlockFreemap", fmt.Sprintf("block_freemap, block_nr=%d, old=%d, new=%d", blockNr, old, new))
	s.Facts.assertBlockFreemap(BlockFreemapFact{blockNr, old, new})
}

// Inode records one differing inode field.
func (s *Sink) Inode(txID, inodeNr, fieldIndex, old, new int) {
	name := "field"
	if fieldIndex >= 0 && fieldIndex < len(inodeFieldNames) {
		name = inodeFieldNames[fieldIndex]
	}
	s.log.LogChange(txID, "changesink.Inode", fmt.Sprintf("inode, inode_nr=%d, %s=%d, old=%d, new=%d", inodeNr, name, fieldIndex, old, new))
	s.Facts.assertInode(InodeFact{inodeNr, fieldIndex, old, new})
}

// IndirectBlock records one changed slot of a file's indirect block.
func (s *Sink) IndirectBlock(txID, blockNr, index, old, new int) {
	s.log.LogChange(txID, "changesink.IndirectBlock", fmt.Sprintf("indirect_block, block_nr=%d, index=%d, old=%d, new=%d", blockNr, index, old, new))
	s.Facts.assertIndirectBlock(IndirectBlockFact{blockNr, index, old, new})
}

// IndirectDirBlock records one changed slot of a directory's indirect
// block.
func (s *Sink) IndirectDirBlock(txID, blockNr, index, old, new int) {
	s.log.LogChange(txID, "changesink.IndirectDirBlock", fmt.Sprintf("indirect_dir_block, block_nr=%d, index=%d, old=%d, new=%d", blockNr, index, old, new))
	s.Facts.assertIndirectDirBlock(IndirectDirBlockFact{blockNr, index, old, new})
}

// DirBlock records one directory entry appearing or disappearing.
func (s *Sink) DirBlock(txID int, action Action, dirInodeNr int, name string, inodeNr, direntSize int) {
	s.log.LogChange(txID, "changesink.DirBlock", fmt.Sprintf("dir_block, %s, dir_inode_nr=%d, name=%s, inode_nr=%d, dirent_size=%d", action, dirInodeNr, name, inodeNr, direntSize))
	s.Facts.assertDirBlock(DirBlockFact{action, dirInodeNr, name, inodeNr, direntSize})
}

// EndTransaction retracts every fact asserted this transaction. Called
// once from the plugin's TxEnd, after the rule engine (if any) has had a
// chance to evaluate them.
func (s *Sink) EndTransaction() {
	s.Facts.retractAll()
}
