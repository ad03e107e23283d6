package changesink

import "testing"

type spyLogger struct {
	lines []string
}

func (l *spyLogger) LogChange(txID int, fname, msg string) {
	l.lines = append(l.lines, msg)
}

func TestDirBlockAddThenChildInode(t *testing.T) {
	log := &spyLogger{}
	s := New(log)
	s.DirBlock(1, ActionAdd, 0, "f", 17, 12)

	nr, ok := s.Facts.ChildInode(0, "f")
	if !ok || nr != 17 {
		t.Fatalf("ChildInode = %d, %v; want 17, true", nr, ok)
	}
	if len(log.lines) != 1 || log.lines[0] != "dir_block, add, dir_inode_nr=0, name=f, inode_nr=17, dirent_size=12" {
		t.Fatalf("unexpected log line: %v", log.lines)
	}
}

func TestDirBlockRemoveClearsChildInode(t *testing.T) {
	log := &spyLogger{}
	s := New(log)
	s.DirBlock(1, ActionAdd, 0, "f", 17, 12)
	s.DirBlock(1, ActionRemove, 0, "f", 17, 12)

	if _, ok := s.Facts.ChildInode(0, "f"); ok {
		t.Fatalf("expected ChildInode to miss after remove")
	}
}

func TestInodeFieldTracksLatestValue(t *testing.T) {
	log := &spyLogger{}
	s := New(log)
	s.Inode(1, 17, 0, 0, 1)
	s.Inode(1, 17, 0, 1, 2)

	v, ok := s.Facts.InodeField(17, 0)
	if !ok || v != 2 {
		t.Fatalf("InodeField = %d, %v; want 2, true", v, ok)
	}
}

func TestEndTransactionRetractsEverything(t *testing.T) {
	log := &spyLogger{}
	s := New(log)
	s.DirBlock(1, ActionAdd, 0, "f", 17, 12)
	s.Inode(1, 17, 0, 0, 1)
	s.SuperBlock(1, 0, 10, 20)

	s.EndTransaction()

	if len(s.Facts.DirBlockFacts()) != 0 || len(s.Facts.InodeFacts()) != 0 || len(s.Facts.SuperBlockFacts()) != 0 {
		t.Fatalf("expected every fact slice to be empty after EndTransaction")
	}
	if _, ok := s.Facts.ChildInode(0, "f"); ok {
		t.Fatalf("expected ChildInode index to be cleared too")
	}
}

func TestFreemapFactsAccumulateInOrder(t *testing.T) {
	log := &spyLogger{}
	s := New(log)
	s.InodeFreemap(1, 5, 0, 1)
	s.InodeFreemap(1, 9, 0, 1)
	s.BlockFreemap(1, 100, 1, 0)

	facts := s.Facts.InodeFreemapFacts()
	if len(facts) != 2 || facts[0].InodeNr != 5 || facts[1].InodeNr != 9 {
		t.Fatalf("unexpected inode freemap facts: %+v", facts)
	}
	bfacts := s.Facts.BlockFreemapFacts()
	if len(bfacts) != 1 || bfacts[0].BlockNr != 100 {
		t.Fatalf("unexpected block freemap facts: %+v", bfacts)
	}
}
