package rv

import (
	"testing"

	"github.com/jacksun007/testfs-rv/rvcache"
)

// fakeBlock and fakePlugin exercise Instance's orchestration without
// depending on any real on-disk layout: every block number below
// dataBlockThreshold is "typed" and tracked; everything at or above it is
// an untyped data block the plugin declines to create a handle for.
const dataBlockThreshold = 100

type fakeBlock struct {
	rvcache.Entry[*fakeBlock]
	data      []byte
	blockedOn *fakeBlock // Process refuses to finish until this is Processed
	corrupted bool
}

func (b *fakeBlock) Base() *rvcache.Entry[*fakeBlock] { return &b.Entry }

type fakePlugin struct {
	inst           *Instance[*fakeBlock]
	txStartCalls   int
	txEndCalls     int
	destroyCalls   int
	referenceCalls int
	processCalls   int
}

func (p *fakePlugin) TxStart(txType string) error { p.txStartCalls++; return nil }
func (p *fakePlugin) TxEnd() error                { p.txEndCalls++; return nil }

func (p *fakePlugin) Create(inst *Instance[*fakeBlock], nr int, write bool) (*fakeBlock, error) {
	if nr >= dataBlockThreshold {
		return nil, nil
	}
	b := &fakeBlock{}
	kind := rvcache.ReadCache
	if write {
		kind = rvcache.WriteCache
	}
	if err := inst.Cache().Add(nr, kind, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (p *fakePlugin) Attach(h *fakeBlock, block []byte) error {
	h.data = append([]byte(nil), block...)
	p.inst.Cache().MarkAttached(h)
	return nil
}

func (p *fakePlugin) Destroy(h *fakeBlock) error {
	p.destroyCalls++
	return p.inst.Cache().Remove(h.Base().Kind(), h)
}

func (p *fakePlugin) Invalidate(h *fakeBlock) error {
	p.inst.Cache().MarkOnDisk(h)
	return nil
}

func (p *fakePlugin) Read(h *fakeBlock) error {
	p.inst.Cache().MarkAttached(h)
	return nil
}

func (p *fakePlugin) References(h *fakeBlock) error { p.referenceCalls++; return nil }
func (p *fakePlugin) Preprocess(h *fakeBlock) error  { return nil }

func (p *fakePlugin) Process(h *fakeBlock) (bool, error) {
	p.processCalls++
	if h.blockedOn != nil && !h.blockedOn.Base().Processed() {
		return false, nil
	}
	h.Base().SetProcessed()
	return true, nil
}

func (p *fakePlugin) Corrupt(h *fakeBlock) error {
	h.corrupted = true
	return nil
}

func newTestInstance(t *testing.T, cfg Config) (*Instance[*fakeBlock], *fakePlugin) {
	t.Helper()
	p := &fakePlugin{}
	inst, err := New[*fakeBlock](cfg, p, NewMemoryLogger())
	if err != nil {
		t.Fatal(err)
	}
	p.inst = inst
	return inst, p
}

func TestNewRejectsNilPlugin(t *testing.T) {
	if _, err := New[*fakeBlock](Config{}, nil, nil); err != EINVAL {
		t.Fatalf("got %v, want EINVAL", err)
	}
}

func TestReadCreatesAndAttaches(t *testing.T) {
	inst, p := newTestInstance(t, Config{})
	inst.Read(5, []byte("hello"))
	if !inst.Enabled() {
		t.Fatalf("instance disabled unexpectedly")
	}
	h, ok, err := inst.Cache().Find(5, rvcache.ReadCache)
	if err != nil || !ok {
		t.Fatalf("expected block 5 in read cache: ok=%v err=%v", ok, err)
	}
	if string(h.data) != "hello" {
		t.Fatalf("data = %q, want hello", h.data)
	}
	if p.referenceCalls != 1 {
		t.Fatalf("referenceCalls = %d, want 1", p.referenceCalls)
	}
}

func TestReadDataBlockIsUntracked(t *testing.T) {
	inst, _ := newTestInstance(t, Config{})
	inst.Read(dataBlockThreshold, []byte("raw bytes"))
	if !inst.Enabled() {
		t.Fatalf("instance disabled unexpectedly")
	}
	if _, ok, _ := inst.Cache().Find(dataBlockThreshold, rvcache.BothCaches); ok {
		t.Fatalf("data block should not be tracked")
	}
}

func TestReadAlreadyAttachedSkipsReferences(t *testing.T) {
	inst, p := newTestInstance(t, Config{})
	inst.Read(5, []byte("v1"))
	before := p.referenceCalls
	inst.Read(5, []byte("v2 should be ignored"))
	if p.referenceCalls != before {
		t.Fatalf("References should not run again on an already-attached block")
	}
	h, _, _ := inst.Cache().Find(5, rvcache.ReadCache)
	if string(h.data) != "v1" {
		t.Fatalf("second read should not overwrite an attached block's data")
	}
}

func TestWriteWithoutTxDisables(t *testing.T) {
	inst, _ := newTestInstance(t, Config{})
	inst.Write(1, []byte("x"))
	if inst.Enabled() {
		t.Fatalf("Write outside a transaction should disable the instance")
	}
}

func TestWriteThenCommitPromotes(t *testing.T) {
	inst, p := newTestInstance(t, Config{})
	inst.TxStart("write")
	inst.Write(5, []byte("new data"))
	inst.TxCommit("write")

	if !inst.Enabled() {
		t.Fatalf("instance disabled unexpectedly")
	}
	if p.txStartCalls != 1 || p.txEndCalls != 1 {
		t.Fatalf("txStartCalls=%d txEndCalls=%d, want 1, 1", p.txStartCalls, p.txEndCalls)
	}
	h, ok, err := inst.Cache().Find(5, rvcache.ReadCache)
	if err != nil || !ok {
		t.Fatalf("expected block 5 promoted to read cache: ok=%v err=%v", ok, err)
	}
	if string(h.data) != "new data" {
		t.Fatalf("data = %q", h.data)
	}
	if inst.Cache().Len(rvcache.WriteCache) != 0 {
		t.Fatalf("write cache should be empty after commit")
	}
}

func TestCommitDestroysPreviousVersion(t *testing.T) {
	inst, p := newTestInstance(t, Config{})
	inst.Read(5, []byte("v1")) // populates read cache

	inst.TxStart("update")
	inst.Write(5, []byte("v2"))
	inst.TxCommit("update")

	if !inst.Enabled() {
		t.Fatalf("instance disabled unexpectedly")
	}
	h, ok, _ := inst.Cache().Find(5, rvcache.ReadCache)
	if !ok || string(h.data) != "v2" {
		t.Fatalf("expected promoted block to carry v2, got ok=%v data=%q", ok, h.data)
	}
	// the v1 handle should have been destroyed, not merely replaced
	if p.destroyCalls == 0 {
		t.Fatalf("expected the previous version to be destroyed")
	}
}

func TestFixedPointLoopRetriesBlockedEntries(t *testing.T) {
	inst, p := newTestInstance(t, Config{})
	inst.TxStart("multi")
	inst.Write(1, []byte("a"))
	inst.Write(2, []byte("b"))

	a, _, _ := inst.Cache().Find(1, rvcache.WriteCache)
	b, _, _ := inst.Cache().Find(2, rvcache.WriteCache)
	a.blockedOn = b // a can't finish until b has been processed

	inst.TxCommit("multi")

	if !inst.Enabled() {
		t.Fatalf("instance disabled unexpectedly")
	}
	if !a.Base().Processed() || !b.Base().Processed() {
		t.Fatalf("both entries should end up processed")
	}
	// a needed at least two Process calls: one that bounced, one that
	// succeeded once b was done.
	if p.processCalls < 3 {
		t.Fatalf("processCalls = %d, want at least 3 (a bounces once)", p.processCalls)
	}
}

func TestMultipleUpdatesDisallowedByDefault(t *testing.T) {
	inst, _ := newTestInstance(t, Config{MultipleBlockUpdates: false})
	inst.TxStart("tx")
	inst.Write(1, []byte("first"))
	inst.Write(1, []byte("second"))
	if inst.Enabled() {
		t.Fatalf("a second write to the same block should disable the instance")
	}
}

func TestMultipleUpdatesAllowedWhenConfigured(t *testing.T) {
	inst, p := newTestInstance(t, Config{MultipleBlockUpdates: true})
	inst.TxStart("tx")
	inst.Write(1, []byte("first"))
	inst.Write(1, []byte("second"))
	if !inst.Enabled() {
		t.Fatalf("instance disabled unexpectedly")
	}
	h, ok, _ := inst.Cache().Find(1, rvcache.WriteCache)
	if !ok || string(h.data) != "second" {
		t.Fatalf("expected the second write to win, got ok=%v data=%q", ok, h.data)
	}
	if p.destroyCalls != 1 {
		t.Fatalf("destroyCalls = %d, want 1 (the first write-cache entry)", p.destroyCalls)
	}
}

func TestCrashConsistentRejectsUncommittedRead(t *testing.T) {
	inst, _ := newTestInstance(t, Config{CrashConsistent: true})
	inst.TxStart("tx")
	inst.Write(1, []byte("uncommitted"))
	inst.Read(1, []byte("whatever is on disk"))
	if inst.Enabled() {
		t.Fatalf("a crash-consistent filesystem reading its own uncommitted write should disable the instance")
	}
}

func TestNonCrashConsistentReadOfUncommittedWriteIsANoop(t *testing.T) {
	inst, _ := newTestInstance(t, Config{CrashConsistent: false})
	inst.TxStart("tx")
	inst.Write(1, []byte("pending"))
	inst.Read(1, []byte("stale disk contents"))
	if !inst.Enabled() {
		t.Fatalf("instance disabled unexpectedly")
	}
}

func TestCorruptionInjectedOnWrite(t *testing.T) {
	inst, _ := newTestInstance(t, Config{Corrupt: true})
	inst.TxStart("tx")
	inst.Write(1, []byte("data"))
	h, ok, _ := inst.Cache().Find(1, rvcache.WriteCache)
	if !ok || !h.corrupted {
		t.Fatalf("expected Corrupt to run on the write-cache handle")
	}
}

func TestDisableIsTerminal(t *testing.T) {
	inst, p := newTestInstance(t, Config{})
	inst.Write(1, []byte("x")) // outside a tx: disables
	if inst.Enabled() {
		t.Fatalf("expected instance to be disabled")
	}
	txBefore := p.txStartCalls
	inst.Read(1, []byte("y"))
	inst.Write(1, []byte("y"))
	inst.TxStart("tx")
	inst.TxCommit("tx")
	if p.txStartCalls != txBefore {
		t.Fatalf("no plugin method should run once disabled")
	}
}
