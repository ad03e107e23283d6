package blockdev

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func newTestFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dev.img")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	path := newTestFile(t, 4*512)
	d, err := Open(path, 512)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	want := bytes.Repeat([]byte{0xAB}, 512)
	if err := d.WriteBlock(2, want); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 512)
	if err := d.ReadBlock(2, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("ReadBlock returned %x, want %x", got, want)
	}
}

func TestWriteBlockRejectsWrongSize(t *testing.T) {
	path := newTestFile(t, 512)
	d, err := Open(path, 512)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if err := d.WriteBlock(0, make([]byte, 10)); err == nil {
		t.Fatalf("expected an error for a mis-sized buffer")
	}
}

func TestOpenFailsOnSecondExclusiveLock(t *testing.T) {
	path := newTestFile(t, 512)
	d1, err := Open(path, 512)
	if err != nil {
		t.Fatal(err)
	}
	defer d1.Close()
	if _, err := Open(path, 512); err == nil {
		t.Fatalf("expected the second Open to fail to acquire the flock")
	}
}
