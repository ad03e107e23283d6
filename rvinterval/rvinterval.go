// Package rvinterval is the interval map (C2): an ordered, disjoint set of
// block-number ranges, each tagged with a block type, supporting logarithmic
// point lookup. It backs the RV core's "what kind of block is this" question
// before any byte of the block has been read.
package rvinterval

import (
	"fmt"

	"github.com/google/btree"
)

// BlockType is the closed tag a plugin attaches to an interval. rvinterval
// treats it as an opaque comparable value; the plugin package defines the
// concrete enumeration.
type BlockType int

// Interval is a single, immutable [Start, End) span with its block type.
type Interval struct {
	Start int
	End   int
	Type  BlockType
}

func less(a, b Interval) bool {
	return a.Start < b.Start
}

// ErrOverlap is returned by Create when the requested span intersects an
// existing entry.
var ErrOverlap = fmt.Errorf("rvinterval: overlapping interval")

// Map is a balanced ordered map from disjoint intervals to block types.
// The zero value is not usable; construct with New.
type Map struct {
	tree *btree.BTreeG[Interval]
}

// New returns an empty interval map.
func New() *Map {
	return &Map{tree: btree.NewG(32, less)}
}

// Create inserts [start, end) -> typ. It fails with ErrOverlap if the new
// span intersects any existing entry. Entries are immutable once created:
// there is no Update.
func (m *Map) Create(start, end int, typ BlockType) error {
	if start >= end {
		return fmt.Errorf("rvinterval: invalid span [%d, %d)", start, end)
	}
	if m.overlaps(start, end) {
		return ErrOverlap
	}
	m.tree.ReplaceOrInsert(Interval{Start: start, End: end, Type: typ})
	return nil
}

// overlaps reports whether [start, end) intersects any existing interval.
// It only needs to look at the interval whose Start is the largest one
// <= start (the "floor"), and the intervals whose Start falls inside
// [start, end) — since existing entries are already pairwise disjoint,
// checking those two neighborhoods is sufficient.
func (m *Map) overlaps(start, end int) bool {
	overlap := false
	m.tree.DescendLessOrEqual(Interval{Start: start}, func(item Interval) bool {
		if item.End > start {
			overlap = true
		}
		return false
	})
	if overlap {
		return true
	}
	m.tree.AscendGreaterOrEqual(Interval{Start: start}, func(item Interval) bool {
		if item.Start < end {
			overlap = true
		}
		return false
	})
	return overlap
}

// Find returns the interval containing nr, if any.
func (m *Map) Find(nr int) (Interval, bool) {
	var found Interval
	ok := false
	m.tree.DescendLessOrEqual(Interval{Start: nr}, func(item Interval) bool {
		if nr < item.End {
			found = item
			ok = true
		}
		return false
	})
	return found, ok
}

// DeleteAll discards every interval. Used at RV teardown (disable).
func (m *Map) DeleteAll() {
	m.tree.Clear(false)
}

// Len reports the number of intervals currently tracked.
func (m *Map) Len() int {
	return m.tree.Len()
}
