package rvinterval

import "testing"

func TestCreateAndFind(t *testing.T) {
	m := New()
	if err := m.Create(0, 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := m.Create(1, 10, 1); err != nil {
		t.Fatal(err)
	}
	if err := m.Create(10, 20, 2); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		nr      int
		wantOK  bool
		wantTyp BlockType
	}{
		{0, true, 0},
		{1, true, 1},
		{9, true, 1},
		{10, true, 2},
		{19, true, 2},
		{20, false, 0},
		{-1, false, 0},
	}
	for _, c := range cases {
		iv, ok := m.Find(c.nr)
		if ok != c.wantOK {
			t.Errorf("Find(%d): ok=%v, want %v", c.nr, ok, c.wantOK)
			continue
		}
		if ok && iv.Type != c.wantTyp {
			t.Errorf("Find(%d): type=%v, want %v", c.nr, iv.Type, c.wantTyp)
		}
	}
}

func TestCreateRejectsOverlap(t *testing.T) {
	m := New()
	if err := m.Create(5, 15, 0); err != nil {
		t.Fatal(err)
	}
	cases := [][2]int{{0, 6}, {10, 12}, {14, 20}, {5, 15}, {0, 20}}
	for _, c := range cases {
		if err := m.Create(c[0], c[1], 1); err != ErrOverlap {
			t.Errorf("Create(%d,%d): got %v, want ErrOverlap", c[0], c[1], err)
		}
	}
	if err := m.Create(15, 20, 1); err != nil {
		t.Errorf("adjacent, non-overlapping interval should succeed: %v", err)
	}
	if err := m.Create(-5, 5, 1); err != nil {
		t.Errorf("adjacent, non-overlapping interval should succeed: %v", err)
	}
}

func TestCreateRejectsInvalidSpan(t *testing.T) {
	m := New()
	if err := m.Create(5, 5, 0); err == nil {
		t.Fatalf("expected error for empty span")
	}
	if err := m.Create(5, 3, 0); err == nil {
		t.Fatalf("expected error for inverted span")
	}
}

func TestDeleteAll(t *testing.T) {
	m := New()
	_ = m.Create(0, 10, 0)
	_ = m.Create(10, 20, 1)
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
	m.DeleteAll()
	if m.Len() != 0 {
		t.Fatalf("Len() = %d after DeleteAll, want 0", m.Len())
	}
	if _, ok := m.Find(5); ok {
		t.Fatalf("Find after DeleteAll should return nothing")
	}
	if err := m.Create(0, 10, 2); err != nil {
		t.Fatalf("map should be reusable after DeleteAll: %v", err)
	}
}
