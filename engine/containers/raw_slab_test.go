package containers

import "testing"

func TestRawSlabAllocatesLowestFirst(t *testing.T) {
	s := NewRawSlab(4)
	for i := 0; i < 4; i++ {
		if key := s.Allocate(); key != RawSlabKey(i) {
			t.Errorf("expected key %d, got %d", i, key)
		}
	}
	if s.Count() != 4 {
		t.Errorf("expected count 4, got %d", s.Count())
	}
}

func TestRawSlabReusesFreedKeys(t *testing.T) {
	s := NewRawSlab(2)
	a := s.Allocate()
	b := s.Allocate()
	s.Free(a)
	if s.Contains(a) {
		t.Errorf("expected key %d to be free", a)
	}
	if key := s.Allocate(); key != a {
		t.Errorf("expected freed key %d to be reused, got %d", a, key)
	}
	if !s.Contains(b) {
		t.Errorf("expected key %d to stay allocated", b)
	}
}

func TestRawSlabGrows(t *testing.T) {
	s := NewRawSlab(1)
	seen := map[RawSlabKey]bool{}
	for i := 0; i < 40; i++ {
		key := s.Allocate()
		if seen[key] {
			t.Fatalf("key %d handed out twice", key)
		}
		seen[key] = true
	}
	if s.Capacity() < 40 {
		t.Errorf("expected capacity of at least 40, got %d", s.Capacity())
	}
}

func TestRawSlabDoubleFreePanics(t *testing.T) {
	s := NewRawSlab(1)
	key := s.Allocate()
	s.Free(key)
	defer func() {
		if recover() == nil {
			t.Error("expected a panic on double free")
		}
	}()
	s.Free(key)
}
