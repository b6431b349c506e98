package containers

import "fmt"

// RawSlabKey is a dense index handed out by a RawSlab.
type RawSlabKey uint32

// RawSlab hands out small integer identities and recycles freed ones. The
// storage only tracks occupancy; callers keep their payload in parallel arrays
// indexed by the key.
type RawSlab struct {
	occupied []bool
	free     []RawSlabKey
	count    int
}

func NewRawSlab(capacity int) *RawSlab {
	s := &RawSlab{
		occupied: make([]bool, 0, capacity),
		free:     make([]RawSlabKey, 0, capacity),
	}
	s.reserve(capacity)
	return s
}

// reserve grows storage to n slots. New slots are pushed to the free list in
// reverse so the lowest index is popped first.
func (s *RawSlab) reserve(n int) {
	old := len(s.occupied)
	if n <= old {
		return
	}
	for i := old; i < n; i++ {
		s.occupied = append(s.occupied, false)
	}
	for i := n - 1; i >= old; i-- {
		s.free = append(s.free, RawSlabKey(i))
	}
}

func (s *RawSlab) Allocate() RawSlabKey {
	if len(s.free) == 0 {
		grow := len(s.occupied)
		if grow == 0 {
			grow = 16
		}
		s.reserve(len(s.occupied) + grow)
	}
	key := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	s.occupied[key] = true
	s.count++
	return key
}

// Free returns key to the slab. Freeing a key twice is a programming error.
func (s *RawSlab) Free(key RawSlabKey) {
	if int(key) >= len(s.occupied) || !s.occupied[key] {
		panic(fmt.Sprintf("raw slab: free of unallocated key %d", key))
	}
	s.occupied[key] = false
	s.free = append(s.free, key)
	s.count--
}

func (s *RawSlab) Contains(key RawSlabKey) bool {
	return int(key) < len(s.occupied) && s.occupied[key]
}

// Count is the number of allocated keys.
func (s *RawSlab) Count() int {
	return s.count
}

// Capacity is the number of slots backing the slab.
func (s *RawSlab) Capacity() int {
	return len(s.occupied)
}
