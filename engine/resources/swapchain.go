package resources

import (
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

type surfaceEntry struct {
	refCount int
	index    int
}

// SwapchainSurfaceSet tracks the distinct surfaces currently presented to.
// Several swapchains with identical surface info count as one surface, and
// each distinct surface gets a dense index used to address per-surface
// pipeline arrays.
type SwapchainSurfaceSet struct {
	entries map[metadata.SwapchainSurfaceInfo]*surfaceEntry
	unique  []metadata.SwapchainSurfaceInfo
}

func NewSwapchainSurfaceSet() *SwapchainSurfaceSet {
	return &SwapchainSurfaceSet{
		entries: make(map[metadata.SwapchainSurfaceInfo]*surfaceEntry),
	}
}

// Add returns true when info was not present before, in which case it was
// appended at index Len()-1.
func (s *SwapchainSurfaceSet) Add(info metadata.SwapchainSurfaceInfo) bool {
	if e, ok := s.entries[info]; ok {
		e.refCount++
		return false
	}
	s.entries[info] = &surfaceEntry{refCount: 1, index: len(s.unique)}
	s.unique = append(s.unique, info)
	return true
}

// Remove returns the index the surface occupied when this was its last
// reference. The caller must swap-remove its own per-surface arrays at that
// index to stay aligned.
func (s *SwapchainSurfaceSet) Remove(info metadata.SwapchainSurfaceInfo) (int, bool) {
	e, ok := s.entries[info]
	if !ok {
		core.LogError("removed swapchain surface %s that was never added", info)
		return 0, false
	}
	e.refCount--
	if e.refCount > 0 {
		return 0, false
	}

	index := e.index
	delete(s.entries, info)
	last := len(s.unique) - 1
	if index != last {
		moved := s.unique[last]
		s.unique[index] = moved
		s.entries[moved].index = index
	}
	s.unique = s.unique[:last]
	return index, true
}

func (s *SwapchainSurfaceSet) Index(info metadata.SwapchainSurfaceInfo) (int, bool) {
	e, ok := s.entries[info]
	if !ok {
		return 0, false
	}
	return e.index, true
}

// Unique returns the distinct surfaces ordered by index.
func (s *SwapchainSurfaceSet) Unique() []metadata.SwapchainSurfaceInfo {
	out := make([]metadata.SwapchainSurfaceInfo, len(s.unique))
	copy(out, s.unique)
	return out
}

func (s *SwapchainSurfaceSet) Len() int {
	return len(s.unique)
}
