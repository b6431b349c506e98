package resources

import (
	"testing"

	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

func surfaceOfWidth(w uint32) metadata.SwapchainSurfaceInfo {
	s := testSurface()
	s.Width = w
	return s
}

func TestSwapchainSurfaceSetCountsReferences(t *testing.T) {
	set := NewSwapchainSurfaceSet()
	a := surfaceOfWidth(800)
	if !set.Add(a) {
		t.Error("expected the first add to be new")
	}
	if set.Add(a) {
		t.Error("expected the second add to be a duplicate")
	}
	if _, removed := set.Remove(a); removed {
		t.Error("expected the surface to survive one of two removals")
	}
	index, removed := set.Remove(a)
	if !removed || index != 0 {
		t.Errorf("expected removal at index 0, got %d (%v)", index, removed)
	}
	if set.Len() != 0 {
		t.Errorf("expected an empty set, got %d", set.Len())
	}
}

func TestSwapchainSurfaceSetSwapRemove(t *testing.T) {
	set := NewSwapchainSurfaceSet()
	a, b, c := surfaceOfWidth(1), surfaceOfWidth(2), surfaceOfWidth(3)
	set.Add(a)
	set.Add(b)
	set.Add(c)

	// A caller-side array kept aligned the same way ResourceManager does.
	mirror := []metadata.SwapchainSurfaceInfo{a, b, c}
	index, removed := set.Remove(a)
	if !removed || index != 0 {
		t.Fatalf("expected removal at index 0, got %d (%v)", index, removed)
	}
	last := len(mirror) - 1
	mirror[index] = mirror[last]
	mirror = mirror[:last]

	for i, s := range set.Unique() {
		if mirror[i] != s {
			t.Errorf("index %d: set has %s, mirror has %s", i, s, mirror[i])
		}
		if got, ok := set.Index(s); !ok || got != i {
			t.Errorf("expected %s at index %d, got %d", s, i, got)
		}
	}
	if got, _ := set.Index(c); got != 0 {
		t.Errorf("expected the moved surface to take index 0, got %d", got)
	}
}

func TestSwapchainSurfaceSetUnknownRemove(t *testing.T) {
	set := NewSwapchainSurfaceSet()
	if _, removed := set.Remove(surfaceOfWidth(9)); removed {
		t.Error("expected removing an unknown surface to be a no-op")
	}
}

func TestSwapchainSurfaceSetAddRemoveSymmetry(t *testing.T) {
	set := NewSwapchainSurfaceSet()
	surfaces := []metadata.SwapchainSurfaceInfo{surfaceOfWidth(1), surfaceOfWidth(2), surfaceOfWidth(1), surfaceOfWidth(3)}
	for _, s := range surfaces {
		set.Add(s)
	}
	if set.Len() != 3 {
		t.Fatalf("expected 3 unique surfaces, got %d", set.Len())
	}
	for _, s := range surfaces {
		set.Remove(s)
	}
	if set.Len() != 0 {
		t.Errorf("expected the set to return to empty, got %d", set.Len())
	}
}
