package resources

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

type fakeResource struct {
	id        int
	destroyed int
}

func newFakeCache(maxFramesInFlight uint32) (*ResourceCache[*fakeResource], *[]*fakeResource) {
	var destroyed []*fakeResource
	cache := NewResourceCache(metadata.ResourceKindSampler, maxFramesInFlight, func(r *fakeResource) error {
		r.destroyed++
		destroyed = append(destroyed, r)
		return nil
	})
	return cache, &destroyed
}

func TestGetOrCreateDeduplicates(t *testing.T) {
	cache, _ := newFakeCache(2)
	calls := 0
	create := func() (*fakeResource, error) {
		calls++
		return &fakeResource{id: calls}, nil
	}

	desc := metadata.DefaultSamplerDescription()
	a, err := cache.GetOrCreate(desc, create)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := cache.GetOrCreate(metadata.DefaultSamplerDescription(), create)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected the factory to run once, ran %d times", calls)
	}
	if !a.SameResource(b) {
		t.Error("expected equal descriptions to share a resource")
	}
	if a.RefCount() != 2 {
		t.Errorf("expected 2 references, got %d", a.RefCount())
	}

	other := metadata.DefaultSamplerDescription()
	other.MaxLod = 4
	c, _ := cache.GetOrCreate(other, create)
	if c.SameResource(a) {
		t.Error("expected different descriptions to get different resources")
	}
	if cache.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", cache.Len())
	}
}

func TestFactoryErrorIsWrapped(t *testing.T) {
	cache, _ := newFakeCache(2)
	cause := errors.New("out of device memory")
	_, err := cache.GetOrCreate(metadata.DefaultSamplerDescription(), func() (*fakeResource, error) {
		return nil, cause
	})
	if !errors.Is(err, core.ErrResourceCreationFailed) {
		t.Errorf("expected ErrResourceCreationFailed, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected the cause to be preserved, got %v", err)
	}
	if cache.Len() != 0 {
		t.Errorf("expected no entry after a failure, got %d", cache.Len())
	}
}

func TestDestroyedAfterFramesInFlight(t *testing.T) {
	const maxFramesInFlight = 2
	cache, destroyed := newFakeCache(maxFramesInFlight)
	arc, _ := cache.GetOrCreate(metadata.DefaultSamplerDescription(), func() (*fakeResource, error) {
		return &fakeResource{id: 1}, nil
	})
	clone := arc.Clone()
	arc.Release()
	cache.Update()
	if len(*destroyed) != 0 {
		t.Fatal("resource destroyed while still referenced")
	}

	clone.Release()
	for i := 0; i < maxFramesInFlight; i++ {
		cache.Update()
		if len(*destroyed) != 0 {
			t.Fatalf("resource destroyed after %d frames", i+1)
		}
	}
	cache.Update()
	if len(*destroyed) != 1 || (*destroyed)[0].destroyed != 1 {
		t.Fatalf("expected exactly one destruction, got %d", len(*destroyed))
	}
	if cache.Len() != 0 {
		t.Errorf("expected the entry to be gone, got %d", cache.Len())
	}
}

func TestDroppedEntryIsRecreated(t *testing.T) {
	cache, destroyed := newFakeCache(1)
	calls := 0
	create := func() (*fakeResource, error) {
		calls++
		return &fakeResource{id: calls}, nil
	}
	desc := metadata.DefaultSamplerDescription()

	first, _ := cache.GetOrCreate(desc, create)
	first.Release()
	// The entry is still in the map but its count is zero.
	second, _ := cache.GetOrCreate(desc, create)
	if calls != 2 {
		t.Fatalf("expected a new resource after the last release, factory ran %d times", calls)
	}
	if second.Get().id != 2 {
		t.Errorf("expected the replacement, got resource %d", second.Get().id)
	}

	cache.Update()
	cache.Update()
	if len(*destroyed) != 1 || (*destroyed)[0].id != 1 {
		t.Fatalf("expected only the first resource destroyed, got %v", *destroyed)
	}
	if again, ok := cache.Get(desc); !ok || !again.SameResource(second) {
		t.Error("expected the replacement to stay cached")
	} else {
		again.Release()
	}
	second.Release()
}

func TestDoubleReleaseIsIgnored(t *testing.T) {
	core.SetStrictContracts(false)
	cache, _ := newFakeCache(2)
	arc, _ := cache.GetOrCreate(metadata.DefaultSamplerDescription(), func() (*fakeResource, error) {
		return &fakeResource{}, nil
	})
	clone := arc.Clone()
	arc.Release()
	arc.Release()
	if clone.RefCount() != 1 {
		t.Errorf("expected the second release to be ignored, count is %d", clone.RefCount())
	}
	clone.Release()
}

func TestCloneAfterReleasePanics(t *testing.T) {
	cache, _ := newFakeCache(2)
	arc, _ := cache.GetOrCreate(metadata.DefaultSamplerDescription(), func() (*fakeResource, error) {
		return &fakeResource{}, nil
	})
	arc.Release()
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected a panic")
		}
	}()
	arc.Clone()
}

func TestInsertNeverDeduplicates(t *testing.T) {
	cache, _ := newFakeCache(2)
	a := cache.Insert(&fakeResource{id: 1})
	b := cache.Insert(&fakeResource{id: 1})
	if a.SameResource(b) || a.Hash() == b.Hash() {
		t.Error("expected inserted resources to stay distinct")
	}
	if m := cache.Metrics(); m.Count != 2 {
		t.Errorf("expected count 2, got %d", m.Count)
	}
	cache.Update()
	if m := cache.Metrics(); m.CreatedLastFrame != 2 {
		t.Errorf("expected 2 created last frame, got %d", m.CreatedLastFrame)
	}
}

func TestCacheDestroyReportsLeaks(t *testing.T) {
	cache, destroyed := newFakeCache(3)
	kept := cache.Insert(&fakeResource{id: 1})
	dropped := cache.Insert(&fakeResource{id: 2})
	dropped.Release()
	if leaked := cache.Destroy(); leaked != 1 {
		t.Errorf("expected 1 leak, got %d", leaked)
	}
	if len(*destroyed) != 1 || (*destroyed)[0].id != 2 {
		t.Errorf("expected the dropped resource to be flushed, got %v", *destroyed)
	}
	kept.Release()
}

func TestSinkHandlesFrameCounterWraparound(t *testing.T) {
	var destroyed int
	sink := NewDestructionSink(metadata.ResourceKindBuffer, 2, func(int) error {
		destroyed++
		return nil
	})
	sink.frameIndex = math.MaxUint32 - 1
	sink.Retire(7)
	sink.OnFrameComplete()
	sink.OnFrameComplete()
	if destroyed != 0 {
		t.Fatal("destroyed too early across the wrap")
	}
	sink.OnFrameComplete()
	if destroyed != 1 {
		t.Fatalf("expected destruction on the third frame, got %d", destroyed)
	}
	if sink.Len() != 0 {
		t.Errorf("expected an empty sink, got %d", sink.Len())
	}
}

func TestSinkLogsDestroyErrors(t *testing.T) {
	calls := 0
	sink := NewDestructionSink(metadata.ResourceKindBuffer, 0, func(int) error {
		calls++
		return errors.New("device lost")
	})
	sink.Retire(1)
	sink.Retire(2)
	sink.OnFrameComplete()
	if calls != 2 {
		t.Errorf("expected both resources to be attempted, got %d", calls)
	}
}
