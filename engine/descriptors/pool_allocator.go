package descriptors

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gpu/engine/resources"
)

// PoolAllocator hands out native descriptor pools of one shape. Retired
// pools are reset once the frames that could use their sets have completed,
// then reused.
type PoolAllocator struct {
	backend  renderer.Backend
	maxSets  uint32
	sizes    []renderer.DescriptorPoolSize
	maxPools uint32

	created uint32
	retired *resources.DestructionSink[renderer.DescriptorPoolHandle]
	ready   []renderer.DescriptorPoolHandle
}

// NewPoolAllocator creates pools of maxSets sets. maxPools bounds the number
// of native pools alive at once, 0 means unbounded.
func NewPoolAllocator(backend renderer.Backend, maxFramesInFlight, maxPools, maxSets uint32, sizes []renderer.DescriptorPoolSize) *PoolAllocator {
	a := &PoolAllocator{
		backend:  backend,
		maxSets:  maxSets,
		sizes:    sizes,
		maxPools: maxPools,
	}
	a.retired = resources.NewDestructionSink(metadata.ResourceKindDescriptorPool, maxFramesInFlight, a.reset)
	return a
}

func (a *PoolAllocator) Allocate() (renderer.DescriptorPoolHandle, error) {
	if n := len(a.ready); n > 0 {
		pool := a.ready[n-1]
		a.ready = a.ready[:n-1]
		return pool, nil
	}
	if a.maxPools > 0 && a.created >= a.maxPools {
		return 0, errors.Wrapf(core.ErrPoolExhausted, "limit of %d descriptor pools reached", a.maxPools)
	}
	pool, err := a.backend.CreateDescriptorPool(a.maxSets, a.sizes)
	if err != nil {
		return 0, err
	}
	a.created++
	return pool, nil
}

// Retire schedules pool for reuse after the frames in flight completed.
func (a *PoolAllocator) Retire(pool renderer.DescriptorPoolHandle) {
	a.retired.Retire(pool)
}

func (a *PoolAllocator) reset(pool renderer.DescriptorPoolHandle) error {
	if err := a.backend.ResetDescriptorPool(pool); err != nil {
		a.created--
		if derr := a.backend.DestroyDescriptorPool(pool); derr != nil {
			return errors.CombineErrors(err, derr)
		}
		return err
	}
	a.ready = append(a.ready, pool)
	return nil
}

// Update advances the allocator by one completed frame.
func (a *PoolAllocator) Update() {
	a.retired.OnFrameComplete()
}

// Created is the number of native pools currently alive.
func (a *PoolAllocator) Created() int {
	return int(a.created)
}

// Available is the number of reset pools ready for reuse.
func (a *PoolAllocator) Available() int {
	return len(a.ready)
}

// Destroy destroys every pool not in use. The device must be idle.
func (a *PoolAllocator) Destroy() {
	a.retired.Destroy()
	for _, pool := range a.ready {
		if err := a.backend.DestroyDescriptorPool(pool); err != nil {
			core.LogError("failed to destroy descriptor pool: %s", err.Error())
		}
		a.created--
	}
	a.ready = nil
	if a.created > 0 {
		core.LogWarn("%d descriptor pools were never retired", a.created)
	}
}
