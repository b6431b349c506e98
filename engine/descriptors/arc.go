package descriptors

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/containers"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

// FrameInFlightIndex selects one of the MaxFramesInFlight+1 copies of every
// descriptor set.
type FrameInFlightIndex uint32

type descriptorSetInner struct {
	slabKey    containers.RawSlabKey
	layoutHash metadata.StructuralHash
	// one native set per frame in flight copy
	sets  []renderer.DescriptorSetHandle
	refs  atomic.Int64
	drops *containers.Channel[containers.RawSlabKey]
}

// DescriptorSetArc is a counted reference to a pooled descriptor set. The
// last Release returns the slot to its pool.
type DescriptorSetArc struct {
	inner    *descriptorSetInner
	released atomic.Bool
}

func newDescriptorSetArc(key containers.RawSlabKey, layoutHash metadata.StructuralHash, sets []renderer.DescriptorSetHandle, drops *containers.Channel[containers.RawSlabKey]) *DescriptorSetArc {
	inner := &descriptorSetInner{
		slabKey:    key,
		layoutHash: layoutHash,
		sets:       sets,
		drops:      drops,
	}
	inner.refs.Store(1)
	return &DescriptorSetArc{inner: inner}
}

// DescriptorSet returns the native set of the given frame copy.
func (a *DescriptorSetArc) DescriptorSet(frame FrameInFlightIndex) renderer.DescriptorSetHandle {
	return a.inner.sets[frame]
}

func (a *DescriptorSetArc) SlabKey() containers.RawSlabKey {
	return a.inner.slabKey
}

func (a *DescriptorSetArc) LayoutHash() metadata.StructuralHash {
	return a.inner.layoutHash
}

func (a *DescriptorSetArc) RefCount() int64 {
	return a.inner.refs.Load()
}

func (a *DescriptorSetArc) Clone() *DescriptorSetArc {
	if a.released.Load() {
		panic(errors.AssertionFailedf("clone of a released descriptor set %d", a.inner.slabKey))
	}
	a.inner.refs.Add(1)
	return &DescriptorSetArc{inner: a.inner}
}

func (a *DescriptorSetArc) Release() {
	if !a.released.CompareAndSwap(false, true) {
		core.ContractViolation("descriptor set %d released twice", a.inner.slabKey)
		return
	}
	if a.inner.refs.Add(-1) == 0 {
		a.inner.drops.Send(a.inner.slabKey)
	}
}
