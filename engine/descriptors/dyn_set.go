package descriptors

import (
	"github.com/spaghettifunk/anima-gpu/engine/containers"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gpu/engine/resources"
)

// DynDescriptorSet is a descriptor set whose bindings can be changed after
// allocation. Changes are buffered until Flush, which may be called from any
// goroutine; the pool applies them on its next frame.
type DynDescriptorSet struct {
	set      *DescriptorSetArc
	layout   *metadata.DescriptorSetLayoutDescription
	writeSet *WriteSet
	dirty    map[uint32]struct{}
	writes   *containers.Channel[*setWrite]
}

func newDynDescriptorSet(set *DescriptorSetArc, layout *metadata.DescriptorSetLayoutDescription, writeSet *WriteSet, writes *containers.Channel[*setWrite]) *DynDescriptorSet {
	return &DynDescriptorSet{
		set:      set,
		layout:   layout,
		writeSet: writeSet,
		dirty:    make(map[uint32]struct{}),
		writes:   writes,
	}
}

func (d *DynDescriptorSet) DescriptorSet() *DescriptorSetArc {
	return d.set
}

func (d *DynDescriptorSet) element(binding uint32) (*ElementWrite, bool) {
	e, ok := d.writeSet.Elements[binding]
	if !ok {
		core.LogWarn("binding %d does not exist in the descriptor set layout", binding)
	}
	return e, ok
}

// SetImage binds view to array element 0. view is borrowed.
func (d *DynDescriptorSet) SetImage(binding uint32, view *resources.ResourceArc[*resources.ImageViewResource]) {
	d.SetImageAt(binding, 0, view)
}

func (d *DynDescriptorSet) SetImageAt(binding uint32, index int, view *resources.ResourceArc[*resources.ImageViewResource]) {
	e, ok := d.element(binding)
	if !ok || !WhatToBind(e.DescriptorType, e.HasImmutableSampler).Image {
		return
	}
	if index >= len(e.Images) {
		core.LogWarn("image index %d out of range, binding %d holds %d elements", index, binding, len(e.Images))
		return
	}
	if old := e.Images[index].ImageView; old != nil {
		old.Release()
	}
	e.Images[index].ImageView = view.Clone()
	d.dirty[binding] = struct{}{}
}

// SetSampler binds sampler to array element 0. Ignored for bindings with
// immutable samplers.
func (d *DynDescriptorSet) SetSampler(binding uint32, sampler *resources.ResourceArc[*resources.SamplerResource]) {
	e, ok := d.element(binding)
	if !ok || !WhatToBind(e.DescriptorType, e.HasImmutableSampler).Sampler || len(e.Images) == 0 {
		return
	}
	if old := e.Images[0].Sampler; old != nil {
		old.Release()
	}
	e.Images[0].Sampler = sampler.Clone()
	d.dirty[binding] = struct{}{}
}

// SetBuffer binds an external buffer to array element 0.
func (d *DynDescriptorSet) SetBuffer(binding uint32, buffer *resources.ResourceArc[*resources.BufferResource]) {
	e, ok := d.element(binding)
	if !ok || !WhatToBind(e.DescriptorType, e.HasImmutableSampler).Buffer || len(e.Buffers) == 0 {
		return
	}
	if old := e.Buffers[0].Buffer; old != nil {
		old.Release()
	}
	e.Buffers[0] = BufferWrite{Buffer: buffer.Clone()}
	d.dirty[binding] = struct{}{}
}

// SetBufferData replaces the contents of the binding's internal buffer.
func (d *DynDescriptorSet) SetBufferData(binding uint32, data []byte) {
	e, ok := d.element(binding)
	if !ok || !WhatToBind(e.DescriptorType, e.HasImmutableSampler).Buffer {
		return
	}
	b, _ := d.layout.FindBinding(binding)
	if b.InternalBufferPerDescriptorSize == 0 {
		core.LogWarn("binding %d has no internal buffer to write", binding)
		return
	}
	e.BufferData = [][]byte{append([]byte(nil), data...)}
	d.dirty[binding] = struct{}{}
}

// Flush sends the changed bindings to the pool.
func (d *DynDescriptorSet) Flush() {
	if len(d.dirty) == 0 {
		return
	}
	ws := NewWriteSet()
	for binding := range d.dirty {
		ws.Elements[binding] = d.writeSet.Elements[binding].clone()
	}
	d.dirty = make(map[uint32]struct{})
	d.writes.Send(&setWrite{set: d.set.Clone(), writeSet: ws})
}

// Release drops the set and everything it references.
func (d *DynDescriptorSet) Release() {
	d.writeSet.Release()
	d.set.Release()
}
