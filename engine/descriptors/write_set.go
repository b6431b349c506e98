package descriptors

import (
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gpu/engine/resources"
)

// ImageWrite points one array element at an image view and/or sampler.
// Either may be nil.
type ImageWrite struct {
	ImageView *resources.ResourceArc[*resources.ImageViewResource]
	Sampler   *resources.ResourceArc[*resources.SamplerResource]
}

// BufferWrite points one array element at a range of a buffer. A zero Range
// binds the whole buffer.
type BufferWrite struct {
	Buffer *resources.ResourceArc[*resources.BufferResource]
	Offset uint64
	Range  uint64
}

// ElementWrite is the content of one binding. Which slices are used depends
// on WhatToBind(DescriptorType).
type ElementWrite struct {
	DescriptorType      metadata.DescriptorType
	HasImmutableSampler bool
	Images              []ImageWrite
	Buffers             []BufferWrite
	// Copied into the internal per-set buffer of the binding, see
	// DescriptorSetLayoutBinding.InternalBufferPerDescriptorSize.
	BufferData [][]byte
}

func (e *ElementWrite) clone() *ElementWrite {
	out := &ElementWrite{
		DescriptorType:      e.DescriptorType,
		HasImmutableSampler: e.HasImmutableSampler,
	}
	if e.Images != nil {
		out.Images = make([]ImageWrite, len(e.Images))
		for i, img := range e.Images {
			if img.ImageView != nil {
				out.Images[i].ImageView = img.ImageView.Clone()
			}
			if img.Sampler != nil {
				out.Images[i].Sampler = img.Sampler.Clone()
			}
		}
	}
	if e.Buffers != nil {
		out.Buffers = make([]BufferWrite, len(e.Buffers))
		for i, buf := range e.Buffers {
			out.Buffers[i] = BufferWrite{Offset: buf.Offset, Range: buf.Range}
			if buf.Buffer != nil {
				out.Buffers[i].Buffer = buf.Buffer.Clone()
			}
		}
	}
	if e.BufferData != nil {
		out.BufferData = make([][]byte, len(e.BufferData))
		copy(out.BufferData, e.BufferData)
	}
	return out
}

func (e *ElementWrite) release() {
	for _, img := range e.Images {
		if img.ImageView != nil {
			img.ImageView.Release()
		}
		if img.Sampler != nil {
			img.Sampler.Release()
		}
	}
	for _, buf := range e.Buffers {
		if buf.Buffer != nil {
			buf.Buffer.Release()
		}
	}
}

// WriteSet is the content of a descriptor set keyed by binding index. It owns
// one reference to every arc it holds.
type WriteSet struct {
	Elements map[uint32]*ElementWrite
}

func NewWriteSet() *WriteSet {
	return &WriteSet{Elements: make(map[uint32]*ElementWrite)}
}

// Clone takes a new reference to every arc.
func (w *WriteSet) Clone() *WriteSet {
	out := NewWriteSet()
	for binding, e := range w.Elements {
		out.Elements[binding] = e.clone()
	}
	return out
}

func (w *WriteSet) Release() {
	for _, e := range w.Elements {
		e.release()
	}
	w.Elements = nil
}

// conform drops elements the layout does not declare and trims arrays that
// exceed the binding's descriptor count.
func (w *WriteSet) conform(layout *metadata.DescriptorSetLayoutDescription) {
	for binding, e := range w.Elements {
		b, ok := layout.FindBinding(binding)
		if !ok {
			core.ContractViolation("write to binding %d which the layout does not declare", binding)
			e.release()
			delete(w.Elements, binding)
			continue
		}
		count := int(b.Count())
		if len(e.Images) > count {
			core.ContractViolation("binding %d holds %d images, layout allows %d", binding, len(e.Images), count)
			extra := &ElementWrite{Images: e.Images[count:]}
			extra.release()
			e.Images = e.Images[:count]
		}
		if len(e.Buffers) > count {
			core.ContractViolation("binding %d holds %d buffers, layout allows %d", binding, len(e.Buffers), count)
			extra := &ElementWrite{Buffers: e.Buffers[count:]}
			extra.release()
			e.Buffers = e.Buffers[:count]
		}
	}
}

type BindTargets struct {
	Sampler bool
	Image   bool
	Buffer  bool
}

// WhatToBind reports which fields of an ElementWrite a descriptor type reads.
func WhatToBind(descriptorType metadata.DescriptorType, hasImmutableSampler bool) BindTargets {
	var what BindTargets
	switch descriptorType {
	case metadata.DescriptorTypeSampler:
		what.Sampler = !hasImmutableSampler
	case metadata.DescriptorTypeCombinedImageSampler:
		what.Sampler = !hasImmutableSampler
		what.Image = true
	case metadata.DescriptorTypeSampledImage,
		metadata.DescriptorTypeStorageImage,
		metadata.DescriptorTypeInputAttachment:
		what.Image = true
	case metadata.DescriptorTypeUniformBuffer,
		metadata.DescriptorTypeStorageBuffer,
		metadata.DescriptorTypeUniformBufferDynamic,
		metadata.DescriptorTypeStorageBufferDynamic:
		what.Buffer = true
	}
	return what
}

// CreateUninitializedWriteSetForLayout returns a write set with an element
// for every binding of layout and empty arrays sized to each binding.
func CreateUninitializedWriteSetForLayout(layout *metadata.DescriptorSetLayoutDescription) *WriteSet {
	ws := NewWriteSet()
	for _, binding := range layout.Bindings {
		e := &ElementWrite{
			DescriptorType:      binding.DescriptorType,
			HasImmutableSampler: len(binding.ImmutableSamplers) > 0,
		}
		what := WhatToBind(e.DescriptorType, e.HasImmutableSampler)
		if what.Image || what.Sampler {
			e.Images = make([]ImageWrite, binding.Count())
		}
		if what.Buffer {
			e.Buffers = make([]BufferWrite, binding.Count())
		}
		ws.Elements[binding.Binding] = e
	}
	return ws
}
