package metadata

import (
	"cmp"
	"slices"
)

/**
 * @brief A single binding within a descriptor set layout.
 */
type DescriptorSetLayoutBinding struct {
	/** @brief The binding index within the set. */
	Binding uint32
	/** @brief The type of descriptor bound here. */
	DescriptorType DescriptorType
	/** @brief Number of array elements, at least 1. */
	DescriptorCount uint32
	/** @brief Shader stages that can access the binding. */
	StageFlags ShaderStageFlags
	/** @brief Samplers baked into the layout. Empty when the sampler is written per set. */
	ImmutableSamplers []SamplerDescription
	/**
	 * @brief When non zero the descriptor pool allocates an internal uniform
	 * buffer slot of this size for every set and binds it automatically.
	 */
	InternalBufferPerDescriptorSize uint32
}

func (b DescriptorSetLayoutBinding) HashInto(h *Hasher) {
	h.Uint32(b.Binding).
		Uint32(uint32(b.DescriptorType)).
		Uint32(b.Count()).
		Uint32(uint32(b.StageFlags))
	hashSlice(h, b.ImmutableSamplers)
	h.Uint32(b.InternalBufferPerDescriptorSize)
}

// Count returns DescriptorCount, treating zero as a single element.
func (b DescriptorSetLayoutBinding) Count() uint32 {
	if b.DescriptorCount == 0 {
		return 1
	}
	return b.DescriptorCount
}

/**
 * @brief Describes a descriptor set layout.
 */
type DescriptorSetLayoutDescription struct {
	Bindings []DescriptorSetLayoutBinding
}

// HashInto hashes the bindings by binding index, so declaration order does
// not matter.
func (d *DescriptorSetLayoutDescription) HashInto(h *Hasher) {
	bindings := slices.Clone(d.Bindings)
	slices.SortStableFunc(bindings, func(a, b DescriptorSetLayoutBinding) int {
		return cmp.Compare(a.Binding, b.Binding)
	})
	hashSlice(h, bindings)
}

// FindBinding returns the binding declared with the given index.
func (d *DescriptorSetLayoutDescription) FindBinding(binding uint32) (DescriptorSetLayoutBinding, bool) {
	for _, b := range d.Bindings {
		if b.Binding == binding {
			return b, true
		}
	}
	return DescriptorSetLayoutBinding{}, false
}

type PushConstantRange struct {
	StageFlags ShaderStageFlags
	Offset     uint32
	Size       uint32
}

func (r PushConstantRange) HashInto(h *Hasher) {
	h.Uint32(uint32(r.StageFlags)).Uint32(r.Offset).Uint32(r.Size)
}

/**
 * @brief Describes a pipeline layout: the set layouts by set index plus push constants.
 */
type PipelineLayoutDescription struct {
	DescriptorSetLayouts []DescriptorSetLayoutDescription
	PushConstantRanges   []PushConstantRange
}

func (d *PipelineLayoutDescription) HashInto(h *Hasher) {
	h.Len(len(d.DescriptorSetLayouts))
	for i := range d.DescriptorSetLayouts {
		d.DescriptorSetLayouts[i].HashInto(h)
	}
	hashSlice(h, d.PushConstantRanges)
}
