package metadata

/**
 * @brief Describes a sampler. Samplers are deduplicated, so two materials
 * asking for the same filtering share one native object.
 */
type SamplerDescription struct {
	MagFilter               Filter
	MinFilter               Filter
	MipmapMode              MipmapMode
	AddressModeU            SamplerAddressMode
	AddressModeV            SamplerAddressMode
	AddressModeW            SamplerAddressMode
	MipLodBias              float32
	AnisotropyEnable        bool
	MaxAnisotropy           float32
	CompareEnable           bool
	CompareOp               CompareOp
	MinLod                  float32
	MaxLod                  float32
	BorderColor             BorderColor
	UnnormalizedCoordinates bool
}

func DefaultSamplerDescription() SamplerDescription {
	return SamplerDescription{
		MagFilter:    FilterLinear,
		MinFilter:    FilterLinear,
		MipmapMode:   MipmapModeLinear,
		AddressModeU: SamplerAddressModeRepeat,
		AddressModeV: SamplerAddressModeRepeat,
		AddressModeW: SamplerAddressModeRepeat,
		CompareOp:    CompareOpAlways,
		BorderColor:  BorderColorFloatOpaqueBlack,
	}
}

func (d SamplerDescription) HashInto(h *Hasher) {
	h.Uint32(uint32(d.MagFilter)).
		Uint32(uint32(d.MinFilter)).
		Uint32(uint32(d.MipmapMode)).
		Uint32(uint32(d.AddressModeU)).
		Uint32(uint32(d.AddressModeV)).
		Uint32(uint32(d.AddressModeW)).
		Float32(d.MipLodBias).
		Bool(d.AnisotropyEnable).
		Float32(d.MaxAnisotropy).
		Bool(d.CompareEnable).
		Uint32(uint32(d.CompareOp)).
		Float32(d.MinLod).
		Float32(d.MaxLod).
		Uint32(uint32(d.BorderColor)).
		Bool(d.UnnormalizedCoordinates)
}
