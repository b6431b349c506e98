package vulkan

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

var errUntranslatable = errors.New("no vulkan equivalent")

func toBool32(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}

func toFormat(f metadata.Format) (vk.Format, error) {
	switch f {
	case metadata.FormatUndefined:
		return vk.FormatUndefined, nil
	case metadata.FormatR8Unorm:
		return vk.FormatR8Unorm, nil
	case metadata.FormatR8G8Unorm:
		return vk.FormatR8g8Unorm, nil
	case metadata.FormatR8G8B8A8Unorm:
		return vk.FormatR8g8b8a8Unorm, nil
	case metadata.FormatR8G8B8A8Srgb:
		return vk.FormatR8g8b8a8Srgb, nil
	case metadata.FormatB8G8R8A8Unorm:
		return vk.FormatB8g8r8a8Unorm, nil
	case metadata.FormatB8G8R8A8Srgb:
		return vk.FormatB8g8r8a8Srgb, nil
	case metadata.FormatR16G16B16A16Sfloat:
		return vk.FormatR16g16b16a16Sfloat, nil
	case metadata.FormatR32Sfloat:
		return vk.FormatR32Sfloat, nil
	case metadata.FormatR32G32Sfloat:
		return vk.FormatR32g32Sfloat, nil
	case metadata.FormatR32G32B32Sfloat:
		return vk.FormatR32g32b32Sfloat, nil
	case metadata.FormatR32G32B32A32Sfloat:
		return vk.FormatR32g32b32a32Sfloat, nil
	case metadata.FormatD32Sfloat:
		return vk.FormatD32Sfloat, nil
	case metadata.FormatD24UnormS8Uint:
		return vk.FormatD24UnormS8Uint, nil
	case metadata.FormatD32SfloatS8Uint:
		return vk.FormatD32SfloatS8Uint, nil
	}
	// FormatMatchSurface and FormatMatchDepth must be resolved first.
	return vk.FormatUndefined, errors.Wrapf(errUntranslatable, "format %d", f)
}

func toDescriptorType(t metadata.DescriptorType) (vk.DescriptorType, error) {
	switch t {
	case metadata.DescriptorTypeSampler:
		return vk.DescriptorTypeSampler, nil
	case metadata.DescriptorTypeCombinedImageSampler:
		return vk.DescriptorTypeCombinedImageSampler, nil
	case metadata.DescriptorTypeSampledImage:
		return vk.DescriptorTypeSampledImage, nil
	case metadata.DescriptorTypeStorageImage:
		return vk.DescriptorTypeStorageImage, nil
	case metadata.DescriptorTypeUniformTexelBuffer:
		return vk.DescriptorTypeUniformTexelBuffer, nil
	case metadata.DescriptorTypeStorageTexelBuffer:
		return vk.DescriptorTypeStorageTexelBuffer, nil
	case metadata.DescriptorTypeUniformBuffer:
		return vk.DescriptorTypeUniformBuffer, nil
	case metadata.DescriptorTypeStorageBuffer:
		return vk.DescriptorTypeStorageBuffer, nil
	case metadata.DescriptorTypeUniformBufferDynamic:
		return vk.DescriptorTypeUniformBufferDynamic, nil
	case metadata.DescriptorTypeStorageBufferDynamic:
		return vk.DescriptorTypeStorageBufferDynamic, nil
	case metadata.DescriptorTypeInputAttachment:
		return vk.DescriptorTypeInputAttachment, nil
	}
	return 0, errors.Wrapf(errUntranslatable, "descriptor type %d", t)
}

func toImageLayout(l metadata.ImageLayout) vk.ImageLayout {
	switch l {
	case metadata.ImageLayoutGeneral:
		return vk.ImageLayoutGeneral
	case metadata.ImageLayoutColorAttachmentOptimal:
		return vk.ImageLayoutColorAttachmentOptimal
	case metadata.ImageLayoutDepthStencilAttachmentOptimal:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case metadata.ImageLayoutDepthStencilReadOnlyOptimal:
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	case metadata.ImageLayoutShaderReadOnlyOptimal:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case metadata.ImageLayoutTransferSrcOptimal:
		return vk.ImageLayoutTransferSrcOptimal
	case metadata.ImageLayoutTransferDstOptimal:
		return vk.ImageLayoutTransferDstOptimal
	case metadata.ImageLayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	default:
		return vk.ImageLayoutUndefined
	}
}

func toImageViewType(t metadata.ImageViewType) vk.ImageViewType {
	switch t {
	case metadata.ImageViewType1D:
		return vk.ImageViewType1d
	case metadata.ImageViewType3D:
		return vk.ImageViewType3d
	case metadata.ImageViewTypeCube:
		return vk.ImageViewTypeCube
	case metadata.ImageViewType2DArray:
		return vk.ImageViewType2dArray
	default:
		return vk.ImageViewType2d
	}
}

func toCullMode(m metadata.CullMode) vk.CullModeFlags {
	switch m {
	case metadata.CullModeFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case metadata.CullModeBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	case metadata.CullModeFrontAndBack:
		return vk.CullModeFlags(vk.CullModeFrontAndBack)
	default:
		return vk.CullModeFlags(vk.CullModeNone)
	}
}

func toSampleCount(s metadata.SampleCount) vk.SampleCountFlagBits {
	if s == 0 {
		return vk.SampleCount1Bit
	}
	// SampleCount values are the VkSampleCountFlagBits.
	return vk.SampleCountFlagBits(s)
}

// The remaining metadata enums and flag sets share the numeric values of
// their Vulkan counterparts.

func toShaderStages(s metadata.ShaderStageFlags) vk.ShaderStageFlags {
	return vk.ShaderStageFlags(s)
}

func toBufferUsage(u metadata.BufferUsageFlags) vk.BufferUsageFlags {
	return vk.BufferUsageFlags(u)
}

func toImageUsage(u metadata.ImageUsageFlags) vk.ImageUsageFlags {
	return vk.ImageUsageFlags(u)
}

func toImageAspect(a metadata.ImageAspectFlags) vk.ImageAspectFlags {
	return vk.ImageAspectFlags(a)
}

func toColorComponents(c metadata.ColorComponentFlags) vk.ColorComponentFlags {
	return vk.ColorComponentFlags(c)
}

// toMemoryProperties picks where an allocation lives. Anything the host
// writes is host visible and coherent so WriteBuffer can map it directly.
func toMemoryProperties(u metadata.MemoryUsage) vk.MemoryPropertyFlags {
	switch u {
	case metadata.MemoryUsageCPUToGPU:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) | vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit)
	case metadata.MemoryUsageGPUToCPU:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) | vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit) | vk.MemoryPropertyFlags(vk.MemoryPropertyHostCachedBit)
	default:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	}
}

func hostVisible(u metadata.MemoryUsage) bool {
	return u == metadata.MemoryUsageCPUToGPU || u == metadata.MemoryUsageGPUToCPU
}

func toSamplerCreateInfo(d *metadata.SamplerDescription) vk.SamplerCreateInfo {
	return vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.Filter(d.MagFilter),
		MinFilter:               vk.Filter(d.MinFilter),
		MipmapMode:              vk.SamplerMipmapMode(d.MipmapMode),
		AddressModeU:            vk.SamplerAddressMode(d.AddressModeU),
		AddressModeV:            vk.SamplerAddressMode(d.AddressModeV),
		AddressModeW:            vk.SamplerAddressMode(d.AddressModeW),
		MipLodBias:              d.MipLodBias,
		AnisotropyEnable:        toBool32(d.AnisotropyEnable),
		MaxAnisotropy:           d.MaxAnisotropy,
		CompareEnable:           toBool32(d.CompareEnable),
		CompareOp:               vk.CompareOp(d.CompareOp),
		MinLod:                  d.MinLod,
		MaxLod:                  d.MaxLod,
		BorderColor:             vk.BorderColor(d.BorderColor),
		UnnormalizedCoordinates: toBool32(d.UnnormalizedCoordinates),
	}
}

func toAttachmentDescription(a metadata.AttachmentDescription) (vk.AttachmentDescription, error) {
	format, err := toFormat(a.Format)
	if err != nil {
		return vk.AttachmentDescription{}, err
	}
	return vk.AttachmentDescription{
		Format:         format,
		Samples:        toSampleCount(a.Samples),
		LoadOp:         vk.AttachmentLoadOp(a.LoadOp),
		StoreOp:        vk.AttachmentStoreOp(a.StoreOp),
		StencilLoadOp:  vk.AttachmentLoadOp(a.StencilLoadOp),
		StencilStoreOp: vk.AttachmentStoreOp(a.StencilStoreOp),
		InitialLayout:  toImageLayout(a.InitialLayout),
		FinalLayout:    toImageLayout(a.FinalLayout),
	}, nil
}

func toAttachmentReferences(refs []metadata.AttachmentReference) []vk.AttachmentReference {
	if len(refs) == 0 {
		return nil
	}
	out := make([]vk.AttachmentReference, len(refs))
	for i, r := range refs {
		out[i] = vk.AttachmentReference{Attachment: r.Attachment, Layout: toImageLayout(r.Layout)}
	}
	return out
}

func toSubpassDescription(s metadata.SubpassDescription) vk.SubpassDescription {
	out := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(s.ColorAttachments)),
		PColorAttachments:    toAttachmentReferences(s.ColorAttachments),
		InputAttachmentCount: uint32(len(s.InputAttachments)),
		PInputAttachments:    toAttachmentReferences(s.InputAttachments),
	}
	// Resolve attachments, when present, pair up with the color attachments.
	if len(s.ResolveAttachments) == len(s.ColorAttachments) {
		out.PResolveAttachments = toAttachmentReferences(s.ResolveAttachments)
	}
	if s.DepthStencilAttachment != nil {
		ref := vk.AttachmentReference{
			Attachment: s.DepthStencilAttachment.Attachment,
			Layout:     toImageLayout(s.DepthStencilAttachment.Layout),
		}
		out.PDepthStencilAttachment = &ref
	}
	return out
}

func toVertexInput(s *metadata.VertexInputState) ([]vk.VertexInputBindingDescription, []vk.VertexInputAttributeDescription, error) {
	bindings := make([]vk.VertexInputBindingDescription, len(s.Bindings))
	for i, b := range s.Bindings {
		bindings[i] = vk.VertexInputBindingDescription{
			Binding:   b.Binding,
			Stride:    b.Stride,
			InputRate: vk.VertexInputRate(b.InputRate),
		}
	}
	attributes := make([]vk.VertexInputAttributeDescription, len(s.Attributes))
	for i, a := range s.Attributes {
		format, err := toFormat(a.Format)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "vertex attribute %d", a.Location)
		}
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  a.Binding,
			Format:   format,
			Offset:   a.Offset,
		}
	}
	return bindings, attributes, nil
}

func toColorBlendAttachment(a metadata.ColorBlendAttachmentState) vk.PipelineColorBlendAttachmentState {
	return vk.PipelineColorBlendAttachmentState{
		BlendEnable:         toBool32(a.BlendEnable),
		SrcColorBlendFactor: vk.BlendFactor(a.SrcColorBlendFactor),
		DstColorBlendFactor: vk.BlendFactor(a.DstColorBlendFactor),
		ColorBlendOp:        vk.BlendOp(a.ColorBlendOp),
		SrcAlphaBlendFactor: vk.BlendFactor(a.SrcAlphaBlendFactor),
		DstAlphaBlendFactor: vk.BlendFactor(a.DstAlphaBlendFactor),
		AlphaBlendOp:        vk.BlendOp(a.AlphaBlendOp),
		ColorWriteMask:      toColorComponents(a.ColorWriteMask),
	}
}

func toDynamicStates(states []metadata.DynamicState) []vk.DynamicState {
	out := make([]vk.DynamicState, len(states))
	for i, s := range states {
		out[i] = vk.DynamicState(s)
	}
	return out
}

// spirvWords repacks SPIR-V bytes into the words vkCreateShaderModule takes.
// SPIR-V is little endian; a trailing partial word is an error.
func spirvWords(code []byte) ([]uint32, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errors.Newf("spir-v size %d is not a positive multiple of 4", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[4*i:])
	}
	return words, nil
}
