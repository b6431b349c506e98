package loaders

import (
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

var ErrUnknownValue = errors.New("unknown value")

// enumTable maps the lower case names used in asset files to metadata enums.
type enumTable[T comparable] map[string]T

// parse returns def for an empty name.
func (t enumTable[T]) parse(field, name string, def T) (T, error) {
	if name == "" {
		return def, nil
	}
	v, ok := t[strings.ToLower(name)]
	if !ok {
		names := make([]string, 0, len(t))
		for k := range t {
			names = append(names, k)
		}
		slices.Sort(names)
		return def, errors.Wrapf(ErrUnknownValue, "%s %q, expected one of %s", field, name, strings.Join(names, ", "))
	}
	return v, nil
}

// parseFlags ORs together every named flag.
func parseFlags[T ~uint32](t enumTable[T], field string, names []string) (T, error) {
	var flags T
	for _, n := range names {
		v, err := t.parse(field, n, 0)
		if err != nil {
			return 0, err
		}
		flags |= v
	}
	return flags, nil
}

var formats = enumTable[metadata.Format]{
	"undefined":           metadata.FormatUndefined,
	"r8_unorm":            metadata.FormatR8Unorm,
	"r8g8_unorm":          metadata.FormatR8G8Unorm,
	"r8g8b8a8_unorm":      metadata.FormatR8G8B8A8Unorm,
	"r8g8b8a8_srgb":       metadata.FormatR8G8B8A8Srgb,
	"b8g8r8a8_unorm":      metadata.FormatB8G8R8A8Unorm,
	"b8g8r8a8_srgb":       metadata.FormatB8G8R8A8Srgb,
	"r16g16b16a16_sfloat": metadata.FormatR16G16B16A16Sfloat,
	"r32_sfloat":          metadata.FormatR32Sfloat,
	"r32g32_sfloat":       metadata.FormatR32G32Sfloat,
	"r32g32b32_sfloat":    metadata.FormatR32G32B32Sfloat,
	"r32g32b32a32_sfloat": metadata.FormatR32G32B32A32Sfloat,
	"d32_sfloat":          metadata.FormatD32Sfloat,
	"d24_unorm_s8_uint":   metadata.FormatD24UnormS8Uint,
	"d32_sfloat_s8_uint":  metadata.FormatD32SfloatS8Uint,
	"match_surface":       metadata.FormatMatchSurface,
	"match_depth":         metadata.FormatMatchDepth,
}

var descriptorTypes = enumTable[metadata.DescriptorType]{
	"sampler":                metadata.DescriptorTypeSampler,
	"combined_image_sampler": metadata.DescriptorTypeCombinedImageSampler,
	"sampled_image":          metadata.DescriptorTypeSampledImage,
	"storage_image":          metadata.DescriptorTypeStorageImage,
	"uniform_texel_buffer":   metadata.DescriptorTypeUniformTexelBuffer,
	"storage_texel_buffer":   metadata.DescriptorTypeStorageTexelBuffer,
	"uniform_buffer":         metadata.DescriptorTypeUniformBuffer,
	"storage_buffer":         metadata.DescriptorTypeStorageBuffer,
	"uniform_buffer_dynamic": metadata.DescriptorTypeUniformBufferDynamic,
	"storage_buffer_dynamic": metadata.DescriptorTypeStorageBufferDynamic,
	"input_attachment":       metadata.DescriptorTypeInputAttachment,
}

var shaderStages = enumTable[metadata.ShaderStageFlags]{
	"vertex":       metadata.ShaderStageVertex,
	"fragment":     metadata.ShaderStageFragment,
	"compute":      metadata.ShaderStageCompute,
	"all_graphics": metadata.ShaderStageAllGraphics,
}

var filters = enumTable[metadata.Filter]{
	"nearest": metadata.FilterNearest,
	"linear":  metadata.FilterLinear,
}

var mipmapModes = enumTable[metadata.MipmapMode]{
	"nearest": metadata.MipmapModeNearest,
	"linear":  metadata.MipmapModeLinear,
}

var addressModes = enumTable[metadata.SamplerAddressMode]{
	"repeat":          metadata.SamplerAddressModeRepeat,
	"mirrored_repeat": metadata.SamplerAddressModeMirroredRepeat,
	"clamp_to_edge":   metadata.SamplerAddressModeClampToEdge,
	"clamp_to_border": metadata.SamplerAddressModeClampToBorder,
}

var compareOps = enumTable[metadata.CompareOp]{
	"never":            metadata.CompareOpNever,
	"less":             metadata.CompareOpLess,
	"equal":            metadata.CompareOpEqual,
	"less_or_equal":    metadata.CompareOpLessOrEqual,
	"greater":          metadata.CompareOpGreater,
	"not_equal":        metadata.CompareOpNotEqual,
	"greater_or_equal": metadata.CompareOpGreaterOrEqual,
	"always":           metadata.CompareOpAlways,
}

var borderColors = enumTable[metadata.BorderColor]{
	"float_transparent_black": metadata.BorderColorFloatTransparentBlack,
	"int_transparent_black":   metadata.BorderColorIntTransparentBlack,
	"float_opaque_black":      metadata.BorderColorFloatOpaqueBlack,
	"int_opaque_black":        metadata.BorderColorIntOpaqueBlack,
	"float_opaque_white":      metadata.BorderColorFloatOpaqueWhite,
	"int_opaque_white":        metadata.BorderColorIntOpaqueWhite,
}

var imageLayouts = enumTable[metadata.ImageLayout]{
	"undefined":                        metadata.ImageLayoutUndefined,
	"general":                          metadata.ImageLayoutGeneral,
	"color_attachment_optimal":         metadata.ImageLayoutColorAttachmentOptimal,
	"depth_stencil_attachment_optimal": metadata.ImageLayoutDepthStencilAttachmentOptimal,
	"depth_stencil_read_only_optimal":  metadata.ImageLayoutDepthStencilReadOnlyOptimal,
	"shader_read_only_optimal":         metadata.ImageLayoutShaderReadOnlyOptimal,
	"transfer_src_optimal":             metadata.ImageLayoutTransferSrcOptimal,
	"transfer_dst_optimal":             metadata.ImageLayoutTransferDstOptimal,
	"present_src":                      metadata.ImageLayoutPresentSrc,
}

var loadOps = enumTable[metadata.AttachmentLoadOp]{
	"load":      metadata.AttachmentLoadOpLoad,
	"clear":     metadata.AttachmentLoadOpClear,
	"dont_care": metadata.AttachmentLoadOpDontCare,
}

var storeOps = enumTable[metadata.AttachmentStoreOp]{
	"store":     metadata.AttachmentStoreOpStore,
	"dont_care": metadata.AttachmentStoreOpDontCare,
}

var topologies = enumTable[metadata.PrimitiveTopology]{
	"point_list":     metadata.PrimitiveTopologyPointList,
	"line_list":      metadata.PrimitiveTopologyLineList,
	"line_strip":     metadata.PrimitiveTopologyLineStrip,
	"triangle_list":  metadata.PrimitiveTopologyTriangleList,
	"triangle_strip": metadata.PrimitiveTopologyTriangleStrip,
	"triangle_fan":   metadata.PrimitiveTopologyTriangleFan,
}

var polygonModes = enumTable[metadata.PolygonMode]{
	"fill":  metadata.PolygonModeFill,
	"line":  metadata.PolygonModeLine,
	"point": metadata.PolygonModePoint,
}

var cullModes = enumTable[metadata.CullMode]{
	"none":           metadata.CullModeNone,
	"front":          metadata.CullModeFront,
	"back":           metadata.CullModeBack,
	"front_and_back": metadata.CullModeFrontAndBack,
}

var frontFaces = enumTable[metadata.FrontFace]{
	"counter_clockwise": metadata.FrontFaceCounterClockwise,
	"clockwise":         metadata.FrontFaceClockwise,
}

var blendFactors = enumTable[metadata.BlendFactor]{
	"zero":                metadata.BlendFactorZero,
	"one":                 metadata.BlendFactorOne,
	"src_color":           metadata.BlendFactorSrcColor,
	"one_minus_src_color": metadata.BlendFactorOneMinusSrcColor,
	"dst_color":           metadata.BlendFactorDstColor,
	"one_minus_dst_color": metadata.BlendFactorOneMinusDstColor,
	"src_alpha":           metadata.BlendFactorSrcAlpha,
	"one_minus_src_alpha": metadata.BlendFactorOneMinusSrcAlpha,
	"dst_alpha":           metadata.BlendFactorDstAlpha,
	"one_minus_dst_alpha": metadata.BlendFactorOneMinusDstAlpha,
}

var blendOps = enumTable[metadata.BlendOp]{
	"add":              metadata.BlendOpAdd,
	"subtract":         metadata.BlendOpSubtract,
	"reverse_subtract": metadata.BlendOpReverseSubtract,
	"min":              metadata.BlendOpMin,
	"max":              metadata.BlendOpMax,
}

var colorComponents = enumTable[metadata.ColorComponentFlags]{
	"r":    metadata.ColorComponentR,
	"g":    metadata.ColorComponentG,
	"b":    metadata.ColorComponentB,
	"a":    metadata.ColorComponentA,
	"rgba": metadata.ColorComponentAll,
}

var dynamicStates = enumTable[metadata.DynamicState]{
	"viewport":   metadata.DynamicStateViewport,
	"scissor":    metadata.DynamicStateScissor,
	"line_width": metadata.DynamicStateLineWidth,
}

var inputRates = enumTable[metadata.VertexInputRate]{
	"vertex":   metadata.VertexInputRateVertex,
	"instance": metadata.VertexInputRateInstance,
}

var bufferUsages = enumTable[metadata.BufferUsageFlags]{
	"transfer_src": metadata.BufferUsageTransferSrc,
	"transfer_dst": metadata.BufferUsageTransferDst,
	"uniform":      metadata.BufferUsageUniform,
	"storage":      metadata.BufferUsageStorage,
	"index":        metadata.BufferUsageIndex,
	"vertex":       metadata.BufferUsageVertex,
}
