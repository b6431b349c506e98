package metadata

/** @brief Pixel/texel formats understood by every backend. */
type Format uint32

const (
	FormatUndefined Format = iota
	FormatR8Unorm
	FormatR8G8Unorm
	FormatR8G8B8A8Unorm
	FormatR8G8B8A8Srgb
	FormatB8G8R8A8Unorm
	FormatB8G8R8A8Srgb
	FormatR16G16B16A16Sfloat
	FormatR32Sfloat
	FormatR32G32Sfloat
	FormatR32G32B32Sfloat
	FormatR32G32B32A32Sfloat
	FormatD32Sfloat
	FormatD24UnormS8Uint
	FormatD32SfloatS8Uint
	/** @brief Resolved to the swapchain surface color format when the render pass is created. */
	FormatMatchSurface Format = 0xFFFF0001
	/** @brief Resolved to the swapchain depth format when the render pass is created. */
	FormatMatchDepth Format = 0xFFFF0002
)

func (f Format) IsDepth() bool {
	switch f {
	case FormatD32Sfloat, FormatD24UnormS8Uint, FormatD32SfloatS8Uint, FormatMatchDepth:
		return true
	}
	return false
}

/** @brief The type of resource a descriptor binding accepts. */
type DescriptorType uint32

const (
	DescriptorTypeSampler DescriptorType = iota
	DescriptorTypeCombinedImageSampler
	DescriptorTypeSampledImage
	DescriptorTypeStorageImage
	DescriptorTypeUniformTexelBuffer
	DescriptorTypeStorageTexelBuffer
	DescriptorTypeUniformBuffer
	DescriptorTypeStorageBuffer
	DescriptorTypeUniformBufferDynamic
	DescriptorTypeStorageBufferDynamic
	DescriptorTypeInputAttachment
)

func (t DescriptorType) String() string {
	switch t {
	case DescriptorTypeSampler:
		return "sampler"
	case DescriptorTypeCombinedImageSampler:
		return "combined image sampler"
	case DescriptorTypeSampledImage:
		return "sampled image"
	case DescriptorTypeStorageImage:
		return "storage image"
	case DescriptorTypeUniformTexelBuffer:
		return "uniform texel buffer"
	case DescriptorTypeStorageTexelBuffer:
		return "storage texel buffer"
	case DescriptorTypeUniformBuffer:
		return "uniform buffer"
	case DescriptorTypeStorageBuffer:
		return "storage buffer"
	case DescriptorTypeUniformBufferDynamic:
		return "uniform buffer dynamic"
	case DescriptorTypeStorageBufferDynamic:
		return "storage buffer dynamic"
	case DescriptorTypeInputAttachment:
		return "input attachment"
	default:
		return "unknown"
	}
}

type ShaderStageFlags uint32

const (
	ShaderStageVertex      ShaderStageFlags = 1 << 0
	ShaderStageFragment    ShaderStageFlags = 1 << 4
	ShaderStageCompute     ShaderStageFlags = 1 << 5
	ShaderStageAllGraphics ShaderStageFlags = 0x1F
)

type Filter uint32

const (
	FilterNearest Filter = iota
	FilterLinear
)

type MipmapMode uint32

const (
	MipmapModeNearest MipmapMode = iota
	MipmapModeLinear
)

type SamplerAddressMode uint32

const (
	SamplerAddressModeRepeat SamplerAddressMode = iota
	SamplerAddressModeMirroredRepeat
	SamplerAddressModeClampToEdge
	SamplerAddressModeClampToBorder
)

type CompareOp uint32

const (
	CompareOpNever CompareOp = iota
	CompareOpLess
	CompareOpEqual
	CompareOpLessOrEqual
	CompareOpGreater
	CompareOpNotEqual
	CompareOpGreaterOrEqual
	CompareOpAlways
)

type BorderColor uint32

const (
	BorderColorFloatTransparentBlack BorderColor = iota
	BorderColorIntTransparentBlack
	BorderColorFloatOpaqueBlack
	BorderColorIntOpaqueBlack
	BorderColorFloatOpaqueWhite
	BorderColorIntOpaqueWhite
)

type ImageLayout uint32

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutGeneral
	ImageLayoutColorAttachmentOptimal
	ImageLayoutDepthStencilAttachmentOptimal
	ImageLayoutDepthStencilReadOnlyOptimal
	ImageLayoutShaderReadOnlyOptimal
	ImageLayoutTransferSrcOptimal
	ImageLayoutTransferDstOptimal
	ImageLayoutPresentSrc
)

type SampleCount uint32

const (
	SampleCount1  SampleCount = 1
	SampleCount2  SampleCount = 2
	SampleCount4  SampleCount = 4
	SampleCount8  SampleCount = 8
	SampleCount16 SampleCount = 16
)

type AttachmentLoadOp uint32

const (
	AttachmentLoadOpLoad AttachmentLoadOp = iota
	AttachmentLoadOpClear
	AttachmentLoadOpDontCare
)

type AttachmentStoreOp uint32

const (
	AttachmentStoreOpStore AttachmentStoreOp = iota
	AttachmentStoreOpDontCare
)

type PrimitiveTopology uint32

const (
	PrimitiveTopologyPointList PrimitiveTopology = iota
	PrimitiveTopologyLineList
	PrimitiveTopologyLineStrip
	PrimitiveTopologyTriangleList
	PrimitiveTopologyTriangleStrip
	PrimitiveTopologyTriangleFan
)

type PolygonMode uint32

const (
	PolygonModeFill PolygonMode = iota
	PolygonModeLine
	PolygonModePoint
)

type CullMode uint32

const (
	CullModeNone CullMode = iota
	CullModeFront
	CullModeBack
	CullModeFrontAndBack
)

type FrontFace uint32

const (
	FrontFaceCounterClockwise FrontFace = iota
	FrontFaceClockwise
)

type BlendFactor uint32

const (
	BlendFactorZero BlendFactor = iota
	BlendFactorOne
	BlendFactorSrcColor
	BlendFactorOneMinusSrcColor
	BlendFactorDstColor
	BlendFactorOneMinusDstColor
	BlendFactorSrcAlpha
	BlendFactorOneMinusSrcAlpha
	BlendFactorDstAlpha
	BlendFactorOneMinusDstAlpha
)

type BlendOp uint32

const (
	BlendOpAdd BlendOp = iota
	BlendOpSubtract
	BlendOpReverseSubtract
	BlendOpMin
	BlendOpMax
)

type ColorComponentFlags uint32

const (
	ColorComponentR   ColorComponentFlags = 1 << 0
	ColorComponentG   ColorComponentFlags = 1 << 1
	ColorComponentB   ColorComponentFlags = 1 << 2
	ColorComponentA   ColorComponentFlags = 1 << 3
	ColorComponentAll ColorComponentFlags = 0xF
)

type DynamicState uint32

const (
	DynamicStateViewport DynamicState = iota
	DynamicStateScissor
	DynamicStateLineWidth
)

type VertexInputRate uint32

const (
	VertexInputRateVertex VertexInputRate = iota
	VertexInputRateInstance
)

type ImageViewType uint32

const (
	ImageViewType1D ImageViewType = iota
	ImageViewType2D
	ImageViewType3D
	ImageViewTypeCube
	ImageViewType2DArray
)

type ImageAspectFlags uint32

const (
	ImageAspectColor   ImageAspectFlags = 1 << 0
	ImageAspectDepth   ImageAspectFlags = 1 << 1
	ImageAspectStencil ImageAspectFlags = 1 << 2
)

type ImageUsageFlags uint32

const (
	ImageUsageTransferSrc            ImageUsageFlags = 1 << 0
	ImageUsageTransferDst            ImageUsageFlags = 1 << 1
	ImageUsageSampled                ImageUsageFlags = 1 << 2
	ImageUsageStorage                ImageUsageFlags = 1 << 3
	ImageUsageColorAttachment        ImageUsageFlags = 1 << 4
	ImageUsageDepthStencilAttachment ImageUsageFlags = 1 << 5
)

type BufferUsageFlags uint32

const (
	BufferUsageTransferSrc BufferUsageFlags = 1 << 0
	BufferUsageTransferDst BufferUsageFlags = 1 << 1
	BufferUsageUniform     BufferUsageFlags = 1 << 4
	BufferUsageStorage     BufferUsageFlags = 1 << 5
	BufferUsageIndex       BufferUsageFlags = 1 << 6
	BufferUsageVertex      BufferUsageFlags = 1 << 7
)

/** @brief Where the memory backing an image or buffer should live. */
type MemoryUsage uint32

const (
	MemoryUsageGPUOnly MemoryUsage = iota
	MemoryUsageCPUToGPU
	MemoryUsageGPUToCPU
)
