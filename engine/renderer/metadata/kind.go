package metadata

/** @brief The kinds of native objects the resource caches manage. */
type ResourceKind int

const (
	ResourceKindShaderModule ResourceKind = iota
	ResourceKindSampler
	ResourceKindDescriptorSetLayout
	ResourceKindPipelineLayout
	ResourceKindRenderPass
	ResourceKindGraphicsPipeline
	ResourceKindImage
	ResourceKindImageView
	ResourceKindBuffer
	ResourceKindDescriptorPool
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceKindShaderModule:
		return "shader module"
	case ResourceKindSampler:
		return "sampler"
	case ResourceKindDescriptorSetLayout:
		return "descriptor set layout"
	case ResourceKindPipelineLayout:
		return "pipeline layout"
	case ResourceKindRenderPass:
		return "render pass"
	case ResourceKindGraphicsPipeline:
		return "graphics pipeline"
	case ResourceKindImage:
		return "image"
	case ResourceKindImageView:
		return "image view"
	case ResourceKindBuffer:
		return "buffer"
	case ResourceKindDescriptorPool:
		return "descriptor pool"
	default:
		return "unknown"
	}
}
