package renderer

import "github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"

// Native handles are opaque ids issued by the backend. Zero is never a valid handle.
type (
	ShaderModuleHandle        uint64
	SamplerHandle             uint64
	DescriptorSetLayoutHandle uint64
	PipelineLayoutHandle      uint64
	RenderPassHandle          uint64
	PipelineHandle            uint64
	ImageHandle               uint64
	ImageViewHandle           uint64
	BufferHandle              uint64
	DescriptorPoolHandle      uint64
	DescriptorSetHandle       uint64
)

/**
 * @brief Size of one descriptor type within a descriptor pool.
 */
type DescriptorPoolSize struct {
	Type  metadata.DescriptorType
	Count uint32
}

type DescriptorImageInfo struct {
	Sampler     SamplerHandle
	ImageView   ImageViewHandle
	ImageLayout metadata.ImageLayout
}

type DescriptorBufferInfo struct {
	Buffer BufferHandle
	Offset uint64
	Range  uint64
}

/**
 * @brief One native descriptor write. Exactly one of Images or Buffers is
 * populated, depending on DescriptorType.
 */
type DescriptorWrite struct {
	Set            DescriptorSetHandle
	Binding        uint32
	ArrayElement   uint32
	DescriptorType metadata.DescriptorType
	Images         []DescriptorImageInfo
	Buffers        []DescriptorBufferInfo
}

/**
 * @brief The factory functions the resource caches call on a miss, plus the
 * matching destroy calls issued by the deferred destruction sinks. All calls
 * happen on the consumer goroutine.
 */
type Backend interface {
	Name() string

	CreateShaderModule(desc *metadata.ShaderModuleDescription) (ShaderModuleHandle, error)
	DestroyShaderModule(h ShaderModuleHandle) error

	CreateSampler(desc *metadata.SamplerDescription) (SamplerHandle, error)
	DestroySampler(h SamplerHandle) error

	// immutableSamplers is indexed like desc.Bindings; a nil entry means none.
	CreateDescriptorSetLayout(desc *metadata.DescriptorSetLayoutDescription, immutableSamplers [][]SamplerHandle) (DescriptorSetLayoutHandle, error)
	DestroyDescriptorSetLayout(h DescriptorSetLayoutHandle) error

	CreatePipelineLayout(desc *metadata.PipelineLayoutDescription, setLayouts []DescriptorSetLayoutHandle) (PipelineLayoutHandle, error)
	DestroyPipelineLayout(h PipelineLayoutHandle) error

	CreateRenderPass(desc *metadata.RenderPassDescription, surface *metadata.SwapchainSurfaceInfo) (RenderPassHandle, error)
	DestroyRenderPass(h RenderPassHandle) error

	// modules is indexed like desc.Stages.
	CreateGraphicsPipeline(desc *metadata.GraphicsPipelineDescription, layout PipelineLayoutHandle, renderPass RenderPassHandle, modules []ShaderModuleHandle) (PipelineHandle, error)
	DestroyPipeline(h PipelineHandle) error

	CreateImage(desc *metadata.ImageDescription, data []byte) (ImageHandle, error)
	DestroyImage(h ImageHandle) error

	CreateImageView(image ImageHandle, desc *metadata.ImageViewDescription) (ImageViewHandle, error)
	DestroyImageView(h ImageViewHandle) error

	CreateBuffer(desc *metadata.BufferDescription) (BufferHandle, error)
	WriteBuffer(h BufferHandle, offset uint64, data []byte) error
	DestroyBuffer(h BufferHandle) error

	CreateDescriptorPool(maxSets uint32, sizes []DescriptorPoolSize) (DescriptorPoolHandle, error)
	ResetDescriptorPool(h DescriptorPoolHandle) error
	DestroyDescriptorPool(h DescriptorPoolHandle) error
	AllocateDescriptorSets(pool DescriptorPoolHandle, layout DescriptorSetLayoutHandle, count uint32) ([]DescriptorSetHandle, error)
	UpdateDescriptorSets(writes []DescriptorWrite) error

	// WaitIdle blocks until the device finished all submitted work.
	WaitIdle() error
	Shutdown() error
}
