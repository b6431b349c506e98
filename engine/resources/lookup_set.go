package resources

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

type ShaderModuleResource struct {
	Handle      renderer.ShaderModuleHandle
	Description *metadata.ShaderModuleDescription
}

type SamplerResource struct {
	Handle      renderer.SamplerHandle
	Description metadata.SamplerDescription
}

type DescriptorSetLayoutResource struct {
	Handle      renderer.DescriptorSetLayoutHandle
	Description *metadata.DescriptorSetLayoutDescription
	// Indexed like Description.Bindings.
	ImmutableSamplers [][]*ResourceArc[*SamplerResource]
}

type PipelineLayoutResource struct {
	Handle               renderer.PipelineLayoutHandle
	Description          *metadata.PipelineLayoutDescription
	DescriptorSetLayouts []*ResourceArc[*DescriptorSetLayoutResource]
}

type RenderPassResource struct {
	Handle      renderer.RenderPassHandle
	Description *metadata.RenderPassDescription
	Surface     metadata.SwapchainSurfaceInfo
}

type GraphicsPipelineResource struct {
	Handle         renderer.PipelineHandle
	PipelineLayout *ResourceArc[*PipelineLayoutResource]
	RenderPass     *ResourceArc[*RenderPassResource]
	ShaderModules  []*ResourceArc[*ShaderModuleResource]
}

type ImageResource struct {
	Handle      renderer.ImageHandle
	Description metadata.ImageDescription
}

type ImageViewResource struct {
	Handle      renderer.ImageViewHandle
	Image       *ResourceArc[*ImageResource]
	Description metadata.ImageViewDescription
}

type BufferResource struct {
	Handle      renderer.BufferHandle
	Description metadata.BufferDescription
}

// PipelineCreateData is everything a material pass resolved before it can ask
// for a pipeline on a given surface. It owns one reference to each arc.
type PipelineCreateData struct {
	Stages             []metadata.ShaderStageDescription
	ShaderModules      []*ResourceArc[*ShaderModuleResource]
	FixedFunctionState *metadata.FixedFunctionState
	PipelineLayout     *ResourceArc[*PipelineLayoutResource]
	RenderPass         *metadata.RenderPassDescription
}

func (d *PipelineCreateData) Description(surface metadata.SwapchainSurfaceInfo) *metadata.GraphicsPipelineDescription {
	return &metadata.GraphicsPipelineDescription{
		Stages:             d.Stages,
		FixedFunctionState: d.FixedFunctionState,
		PipelineLayout:     d.PipelineLayout.Get().Description,
		RenderPass:         d.RenderPass,
		Surface:            surface,
	}
}

func (d *PipelineCreateData) Release() {
	ReleaseAll(d.ShaderModules)
	if d.PipelineLayout != nil {
		d.PipelineLayout.Release()
	}
}

// ResourceLookupSet owns one cache per native object kind and the backend
// they create through. It is driven from a single goroutine; only the
// ResourceArc handles it returns may travel to other goroutines.
type ResourceLookupSet struct {
	backend renderer.Backend

	shaderModules        *ResourceCache[*ShaderModuleResource]
	samplers             *ResourceCache[*SamplerResource]
	descriptorSetLayouts *ResourceCache[*DescriptorSetLayoutResource]
	pipelineLayouts      *ResourceCache[*PipelineLayoutResource]
	renderPasses         *ResourceCache[*RenderPassResource]
	graphicsPipelines    *ResourceCache[*GraphicsPipelineResource]
	images               *ResourceCache[*ImageResource]
	imageViews           *ResourceCache[*ImageViewResource]
	buffers              *ResourceCache[*BufferResource]
}

func NewResourceLookupSet(backend renderer.Backend, maxFramesInFlight uint32) *ResourceLookupSet {
	return &ResourceLookupSet{
		backend: backend,
		shaderModules: NewResourceCache(metadata.ResourceKindShaderModule, maxFramesInFlight, func(r *ShaderModuleResource) error {
			return backend.DestroyShaderModule(r.Handle)
		}),
		samplers: NewResourceCache(metadata.ResourceKindSampler, maxFramesInFlight, func(r *SamplerResource) error {
			return backend.DestroySampler(r.Handle)
		}),
		descriptorSetLayouts: NewResourceCache(metadata.ResourceKindDescriptorSetLayout, maxFramesInFlight, func(r *DescriptorSetLayoutResource) error {
			err := backend.DestroyDescriptorSetLayout(r.Handle)
			for _, samplers := range r.ImmutableSamplers {
				ReleaseAll(samplers)
			}
			return err
		}),
		pipelineLayouts: NewResourceCache(metadata.ResourceKindPipelineLayout, maxFramesInFlight, func(r *PipelineLayoutResource) error {
			err := backend.DestroyPipelineLayout(r.Handle)
			ReleaseAll(r.DescriptorSetLayouts)
			return err
		}),
		renderPasses: NewResourceCache(metadata.ResourceKindRenderPass, maxFramesInFlight, func(r *RenderPassResource) error {
			return backend.DestroyRenderPass(r.Handle)
		}),
		graphicsPipelines: NewResourceCache(metadata.ResourceKindGraphicsPipeline, maxFramesInFlight, func(r *GraphicsPipelineResource) error {
			err := backend.DestroyPipeline(r.Handle)
			r.PipelineLayout.Release()
			r.RenderPass.Release()
			ReleaseAll(r.ShaderModules)
			return err
		}),
		images: NewResourceCache(metadata.ResourceKindImage, maxFramesInFlight, func(r *ImageResource) error {
			return backend.DestroyImage(r.Handle)
		}),
		imageViews: NewResourceCache(metadata.ResourceKindImageView, maxFramesInFlight, func(r *ImageViewResource) error {
			err := backend.DestroyImageView(r.Handle)
			r.Image.Release()
			return err
		}),
		buffers: NewResourceCache(metadata.ResourceKindBuffer, maxFramesInFlight, func(r *BufferResource) error {
			return backend.DestroyBuffer(r.Handle)
		}),
	}
}

func (s *ResourceLookupSet) Backend() renderer.Backend {
	return s.backend
}

func (s *ResourceLookupSet) GetOrCreateShaderModule(desc *metadata.ShaderModuleDescription) (*ResourceArc[*ShaderModuleResource], error) {
	return s.shaderModules.GetOrCreate(desc, func() (*ShaderModuleResource, error) {
		h, err := s.backend.CreateShaderModule(desc)
		if err != nil {
			return nil, err
		}
		return &ShaderModuleResource{Handle: h, Description: desc}, nil
	})
}

func (s *ResourceLookupSet) GetOrCreateSampler(desc metadata.SamplerDescription) (*ResourceArc[*SamplerResource], error) {
	return s.samplers.GetOrCreate(desc, func() (*SamplerResource, error) {
		h, err := s.backend.CreateSampler(&desc)
		if err != nil {
			return nil, err
		}
		return &SamplerResource{Handle: h, Description: desc}, nil
	})
}

// GetOrCreateDescriptorSetLayout also resolves the immutable samplers the
// layout bakes in. The layout keeps them alive until it is destroyed.
func (s *ResourceLookupSet) GetOrCreateDescriptorSetLayout(desc *metadata.DescriptorSetLayoutDescription) (*ResourceArc[*DescriptorSetLayoutResource], error) {
	return s.descriptorSetLayouts.GetOrCreate(desc, func() (*DescriptorSetLayoutResource, error) {
		samplerArcs := make([][]*ResourceArc[*SamplerResource], len(desc.Bindings))
		samplerHandles := make([][]renderer.SamplerHandle, len(desc.Bindings))
		release := func() {
			for _, arcs := range samplerArcs {
				ReleaseAll(arcs)
			}
		}
		for i, binding := range desc.Bindings {
			for _, samplerDesc := range binding.ImmutableSamplers {
				arc, err := s.GetOrCreateSampler(samplerDesc)
				if err != nil {
					release()
					return nil, err
				}
				samplerArcs[i] = append(samplerArcs[i], arc)
				samplerHandles[i] = append(samplerHandles[i], arc.Get().Handle)
			}
		}

		h, err := s.backend.CreateDescriptorSetLayout(desc, samplerHandles)
		if err != nil {
			release()
			return nil, err
		}
		return &DescriptorSetLayoutResource{
			Handle:            h,
			Description:       desc,
			ImmutableSamplers: samplerArcs,
		}, nil
	})
}

func (s *ResourceLookupSet) GetOrCreatePipelineLayout(desc *metadata.PipelineLayoutDescription) (*ResourceArc[*PipelineLayoutResource], error) {
	return s.pipelineLayouts.GetOrCreate(desc, func() (*PipelineLayoutResource, error) {
		setLayouts := make([]*ResourceArc[*DescriptorSetLayoutResource], 0, len(desc.DescriptorSetLayouts))
		handles := make([]renderer.DescriptorSetLayoutHandle, 0, len(desc.DescriptorSetLayouts))
		for i := range desc.DescriptorSetLayouts {
			arc, err := s.GetOrCreateDescriptorSetLayout(&desc.DescriptorSetLayouts[i])
			if err != nil {
				ReleaseAll(setLayouts)
				return nil, err
			}
			setLayouts = append(setLayouts, arc)
			handles = append(handles, arc.Get().Handle)
		}

		h, err := s.backend.CreatePipelineLayout(desc, handles)
		if err != nil {
			ReleaseAll(setLayouts)
			return nil, err
		}
		return &PipelineLayoutResource{
			Handle:               h,
			Description:          desc,
			DescriptorSetLayouts: setLayouts,
		}, nil
	})
}

func (s *ResourceLookupSet) GetOrCreateRenderPass(desc *metadata.RenderPassDescription, surface metadata.SwapchainSurfaceInfo) (*ResourceArc[*RenderPassResource], error) {
	key := metadata.RenderPassKey{RenderPass: desc, Surface: surface}
	return s.renderPasses.GetOrCreate(key, func() (*RenderPassResource, error) {
		h, err := s.backend.CreateRenderPass(desc, &surface)
		if err != nil {
			return nil, err
		}
		return &RenderPassResource{Handle: h, Description: desc, Surface: surface}, nil
	})
}

// GetOrCreateGraphicsPipeline returns the render pass and pipeline for one
// material pass on one surface. The caller owns one reference to each.
func (s *ResourceLookupSet) GetOrCreateGraphicsPipeline(data *PipelineCreateData, surface metadata.SwapchainSurfaceInfo) (*ResourceArc[*RenderPassResource], *ResourceArc[*GraphicsPipelineResource], error) {
	if len(data.Stages) != len(data.ShaderModules) {
		return nil, nil, errors.AssertionFailedf("%d shader stages but %d shader modules", len(data.Stages), len(data.ShaderModules))
	}

	renderPass, err := s.GetOrCreateRenderPass(data.RenderPass, surface)
	if err != nil {
		return nil, nil, err
	}

	desc := data.Description(surface)
	pipeline, err := s.graphicsPipelines.GetOrCreate(desc, func() (*GraphicsPipelineResource, error) {
		modules := make([]renderer.ShaderModuleHandle, len(data.ShaderModules))
		for i, m := range data.ShaderModules {
			modules[i] = m.Get().Handle
		}
		h, err := s.backend.CreateGraphicsPipeline(desc, data.PipelineLayout.Get().Handle, renderPass.Get().Handle, modules)
		if err != nil {
			return nil, err
		}
		return &GraphicsPipelineResource{
			Handle:         h,
			PipelineLayout: data.PipelineLayout.Clone(),
			RenderPass:     renderPass.Clone(),
			ShaderModules:  CloneAll(data.ShaderModules),
		}, nil
	})
	if err != nil {
		renderPass.Release()
		return nil, nil, err
	}
	return renderPass, pipeline, nil
}

// CreateImage uploads a new image. Images are never deduplicated.
func (s *ResourceLookupSet) CreateImage(desc metadata.ImageDescription, data []byte) (*ResourceArc[*ImageResource], error) {
	h, err := s.backend.CreateImage(&desc, data)
	if err != nil {
		return nil, core.NewResourceCreationFailed(metadata.ResourceKindImage.String(), &desc, err)
	}
	return s.images.Insert(&ImageResource{Handle: h, Description: desc}), nil
}

// InsertImage adopts a native image created elsewhere, a swapchain image for
// instance. The cache destroys it like any other image once released.
func (s *ResourceLookupSet) InsertImage(desc metadata.ImageDescription, h renderer.ImageHandle) *ResourceArc[*ImageResource] {
	return s.images.Insert(&ImageResource{Handle: h, Description: desc})
}

type imageViewKey struct {
	image metadata.StructuralHash
	desc  *metadata.ImageViewDescription
}

func (k imageViewKey) HashInto(h *metadata.Hasher) {
	h.Uint64(uint64(k.image))
	k.desc.HashInto(h)
}

// GetOrCreateImageView shares views of the same image with the same description.
func (s *ResourceLookupSet) GetOrCreateImageView(image *ResourceArc[*ImageResource], desc metadata.ImageViewDescription) (*ResourceArc[*ImageViewResource], error) {
	key := imageViewKey{image: image.Hash(), desc: &desc}
	return s.imageViews.GetOrCreate(key, func() (*ImageViewResource, error) {
		h, err := s.backend.CreateImageView(image.Get().Handle, &desc)
		if err != nil {
			return nil, err
		}
		return &ImageViewResource{Handle: h, Image: image.Clone(), Description: desc}, nil
	})
}

func (s *ResourceLookupSet) InsertBuffer(desc metadata.BufferDescription, h renderer.BufferHandle) *ResourceArc[*BufferResource] {
	return s.buffers.Insert(&BufferResource{Handle: h, Description: desc})
}

func (s *ResourceLookupSet) CreateBuffer(desc metadata.BufferDescription, data []byte) (*ResourceArc[*BufferResource], error) {
	h, err := s.backend.CreateBuffer(&desc)
	if err != nil {
		return nil, core.NewResourceCreationFailed(metadata.ResourceKindBuffer.String(), &desc, err)
	}
	if len(data) > 0 {
		if err := s.backend.WriteBuffer(h, 0, data); err != nil {
			if derr := s.backend.DestroyBuffer(h); derr != nil {
				core.LogError("failed to destroy buffer after failed upload: %s", derr.Error())
			}
			return nil, core.NewResourceCreationFailed(metadata.ResourceKindBuffer.String(), &desc, err)
		}
	}
	return s.buffers.Insert(&BufferResource{Handle: h, Description: desc}), nil
}

// Update advances every cache by one completed frame. Dependents go first so
// the references they release are retired in the same call.
func (s *ResourceLookupSet) Update() {
	s.imageViews.Update()
	s.images.Update()
	s.graphicsPipelines.Update()
	s.renderPasses.Update()
	s.pipelineLayouts.Update()
	s.descriptorSetLayouts.Update()
	s.samplers.Update()
	s.shaderModules.Update()
	s.buffers.Update()
}

// Metrics reports every cache, dependencies first.
func (s *ResourceLookupSet) Metrics() []CacheMetrics {
	return []CacheMetrics{
		s.shaderModules.Metrics(),
		s.samplers.Metrics(),
		s.descriptorSetLayouts.Metrics(),
		s.pipelineLayouts.Metrics(),
		s.renderPasses.Metrics(),
		s.graphicsPipelines.Metrics(),
		s.images.Metrics(),
		s.imageViews.Metrics(),
		s.buffers.Metrics(),
	}
}

// Destroy tears everything down, dependents before the objects they hold.
// Returns the number of leaked resources. The device must be idle.
func (s *ResourceLookupSet) Destroy() int {
	leaked := 0
	leaked += s.imageViews.Destroy()
	leaked += s.images.Destroy()
	leaked += s.graphicsPipelines.Destroy()
	leaked += s.renderPasses.Destroy()
	leaked += s.pipelineLayouts.Destroy()
	leaked += s.descriptorSetLayouts.Destroy()
	leaked += s.samplers.Destroy()
	leaked += s.shaderModules.Destroy()
	leaked += s.buffers.Destroy()
	return leaked
}
