package vulkan

import (
	"fmt"
	"strings"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

var _ renderer.Backend = (*Backend)(nil)

type vulkanImage struct {
	handle vk.Image
	memory vk.DeviceMemory
}

type vulkanBuffer struct {
	handle      vk.Buffer
	memory      vk.DeviceMemory
	size        uint64
	memoryUsage metadata.MemoryUsage
}

type vulkanDescriptorSet struct {
	handle vk.DescriptorSet
	pool   uint64
}

// Backend creates native Vulkan objects on a device owned by the application.
// It never creates or destroys the device itself.
type Backend struct {
	device      *Device
	locks       *VulkanLockPool
	commandPool vk.CommandPool

	next atomic.Uint64

	shaderModules   *handleTable[vk.ShaderModule]
	samplers        *handleTable[vk.Sampler]
	setLayouts      *handleTable[vk.DescriptorSetLayout]
	pipelineLayouts *handleTable[vk.PipelineLayout]
	renderPasses    *handleTable[vk.RenderPass]
	pipelines       *handleTable[vk.Pipeline]
	images          *handleTable[vulkanImage]
	imageViews      *handleTable[vk.ImageView]
	buffers         *handleTable[vulkanBuffer]
	descriptorPools *handleTable[vk.DescriptorPool]
	descriptorSets  *handleTable[vulkanDescriptorSet]
}

func NewBackend(device *Device) (*Backend, error) {
	if err := device.validate(); err != nil {
		return nil, err
	}
	b := &Backend{
		device: device,
		locks:  NewVulkanLockPool(),
	}
	b.shaderModules = newHandleTable[vk.ShaderModule](&b.next)
	b.samplers = newHandleTable[vk.Sampler](&b.next)
	b.setLayouts = newHandleTable[vk.DescriptorSetLayout](&b.next)
	b.pipelineLayouts = newHandleTable[vk.PipelineLayout](&b.next)
	b.renderPasses = newHandleTable[vk.RenderPass](&b.next)
	b.pipelines = newHandleTable[vk.Pipeline](&b.next)
	b.images = newHandleTable[vulkanImage](&b.next)
	b.imageViews = newHandleTable[vk.ImageView](&b.next)
	b.buffers = newHandleTable[vulkanBuffer](&b.next)
	b.descriptorPools = newHandleTable[vk.DescriptorPool](&b.next)
	b.descriptorSets = newHandleTable[vulkanDescriptorSet](&b.next)

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: device.GraphicsQueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	var pool vk.CommandPool
	if err := check(vk.CreateCommandPool(device.LogicalDevice, &poolCreateInfo, device.Allocator, &pool), "vkCreateCommandPool"); err != nil {
		return nil, err
	}
	b.commandPool = pool

	core.LogInfo("vulkan backend ready")
	return b, nil
}

func (b *Backend) Name() string {
	return "vulkan"
}

func (b *Backend) logical() vk.Device {
	return b.device.LogicalDevice
}

func (b *Backend) CreateShaderModule(desc *metadata.ShaderModuleDescription) (renderer.ShaderModuleHandle, error) {
	info, err := shaderModuleCreateInfo(desc.Code)
	if err != nil {
		return 0, err
	}
	var module vk.ShaderModule
	err = b.locks.SafeCall(ShaderManagement, func() error {
		return check(vk.CreateShaderModule(b.logical(), &info, b.device.Allocator, &module), "vkCreateShaderModule")
	})
	if err != nil {
		return 0, err
	}
	return renderer.ShaderModuleHandle(b.shaderModules.insert(module)), nil
}

// CodeSize is in bytes, PCode in words.
func shaderModuleCreateInfo(code []byte) (vk.ShaderModuleCreateInfo, error) {
	words, err := spirvWords(code)
	if err != nil {
		return vk.ShaderModuleCreateInfo{}, err
	}
	return vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    words,
	}, nil
}

func (b *Backend) DestroyShaderModule(h renderer.ShaderModuleHandle) error {
	module, ok := b.shaderModules.remove(uint64(h))
	if !ok {
		return unknownHandle("shader module", uint64(h))
	}
	return b.locks.SafeCall(ShaderManagement, func() error {
		vk.DestroyShaderModule(b.logical(), module, b.device.Allocator)
		return nil
	})
}

func (b *Backend) CreateSampler(desc *metadata.SamplerDescription) (renderer.SamplerHandle, error) {
	info := toSamplerCreateInfo(desc)
	var sampler vk.Sampler
	err := b.locks.SafeCall(SamplerManagement, func() error {
		return check(vk.CreateSampler(b.logical(), &info, b.device.Allocator, &sampler), "vkCreateSampler")
	})
	if err != nil {
		return 0, err
	}
	return renderer.SamplerHandle(b.samplers.insert(sampler)), nil
}

func (b *Backend) DestroySampler(h renderer.SamplerHandle) error {
	sampler, ok := b.samplers.remove(uint64(h))
	if !ok {
		return unknownHandle("sampler", uint64(h))
	}
	return b.locks.SafeCall(SamplerManagement, func() error {
		vk.DestroySampler(b.logical(), sampler, b.device.Allocator)
		return nil
	})
}

func (b *Backend) CreateDescriptorSetLayout(desc *metadata.DescriptorSetLayoutDescription, immutableSamplers [][]renderer.SamplerHandle) (renderer.DescriptorSetLayoutHandle, error) {
	bindings := make([]vk.DescriptorSetLayoutBinding, len(desc.Bindings))
	for i, binding := range desc.Bindings {
		descriptorType, err := toDescriptorType(binding.DescriptorType)
		if err != nil {
			return 0, errors.Wrapf(err, "binding %d", binding.Binding)
		}
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         binding.Binding,
			DescriptorType:  descriptorType,
			DescriptorCount: binding.Count(),
			StageFlags:      toShaderStages(binding.StageFlags),
		}
		if i < len(immutableSamplers) && len(immutableSamplers[i]) > 0 {
			samplers := make([]vk.Sampler, len(immutableSamplers[i]))
			for j, sh := range immutableSamplers[i] {
				s, ok := b.samplers.get(uint64(sh))
				if !ok {
					return 0, unknownHandle("sampler", uint64(sh))
				}
				samplers[j] = s
			}
			bindings[i].PImmutableSamplers = samplers
		}
	}

	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var layout vk.DescriptorSetLayout
	err := b.locks.SafeCall(DescriptorManagement, func() error {
		return check(vk.CreateDescriptorSetLayout(b.logical(), &info, b.device.Allocator, &layout), "vkCreateDescriptorSetLayout")
	})
	if err != nil {
		return 0, err
	}
	return renderer.DescriptorSetLayoutHandle(b.setLayouts.insert(layout)), nil
}

func (b *Backend) DestroyDescriptorSetLayout(h renderer.DescriptorSetLayoutHandle) error {
	layout, ok := b.setLayouts.remove(uint64(h))
	if !ok {
		return unknownHandle("descriptor set layout", uint64(h))
	}
	return b.locks.SafeCall(DescriptorManagement, func() error {
		vk.DestroyDescriptorSetLayout(b.logical(), layout, b.device.Allocator)
		return nil
	})
}

func (b *Backend) CreatePipelineLayout(desc *metadata.PipelineLayoutDescription, setLayouts []renderer.DescriptorSetLayoutHandle) (renderer.PipelineLayoutHandle, error) {
	layouts := make([]vk.DescriptorSetLayout, len(setLayouts))
	for i, h := range setLayouts {
		l, ok := b.setLayouts.get(uint64(h))
		if !ok {
			return 0, unknownHandle("descriptor set layout", uint64(h))
		}
		layouts[i] = l
	}

	info := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(layouts)),
		PSetLayouts:    layouts,
	}
	if len(desc.PushConstantRanges) > 0 {
		ranges := make([]vk.PushConstantRange, len(desc.PushConstantRanges))
		for i, r := range desc.PushConstantRanges {
			ranges[i] = vk.PushConstantRange{
				StageFlags: toShaderStages(r.StageFlags),
				Offset:     r.Offset,
				Size:       r.Size,
			}
		}
		info.PushConstantRangeCount = uint32(len(ranges))
		info.PPushConstantRanges = ranges
	}

	var layout vk.PipelineLayout
	err := b.locks.SafeCall(PipelineManagement, func() error {
		return check(vk.CreatePipelineLayout(b.logical(), &info, b.device.Allocator, &layout), "vkCreatePipelineLayout")
	})
	if err != nil {
		return 0, err
	}
	return renderer.PipelineLayoutHandle(b.pipelineLayouts.insert(layout)), nil
}

func (b *Backend) DestroyPipelineLayout(h renderer.PipelineLayoutHandle) error {
	layout, ok := b.pipelineLayouts.remove(uint64(h))
	if !ok {
		return unknownHandle("pipeline layout", uint64(h))
	}
	return b.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipelineLayout(b.logical(), layout, b.device.Allocator)
		return nil
	})
}

func (b *Backend) CreateRenderPass(desc *metadata.RenderPassDescription, surface *metadata.SwapchainSurfaceInfo) (renderer.RenderPassHandle, error) {
	attachments := make([]vk.AttachmentDescription, len(desc.Attachments))
	for i, a := range desc.Attachments {
		converted, err := toAttachmentDescription(a.Resolve(surface))
		if err != nil {
			return 0, errors.Wrapf(err, "attachment %d", i)
		}
		attachments[i] = converted
	}
	subpasses := make([]vk.SubpassDescription, len(desc.Subpasses))
	for i, s := range desc.Subpasses {
		subpasses[i] = toSubpassDescription(s)
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
	}

	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    uint32(len(subpasses)),
		PSubpasses:      subpasses,
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}
	var pass vk.RenderPass
	err := b.locks.SafeCall(RenderpassManagement, func() error {
		return check(vk.CreateRenderPass(b.logical(), &info, b.device.Allocator, &pass), "vkCreateRenderPass")
	})
	if err != nil {
		return 0, err
	}
	return renderer.RenderPassHandle(b.renderPasses.insert(pass)), nil
}

func (b *Backend) DestroyRenderPass(h renderer.RenderPassHandle) error {
	pass, ok := b.renderPasses.remove(uint64(h))
	if !ok {
		return unknownHandle("render pass", uint64(h))
	}
	return b.locks.SafeCall(RenderpassManagement, func() error {
		vk.DestroyRenderPass(b.logical(), pass, b.device.Allocator)
		return nil
	})
}

func (b *Backend) CreateGraphicsPipeline(desc *metadata.GraphicsPipelineDescription, layout renderer.PipelineLayoutHandle, renderPass renderer.RenderPassHandle, modules []renderer.ShaderModuleHandle) (renderer.PipelineHandle, error) {
	if len(modules) != len(desc.Stages) {
		return 0, errors.Newf("%d shader modules for %d stages", len(modules), len(desc.Stages))
	}
	pipelineLayout, ok := b.pipelineLayouts.get(uint64(layout))
	if !ok {
		return 0, unknownHandle("pipeline layout", uint64(layout))
	}
	pass, ok := b.renderPasses.get(uint64(renderPass))
	if !ok {
		return 0, unknownHandle("render pass", uint64(renderPass))
	}

	stages := make([]vk.PipelineShaderStageCreateInfo, len(desc.Stages))
	for i, stage := range desc.Stages {
		module, ok := b.shaderModules.get(uint64(modules[i]))
		if !ok {
			return 0, unknownHandle("shader module", uint64(modules[i]))
		}
		entry := stage.EntryName
		if entry == "" {
			entry = "main"
		}
		stages[i] = vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFlagBits(stage.Stage),
			Module: module,
			PName:  VulkanSafeString(entry),
		}
	}

	state := desc.FixedFunctionState
	if state == nil {
		state = &metadata.FixedFunctionState{}
	}

	bindings, attributes, err := toVertexInput(&state.VertexInput)
	if err != nil {
		return 0, err
	}
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopology(state.InputAssembly.Topology),
		PrimitiveRestartEnable: toBool32(state.InputAssembly.PrimitiveRestartEnable),
	}

	// Viewport and scissor cover the whole surface; y is flipped to match
	// the engine's coordinate system.
	viewport := vk.Viewport{
		X:        0,
		Y:        float32(desc.Surface.Height),
		Width:    float32(desc.Surface.Width),
		Height:   -float32(desc.Surface.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}
	scissor := vk.Rect2D{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: vk.Extent2D{Width: desc.Surface.Width, Height: desc.Surface.Height},
	}
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports:    []vk.Viewport{viewport},
		ScissorCount:  1,
		PScissors:     []vk.Rect2D{scissor},
	}

	lineWidth := state.Rasterization.LineWidth
	if lineWidth == 0 {
		lineWidth = 1
	}
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        toBool32(state.Rasterization.DepthClampEnable),
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonMode(state.Rasterization.PolygonMode),
		CullMode:                toCullMode(state.Rasterization.CullMode),
		FrontFace:               vk.FrontFace(state.Rasterization.FrontFace),
		DepthBiasEnable:         toBool32(state.Rasterization.DepthBiasEnable),
		LineWidth:               lineWidth,
	}

	samples := state.Multisample.RasterizationSamples
	if samples == 0 {
		samples = desc.Surface.SampleCount
	}
	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples:  toSampleCount(samples),
		SampleShadingEnable:   toBool32(state.Multisample.SampleShadingEnable),
		MinSampleShading:      state.Multisample.MinSampleShading,
		AlphaToCoverageEnable: toBool32(state.Multisample.AlphaToCoverageEnable),
		AlphaToOneEnable:      vk.False,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:       toBool32(state.DepthStencil.DepthTestEnable),
		DepthWriteEnable:      toBool32(state.DepthStencil.DepthWriteEnable),
		DepthCompareOp:        vk.CompareOp(state.DepthStencil.DepthCompareOp),
		DepthBoundsTestEnable: toBool32(state.DepthStencil.DepthBoundsTestEnable),
		StencilTestEnable:     toBool32(state.DepthStencil.StencilTestEnable),
		MinDepthBounds:        state.DepthStencil.MinDepthBounds,
		MaxDepthBounds:        state.DepthStencil.MaxDepthBounds,
	}

	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, len(state.ColorBlend.Attachments))
	for i, a := range state.ColorBlend.Attachments {
		blendAttachments[i] = toColorBlendAttachment(a)
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
		BlendConstants:  state.ColorBlend.BlendConstants,
	}

	dynamicStates := toDynamicStates(state.DynamicStates)
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		Layout:              pipelineLayout,
		RenderPass:          pass,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}
	if len(dynamicStates) > 0 {
		pipelineCreateInfo.PDynamicState = &dynamicStateCreateInfo
	}

	pipelines := make([]vk.Pipeline, 1)
	err = b.locks.SafeCall(PipelineManagement, func() error {
		return check(vk.CreateGraphicsPipelines(b.logical(), vk.NullPipelineCache, 1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, b.device.Allocator, pipelines), "vkCreateGraphicsPipelines")
	})
	if err != nil {
		return 0, err
	}
	return renderer.PipelineHandle(b.pipelines.insert(pipelines[0])), nil
}

func (b *Backend) DestroyPipeline(h renderer.PipelineHandle) error {
	pipeline, ok := b.pipelines.remove(uint64(h))
	if !ok {
		return unknownHandle("pipeline", uint64(h))
	}
	return b.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipeline(b.logical(), pipeline, b.device.Allocator)
		return nil
	})
}

func (b *Backend) CreateImage(desc *metadata.ImageDescription, data []byte) (renderer.ImageHandle, error) {
	format, err := toFormat(desc.Format)
	if err != nil {
		return 0, err
	}
	usage := toImageUsage(desc.Usage)
	if len(data) > 0 {
		usage |= vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)
	}
	depth := max(desc.Depth, 1)
	imageType := vk.ImageType2d
	if depth > 1 {
		imageType = vk.ImageType3d
	}
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: imageType,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  depth,
		},
		MipLevels:     max(desc.MipLevels, 1),
		ArrayLayers:   max(desc.ArrayLayers, 1),
		Samples:       toSampleCount(desc.Samples),
		Tiling:        vk.ImageTilingOptimal,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	var img vulkanImage
	err = b.locks.SafeCall(ImageManagement, func() error {
		return check(vk.CreateImage(b.logical(), &info, b.device.Allocator, &img.handle), "vkCreateImage")
	})
	if err != nil {
		return 0, err
	}

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(b.logical(), img.handle, &requirements)
	err = b.locks.SafeCall(MemoryManagement, func() error {
		memory, err := b.device.allocate(requirements, toMemoryProperties(desc.MemoryUsage))
		if err != nil {
			return err
		}
		img.memory = memory
		return check(vk.BindImageMemory(b.logical(), img.handle, img.memory, 0), "vkBindImageMemory")
	})
	if err != nil {
		b.destroyImage(img)
		return 0, errors.Wrap(err, "backing image memory")
	}

	if len(data) > 0 {
		aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
		if desc.Format.IsDepth() {
			aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
		}
		if err := b.uploadImage(img.handle, &info, aspect, data); err != nil {
			b.destroyImage(img)
			return 0, errors.Wrap(err, "uploading image data")
		}
	}
	return renderer.ImageHandle(b.images.insert(img)), nil
}

// uploadImage copies data into the first mip of every layer and leaves the
// image ready for sampling.
func (b *Backend) uploadImage(image vk.Image, info *vk.ImageCreateInfo, aspect vk.ImageAspectFlags, data []byte) error {
	staging, err := b.newStagingBuffer(data)
	if err != nil {
		return err
	}
	defer b.destroyBuffer(staging)

	cb, err := b.beginSingleUse()
	if err != nil {
		return err
	}
	cb.transition(image, aspect, info.MipLevels, info.ArrayLayers, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal)
	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: aspect,
			LayerCount: info.ArrayLayers,
		},
		ImageExtent: info.Extent,
	}
	vk.CmdCopyBufferToImage(cb.handle, staging.handle, image, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
	cb.transition(image, aspect, info.MipLevels, info.ArrayLayers, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal)
	return cb.submit()
}

func (b *Backend) destroyImage(img vulkanImage) {
	_ = b.locks.SafeCall(ImageManagement, func() error {
		vk.DestroyImage(b.logical(), img.handle, b.device.Allocator)
		return nil
	})
	if img.memory != nil {
		_ = b.locks.SafeCall(MemoryManagement, func() error {
			vk.FreeMemory(b.logical(), img.memory, b.device.Allocator)
			return nil
		})
	}
}

func (b *Backend) DestroyImage(h renderer.ImageHandle) error {
	img, ok := b.images.remove(uint64(h))
	if !ok {
		return unknownHandle("image", uint64(h))
	}
	b.destroyImage(img)
	return nil
}

func (b *Backend) CreateImageView(image renderer.ImageHandle, desc *metadata.ImageViewDescription) (renderer.ImageViewHandle, error) {
	img, ok := b.images.get(uint64(image))
	if !ok {
		return 0, unknownHandle("image", uint64(image))
	}
	format, err := toFormat(desc.Format)
	if err != nil {
		return 0, err
	}
	r := desc.SubresourceRange
	info := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.handle,
		ViewType: toImageViewType(desc.ViewType),
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     toImageAspect(r.AspectMask),
			BaseMipLevel:   r.BaseMipLevel,
			LevelCount:     max(r.LevelCount, 1),
			BaseArrayLayer: r.BaseArrayLayer,
			LayerCount:     max(r.LayerCount, 1),
		},
	}
	var view vk.ImageView
	err = b.locks.SafeCall(ImageManagement, func() error {
		return check(vk.CreateImageView(b.logical(), &info, b.device.Allocator, &view), "vkCreateImageView")
	})
	if err != nil {
		return 0, err
	}
	return renderer.ImageViewHandle(b.imageViews.insert(view)), nil
}

func (b *Backend) DestroyImageView(h renderer.ImageViewHandle) error {
	view, ok := b.imageViews.remove(uint64(h))
	if !ok {
		return unknownHandle("image view", uint64(h))
	}
	return b.locks.SafeCall(ImageManagement, func() error {
		vk.DestroyImageView(b.logical(), view, b.device.Allocator)
		return nil
	})
}

func (b *Backend) newBuffer(size uint64, usage vk.BufferUsageFlags, memoryUsage metadata.MemoryUsage) (vulkanBuffer, error) {
	buf := vulkanBuffer{size: size, memoryUsage: memoryUsage}
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	err := b.locks.SafeCall(BufferManagement, func() error {
		return check(vk.CreateBuffer(b.logical(), &info, b.device.Allocator, &buf.handle), "vkCreateBuffer")
	})
	if err != nil {
		return buf, err
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(b.logical(), buf.handle, &requirements)
	err = b.locks.SafeCall(MemoryManagement, func() error {
		memory, err := b.device.allocate(requirements, toMemoryProperties(memoryUsage))
		if err != nil {
			return err
		}
		buf.memory = memory
		return check(vk.BindBufferMemory(b.logical(), buf.handle, buf.memory, 0), "vkBindBufferMemory")
	})
	if err != nil {
		b.destroyBuffer(buf)
		return vulkanBuffer{}, errors.Wrap(err, "backing buffer memory")
	}
	return buf, nil
}

func (b *Backend) newStagingBuffer(data []byte) (vulkanBuffer, error) {
	staging, err := b.newBuffer(uint64(len(data)), vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit), metadata.MemoryUsageCPUToGPU)
	if err != nil {
		return staging, errors.Wrap(err, "staging buffer")
	}
	if err := b.mapAndCopy(staging, 0, data); err != nil {
		b.destroyBuffer(staging)
		return vulkanBuffer{}, err
	}
	return staging, nil
}

func (b *Backend) mapAndCopy(buf vulkanBuffer, offset uint64, data []byte) error {
	return b.locks.SafeCall(MemoryManagement, func() error {
		var pData unsafe.Pointer
		if err := check(vk.MapMemory(b.logical(), buf.memory, vk.DeviceSize(offset), vk.DeviceSize(len(data)), 0, &pData), "vkMapMemory"); err != nil {
			return err
		}
		vk.Memcopy(pData, data)
		vk.UnmapMemory(b.logical(), buf.memory)
		return nil
	})
}

func (b *Backend) destroyBuffer(buf vulkanBuffer) {
	if buf.handle != nil {
		_ = b.locks.SafeCall(BufferManagement, func() error {
			vk.DestroyBuffer(b.logical(), buf.handle, b.device.Allocator)
			return nil
		})
	}
	if buf.memory != nil {
		_ = b.locks.SafeCall(MemoryManagement, func() error {
			vk.FreeMemory(b.logical(), buf.memory, b.device.Allocator)
			return nil
		})
	}
}

func (b *Backend) CreateBuffer(desc *metadata.BufferDescription) (renderer.BufferHandle, error) {
	if desc.Size == 0 {
		return 0, errors.New("buffer size must be positive")
	}
	usage := toBufferUsage(desc.Usage)
	if !hostVisible(desc.MemoryUsage) {
		// Device local buffers are filled through a staging copy.
		usage |= vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
	}
	buf, err := b.newBuffer(desc.Size, usage, desc.MemoryUsage)
	if err != nil {
		return 0, err
	}
	return renderer.BufferHandle(b.buffers.insert(buf)), nil
}

func (b *Backend) WriteBuffer(h renderer.BufferHandle, offset uint64, data []byte) error {
	buf, ok := b.buffers.get(uint64(h))
	if !ok {
		return unknownHandle("buffer", uint64(h))
	}
	if offset+uint64(len(data)) > buf.size {
		return errors.Newf("write of %d bytes at offset %d overflows buffer of %d bytes", len(data), offset, buf.size)
	}
	if len(data) == 0 {
		return nil
	}
	if hostVisible(buf.memoryUsage) {
		return b.mapAndCopy(buf, offset, data)
	}

	staging, err := b.newStagingBuffer(data)
	if err != nil {
		return err
	}
	defer b.destroyBuffer(staging)

	cb, err := b.beginSingleUse()
	if err != nil {
		return err
	}
	region := vk.BufferCopy{
		SrcOffset: 0,
		DstOffset: vk.DeviceSize(offset),
		Size:      vk.DeviceSize(len(data)),
	}
	vk.CmdCopyBuffer(cb.handle, staging.handle, buf.handle, 1, []vk.BufferCopy{region})
	return cb.submit()
}

func (b *Backend) DestroyBuffer(h renderer.BufferHandle) error {
	buf, ok := b.buffers.remove(uint64(h))
	if !ok {
		return unknownHandle("buffer", uint64(h))
	}
	b.destroyBuffer(buf)
	return nil
}

func (b *Backend) CreateDescriptorPool(maxSets uint32, sizes []renderer.DescriptorPoolSize) (renderer.DescriptorPoolHandle, error) {
	poolSizes := make([]vk.DescriptorPoolSize, 0, len(sizes))
	for _, s := range sizes {
		if s.Count == 0 {
			continue
		}
		t, err := toDescriptorType(s.Type)
		if err != nil {
			return 0, err
		}
		poolSizes = append(poolSizes, vk.DescriptorPoolSize{Type: t, DescriptorCount: s.Count})
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	var pool vk.DescriptorPool
	err := b.locks.SafeCall(DescriptorManagement, func() error {
		return check(vk.CreateDescriptorPool(b.logical(), &info, b.device.Allocator, &pool), "vkCreateDescriptorPool")
	})
	if err != nil {
		return 0, err
	}
	return renderer.DescriptorPoolHandle(b.descriptorPools.insert(pool)), nil
}

// forgetSets drops the ids of every set allocated from pool.
func (b *Backend) forgetSets(pool uint64) {
	b.descriptorSets.mu.Lock()
	defer b.descriptorSets.mu.Unlock()
	for id, set := range b.descriptorSets.entries {
		if set.pool == pool {
			delete(b.descriptorSets.entries, id)
		}
	}
}

func (b *Backend) ResetDescriptorPool(h renderer.DescriptorPoolHandle) error {
	pool, ok := b.descriptorPools.get(uint64(h))
	if !ok {
		return unknownHandle("descriptor pool", uint64(h))
	}
	err := b.locks.SafeCall(DescriptorManagement, func() error {
		return check(vk.ResetDescriptorPool(b.logical(), pool, 0), "vkResetDescriptorPool")
	})
	if err != nil {
		return err
	}
	b.forgetSets(uint64(h))
	return nil
}

func (b *Backend) DestroyDescriptorPool(h renderer.DescriptorPoolHandle) error {
	pool, ok := b.descriptorPools.remove(uint64(h))
	if !ok {
		return unknownHandle("descriptor pool", uint64(h))
	}
	b.forgetSets(uint64(h))
	return b.locks.SafeCall(DescriptorManagement, func() error {
		vk.DestroyDescriptorPool(b.logical(), pool, b.device.Allocator)
		return nil
	})
}

func (b *Backend) AllocateDescriptorSets(pool renderer.DescriptorPoolHandle, layout renderer.DescriptorSetLayoutHandle, count uint32) ([]renderer.DescriptorSetHandle, error) {
	if count == 0 {
		return nil, nil
	}
	p, ok := b.descriptorPools.get(uint64(pool))
	if !ok {
		return nil, unknownHandle("descriptor pool", uint64(pool))
	}
	l, ok := b.setLayouts.get(uint64(layout))
	if !ok {
		return nil, unknownHandle("descriptor set layout", uint64(layout))
	}

	layouts := make([]vk.DescriptorSetLayout, count)
	for i := range layouts {
		layouts[i] = l
	}
	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p,
		DescriptorSetCount: count,
		PSetLayouts:        layouts,
	}
	sets := make([]vk.DescriptorSet, count)
	err := b.locks.SafeCall(DescriptorManagement, func() error {
		return check(vk.AllocateDescriptorSets(b.logical(), &info, &sets[0]), "vkAllocateDescriptorSets")
	})
	if err != nil {
		return nil, err
	}

	handles := make([]renderer.DescriptorSetHandle, count)
	for i, s := range sets {
		handles[i] = renderer.DescriptorSetHandle(b.descriptorSets.insert(vulkanDescriptorSet{handle: s, pool: uint64(pool)}))
	}
	return handles, nil
}

func (b *Backend) UpdateDescriptorSets(writes []renderer.DescriptorWrite) error {
	if len(writes) == 0 {
		return nil
	}
	out := make([]vk.WriteDescriptorSet, len(writes))
	for i, w := range writes {
		set, ok := b.descriptorSets.get(uint64(w.Set))
		if !ok {
			return unknownHandle("descriptor set", uint64(w.Set))
		}
		t, err := toDescriptorType(w.DescriptorType)
		if err != nil {
			return err
		}
		out[i] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set.handle,
			DstBinding:      w.Binding,
			DstArrayElement: w.ArrayElement,
			DescriptorType:  t,
		}
		switch {
		case len(w.Images) > 0:
			images := make([]vk.DescriptorImageInfo, len(w.Images))
			for j, img := range w.Images {
				info := vk.DescriptorImageInfo{ImageLayout: toImageLayout(img.ImageLayout)}
				if img.Sampler != 0 {
					s, ok := b.samplers.get(uint64(img.Sampler))
					if !ok {
						return unknownHandle("sampler", uint64(img.Sampler))
					}
					info.Sampler = s
				}
				if img.ImageView != 0 {
					v, ok := b.imageViews.get(uint64(img.ImageView))
					if !ok {
						return unknownHandle("image view", uint64(img.ImageView))
					}
					info.ImageView = v
				}
				images[j] = info
			}
			out[i].DescriptorCount = uint32(len(images))
			out[i].PImageInfo = images
		case len(w.Buffers) > 0:
			buffers := make([]vk.DescriptorBufferInfo, len(w.Buffers))
			for j, bi := range w.Buffers {
				buf, ok := b.buffers.get(uint64(bi.Buffer))
				if !ok {
					return unknownHandle("buffer", uint64(bi.Buffer))
				}
				r := vk.DeviceSize(bi.Range)
				if bi.Range == 0 {
					r = vk.DeviceSize(vk.WholeSize)
				}
				buffers[j] = vk.DescriptorBufferInfo{
					Buffer: buf.handle,
					Offset: vk.DeviceSize(bi.Offset),
					Range:  r,
				}
			}
			out[i].DescriptorCount = uint32(len(buffers))
			out[i].PBufferInfo = buffers
		default:
			return errors.Newf("descriptor write to binding %d carries no resources", w.Binding)
		}
	}

	return b.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(b.logical(), uint32(len(out)), out, 0, nil)
		return nil
	})
}

func (b *Backend) WaitIdle() error {
	return b.locks.SafeCall(DeviceManagement, func() error {
		return check(vk.DeviceWaitIdle(b.logical()), "vkDeviceWaitIdle")
	})
}

// Shutdown releases the upload command pool. Objects still in the handle
// tables are reported as leaked; the device is left to the application.
func (b *Backend) Shutdown() error {
	if b.commandPool != nil {
		_ = b.locks.SafeCall(CommandPoolManagement, func() error {
			vk.DestroyCommandPool(b.logical(), b.commandPool, b.device.Allocator)
			return nil
		})
		b.commandPool = nil
	}

	live := []struct {
		name  string
		count int
	}{
		{"shader modules", b.shaderModules.len()},
		{"samplers", b.samplers.len()},
		{"descriptor set layouts", b.setLayouts.len()},
		{"pipeline layouts", b.pipelineLayouts.len()},
		{"render passes", b.renderPasses.len()},
		{"pipelines", b.pipelines.len()},
		{"images", b.images.len()},
		{"image views", b.imageViews.len()},
		{"buffers", b.buffers.len()},
		{"descriptor pools", b.descriptorPools.len()},
	}
	var leaked []string
	for _, l := range live {
		if l.count > 0 {
			leaked = append(leaked, fmt.Sprintf("%d %s", l.count, l.name))
		}
	}
	if len(leaked) > 0 {
		return errors.Newf("vulkan backend: still alive at shutdown: %s", strings.Join(leaked, ", "))
	}
	return nil
}

func unknownHandle(kind string, h uint64) error {
	return errors.Newf("unknown %s handle %d", kind, h)
}
