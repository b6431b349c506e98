package systems

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/assets"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/descriptors"
	"github.com/spaghettifunk/anima-gpu/engine/renderer"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gpu/engine/resources"
)

// LoadedMaterialPass owns everything one pass needs to draw: its pipeline
// inputs plus a render pass and pipeline per registered swapchain surface.
type LoadedMaterialPass struct {
	Name string

	PipelineCreateData *resources.PipelineCreateData
	// Indexed like the pipeline layout's sets.
	DescriptorSetLayouts     []*resources.ResourceArc[*resources.DescriptorSetLayoutResource]
	DescriptorSetLayoutDescs []*metadata.DescriptorSetLayoutDescription
	SlotNameLookup           assets.SlotNameLookup

	// Indexed like the swapchain surface set.
	RenderPasses []*resources.ResourceArc[*resources.RenderPassResource]
	Pipelines    []*resources.ResourceArc[*resources.GraphicsPipelineResource]
}

func (p *LoadedMaterialPass) release() {
	resources.ReleaseAll(p.Pipelines)
	resources.ReleaseAll(p.RenderPasses)
	resources.ReleaseAll(p.DescriptorSetLayouts)
	if p.PipelineCreateData != nil {
		p.PipelineCreateData.Release()
	}
	p.Pipelines, p.RenderPasses, p.DescriptorSetLayouts = nil, nil, nil
}

// addSurface appends the pipeline for surface. Nothing changes on error.
func (p *LoadedMaterialPass) addSurface(lookup *resources.ResourceLookupSet, surface metadata.SwapchainSurfaceInfo) error {
	renderPass, pipeline, err := lookup.GetOrCreateGraphicsPipeline(p.PipelineCreateData, surface)
	if err != nil {
		return errors.Wrapf(err, "pass %s on surface %s", p.Name, surface)
	}
	p.RenderPasses = append(p.RenderPasses, renderPass)
	p.Pipelines = append(p.Pipelines, pipeline)
	return nil
}

func (p *LoadedMaterialPass) popSurface() {
	last := len(p.Pipelines) - 1
	p.Pipelines[last].Release()
	p.RenderPasses[last].Release()
	p.Pipelines = p.Pipelines[:last]
	p.RenderPasses = p.RenderPasses[:last]
}

// swapRemoveSurface mirrors SwapchainSurfaceSet.Remove.
func (p *LoadedMaterialPass) swapRemoveSurface(index int) {
	last := len(p.Pipelines) - 1
	if index > last {
		core.ContractViolation("pass %s has no pipeline for surface %d", p.Name, index)
		return
	}
	p.Pipelines[index].Release()
	p.RenderPasses[index].Release()
	p.Pipelines[index] = p.Pipelines[last]
	p.RenderPasses[index] = p.RenderPasses[last]
	p.Pipelines = p.Pipelines[:last]
	p.RenderPasses = p.RenderPasses[:last]
}

type LoadedMaterial struct {
	Passes []*LoadedMaterialPass
}

func (m *LoadedMaterial) release() {
	for _, p := range m.Passes {
		p.release()
	}
}

// PassIndex finds a pass by name.
func (m *LoadedMaterial) PassIndex(name string) (int, bool) {
	for i, p := range m.Passes {
		if p.Name == name {
			return i, true
		}
	}
	return 0, false
}

type LoadedMaterialInstance struct {
	Material assets.LoadHandle
	// [pass][set]
	DescriptorSets [][]*descriptors.DescriptorSetArc
}

func (mi *LoadedMaterialInstance) release() {
	for _, sets := range mi.DescriptorSets {
		for _, s := range sets {
			s.Release()
		}
	}
	mi.DescriptorSets = nil
}

func (rm *ResourceManager) loadMaterialPass(asset *assets.MaterialPass) (*LoadedMaterialPass, error) {
	pipeline, ok := rm.pipelines.GetLatest(asset.Pipeline)
	if !ok {
		return nil, core.DependencyNotReady("pipeline", asset.Pipeline)
	}

	pass := &LoadedMaterialPass{
		Name:           asset.Name,
		SlotNameLookup: asset.ShaderInterface.SlotNameLookup(),
	}
	fixed := pipeline.FixedFunctionState
	renderPass := pipeline.RenderPass
	data := &resources.PipelineCreateData{
		FixedFunctionState: &fixed,
		RenderPass:         &renderPass,
	}
	pass.PipelineCreateData = data

	for _, stage := range asset.ShaderStages {
		shader, ok := rm.shaders.GetLatest(stage.Shader)
		if !ok {
			pass.release()
			return nil, core.DependencyNotReady("shader", stage.Shader)
		}
		data.ShaderModules = append(data.ShaderModules, shader.ShaderModule.Clone())
		data.Stages = append(data.Stages, metadata.ShaderStageDescription{
			Stage:      stage.Stage,
			EntryName:  stage.EntryName,
			ModuleHash: shader.ShaderModule.Hash(),
		})
	}

	// Slot locations index the pass's own binding order, which a cached
	// layout with the same bindings may not share.
	desc := asset.ShaderInterface.PipelineLayout()
	layout, err := rm.lookup.GetOrCreatePipelineLayout(desc)
	if err != nil {
		pass.release()
		return nil, err
	}
	data.PipelineLayout = layout
	for i, dsl := range layout.Get().DescriptorSetLayouts {
		pass.DescriptorSetLayouts = append(pass.DescriptorSetLayouts, dsl.Clone())
		pass.DescriptorSetLayoutDescs = append(pass.DescriptorSetLayoutDescs, &desc.DescriptorSetLayouts[i])
	}

	for _, surface := range rm.swapchains.Unique() {
		if err := pass.addSurface(rm.lookup, surface); err != nil {
			pass.release()
			return nil, err
		}
	}
	return pass, nil
}

func (rm *ResourceManager) loadMaterial(_ assets.LoadHandle, asset *assets.MaterialAsset) (*LoadedMaterial, error) {
	material := &LoadedMaterial{}
	for i := range asset.Passes {
		pass, err := rm.loadMaterialPass(&asset.Passes[i])
		if err != nil {
			material.release()
			return nil, errors.Wrapf(err, "material pass %d (%s)", i, asset.Passes[i].Name)
		}
		material.Passes = append(material.Passes, pass)
	}
	return material, nil
}

// applySlot points every binding named by slot at the assigned resources.
// It reports whether the pass declares the slot at all.
func (rm *ResourceManager) applySlot(pass *LoadedMaterialPass, writeSets []*descriptors.WriteSet, slot *assets.SlotAssignment) (bool, error) {
	locations, ok := pass.SlotNameLookup[slot.SlotName]
	if !ok {
		return false, nil
	}
	for _, loc := range locations {
		layout := pass.DescriptorSetLayoutDescs[loc.LayoutIndex]
		binding := layout.Bindings[loc.BindingIndex]
		element := writeSets[loc.LayoutIndex].Elements[binding.Binding]
		if slot.ArrayIndex >= binding.Count() {
			return true, errors.Newf("slot %s index %d out of range, binding %d holds %d", slot.SlotName, slot.ArrayIndex, binding.Binding, binding.Count())
		}
		what := descriptors.WhatToBind(binding.DescriptorType, len(binding.ImmutableSamplers) > 0)

		if what.Image && slot.Image != nil {
			image, ok := rm.images.GetLatest(*slot.Image)
			if !ok {
				return true, core.DependencyNotReady("image", *slot.Image)
			}
			w := &element.Images[slot.ArrayIndex]
			if w.ImageView != nil {
				w.ImageView.Release()
			}
			w.ImageView = image.ImageView.Clone()
		}
		if what.Sampler && slot.Sampler != nil {
			sampler, err := rm.lookup.GetOrCreateSampler(*slot.Sampler)
			if err != nil {
				return true, err
			}
			w := &element.Images[slot.ArrayIndex]
			if w.Sampler != nil {
				w.Sampler.Release()
			}
			w.Sampler = sampler
		}
		if what.Buffer && slot.Buffer != nil {
			buffer, ok := rm.buffers.GetLatest(*slot.Buffer)
			if !ok {
				return true, core.DependencyNotReady("buffer", *slot.Buffer)
			}
			w := &element.Buffers[slot.ArrayIndex]
			if w.Buffer != nil {
				w.Buffer.Release()
			}
			*w = descriptors.BufferWrite{Buffer: buffer.Buffer.Clone()}
		}
		if len(slot.BufferData) > 0 {
			if binding.InternalBufferPerDescriptorSize == 0 {
				core.LogWarn("slot %s carries buffer data but binding %d has no internal buffer", slot.SlotName, binding.Binding)
				continue
			}
			element.BufferData = [][]byte{slot.BufferData}
		}
	}
	return true, nil
}

func (rm *ResourceManager) loadMaterialInstance(_ assets.LoadHandle, asset *assets.MaterialInstanceAsset) (*LoadedMaterialInstance, error) {
	material, ok := rm.materials.GetLatest(asset.Material)
	if !ok {
		return nil, core.DependencyNotReady("material", asset.Material)
	}

	instance := &LoadedMaterialInstance{Material: asset.Material}
	for _, pass := range material.Passes {
		writeSets := make([]*descriptors.WriteSet, len(pass.DescriptorSetLayoutDescs))
		for i, desc := range pass.DescriptorSetLayoutDescs {
			writeSets[i] = descriptors.CreateUninitializedWriteSetForLayout(desc)
		}
		releaseWriteSets := func() {
			for _, ws := range writeSets {
				if ws != nil {
					ws.Release()
				}
			}
		}

		for i := range asset.Slots {
			if _, err := rm.applySlot(pass, writeSets, &asset.Slots[i]); err != nil {
				releaseWriteSets()
				instance.release()
				return nil, errors.Wrapf(err, "pass %s", pass.Name)
			}
		}

		sets := make([]*descriptors.DescriptorSetArc, 0, len(writeSets))
		for i, ws := range writeSets {
			// the pool owns the write set from here, even on failure
			writeSets[i] = nil
			set, err := rm.descriptorSets.Insert(pass.DescriptorSetLayoutDescs[i], pass.DescriptorSetLayouts[i], ws)
			if err != nil {
				releaseWriteSets()
				for _, s := range sets {
					s.Release()
				}
				instance.release()
				return nil, errors.Wrapf(err, "pass %s set %d", pass.Name, i)
			}
			sets = append(sets, set)
		}
		instance.DescriptorSets = append(instance.DescriptorSets, sets)
	}

	for i := range asset.Slots {
		if !slotDeclared(material, asset.Slots[i].SlotName) {
			core.LogWarn("material instance assigns slot %s which no pass of %s declares", asset.Slots[i].SlotName, asset.Material)
		}
	}
	return instance, nil
}

func slotDeclared(m *LoadedMaterial, name string) bool {
	for _, p := range m.Passes {
		if _, ok := p.SlotNameLookup[name]; ok {
			return true
		}
	}
	return false
}

// MaterialPassPipeline is what a draw needs from a material pass on one surface.
type MaterialPassPipeline struct {
	RenderPass     renderer.RenderPassHandle
	Pipeline       renderer.PipelineHandle
	PipelineLayout renderer.PipelineLayoutHandle
}

// PipelineInfo returns the native pipeline of a committed material's pass
// for a registered surface.
func (rm *ResourceManager) PipelineInfo(material assets.LoadHandle, surface metadata.SwapchainSurfaceInfo, pass int) (MaterialPassPipeline, bool) {
	m, ok := rm.materials.GetCommitted(material)
	if !ok || pass < 0 || pass >= len(m.Passes) {
		return MaterialPassPipeline{}, false
	}
	index, ok := rm.swapchains.Index(surface)
	if !ok {
		return MaterialPassPipeline{}, false
	}
	p := m.Passes[pass]
	return MaterialPassPipeline{
		RenderPass:     p.RenderPasses[index].Get().Handle,
		Pipeline:       p.Pipelines[index].Get().Handle,
		PipelineLayout: p.PipelineCreateData.PipelineLayout.Get().Handle,
	}, true
}

// CurrentFramePassInfo returns the native descriptor sets of a committed
// material instance's pass for the frame being recorded, indexed by set.
func (rm *ResourceManager) CurrentFramePassInfo(instance assets.LoadHandle, pass int) ([]renderer.DescriptorSetHandle, bool) {
	mi, ok := rm.materialInstances.GetCommitted(instance)
	if !ok || pass < 0 || pass >= len(mi.DescriptorSets) {
		return nil, false
	}
	sets := make([]renderer.DescriptorSetHandle, len(mi.DescriptorSets[pass]))
	for i, s := range mi.DescriptorSets[pass] {
		sets[i] = rm.descriptorSets.DescriptorSet(s)
	}
	return sets, true
}

// Material returns the committed material.
func (rm *ResourceManager) Material(h assets.LoadHandle) (*LoadedMaterial, bool) {
	return rm.materials.GetCommitted(h)
}
