package resources

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/null"
)

const testFramesInFlight = 2

func testSurface() metadata.SwapchainSurfaceInfo {
	return metadata.SwapchainSurfaceInfo{
		Width:       1280,
		Height:      720,
		ColorFormat: metadata.FormatB8G8R8A8Srgb,
		DepthFormat: metadata.FormatD32Sfloat,
		SampleCount: metadata.SampleCount1,
	}
}

func testRenderPass() *metadata.RenderPassDescription {
	return &metadata.RenderPassDescription{
		Attachments: []metadata.AttachmentDescription{{
			Format:      metadata.FormatMatchSurface,
			FinalLayout: metadata.ImageLayoutPresentSrc,
		}},
		Subpasses: []metadata.SubpassDescription{{
			ColorAttachments: []metadata.AttachmentReference{{Attachment: 0, Layout: metadata.ImageLayoutColorAttachmentOptimal}},
		}},
	}
}

func testPipelineLayout() *metadata.PipelineLayoutDescription {
	return &metadata.PipelineLayoutDescription{
		DescriptorSetLayouts: []metadata.DescriptorSetLayoutDescription{{
			Bindings: []metadata.DescriptorSetLayoutBinding{
				{
					Binding:         0,
					DescriptorType:  metadata.DescriptorTypeUniformBuffer,
					DescriptorCount: 1,
					StageFlags:      metadata.ShaderStageVertex,
				},
				{
					Binding:           1,
					DescriptorType:    metadata.DescriptorTypeSampler,
					DescriptorCount:   1,
					StageFlags:        metadata.ShaderStageFragment,
					ImmutableSamplers: []metadata.SamplerDescription{metadata.DefaultSamplerDescription()},
				},
			},
		}},
	}
}

func buildCreateData(t *testing.T, set *ResourceLookupSet) *PipelineCreateData {
	t.Helper()
	vert, err := set.GetOrCreateShaderModule(&metadata.ShaderModuleDescription{Code: []byte("vert")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	frag, err := set.GetOrCreateShaderModule(&metadata.ShaderModuleDescription{Code: []byte("frag")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	layout, err := set.GetOrCreatePipelineLayout(testPipelineLayout())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &PipelineCreateData{
		Stages: []metadata.ShaderStageDescription{
			{Stage: metadata.ShaderStageVertex, EntryName: "main", ModuleHash: vert.Hash()},
			{Stage: metadata.ShaderStageFragment, EntryName: "main", ModuleHash: frag.Hash()},
		},
		ShaderModules:      []*ResourceArc[*ShaderModuleResource]{vert, frag},
		FixedFunctionState: &metadata.FixedFunctionState{},
		PipelineLayout:     layout,
		RenderPass:         testRenderPass(),
	}
}

func TestShaderModuleEndToEnd(t *testing.T) {
	backend := null.NewBackend()
	set := NewResourceLookupSet(backend, testFramesInFlight)

	a, _ := set.GetOrCreateShaderModule(&metadata.ShaderModuleDescription{Code: []byte{3, 2, 0, 7}})
	b, _ := set.GetOrCreateShaderModule(&metadata.ShaderModuleDescription{Code: []byte{3, 2, 0, 7}})
	if backend.CreatedCount(metadata.ResourceKindShaderModule) != 1 {
		t.Fatalf("expected one native module, got %d", backend.CreatedCount(metadata.ResourceKindShaderModule))
	}
	handle := uint64(a.Get().Handle)
	a.Release()
	b.Release()

	for i := 0; i < testFramesInFlight; i++ {
		set.Update()
		if !backend.IsLive(metadata.ResourceKindShaderModule, handle) {
			t.Fatalf("module destroyed after %d frames", i+1)
		}
	}
	set.Update()
	if backend.IsLive(metadata.ResourceKindShaderModule, handle) {
		t.Fatal("expected the module to be destroyed")
	}
	if backend.DestroyedCount(metadata.ResourceKindShaderModule) != 1 {
		t.Errorf("expected exactly one destruction, got %d", backend.DestroyedCount(metadata.ResourceKindShaderModule))
	}
	if leaked := set.Destroy(); leaked != 0 {
		t.Errorf("expected no leaks, got %d", leaked)
	}
	if err := backend.Shutdown(); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}

func TestPipelineHoldsItsDependencies(t *testing.T) {
	backend := null.NewBackend()
	set := NewResourceLookupSet(backend, testFramesInFlight)
	data := buildCreateData(t, set)

	renderPass, pipeline, err := set.GetOrCreateGraphicsPipeline(data, testSurface())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	renderPass2, pipeline2, err := set.GetOrCreateGraphicsPipeline(data, testSurface())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pipeline.SameResource(pipeline2) || !renderPass.SameResource(renderPass2) {
		t.Error("expected the same pipeline for the same surface")
	}
	if backend.CreatedCount(metadata.ResourceKindSampler) != 1 {
		t.Errorf("expected the immutable sampler to be created, got %d", backend.CreatedCount(metadata.ResourceKindSampler))
	}

	other := testSurface()
	other.Width = 640
	renderPass3, pipeline3, err := set.GetOrCreateGraphicsPipeline(data, other)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pipeline3.SameResource(pipeline) || renderPass3.SameResource(renderPass) {
		t.Error("expected a distinct pipeline for a different surface")
	}

	// Drop everything the test owns; the pipelines keep their inputs alive.
	data.Release()
	for _, arc := range []*ResourceArc[*RenderPassResource]{renderPass, renderPass2, renderPass3} {
		arc.Release()
	}
	pipeline2.Release()
	pipeline3.Release()
	for i := 0; i < 4*(testFramesInFlight+1); i++ {
		set.Update()
	}
	if backend.LiveCount(metadata.ResourceKindPipelineLayout) != 1 || backend.LiveCount(metadata.ResourceKindShaderModule) != 2 {
		t.Error("expected the live pipeline to keep its layout and modules")
	}
	if backend.LiveCount(metadata.ResourceKindRenderPass) != 1 {
		t.Errorf("expected 1 live render pass, got %d", backend.LiveCount(metadata.ResourceKindRenderPass))
	}

	pipeline.Release()
	for i := 0; i < 4*(testFramesInFlight+1); i++ {
		set.Update()
	}
	for _, kind := range []metadata.ResourceKind{
		metadata.ResourceKindGraphicsPipeline,
		metadata.ResourceKindRenderPass,
		metadata.ResourceKindPipelineLayout,
		metadata.ResourceKindDescriptorSetLayout,
		metadata.ResourceKindSampler,
		metadata.ResourceKindShaderModule,
	} {
		if n := backend.LiveCount(kind); n != 0 {
			t.Errorf("expected no live %s, got %d", kind, n)
		}
	}
	if err := backend.Shutdown(); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}

func TestDestroyFlushesDependencyChain(t *testing.T) {
	backend := null.NewBackend()
	set := NewResourceLookupSet(backend, testFramesInFlight)
	data := buildCreateData(t, set)
	renderPass, pipeline, err := set.GetOrCreateGraphicsPipeline(data, testSurface())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data.Release()
	renderPass.Release()
	pipeline.Release()

	if leaked := set.Destroy(); leaked != 0 {
		t.Errorf("expected no leaks, got %d", leaked)
	}
	if err := backend.Shutdown(); err != nil {
		t.Errorf("expected every object destroyed, got %v", err)
	}
}

func TestFailedPipelineReleasesRenderPass(t *testing.T) {
	backend := null.NewBackend()
	set := NewResourceLookupSet(backend, testFramesInFlight)
	data := buildCreateData(t, set)

	backend.FailNext(metadata.ResourceKindGraphicsPipeline, nil)
	_, _, err := set.GetOrCreateGraphicsPipeline(data, testSurface())
	if !errors.Is(err, core.ErrResourceCreationFailed) {
		t.Fatalf("expected ErrResourceCreationFailed, got %v", err)
	}
	for i := 0; i < testFramesInFlight+1; i++ {
		set.Update()
	}
	if n := backend.LiveCount(metadata.ResourceKindRenderPass); n != 0 {
		t.Errorf("expected the render pass to be released, %d live", n)
	}
	data.Release()
	set.Destroy()
	if err := backend.Shutdown(); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}

func TestImageViewsShareAndHoldImage(t *testing.T) {
	backend := null.NewBackend()
	set := NewResourceLookupSet(backend, testFramesInFlight)
	desc := metadata.NewTexture2DDescription(4, 4)
	image, err := set.CreateImage(desc, make([]byte, 64))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	other, _ := set.CreateImage(desc, make([]byte, 64))
	if image.SameResource(other) {
		t.Error("expected images to never be deduplicated")
	}
	other.Release()

	viewDesc := metadata.DefaultImageViewDescription(desc.Format)
	v1, err := set.GetOrCreateImageView(image, viewDesc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v2, _ := set.GetOrCreateImageView(image, viewDesc)
	if !v1.SameResource(v2) {
		t.Error("expected equal views of one image to be shared")
	}
	image.Release()
	v1.Release()
	for i := 0; i < testFramesInFlight+1; i++ {
		set.Update()
	}
	if backend.LiveCount(metadata.ResourceKindImage) != 1 {
		t.Errorf("expected the view to keep its image alive, %d live", backend.LiveCount(metadata.ResourceKindImage))
	}

	v2.Release()
	for i := 0; i < 2*(testFramesInFlight+1); i++ {
		set.Update()
	}
	if backend.LiveCount(metadata.ResourceKindImage) != 0 || backend.LiveCount(metadata.ResourceKindImageView) != 0 {
		t.Error("expected image and view destroyed")
	}
}

func TestCreateBufferUploadsData(t *testing.T) {
	backend := null.NewBackend()
	set := NewResourceLookupSet(backend, testFramesInFlight)
	buf, err := set.CreateBuffer(metadata.BufferDescription{Size: 4, Usage: metadata.BufferUsageVertex}, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := backend.BufferContents(buf.Get().Handle); len(got) != 4 || got[3] != 4 {
		t.Errorf("unexpected buffer contents %v", got)
	}
	if _, err := set.CreateBuffer(metadata.BufferDescription{Size: 2}, []byte{1, 2, 3}); err == nil {
		t.Error("expected an oversized upload to fail")
	}
	if n := backend.LiveCount(metadata.ResourceKindBuffer); n != 1 {
		t.Errorf("expected the failed buffer to be destroyed, %d live", n)
	}
	buf.Release()
	if leaked := set.Destroy(); leaked != 0 {
		t.Errorf("expected no leaks, got %d", leaked)
	}
}

func TestLookupSetMetrics(t *testing.T) {
	set := NewResourceLookupSet(null.NewBackend(), testFramesInFlight)
	s, _ := set.GetOrCreateSampler(metadata.DefaultSamplerDescription())
	set.Update()
	for _, m := range set.Metrics() {
		want := 0
		if m.Kind == metadata.ResourceKindSampler {
			want = 1
		}
		if m.Count != want || m.CreatedLastFrame != want {
			t.Errorf("%s: expected %d/%d, got %d/%d", m.Kind, want, want, m.Count, m.CreatedLastFrame)
		}
	}
	s.Release()
}

func TestInsertImageAdoptsNativeHandle(t *testing.T) {
	backend := null.NewBackend()
	set := NewResourceLookupSet(backend, testFramesInFlight)
	desc := metadata.NewTexture2DDescription(4, 4)
	h1, _ := backend.CreateImage(&desc, nil)
	h2, _ := backend.CreateImage(&desc, nil)

	a := set.InsertImage(desc, h1)
	b := set.InsertImage(desc, h2)
	if a.SameResource(b) {
		t.Error("expected inserted images never to be shared")
	}
	a.Release()
	for i := 0; i <= testFramesInFlight; i++ {
		set.Update()
	}
	if backend.IsLive(metadata.ResourceKindImage, uint64(h1)) {
		t.Error("expected the adopted image to be destroyed with its arc")
	}
	if !backend.IsLive(metadata.ResourceKindImage, uint64(h2)) {
		t.Error("expected the second image to stay alive")
	}
	b.Release()
	if leaked := set.Destroy(); leaked != 0 {
		t.Errorf("expected no leaks, got %d", leaked)
	}
	if err := backend.Shutdown(); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}
