package vulkan

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

func TestToFormat(t *testing.T) {
	tests := []struct {
		in   metadata.Format
		want vk.Format
	}{
		{metadata.FormatUndefined, vk.FormatUndefined},
		{metadata.FormatR8G8B8A8Unorm, vk.FormatR8g8b8a8Unorm},
		{metadata.FormatB8G8R8A8Srgb, vk.FormatB8g8r8a8Srgb},
		{metadata.FormatD32Sfloat, vk.FormatD32Sfloat},
		{metadata.FormatR32G32B32Sfloat, vk.FormatR32g32b32Sfloat},
	}
	for _, tt := range tests {
		got, err := toFormat(tt.in)
		if err != nil {
			t.Fatalf("toFormat(%d): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("toFormat(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestToFormatRejectsSurfacePlaceholders(t *testing.T) {
	for _, f := range []metadata.Format{metadata.FormatMatchSurface, metadata.FormatMatchDepth} {
		if _, err := toFormat(f); !errors.Is(err, errUntranslatable) {
			t.Errorf("toFormat(%#x): expected errUntranslatable, got %v", f, err)
		}
	}
}

func TestToDescriptorType(t *testing.T) {
	got, err := toDescriptorType(metadata.DescriptorTypeCombinedImageSampler)
	if err != nil || got != vk.DescriptorTypeCombinedImageSampler {
		t.Errorf("combined image sampler: got %d, %v", got, err)
	}
	if _, err := toDescriptorType(metadata.DescriptorType(99)); !errors.Is(err, errUntranslatable) {
		t.Errorf("expected errUntranslatable for an unknown descriptor type, got %v", err)
	}
}

func TestEnumConversions(t *testing.T) {
	if got := toImageLayout(metadata.ImageLayoutPresentSrc); got != vk.ImageLayoutPresentSrc {
		t.Errorf("present layout: got %d", got)
	}
	if got := toImageLayout(metadata.ImageLayoutUndefined); got != vk.ImageLayoutUndefined {
		t.Errorf("undefined layout: got %d", got)
	}
	if got := toImageViewType(metadata.ImageViewType2DArray); got != vk.ImageViewType2dArray {
		t.Errorf("2d array view: got %d", got)
	}
	if got := toImageViewType(metadata.ImageViewType2D); got != vk.ImageViewType2d {
		t.Errorf("2d view: got %d", got)
	}
	if got := toCullMode(metadata.CullModeBack); got != vk.CullModeFlags(vk.CullModeBackBit) {
		t.Errorf("back culling: got %d", got)
	}
	if got := toCullMode(metadata.CullModeNone); got != vk.CullModeFlags(vk.CullModeNone) {
		t.Errorf("no culling: got %d", got)
	}
	if got := toSampleCount(0); got != vk.SampleCount1Bit {
		t.Errorf("zero samples should mean one, got %d", got)
	}
	if got := toSampleCount(metadata.SampleCount4); got != vk.SampleCount4Bit {
		t.Errorf("4 samples: got %d", got)
	}
	if got := toShaderStages(metadata.ShaderStageVertex | metadata.ShaderStageFragment); got != vk.ShaderStageFlags(vk.ShaderStageVertexBit)|vk.ShaderStageFlags(vk.ShaderStageFragmentBit) {
		t.Errorf("vertex|fragment stages: got %d", got)
	}
	if got := toBufferUsage(metadata.BufferUsageUniform); got != vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit) {
		t.Errorf("uniform usage: got %d", got)
	}
}

func TestMemoryProperties(t *testing.T) {
	gpu := toMemoryProperties(metadata.MemoryUsageGPUOnly)
	if gpu != vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit) {
		t.Errorf("gpu only: got %b", gpu)
	}
	upload := toMemoryProperties(metadata.MemoryUsageCPUToGPU)
	if upload&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) == 0 {
		t.Errorf("cpu to gpu memory must be host visible, got %b", upload)
	}
	readback := toMemoryProperties(metadata.MemoryUsageGPUToCPU)
	if readback&vk.MemoryPropertyFlags(vk.MemoryPropertyHostCachedBit) == 0 {
		t.Errorf("gpu to cpu memory should be cached, got %b", readback)
	}

	if hostVisible(metadata.MemoryUsageGPUOnly) {
		t.Errorf("gpu only memory is not host visible")
	}
	if !hostVisible(metadata.MemoryUsageCPUToGPU) || !hostVisible(metadata.MemoryUsageGPUToCPU) {
		t.Errorf("host accessible memory usages must report host visible")
	}
}

func TestSubpassDescription(t *testing.T) {
	s := metadata.SubpassDescription{
		ColorAttachments: []metadata.AttachmentReference{
			{Attachment: 0, Layout: metadata.ImageLayoutColorAttachmentOptimal},
		},
		DepthStencilAttachment: &metadata.AttachmentReference{
			Attachment: 1,
			Layout:     metadata.ImageLayoutDepthStencilAttachmentOptimal,
		},
	}
	got := toSubpassDescription(s)
	if got.ColorAttachmentCount != 1 || len(got.PColorAttachments) != 1 {
		t.Fatalf("expected one color attachment, got %d", got.ColorAttachmentCount)
	}
	if got.PColorAttachments[0].Layout != vk.ImageLayoutColorAttachmentOptimal {
		t.Errorf("color layout: got %d", got.PColorAttachments[0].Layout)
	}
	if got.PDepthStencilAttachment == nil || got.PDepthStencilAttachment.Attachment != 1 {
		t.Fatalf("expected depth attachment 1")
	}
	if got.PResolveAttachments != nil {
		t.Errorf("no resolve attachments were declared")
	}
	if got.PipelineBindPoint != vk.PipelineBindPointGraphics {
		t.Errorf("expected graphics bind point")
	}
}

func TestAttachmentResolvedAgainstSurface(t *testing.T) {
	surface := metadata.SwapchainSurfaceInfo{
		Width:       640,
		Height:      480,
		ColorFormat: metadata.FormatB8G8R8A8Srgb,
		DepthFormat: metadata.FormatD32Sfloat,
		SampleCount: metadata.SampleCount1,
	}
	a := metadata.AttachmentDescription{
		Format:      metadata.FormatMatchSurface,
		LoadOp:      metadata.AttachmentLoadOpClear,
		StoreOp:     metadata.AttachmentStoreOpStore,
		FinalLayout: metadata.ImageLayoutPresentSrc,
	}
	if _, err := toAttachmentDescription(a); err == nil {
		t.Fatalf("an unresolved attachment format must not translate")
	}
	got, err := toAttachmentDescription(a.Resolve(&surface))
	if err != nil {
		t.Fatal(err)
	}
	if got.Format != vk.FormatB8g8r8a8Srgb {
		t.Errorf("format: got %d", got.Format)
	}
	if got.Samples != vk.SampleCount1Bit {
		t.Errorf("samples: got %d", got.Samples)
	}
	if got.FinalLayout != vk.ImageLayoutPresentSrc {
		t.Errorf("final layout: got %d", got.FinalLayout)
	}
}

func TestVertexInput(t *testing.T) {
	state := metadata.VertexInputState{
		Bindings: []metadata.VertexInputBinding{{Binding: 0, Stride: 20}},
		Attributes: []metadata.VertexInputAttribute{
			{Location: 0, Format: metadata.FormatR32G32B32Sfloat},
			{Location: 1, Format: metadata.FormatR32G32Sfloat, Offset: 12},
		},
	}
	bindings, attributes, err := toVertexInput(&state)
	if err != nil {
		t.Fatal(err)
	}
	if len(bindings) != 1 || bindings[0].Stride != 20 {
		t.Errorf("bindings: got %+v", bindings)
	}
	if len(attributes) != 2 || attributes[1].Format != vk.FormatR32g32Sfloat || attributes[1].Offset != 12 {
		t.Errorf("attributes: got %+v", attributes)
	}

	state.Attributes[0].Format = metadata.FormatMatchDepth
	if _, _, err := toVertexInput(&state); err == nil {
		t.Errorf("expected an error for a placeholder attribute format")
	}
}

func TestSpirvWords(t *testing.T) {
	code := []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00}
	words, err := spirvWords(code)
	if err != nil {
		t.Fatal(err)
	}
	if len(words) != 2 || words[0] != 0x07230203 || words[1] != 0x00010000 {
		t.Errorf("words: got %#x", words)
	}

	if _, err := spirvWords(nil); err == nil {
		t.Errorf("expected an error for empty code")
	}
	if _, err := spirvWords(code[:6]); err == nil {
		t.Errorf("expected an error for a partial word")
	}
}

func TestShaderModuleCreateInfo(t *testing.T) {
	code := []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00, 0x0b, 0x00, 0x08, 0x00}
	info, err := shaderModuleCreateInfo(code)
	if err != nil {
		t.Fatal(err)
	}
	if info.SType != vk.StructureTypeShaderModuleCreateInfo {
		t.Errorf("expected shader module create info, got %d", info.SType)
	}
	if info.CodeSize != uint64(len(code)) {
		t.Errorf("expected code size %d bytes, got %d", len(code), info.CodeSize)
	}
	if len(info.PCode) != len(code)/4 {
		t.Errorf("expected %d words, got %d", len(code)/4, len(info.PCode))
	}

	if _, err := shaderModuleCreateInfo(code[:5]); err == nil {
		t.Errorf("expected an error for a partial word")
	}
}

func TestVulkanSafeString(t *testing.T) {
	if got := VulkanSafeString("main"); got != "main\x00" {
		t.Errorf("got %q", got)
	}
	if got := VulkanSafeString("main\x00"); got != "main\x00" {
		t.Errorf("already terminated strings must not grow, got %q", got)
	}
	if got := VulkanSafeString(""); got != "\x00" {
		t.Errorf("got %q", got)
	}
}

func TestHandleTablesShareIds(t *testing.T) {
	var next atomic.Uint64
	a := newHandleTable[string](&next)
	b := newHandleTable[int](&next)

	var wg sync.WaitGroup
	ids := make(chan uint64, 200)
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); ids <- a.insert("x") }()
		go func() { defer wg.Done(); ids <- b.insert(1) }()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		if id == 0 {
			t.Fatalf("zero is never a valid handle")
		}
		if seen[id] {
			t.Fatalf("id %d issued twice", id)
		}
		seen[id] = true
	}
	if a.len() != 100 || b.len() != 100 {
		t.Errorf("expected 100 entries per table, got %d and %d", a.len(), b.len())
	}

	if _, ok := a.remove(1_000_000); ok {
		t.Errorf("removing an unknown id must fail")
	}
}

func TestLockPoolSerializesGroup(t *testing.T) {
	pool := NewVulkanLockPool()
	var inside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.SafeCall(BufferManagement, func() error {
				if inside.Add(1) != 1 {
					t.Errorf("two callers inside the same lock group")
				}
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	want := errors.New("boom")
	if err := pool.SafeQueueCall(0, func() error { return want }); !errors.Is(err, want) {
		t.Errorf("SafeQueueCall must return the callback error, got %v", err)
	}
}
