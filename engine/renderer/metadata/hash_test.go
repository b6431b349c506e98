package metadata

import (
	"bytes"
	"testing"
)

func testLayout() *DescriptorSetLayoutDescription {
	return &DescriptorSetLayoutDescription{
		Bindings: []DescriptorSetLayoutBinding{
			{Binding: 0, DescriptorType: DescriptorTypeUniformBuffer, DescriptorCount: 1, StageFlags: ShaderStageVertex, InternalBufferPerDescriptorSize: 64},
			{Binding: 1, DescriptorType: DescriptorTypeCombinedImageSampler, DescriptorCount: 1, StageFlags: ShaderStageFragment},
		},
	}
}

func TestEqualDescriptionsHashEqual(t *testing.T) {
	h1, b1 := HashOf(testLayout())
	h2, b2 := HashOf(testLayout())
	if h1 != h2 {
		t.Errorf("expected equal hashes, got %x and %x", h1, h2)
	}
	if !bytes.Equal(b1, b2) {
		t.Error("expected identical canonical encodings")
	}
}

func TestDifferentDescriptionsHashDifferently(t *testing.T) {
	base, _ := HashOf(testLayout())

	changed := testLayout()
	changed.Bindings[1].StageFlags = ShaderStageAllGraphics
	other, _ := HashOf(changed)
	if base == other {
		t.Error("expected a different hash after changing stage flags")
	}

	withSampler := testLayout()
	withSampler.Bindings[1].ImmutableSamplers = []SamplerDescription{DefaultSamplerDescription()}
	other, _ = HashOf(withSampler)
	if base == other {
		t.Error("expected a different hash after adding an immutable sampler")
	}
}

func TestLayoutHashIgnoresBindingOrder(t *testing.T) {
	base, baseBytes := HashOf(testLayout())

	swapped := testLayout()
	swapped.Bindings[0], swapped.Bindings[1] = swapped.Bindings[1], swapped.Bindings[0]
	got, gotBytes := HashOf(swapped)
	if got != base || !bytes.Equal(gotBytes, baseBytes) {
		t.Errorf("expected the same hash for reordered bindings, got %x and %x", base, got)
	}
	if swapped.Bindings[0].Binding != 1 {
		t.Errorf("hashing must not reorder the description")
	}

	implicit := testLayout()
	implicit.Bindings[1].DescriptorCount = 0
	if got, _ := HashOf(implicit); got != base {
		t.Errorf("expected a count of 0 to hash like 1, got %x and %x", base, got)
	}

	array := testLayout()
	array.Bindings[1].DescriptorCount = 4
	if got, _ := HashOf(array); got == base {
		t.Errorf("expected a different hash for an array binding")
	}

	pl := &PipelineLayoutDescription{DescriptorSetLayouts: []DescriptorSetLayoutDescription{*testLayout()}}
	plSwapped := &PipelineLayoutDescription{DescriptorSetLayouts: []DescriptorSetLayoutDescription{*swapped}}
	a, _ := HashOf(pl)
	b, _ := HashOf(plSwapped)
	if a != b {
		t.Errorf("expected equal pipeline layout hashes, got %x and %x", a, b)
	}
}

func TestLengthPrefixPreventsAliasing(t *testing.T) {
	a := NewHasher().Bytes([]byte{1, 2}).Bytes([]byte{3}).Encoding()
	b := NewHasher().Bytes([]byte{1}).Bytes([]byte{2, 3}).Encoding()
	if bytes.Equal(a, b) {
		t.Error("expected different encodings for differently split byte strings")
	}
}

func TestShaderModuleHashFollowsCode(t *testing.T) {
	s1 := &ShaderModuleDescription{Code: []byte{0x03, 0x02, 0x23, 0x07}}
	s2 := &ShaderModuleDescription{Code: []byte{0x03, 0x02, 0x23, 0x07}}
	s3 := &ShaderModuleDescription{Code: []byte{0x03, 0x02, 0x23, 0x08}}
	h1, _ := HashOf(s1)
	h2, _ := HashOf(s2)
	h3, _ := HashOf(s3)
	if h1 != h2 {
		t.Error("expected identical code to hash equal")
	}
	if h1 == h3 {
		t.Error("expected different code to hash differently")
	}
	if s1.ContentHash() != s2.ContentHash() {
		t.Error("expected identical content hashes")
	}
}

func TestAttachmentResolve(t *testing.T) {
	surface := &SwapchainSurfaceInfo{Width: 800, Height: 600, ColorFormat: FormatB8G8R8A8Srgb, DepthFormat: FormatD32Sfloat, SampleCount: SampleCount1}
	color := AttachmentDescription{Format: FormatMatchSurface}.Resolve(surface)
	if color.Format != FormatB8G8R8A8Srgb {
		t.Errorf("expected surface color format, got %d", color.Format)
	}
	if color.Samples != SampleCount1 {
		t.Errorf("expected surface sample count, got %d", color.Samples)
	}
	depth := AttachmentDescription{Format: FormatMatchDepth, Samples: SampleCount4}.Resolve(surface)
	if depth.Format != FormatD32Sfloat {
		t.Errorf("expected surface depth format, got %d", depth.Format)
	}
	if depth.Samples != SampleCount4 {
		t.Errorf("expected explicit sample count to be kept, got %d", depth.Samples)
	}
}

func TestRenderPassKeyIncludesSurface(t *testing.T) {
	rp := &RenderPassDescription{Attachments: []AttachmentDescription{{Format: FormatMatchSurface}}}
	a, _ := HashOf(RenderPassKey{RenderPass: rp, Surface: SwapchainSurfaceInfo{Width: 800, Height: 600}})
	b, _ := HashOf(RenderPassKey{RenderPass: rp, Surface: SwapchainSurfaceInfo{Width: 1024, Height: 768}})
	if a == b {
		t.Error("expected render pass keys for different surfaces to differ")
	}
}

func TestAlign(t *testing.T) {
	for _, tt := range []struct{ in, granularity, want uint64 }{
		{0, 256, 0},
		{1, 256, 256},
		{256, 256, 256},
		{257, 256, 512},
		{12, 4, 12},
	} {
		if got := Align(tt.in, tt.granularity); got != tt.want {
			t.Errorf("Align(%d, %d) = %d, want %d", tt.in, tt.granularity, got, tt.want)
		}
	}
}
