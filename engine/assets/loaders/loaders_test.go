package loaders

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/assets"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

func resolvePaths(ref string) assets.LoadHandle {
	return assets.HandleForPath(ref)
}

func spirvHeader() []byte {
	code := make([]byte, 20)
	binary.LittleEndian.PutUint32(code, spirvMagic)
	binary.LittleEndian.PutUint32(code[4:], 0x00010000)
	return code
}

func TestShaderLoaderValidatesSPIRV(t *testing.T) {
	sl := &ShaderLoader{}
	v, err := sl.Load("a.spv", spirvHeader(), resolvePaths)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := v.(*assets.ShaderAsset); len(got.Code) != 20 {
		t.Errorf("expected 20 bytes of code, got %d", len(got.Code))
	}

	bad := spirvHeader()
	bad[0] = 0
	if _, err := sl.Load("a.spv", bad, resolvePaths); !errors.Is(err, ErrInvalidSPIRV) {
		t.Errorf("expected ErrInvalidSPIRV for a wrong magic, got %v", err)
	}
	if _, err := sl.Load("a.spv", spirvHeader()[:18], resolvePaths); !errors.Is(err, ErrInvalidSPIRV) {
		t.Errorf("expected ErrInvalidSPIRV for an unaligned module, got %v", err)
	}
}

func TestShaderLoaderCompilesWGSL(t *testing.T) {
	src := `@fragment
fn main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 0.0, 0.0, 1.0);
}
`
	v, err := (&ShaderLoader{}).Load("red.wgsl", []byte(src), resolvePaths)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	code := v.(*assets.ShaderAsset).Code
	if binary.LittleEndian.Uint32(code) != spirvMagic {
		t.Errorf("expected SPIR-V output")
	}
	if _, err := (&ShaderLoader{}).Load("broken.wgsl", []byte("fn ("), resolvePaths); err == nil {
		t.Errorf("expected a compile error")
	}
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestImageLoaderDecodesRGBA(t *testing.T) {
	v, err := (&ImageLoader{}).Load("a.png", encodePNG(t, 3, 2), resolvePaths)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	img := v.(*assets.ImageAsset)
	if img.Width != 3 || img.Height != 2 || img.Format != metadata.FormatR8G8B8A8Unorm {
		t.Fatalf("unexpected image %dx%d format %d", img.Width, img.Height, img.Format)
	}
	if len(img.Data) != 3*2*4 {
		t.Fatalf("expected tightly packed pixels, got %d bytes", len(img.Data))
	}
	// pixel (2, 1)
	px := img.Data[(1*3+2)*4:]
	if px[0] != 2 || px[1] != 1 || px[2] != 7 || px[3] != 255 {
		t.Errorf("unexpected pixel %v", px[:4])
	}
}

func TestImageLoaderFlipAndScale(t *testing.T) {
	v, err := (&ImageLoader{FlipY: true, SRGB: true}).Load("a.png", encodePNG(t, 2, 2), resolvePaths)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	img := v.(*assets.ImageAsset)
	if img.Format != metadata.FormatR8G8B8A8Srgb {
		t.Errorf("expected srgb format")
	}
	if img.Data[1] != 1 {
		t.Errorf("expected the bottom row first, got green %d", img.Data[1])
	}

	v, err = (&ImageLoader{MaxDimension: 4}).Load("a.png", encodePNG(t, 16, 8), resolvePaths)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	img = v.(*assets.ImageAsset)
	if img.Width != 4 || img.Height != 2 || len(img.Data) != 4*2*4 {
		t.Errorf("expected a 4x2 image, got %dx%d", img.Width, img.Height)
	}

	if _, err := (&ImageLoader{}).Load("a.png", []byte("nope"), resolvePaths); err == nil {
		t.Errorf("expected a decode error")
	}
}

func TestBinaryLoader(t *testing.T) {
	v, err := (&BinaryLoader{}).Load("a.bin", []byte{1, 2, 3, 4}, resolvePaths)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	buf := v.(*assets.BufferAsset)
	if buf.Usage&metadata.BufferUsageTransferDst == 0 || buf.Usage&metadata.BufferUsageVertex == 0 {
		t.Errorf("unexpected usage %b", buf.Usage)
	}
	if _, err := (&BinaryLoader{}).Load("a.bin", nil, resolvePaths); err == nil {
		t.Errorf("expected an error for an empty buffer")
	}
}

const opaquePipeline = `
dynamic_states = ["viewport", "scissor"]

[[render_pass.attachments]]
format = "match_surface"
load_op = "clear"
final_layout = "present_src"

[[render_pass.attachments]]
format = "match_depth"
final_layout = "depth_stencil_attachment_optimal"

[[render_pass.subpasses]]
color_attachments = [{ attachment = 0, layout = "color_attachment_optimal" }]
depth_stencil_attachment = { attachment = 1, layout = "depth_stencil_attachment_optimal" }

[[vertex_input.bindings]]
binding = 0
stride = 20

[[vertex_input.attributes]]
location = 0
format = "r32g32b32_sfloat"

[[vertex_input.attributes]]
location = 1
format = "r32g32_sfloat"
offset = 12

[rasterization]
cull_mode = "back"

[depth_stencil]
depth_test = true
depth_write = true

[[color_blend.attachments]]
blend = false
`

func TestPipelineLoader(t *testing.T) {
	v, err := (&PipelineLoader{}).Load("opaque.pipeline.toml", []byte(opaquePipeline), resolvePaths)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := v.(*assets.PipelineAsset)
	if len(p.RenderPass.Attachments) != 2 || p.RenderPass.Attachments[1].Format != metadata.FormatMatchDepth {
		t.Fatalf("unexpected attachments %+v", p.RenderPass.Attachments)
	}
	sp := p.RenderPass.Subpasses[0]
	if sp.DepthStencilAttachment == nil || sp.DepthStencilAttachment.Attachment != 1 {
		t.Errorf("expected a depth attachment")
	}
	s := p.FixedFunctionState
	if s.Rasterization.CullMode != metadata.CullModeBack || s.Rasterization.LineWidth != 1 {
		t.Errorf("unexpected rasterization %+v", s.Rasterization)
	}
	if s.DepthStencil.DepthCompareOp != metadata.CompareOpLess || !s.DepthStencil.DepthWriteEnable {
		t.Errorf("unexpected depth state %+v", s.DepthStencil)
	}
	if len(s.VertexInput.Attributes) != 2 || s.VertexInput.Attributes[1].Offset != 12 {
		t.Errorf("unexpected vertex input %+v", s.VertexInput)
	}
	if s.ColorBlend.Attachments[0].ColorWriteMask != metadata.ColorComponentAll {
		t.Errorf("expected the full write mask by default")
	}
	if s.Multisample.RasterizationSamples != metadata.SampleCount1 {
		t.Errorf("expected one sample by default")
	}
}

func TestPipelineLoaderErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
	}{
		{"no subpass", `[[render_pass.attachments]]
format = "match_surface"`},
		{"unknown enum", `[[render_pass.subpasses]]
[rasterization]
cull_mode = "sideways"`},
		{"unknown key", `[[render_pass.subpasses]]
[rasterization]
cull = "back"`},
		{"dangling attachment", `[[render_pass.subpasses]]
color_attachments = [{ attachment = 3 }]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := (&PipelineLoader{}).Load("p.pipeline.toml", []byte(tt.file), resolvePaths); err == nil {
				t.Errorf("expected an error")
			}
		})
	}
	_, err := (&PipelineLoader{}).Load("p.pipeline.toml", []byte(`[[render_pass.subpasses]]
[rasterization]
cull_mode = "sideways"`), resolvePaths)
	if !errors.Is(err, ErrUnknownValue) {
		t.Errorf("expected ErrUnknownValue, got %v", err)
	}
}

const basicMaterial = `
[[passes]]
name = "opaque"
pipeline = "pipelines/opaque.pipeline.toml"

[[passes.shaders]]
stage = "vertex"
shader = "shaders/mesh.vert.spv"

[[passes.shaders]]
stage = "fragment"
entry = "fs_main"
shader = "shaders/mesh.frag.spv"

[[passes.set_layouts]]

[[passes.set_layouts.bindings]]
binding = 0
type = "combined_image_sampler"
stages = ["fragment"]
slot = "albedo"

[[passes.set_layouts.bindings]]
binding = 1
type = "uniform_buffer"
stages = ["vertex", "fragment"]
slot = "params"
internal_buffer_size = 16

[[passes.set_layouts.bindings]]
binding = 2
type = "sampler"
slot = "shadow_sampler"
immutable_samplers = [{ compare_op = "less", address_mode_u = "clamp_to_edge" }]

[[passes.push_constants]]
stages = ["vertex"]
size = 64
`

func TestMaterialLoader(t *testing.T) {
	v, err := (&MaterialLoader{}).Load("basic.material.toml", []byte(basicMaterial), resolvePaths)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := v.(*assets.MaterialAsset)
	if len(m.Passes) != 1 {
		t.Fatalf("expected 1 pass, got %d", len(m.Passes))
	}
	pass := m.Passes[0]
	if pass.Pipeline != assets.HandleForPath("pipelines/opaque.pipeline.toml") {
		t.Errorf("pipeline not resolved by path")
	}
	if pass.ShaderStages[0].EntryName != "main" || pass.ShaderStages[1].EntryName != "fs_main" {
		t.Errorf("unexpected entry points %+v", pass.ShaderStages)
	}
	if pass.ShaderStages[1].Shader != assets.HandleForPath("shaders/mesh.frag.spv") {
		t.Errorf("shader not resolved by path")
	}

	layout := pass.ShaderInterface.DescriptorSetLayouts[0]
	params := layout.Bindings[1]
	if params.StageFlags != metadata.ShaderStageVertex|metadata.ShaderStageFragment || params.InternalBufferPerDescriptorSize != 16 {
		t.Errorf("unexpected params binding %+v", params)
	}
	shadow := layout.Bindings[2]
	if len(shadow.ImmutableSamplers) != 1 || !shadow.ImmutableSamplers[0].CompareEnable {
		t.Errorf("unexpected immutable samplers %+v", shadow.ImmutableSamplers)
	}
	if shadow.ImmutableSamplers[0].AddressModeU != metadata.SamplerAddressModeClampToEdge {
		t.Errorf("address mode not applied")
	}

	lookup := pass.ShaderInterface.SlotNameLookup()
	if locs := lookup["params"]; len(locs) != 1 || locs[0] != (assets.SlotLocation{LayoutIndex: 0, BindingIndex: 1}) {
		t.Errorf("unexpected slot lookup %+v", locs)
	}
	pl := pass.ShaderInterface.PipelineLayout()
	if len(pl.PushConstantRanges) != 1 || pl.PushConstantRanges[0].Size != 64 {
		t.Errorf("unexpected push constants %+v", pl.PushConstantRanges)
	}
}

func TestMaterialLoaderRejectsDuplicateBindings(t *testing.T) {
	file := `
[[passes]]
pipeline = "p.pipeline.toml"
shaders = [{ stage = "vertex", shader = "v.spv" }]

[[passes.set_layouts]]
bindings = [{ binding = 0, type = "uniform_buffer" }, { binding = 0, type = "sampler" }]
`
	if _, err := (&MaterialLoader{}).Load("m.material.toml", []byte(file), resolvePaths); err == nil {
		t.Errorf("expected an error for a duplicate binding")
	}
}

func TestMaterialInstanceLoader(t *testing.T) {
	file := `
material = "materials/basic.material.toml"

[[slots]]
name = "albedo"
image = "textures/brick.png"
sampler = { mag_filter = "nearest" }

[[slots]]
name = "params"
floats = [1.0, 0.5]
`
	v, err := (&MaterialInstanceLoader{}).Load("brick.instance.toml", []byte(file), resolvePaths)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mi := v.(*assets.MaterialInstanceAsset)
	if mi.Material != assets.HandleForPath("materials/basic.material.toml") {
		t.Errorf("material not resolved by path")
	}
	albedo := mi.Slots[0]
	if albedo.Image == nil || *albedo.Image != assets.HandleForPath("textures/brick.png") {
		t.Errorf("image not resolved by path")
	}
	if albedo.Sampler == nil || albedo.Sampler.MagFilter != metadata.FilterNearest || albedo.Sampler.MinFilter != metadata.FilterLinear {
		t.Errorf("unexpected sampler %+v", albedo.Sampler)
	}
	params := mi.Slots[1]
	if len(params.BufferData) != 8 || binary.LittleEndian.Uint32(params.BufferData[4:]) != 0x3f000000 {
		t.Errorf("unexpected buffer data %v", params.BufferData)
	}
}
