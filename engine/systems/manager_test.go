package systems

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/anima-gpu/engine/assets"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/null"
)

const managerPipeline = `
[[render_pass.attachments]]
format = "match_surface"
load_op = "clear"
final_layout = "present_src"

[[render_pass.subpasses]]
color_attachments = [{ attachment = 0, layout = "color_attachment_optimal" }]

[[color_blend.attachments]]
blend = false
`

const managerMaterial = `
[[passes]]
name = "opaque"
pipeline = "pipelines/opaque.pipeline.toml"

[[passes.shaders]]
stage = "vertex"
shader = "shaders/mesh.vert.spv"

[[passes.shaders]]
stage = "fragment"
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
slot = "params"
internal_buffer_size = 16
`

const managerInstance = `
material = "materials/basic.material.toml"

[[slots]]
name = "albedo"
image = "textures/brick.png"
sampler = { mag_filter = "nearest" }

[[slots]]
name = "params"
floats = [1.0, 0.5, 0.25, 1.0]
`

func writeAsset(t *testing.T, dir, rel string, data []byte) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	img.Set(1, 1, color.NRGBA{B: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return buf.Bytes()
}

func TestSystemManagerImportsAssetDirectory(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "shaders/mesh.vert.spv", spirv(1))
	writeAsset(t, dir, "shaders/mesh.frag.spv", spirv(2))
	writeAsset(t, dir, "pipelines/opaque.pipeline.toml", []byte(managerPipeline))
	writeAsset(t, dir, "materials/basic.material.toml", []byte(managerMaterial))
	writeAsset(t, dir, "materials/brick.instance.toml", []byte(managerInstance))
	writeAsset(t, dir, "textures/brick.png", pngBytes(t))

	config := core.DefaultConfig()
	config.Assets.Dir = dir
	config.Assets.Workers = 2
	config.Assets.RetryAttempts = 100
	config.Assets.RetryDelay = core.Duration{Duration: 5 * time.Millisecond}

	backend := null.NewBackend()
	sm, err := NewSystemManager(config, backend)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sm.Initialize(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := sm.ResourceManager()
	if err := rm.AddSwapchain(mainSurface); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	instance := assets.HandleForPath("materials/brick.instance.toml")
	deadline := time.Now().Add(10 * time.Second)
	for {
		sm.Update()
		if _, ok := rm.CurrentFramePassInfo(instance, 0); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("assets never finished importing, %d loaded", sm.AssetManager().Loaded())
		}
		time.Sleep(time.Millisecond)
	}

	info, ok := rm.PipelineInfo(materialHandle, mainSurface, 0)
	if !ok || info.Pipeline == 0 {
		t.Errorf("expected a pipeline for the material on the registered surface")
	}
	if backend.LiveCount(metadata.ResourceKindImage) != 1 {
		t.Errorf("expected the png uploaded as one image")
	}

	rm.RemoveSwapchain(mainSurface)
	leaked, err := sm.Shutdown()
	if err != nil {
		t.Logf("shutdown: %v", err)
	}
	if leaked != 0 {
		t.Errorf("expected no leaks, got %d", leaked)
	}
	if err := backend.Shutdown(); err != nil {
		t.Errorf("unexpected backend shutdown error: %v", err)
	}
}

func TestSystemManagerRejectsInvalidWorkers(t *testing.T) {
	config := core.DefaultConfig()
	config.Assets.Workers = 0
	if _, err := NewSystemManager(config, null.NewBackend()); err == nil {
		t.Errorf("expected an error without workers")
	}
}
