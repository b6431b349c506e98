/*
Headless driver for the resource manager: watches an asset directory, imports
what it finds into the null backend and keeps ticking frames until stopped.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/null"
	"github.com/spaghettifunk/anima-gpu/engine/systems"
)

var (
	configPath  = flag.String("config", "", "TOML configuration file, defaults are used when empty")
	assetsDir   = flag.String("assets", "", "Asset directory, overrides assets.dir")
	backendName = flag.String("backend", "", "Renderer backend, overrides renderer.backend")
	surfaceFlag = flag.String("surface", "800x600", "Swapchain surface as WIDTHxHEIGHT[:SAMPLES]")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		core.LogError("%+v", err)
		os.Exit(1)
	}
}

func loadConfig() (*core.Config, error) {
	cfg := core.DefaultConfig()
	if *configPath != "" {
		loaded, err := core.LoadConfig(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if *assetsDir != "" {
		cfg.Assets.Dir = *assetsDir
	}
	if *backendName != "" {
		cfg.Renderer.Backend = *backendName
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Apply(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseSurface reads WIDTHxHEIGHT[:SAMPLES]. Color and depth formats are
// the ones a typical sRGB swapchain uses.
func parseSurface(value string) (metadata.SwapchainSurfaceInfo, error) {
	surface := metadata.SwapchainSurfaceInfo{
		ColorFormat: metadata.FormatB8G8R8A8Srgb,
		DepthFormat: metadata.FormatD32Sfloat,
		SampleCount: metadata.SampleCount1,
	}
	size, samples, hasSamples := strings.Cut(value, ":")
	w, h, ok := strings.Cut(size, "x")
	if !ok {
		return surface, errors.Newf("surface %q: expected WIDTHxHEIGHT", value)
	}
	width, err := strconv.ParseUint(w, 10, 32)
	if err != nil || width == 0 {
		return surface, errors.Newf("surface %q: invalid width", value)
	}
	height, err := strconv.ParseUint(h, 10, 32)
	if err != nil || height == 0 {
		return surface, errors.Newf("surface %q: invalid height", value)
	}
	surface.Width = uint32(width)
	surface.Height = uint32(height)

	if hasSamples {
		n, err := strconv.ParseUint(samples, 10, 32)
		if err != nil {
			return surface, errors.Newf("surface %q: invalid sample count", value)
		}
		switch metadata.SampleCount(n) {
		case metadata.SampleCount1, metadata.SampleCount2, metadata.SampleCount4, metadata.SampleCount8, metadata.SampleCount16:
			surface.SampleCount = metadata.SampleCount(n)
		default:
			return surface, errors.Newf("surface %q: sample count must be a power of two up to 16", value)
		}
	}
	return surface, nil
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Renderer.Backend != "null" {
		// The vulkan backend borrows a device from the embedding application.
		return errors.Wrapf(core.ErrInvalidConfig, "backend %q needs a device and cannot run headless", cfg.Renderer.Backend)
	}
	surface, err := parseSurface(*surfaceFlag)
	if err != nil {
		return err
	}

	backend := null.NewBackend()
	sm, err := systems.NewSystemManager(cfg, backend)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sm.Initialize(ctx); err != nil {
		_, _ = sm.Shutdown()
		return err
	}
	if err := sm.ResourceManager().AddSwapchain(surface); err != nil {
		_, _ = sm.Shutdown()
		return err
	}
	core.LogInfo("watching %s on a %s surface", cfg.Assets.Dir, surface)

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	ticker := time.NewTicker(cfg.CLI.Tick.Duration)
	defer ticker.Stop()

	tick := 0
loop:
	for {
		select {
		case sig := <-sigCh:
			core.LogInfo("received %s, shutting down", sig)
			break loop
		case <-ticker.C:
			sm.Update()
			tick++
			if cfg.CLI.MetricsEvery > 0 && tick%cfg.CLI.MetricsEvery == 0 {
				logMetrics(sm.ResourceManager().Metrics())
			}
		}
	}

	cancel()
	sm.ResourceManager().RemoveSwapchain(surface)
	leaked, shutdownErr := sm.Shutdown()
	if leaked > 0 {
		shutdownErr = errors.CombineErrors(shutdownErr, errors.Newf("%d resources leaked", leaked))
	}
	if err := backend.Shutdown(); err != nil {
		shutdownErr = errors.CombineErrors(shutdownErr, err)
	}
	return shutdownErr
}

func logMetrics(m systems.ResourceManagerMetrics) {
	var caches []string
	for _, c := range m.Caches {
		if c.Count == 0 && c.PendingDestroy == 0 {
			continue
		}
		caches = append(caches, fmt.Sprintf("%s=%d(+%d,-%d)", c.Kind, c.Count, c.CreatedLastFrame, c.PendingDestroy))
	}
	core.LogInfo("%.1f ticks/s avg %.2fms | assets shaders=%d pipelines=%d materials=%d instances=%d images=%d buffers=%d | descriptor layouts=%d | %s",
		m.TicksPerSecond, m.AverageTickMS,
		m.Assets.Shaders, m.Assets.Pipelines, m.Assets.Materials, m.Assets.MaterialInstances, m.Assets.Images, m.Assets.Buffers,
		len(m.DescriptorSets), strings.Join(caches, " "))
}
