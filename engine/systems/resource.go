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

/** @brief The configuration for the resource manager */
type ResourceManagerConfig struct {
	/** @brief Frames the GPU may still be reading after submission. */
	MaxFramesInFlight uint32
	/** @brief Descriptor sets per descriptor pool chunk. */
	MaxDescriptorsPerPool uint32
	/** @brief Native descriptor pools per layout, 0 means unbounded. */
	MaxPoolsPerLayout uint32
}

type LoadedAssetMetrics struct {
	Shaders           int
	Pipelines         int
	Materials         int
	MaterialInstances int
	Images            int
	Buffers           int
}

type ResourceManagerMetrics struct {
	Caches         []resources.CacheMetrics
	Assets         LoadedAssetMetrics
	DescriptorSets []descriptors.PoolMetrics
	AverageTickMS  float64
	TicksPerSecond float64
}

// ResourceManager consumes the asset load queues and turns the assets into
// native objects. Everything but the queues is owned by the goroutine calling
// the frame methods.
type ResourceManager struct {
	config  ResourceManagerConfig
	backend renderer.Backend

	queues         *assets.LoadQueueSet
	lookup         *resources.ResourceLookupSet
	descriptorSets *descriptors.DescriptorSetPoolManager
	swapchains     *resources.SwapchainSurfaceSet

	shaders           *assets.AssetLookup[LoadedShaderModule]
	pipelines         *assets.AssetLookup[LoadedPipeline]
	materials         *assets.AssetLookup[LoadedMaterial]
	materialInstances *assets.AssetLookup[LoadedMaterialInstance]
	images            *assets.AssetLookup[LoadedImage]
	buffers           *assets.AssetLookup[LoadedBuffer]

	clock   *core.Clock
	metrics *core.FrameMetrics
	inFrame bool
}

func NewResourceManager(config ResourceManagerConfig, backend renderer.Backend, queues *assets.LoadQueueSet) (*ResourceManager, error) {
	if backend == nil {
		return nil, errors.New("NewResourceManager needs a backend")
	}
	if config.MaxFramesInFlight == 0 {
		config.MaxFramesInFlight = core.DefaultMaxFramesInFlight
	}
	if config.MaxDescriptorsPerPool == 0 {
		config.MaxDescriptorsPerPool = core.DefaultMaxDescriptorsPerPool
	}

	lookup := resources.NewResourceLookupSet(backend, config.MaxFramesInFlight)
	rm := &ResourceManager{
		config:  config,
		backend: backend,
		queues:  queues,
		lookup:  lookup,
		descriptorSets: descriptors.NewDescriptorSetPoolManager(lookup, descriptors.PoolConfig{
			MaxFramesInFlight:     config.MaxFramesInFlight,
			MaxDescriptorsPerPool: config.MaxDescriptorsPerPool,
			MaxPoolsPerLayout:     config.MaxPoolsPerLayout,
		}),
		swapchains: resources.NewSwapchainSurfaceSet(),
		clock:      core.NewClock(),
		metrics:    core.NewFrameMetrics(),
	}
	rm.shaders = assets.NewAssetLookup(assets.AssetKindShader, (*LoadedShaderModule).release)
	rm.pipelines = assets.NewAssetLookup[LoadedPipeline](assets.AssetKindPipeline, nil)
	rm.materials = assets.NewAssetLookup(assets.AssetKindMaterial, (*LoadedMaterial).release)
	rm.materialInstances = assets.NewAssetLookup(assets.AssetKindMaterialInstance, (*LoadedMaterialInstance).release)
	rm.images = assets.NewAssetLookup(assets.AssetKindImage, (*LoadedImage).release)
	rm.buffers = assets.NewAssetLookup(assets.AssetKindBuffer, (*LoadedBuffer).release)

	core.LogInfo("resource manager initialized on the %s backend, %d frames in flight", backend.Name(), config.MaxFramesInFlight)
	return rm, nil
}

func (rm *ResourceManager) Resources() *resources.ResourceLookupSet {
	return rm.lookup
}

func (rm *ResourceManager) DescriptorSets() *descriptors.DescriptorSetPoolManager {
	return rm.descriptorSets
}

func (rm *ResourceManager) Queues() *assets.LoadQueueSet {
	return rm.queues
}

// processQueue handles every request queued for one asset type: loads first,
// then commits, then frees.
func processQueue[T, L any](q *assets.LoadQueues[T], lookup *assets.AssetLookup[L], load func(h assets.LoadHandle, asset *T) (*L, error)) {
	for _, req := range q.TakeLoadRequests() {
		loaded, err := load(req.Handle, req.Asset)
		if err != nil {
			if errors.Is(err, core.ErrDependencyNotReady) {
				core.LogDebug("%s %s not loaded yet: %s", q.Kind(), req.Handle, err.Error())
			} else {
				core.LogError("failed to load %s %s: %s", q.Kind(), req.Handle, err.Error())
			}
			req.Op.Error(err)
			continue
		}
		lookup.SetUncommitted(req.Handle, loaded)
		req.Op.Complete()
	}
	for _, req := range q.TakeCommitRequests() {
		lookup.Commit(req.Handle)
	}
	for _, req := range q.TakeFreeRequests() {
		lookup.Free(req.Handle)
	}
}

// processLoadQueues runs in dependency order, so a material loaded in the
// same tick as its shaders finds them.
func (rm *ResourceManager) processLoadQueues() {
	processQueue(rm.queues.Shaders, rm.shaders, rm.loadShaderModule)
	processQueue(rm.queues.Pipelines, rm.pipelines, rm.loadPipeline)
	processQueue(rm.queues.Materials, rm.materials, rm.loadMaterial)
	processQueue(rm.queues.MaterialInstances, rm.materialInstances, rm.loadMaterialInstance)
	processQueue(rm.queues.Images, rm.images, rm.loadImage)
	processQueue(rm.queues.Buffers, rm.buffers, rm.loadBuffer)
}

/**
 * @brief Processes the load queues and flushes pending descriptor writes.
 * Call once per frame before recording, followed by OnFrameComplete.
 */
func (rm *ResourceManager) OnBeginFrame() {
	if rm.inFrame {
		core.ContractViolation("OnBeginFrame called twice without OnFrameComplete")
	}
	rm.inFrame = true
	rm.clock.Start()
	rm.processLoadQueues()
	rm.descriptorSets.Flush()
}

/**
 * @brief Advances the frame in flight index and destroys what the GPU can no
 * longer be using.
 */
func (rm *ResourceManager) OnFrameComplete() {
	if !rm.inFrame {
		core.ContractViolation("OnFrameComplete called without OnBeginFrame")
	}
	rm.inFrame = false
	rm.descriptorSets.OnFrameComplete()
	rm.lookup.Update()
	rm.clock.Stop()
	rm.metrics.Update(rm.clock.Elapsed().Seconds())
}

// Update is one full tick for callers that do not record commands.
func (rm *ResourceManager) Update() {
	rm.OnBeginFrame()
	rm.OnFrameComplete()
}

/**
 * @brief Registers a swapchain surface. The first swapchain with a given
 * surface creates a pipeline for it in every loaded material pass.
 */
func (rm *ResourceManager) AddSwapchain(info metadata.SwapchainSurfaceInfo) error {
	if !rm.swapchains.Add(info) {
		return nil
	}
	var err error
	var done []*LoadedMaterialPass
	each := func(_ assets.LoadHandle, m *LoadedMaterial) {
		for _, pass := range m.Passes {
			if err != nil {
				return
			}
			if err = pass.addSurface(rm.lookup, info); err == nil {
				done = append(done, pass)
			}
		}
	}
	rm.materials.Each(each)
	if err != nil {
		for _, pass := range done {
			pass.popSurface()
		}
		rm.swapchains.Remove(info)
		core.LogError("failed to add swapchain surface %s: %s", info, err.Error())
		return err
	}
	core.LogInfo("added swapchain surface %s (%d surfaces)", info, rm.swapchains.Len())
	return nil
}

/**
 * @brief Unregisters a swapchain surface. The last swapchain with a given
 * surface drops the pipelines created for it.
 */
func (rm *ResourceManager) RemoveSwapchain(info metadata.SwapchainSurfaceInfo) {
	index, removed := rm.swapchains.Remove(info)
	if !removed {
		return
	}
	rm.materials.Each(func(_ assets.LoadHandle, m *LoadedMaterial) {
		for _, pass := range m.Passes {
			pass.swapRemoveSurface(index)
		}
	})
	core.LogInfo("removed swapchain surface %s (%d surfaces)", info, rm.swapchains.Len())
}

// ResizeSwapchain moves a swapchain from one surface to another.
func (rm *ResourceManager) ResizeSwapchain(from, to metadata.SwapchainSurfaceInfo) error {
	if err := rm.AddSwapchain(to); err != nil {
		return err
	}
	rm.RemoveSwapchain(from)
	return nil
}

func (rm *ResourceManager) SwapchainSurfaces() []metadata.SwapchainSurfaceInfo {
	return rm.swapchains.Unique()
}

func (rm *ResourceManager) Metrics() ResourceManagerMetrics {
	return ResourceManagerMetrics{
		Caches: rm.lookup.Metrics(),
		Assets: LoadedAssetMetrics{
			Shaders:           rm.shaders.Len(),
			Pipelines:         rm.pipelines.Len(),
			Materials:         rm.materials.Len(),
			MaterialInstances: rm.materialInstances.Len(),
			Images:            rm.images.Len(),
			Buffers:           rm.buffers.Len(),
		},
		DescriptorSets: rm.descriptorSets.Metrics(),
		AverageTickMS:  rm.metrics.AverageMS(),
		TicksPerSecond: rm.metrics.TicksPerSecond(),
	}
}

/**
 * @brief Destroys every loaded asset and native object. Waits for the device
 * to go idle first. Returns the number of leaked resources.
 */
func (rm *ResourceManager) Destroy() int {
	if err := rm.backend.WaitIdle(); err != nil {
		core.LogError("wait idle before destroying resources: %s", err.Error())
	}
	rm.materialInstances.Destroy()
	rm.materials.Destroy()
	rm.pipelines.Destroy()
	rm.images.Destroy()
	rm.buffers.Destroy()
	rm.shaders.Destroy()
	rm.descriptorSets.Destroy()

	leaked := rm.lookup.Destroy()
	if leaked > 0 {
		core.LogWarn("%d resources still referenced at shutdown", leaked)
	}
	return leaked
}
