package systems

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/assets"
	"github.com/spaghettifunk/anima-gpu/engine/assets/loaders"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer"
)

// SystemManager wires the asset watcher, the job system importing on its
// behalf and the resource manager consuming what they produce.
type SystemManager struct {
	queues          *assets.LoadQueueSet
	jobSystem       *JobSystem
	assetManager    *assets.AssetManager
	resourceManager *ResourceManager
}

// DefaultLoaders returns one loader per supported asset file type.
func DefaultLoaders() []assets.Loader {
	return []assets.Loader{
		&loaders.ShaderLoader{},
		&loaders.PipelineLoader{},
		&loaders.MaterialLoader{},
		&loaders.MaterialInstanceLoader{},
		&loaders.ImageLoader{},
		&loaders.BinaryLoader{},
	}
}

// NewSystemManager builds the systems on top of backend. The backend stays
// owned by the caller.
func NewSystemManager(config *core.Config, backend renderer.Backend) (*SystemManager, error) {
	queues := assets.NewLoadQueueSet()

	js, err := NewJobSystem(config.Assets.Workers, config.Assets.QueueSize)
	if err != nil {
		return nil, err
	}

	rm, err := NewResourceManager(ResourceManagerConfig{
		MaxFramesInFlight:     config.Renderer.MaxFramesInFlight,
		MaxDescriptorsPerPool: config.Descriptors.MaxDescriptorsPerPool,
		MaxPoolsPerLayout:     config.Descriptors.MaxPoolsPerLayout,
	}, backend, queues)
	if err != nil {
		_ = js.Shutdown()
		return nil, err
	}

	am, err := assets.NewAssetManager(assets.AssetManagerConfig{
		Dir:             config.Assets.Dir,
		Workers:         config.Assets.Workers,
		ReloadCacheSize: config.Assets.ReloadCacheSize,
		RetryAttempts:   config.Assets.RetryAttempts,
		RetryDelay:      config.Assets.RetryDelay.Duration,
	}, queues, js, DefaultLoaders()...)
	if err != nil {
		_ = js.Shutdown()
		rm.Destroy()
		return nil, err
	}

	return &SystemManager{
		queues:          queues,
		jobSystem:       js,
		assetManager:    am,
		resourceManager: rm,
	}, nil
}

// Initialize starts watching the asset directory. Imports complete while
// Update keeps being called.
func (sm *SystemManager) Initialize(ctx context.Context) error {
	if err := sm.assetManager.Initialize(ctx); err != nil {
		return errors.Wrap(err, "starting the asset manager")
	}
	return nil
}

func (sm *SystemManager) ResourceManager() *ResourceManager {
	return sm.resourceManager
}

func (sm *SystemManager) AssetManager() *assets.AssetManager {
	return sm.assetManager
}

func (sm *SystemManager) JobSystem() *JobSystem {
	return sm.jobSystem
}

func (sm *SystemManager) Update() {
	sm.resourceManager.Update()
}

// Shutdown stops the producers before tearing down what they feed. Returns
// the number of leaked resources alongside any error.
func (sm *SystemManager) Shutdown() (int, error) {
	var err error
	if e := sm.assetManager.Shutdown(); e != nil {
		err = errors.CombineErrors(err, e)
	}
	if e := sm.jobSystem.Shutdown(); e != nil {
		err = errors.CombineErrors(err, e)
	}
	sm.queues.Close()
	leaked := sm.resourceManager.Destroy()
	return leaked, err
}
