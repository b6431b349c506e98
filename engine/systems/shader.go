package systems

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/assets"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gpu/engine/resources"
)

type LoadedShaderModule struct {
	ShaderModule *resources.ResourceArc[*resources.ShaderModuleResource]
}

func (s *LoadedShaderModule) release() {
	s.ShaderModule.Release()
}

// LoadedPipeline keeps the surface independent pipeline state. Native
// pipelines are created per material pass and surface.
type LoadedPipeline struct {
	RenderPass         metadata.RenderPassDescription
	FixedFunctionState metadata.FixedFunctionState
}

func (rm *ResourceManager) loadShaderModule(_ assets.LoadHandle, asset *assets.ShaderAsset) (*LoadedShaderModule, error) {
	if len(asset.Code) == 0 {
		return nil, errors.New("shader module without code")
	}
	module, err := rm.lookup.GetOrCreateShaderModule(&metadata.ShaderModuleDescription{Code: asset.Code})
	if err != nil {
		return nil, err
	}
	return &LoadedShaderModule{ShaderModule: module}, nil
}

func (rm *ResourceManager) loadPipeline(_ assets.LoadHandle, asset *assets.PipelineAsset) (*LoadedPipeline, error) {
	if len(asset.RenderPass.Subpasses) == 0 {
		return nil, errors.New("pipeline render pass has no subpass")
	}
	return &LoadedPipeline{
		RenderPass:         asset.RenderPass,
		FixedFunctionState: asset.FixedFunctionState,
	}, nil
}
