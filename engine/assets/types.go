package assets

import (
	"bytes"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

// LoadHandle identifies one asset across its versions.
type LoadHandle uuid.UUID

var handleNamespace = uuid.MustParse("3c9a7d52-7f0e-4b8e-9a1d-5e2f6c0b8a41")

// NewLoadHandle returns a random handle for assets that do not come from a file.
func NewLoadHandle() LoadHandle {
	return LoadHandle(uuid.New())
}

// HandleForPath derives the handle of the asset stored at path, relative to
// the asset directory. The same path always yields the same handle, so hot
// reloads of a file replace the asset instead of adding a new one.
func HandleForPath(path string) LoadHandle {
	return LoadHandle(uuid.NewSHA1(handleNamespace, []byte(filepath.ToSlash(filepath.Clean(path)))))
}

func (h LoadHandle) String() string {
	return uuid.UUID(h).String()
}

func (h LoadHandle) IsZero() bool {
	return h == LoadHandle{}
}

func compareHandles(a, b LoadHandle) int {
	return bytes.Compare(a[:], b[:])
}

type AssetKind int

const (
	AssetKindShader AssetKind = iota
	AssetKindPipeline
	AssetKindMaterial
	AssetKindMaterialInstance
	AssetKindImage
	AssetKindBuffer
)

func (k AssetKind) String() string {
	switch k {
	case AssetKindShader:
		return "shader"
	case AssetKindPipeline:
		return "pipeline"
	case AssetKindMaterial:
		return "material"
	case AssetKindMaterialInstance:
		return "material instance"
	case AssetKindImage:
		return "image"
	case AssetKindBuffer:
		return "buffer"
	default:
		return "unknown"
	}
}

/** @brief Compiled SPIR-V code of one shader module. */
type ShaderAsset struct {
	Code []byte
}

/**
 * @brief The surface independent part of a graphics pipeline. Materials
 * reference pipelines and add shaders and the resource interface.
 */
type PipelineAsset struct {
	RenderPass         metadata.RenderPassDescription
	FixedFunctionState metadata.FixedFunctionState
}

type MaterialShaderStage struct {
	Stage     metadata.ShaderStageFlags
	EntryName string
	Shader    LoadHandle
}

/**
 * @brief A descriptor set layout binding with the slot name material
 * instances use to assign resources to it.
 */
type SlotBinding struct {
	metadata.DescriptorSetLayoutBinding
	SlotName string
}

type SlotLayout struct {
	Bindings []SlotBinding
}

// Description strips the slot names.
func (l *SlotLayout) Description() metadata.DescriptorSetLayoutDescription {
	desc := metadata.DescriptorSetLayoutDescription{
		Bindings: make([]metadata.DescriptorSetLayoutBinding, len(l.Bindings)),
	}
	for i, b := range l.Bindings {
		desc.Bindings[i] = b.DescriptorSetLayoutBinding
	}
	return desc
}

type MaterialPassShaderInterface struct {
	DescriptorSetLayouts []SlotLayout
	PushConstantRanges   []metadata.PushConstantRange
}

// PipelineLayout builds the pipeline layout description of the interface.
func (i *MaterialPassShaderInterface) PipelineLayout() *metadata.PipelineLayoutDescription {
	desc := &metadata.PipelineLayoutDescription{
		DescriptorSetLayouts: make([]metadata.DescriptorSetLayoutDescription, len(i.DescriptorSetLayouts)),
		PushConstantRanges:   i.PushConstantRanges,
	}
	for idx := range i.DescriptorSetLayouts {
		desc.DescriptorSetLayouts[idx] = i.DescriptorSetLayouts[idx].Description()
	}
	return desc
}

// SlotLocation addresses one binding of a pass: the set index within the
// pipeline layout and the binding index within the set layout.
type SlotLocation struct {
	LayoutIndex  uint32
	BindingIndex uint32
}

type SlotNameLookup map[string][]SlotLocation

// SlotNameLookup maps every slot name to the bindings that carry it.
func (i *MaterialPassShaderInterface) SlotNameLookup() SlotNameLookup {
	lookup := make(SlotNameLookup)
	for layoutIndex, layout := range i.DescriptorSetLayouts {
		for bindingIndex, binding := range layout.Bindings {
			if binding.SlotName == "" {
				continue
			}
			lookup[binding.SlotName] = append(lookup[binding.SlotName], SlotLocation{
				LayoutIndex:  uint32(layoutIndex),
				BindingIndex: uint32(bindingIndex),
			})
		}
	}
	return lookup
}

type MaterialPass struct {
	Name            string
	Pipeline        LoadHandle
	ShaderStages    []MaterialShaderStage
	ShaderInterface MaterialPassShaderInterface
}

type MaterialAsset struct {
	Passes []MaterialPass
}

/**
 * @brief Assigns a resource to every binding carrying SlotName. Only the
 * fields matching the binding's descriptor type are used.
 */
type SlotAssignment struct {
	SlotName   string
	ArrayIndex uint32
	Image      *LoadHandle
	Sampler    *metadata.SamplerDescription
	Buffer     *LoadHandle
	BufferData []byte
}

type MaterialInstanceAsset struct {
	Material LoadHandle
	Slots    []SlotAssignment
}

/** @brief Decoded pixels, tightly packed rows in Format. */
type ImageAsset struct {
	Width  uint32
	Height uint32
	Format metadata.Format
	Data   []byte
}

type BufferAsset struct {
	Usage metadata.BufferUsageFlags
	Data  []byte
}
