package loaders

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/assets"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

type samplerFile struct {
	MagFilter     string   `toml:"mag_filter"`
	MinFilter     string   `toml:"min_filter"`
	MipmapMode    string   `toml:"mipmap_mode"`
	AddressModeU  string   `toml:"address_mode_u"`
	AddressModeV  string   `toml:"address_mode_v"`
	AddressModeW  string   `toml:"address_mode_w"`
	MipLodBias    float32  `toml:"mip_lod_bias"`
	MaxAnisotropy float32  `toml:"max_anisotropy"`
	CompareOp     string   `toml:"compare_op"`
	MinLod        float32  `toml:"min_lod"`
	MaxLod        *float32 `toml:"max_lod"`
	BorderColor   string   `toml:"border_color"`
	Unnormalized  bool     `toml:"unnormalized"`
}

type bindingFile struct {
	Binding            uint32        `toml:"binding"`
	Type               string        `toml:"type"`
	Count              uint32        `toml:"count"`
	Stages             []string      `toml:"stages"`
	Slot               string        `toml:"slot"`
	InternalBufferSize uint32        `toml:"internal_buffer_size"`
	ImmutableSamplers  []samplerFile `toml:"immutable_samplers"`
}

type setLayoutFile struct {
	Bindings []bindingFile `toml:"bindings"`
}

type pushConstantFile struct {
	Stages []string `toml:"stages"`
	Offset uint32   `toml:"offset"`
	Size   uint32   `toml:"size"`
}

type shaderStageFile struct {
	Stage  string `toml:"stage"`
	Entry  string `toml:"entry"`
	Shader string `toml:"shader"`
}

type passFile struct {
	Name          string             `toml:"name"`
	Pipeline      string             `toml:"pipeline"`
	Shaders       []shaderStageFile  `toml:"shaders"`
	SetLayouts    []setLayoutFile    `toml:"set_layouts"`
	PushConstants []pushConstantFile `toml:"push_constants"`
}

type materialFile struct {
	Passes []passFile `toml:"passes"`
}

type slotFile struct {
	Name       string       `toml:"name"`
	ArrayIndex uint32       `toml:"array_index"`
	Image      string       `toml:"image"`
	Sampler    *samplerFile `toml:"sampler"`
	Buffer     string       `toml:"buffer"`
	// Uniform data, packed as little endian float32.
	Floats []float32 `toml:"floats"`
}

type materialInstanceFile struct {
	Material string     `toml:"material"`
	Slots    []slotFile `toml:"slots"`
}

func (f *samplerFile) description() (d metadata.SamplerDescription, err error) {
	d = metadata.DefaultSamplerDescription()
	if d.MagFilter, err = filters.parse("mag_filter", f.MagFilter, d.MagFilter); err != nil {
		return
	}
	if d.MinFilter, err = filters.parse("min_filter", f.MinFilter, d.MinFilter); err != nil {
		return
	}
	if d.MipmapMode, err = mipmapModes.parse("mipmap_mode", f.MipmapMode, d.MipmapMode); err != nil {
		return
	}
	if d.AddressModeU, err = addressModes.parse("address_mode_u", f.AddressModeU, d.AddressModeU); err != nil {
		return
	}
	if d.AddressModeV, err = addressModes.parse("address_mode_v", f.AddressModeV, d.AddressModeV); err != nil {
		return
	}
	if d.AddressModeW, err = addressModes.parse("address_mode_w", f.AddressModeW, d.AddressModeW); err != nil {
		return
	}
	if d.BorderColor, err = borderColors.parse("border_color", f.BorderColor, d.BorderColor); err != nil {
		return
	}
	if f.CompareOp != "" {
		d.CompareEnable = true
		if d.CompareOp, err = compareOps.parse("compare_op", f.CompareOp, d.CompareOp); err != nil {
			return
		}
	}
	d.MipLodBias = f.MipLodBias
	d.AnisotropyEnable = f.MaxAnisotropy > 1
	d.MaxAnisotropy = f.MaxAnisotropy
	d.MinLod = f.MinLod
	d.MaxLod = 1000
	if f.MaxLod != nil {
		d.MaxLod = *f.MaxLod
	}
	d.UnnormalizedCoordinates = f.Unnormalized
	return d, nil
}

func (f *bindingFile) binding() (assets.SlotBinding, error) {
	var b assets.SlotBinding
	dt, err := descriptorTypes.parse("type", f.Type, metadata.DescriptorTypeUniformBuffer)
	if err != nil {
		return b, err
	}
	stages, err := parseFlags(shaderStages, "stages", f.Stages)
	if err != nil {
		return b, err
	}
	if stages == 0 {
		stages = metadata.ShaderStageAllGraphics
	}
	b.SlotName = f.Slot
	b.Binding = f.Binding
	b.DescriptorType = dt
	b.DescriptorCount = max(f.Count, 1)
	b.StageFlags = stages
	b.InternalBufferPerDescriptorSize = f.InternalBufferSize
	if f.InternalBufferSize != 0 && dt != metadata.DescriptorTypeUniformBuffer {
		return b, errors.Newf("binding %d: internal buffers need a uniform_buffer, got %s", f.Binding, dt)
	}
	for i := range f.ImmutableSamplers {
		s, err := f.ImmutableSamplers[i].description()
		if err != nil {
			return b, errors.Wrapf(err, "binding %d immutable sampler %d", f.Binding, i)
		}
		b.ImmutableSamplers = append(b.ImmutableSamplers, s)
	}
	if len(b.ImmutableSamplers) > 0 && uint32(len(b.ImmutableSamplers)) != b.DescriptorCount {
		return b, errors.Newf("binding %d: %d immutable samplers for %d descriptors", f.Binding, len(b.ImmutableSamplers), b.DescriptorCount)
	}
	return b, nil
}

func (f *passFile) pass(resolve assets.Resolver) (assets.MaterialPass, error) {
	pass := assets.MaterialPass{Name: f.Name}
	if f.Pipeline == "" {
		return pass, errors.New("pipeline is required")
	}
	pass.Pipeline = resolve(f.Pipeline)
	if len(f.Shaders) == 0 {
		return pass, errors.New("at least one shader stage is required")
	}
	for _, s := range f.Shaders {
		stage, err := shaderStages.parse("stage", s.Stage, 0)
		if err != nil {
			return pass, err
		}
		if stage == 0 || s.Shader == "" {
			return pass, errors.Newf("shader stage %q needs a stage and a shader", s.Stage)
		}
		entry := s.Entry
		if entry == "" {
			entry = "main"
		}
		pass.ShaderStages = append(pass.ShaderStages, assets.MaterialShaderStage{
			Stage:     stage,
			EntryName: entry,
			Shader:    resolve(s.Shader),
		})
	}
	for setIndex, layout := range f.SetLayouts {
		var sl assets.SlotLayout
		seen := make(map[uint32]struct{}, len(layout.Bindings))
		for i := range layout.Bindings {
			b, err := layout.Bindings[i].binding()
			if err != nil {
				return pass, errors.Wrapf(err, "set %d", setIndex)
			}
			if _, dup := seen[b.Binding]; dup {
				return pass, errors.Newf("set %d declares binding %d twice", setIndex, b.Binding)
			}
			seen[b.Binding] = struct{}{}
			sl.Bindings = append(sl.Bindings, b)
		}
		pass.ShaderInterface.DescriptorSetLayouts = append(pass.ShaderInterface.DescriptorSetLayouts, sl)
	}
	for _, pc := range f.PushConstants {
		stages, err := parseFlags(shaderStages, "stages", pc.Stages)
		if err != nil {
			return pass, err
		}
		pass.ShaderInterface.PushConstantRanges = append(pass.ShaderInterface.PushConstantRanges, metadata.PushConstantRange{
			StageFlags: stages, Offset: pc.Offset, Size: pc.Size,
		})
	}
	return pass, nil
}

// MaterialLoader reads *.material.toml files. Pipelines and shaders are
// referenced by their path in the asset directory.
type MaterialLoader struct{}

func (ml *MaterialLoader) Kind() assets.AssetKind {
	return assets.AssetKindMaterial
}

func (ml *MaterialLoader) Extensions() []string {
	return []string{".material.toml"}
}

func (ml *MaterialLoader) Load(path string, data []byte, resolve assets.Resolver) (interface{}, error) {
	var f materialFile
	if err := decodeStrict(path, data, &f); err != nil {
		return nil, err
	}
	if len(f.Passes) == 0 {
		return nil, errors.Newf("%s: a material needs at least one pass", path)
	}
	material := &assets.MaterialAsset{}
	for i := range f.Passes {
		pass, err := f.Passes[i].pass(resolve)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: pass %d (%s)", path, i, f.Passes[i].Name)
		}
		material.Passes = append(material.Passes, pass)
	}
	return material, nil
}

// MaterialInstanceLoader reads *.instance.toml files.
type MaterialInstanceLoader struct{}

func (mil *MaterialInstanceLoader) Kind() assets.AssetKind {
	return assets.AssetKindMaterialInstance
}

func (mil *MaterialInstanceLoader) Extensions() []string {
	return []string{".instance.toml"}
}

func (mil *MaterialInstanceLoader) Load(path string, data []byte, resolve assets.Resolver) (interface{}, error) {
	var f materialInstanceFile
	if err := decodeStrict(path, data, &f); err != nil {
		return nil, err
	}
	if f.Material == "" {
		return nil, errors.Newf("%s: material is required", path)
	}
	instance := &assets.MaterialInstanceAsset{Material: resolve(f.Material)}
	for _, s := range f.Slots {
		if s.Name == "" {
			return nil, errors.Newf("%s: slot without a name", path)
		}
		slot := assets.SlotAssignment{SlotName: s.Name, ArrayIndex: s.ArrayIndex}
		if s.Image != "" {
			h := resolve(s.Image)
			slot.Image = &h
		}
		if s.Buffer != "" {
			h := resolve(s.Buffer)
			slot.Buffer = &h
		}
		if s.Sampler != nil {
			desc, err := s.Sampler.description()
			if err != nil {
				return nil, errors.Wrapf(err, "%s: slot %s", path, s.Name)
			}
			slot.Sampler = &desc
		}
		if len(s.Floats) > 0 {
			slot.BufferData = packFloats(s.Floats)
		}
		instance.Slots = append(instance.Slots, slot)
	}
	return instance, nil
}

func packFloats(values []float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}
