package loaders

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/anima-gpu/engine/assets"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

type attachmentFile struct {
	Format         string `toml:"format"`
	Samples        uint32 `toml:"samples"`
	LoadOp         string `toml:"load_op"`
	StoreOp        string `toml:"store_op"`
	StencilLoadOp  string `toml:"stencil_load_op"`
	StencilStoreOp string `toml:"stencil_store_op"`
	InitialLayout  string `toml:"initial_layout"`
	FinalLayout    string `toml:"final_layout"`
}

type attachmentRefFile struct {
	Attachment uint32 `toml:"attachment"`
	Layout     string `toml:"layout"`
}

type subpassFile struct {
	ColorAttachments       []attachmentRefFile `toml:"color_attachments"`
	InputAttachments       []attachmentRefFile `toml:"input_attachments"`
	ResolveAttachments     []attachmentRefFile `toml:"resolve_attachments"`
	DepthStencilAttachment *attachmentRefFile  `toml:"depth_stencil_attachment"`
}

type renderPassFile struct {
	Attachments []attachmentFile `toml:"attachments"`
	Subpasses   []subpassFile    `toml:"subpasses"`
}

type vertexBindingFile struct {
	Binding   uint32 `toml:"binding"`
	Stride    uint32 `toml:"stride"`
	InputRate string `toml:"input_rate"`
}

type vertexAttributeFile struct {
	Location uint32 `toml:"location"`
	Binding  uint32 `toml:"binding"`
	Format   string `toml:"format"`
	Offset   uint32 `toml:"offset"`
}

type blendAttachmentFile struct {
	Blend     bool     `toml:"blend"`
	SrcColor  string   `toml:"src_color"`
	DstColor  string   `toml:"dst_color"`
	ColorOp   string   `toml:"color_op"`
	SrcAlpha  string   `toml:"src_alpha"`
	DstAlpha  string   `toml:"dst_alpha"`
	AlphaOp   string   `toml:"alpha_op"`
	WriteMask []string `toml:"write_mask"`
}

type pipelineFile struct {
	RenderPass  renderPassFile `toml:"render_pass"`
	VertexInput struct {
		Bindings   []vertexBindingFile   `toml:"bindings"`
		Attributes []vertexAttributeFile `toml:"attributes"`
	} `toml:"vertex_input"`
	InputAssembly struct {
		Topology         string `toml:"topology"`
		PrimitiveRestart bool   `toml:"primitive_restart"`
	} `toml:"input_assembly"`
	Rasterization struct {
		PolygonMode string  `toml:"polygon_mode"`
		CullMode    string  `toml:"cull_mode"`
		FrontFace   string  `toml:"front_face"`
		DepthClamp  bool    `toml:"depth_clamp"`
		DepthBias   bool    `toml:"depth_bias"`
		LineWidth   float32 `toml:"line_width"`
	} `toml:"rasterization"`
	Multisample struct {
		Samples          uint32  `toml:"samples"`
		SampleShading    bool    `toml:"sample_shading"`
		MinSampleShading float32 `toml:"min_sample_shading"`
		AlphaToCoverage  bool    `toml:"alpha_to_coverage"`
	} `toml:"multisample"`
	DepthStencil struct {
		DepthTest       bool    `toml:"depth_test"`
		DepthWrite      bool    `toml:"depth_write"`
		CompareOp       string  `toml:"compare_op"`
		DepthBoundsTest bool    `toml:"depth_bounds_test"`
		StencilTest     bool    `toml:"stencil_test"`
		MinDepthBounds  float32 `toml:"min_depth_bounds"`
		MaxDepthBounds  float32 `toml:"max_depth_bounds"`
	} `toml:"depth_stencil"`
	ColorBlend struct {
		Attachments    []blendAttachmentFile `toml:"attachments"`
		BlendConstants [4]float32            `toml:"blend_constants"`
	} `toml:"color_blend"`
	DynamicStates []string `toml:"dynamic_states"`
}

// decodeStrict decodes data into v rejecting unknown keys.
func decodeStrict(path string, data []byte, v interface{}) error {
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return errors.Wrapf(err, "%s:%d:%d", path, row, col)
		}
		return errors.Wrap(err, path)
	}
	return nil
}

// PipelineLoader reads *.pipeline.toml files.
type PipelineLoader struct{}

func (pl *PipelineLoader) Kind() assets.AssetKind {
	return assets.AssetKindPipeline
}

func (pl *PipelineLoader) Extensions() []string {
	return []string{".pipeline.toml"}
}

func (pl *PipelineLoader) Load(path string, data []byte, _ assets.Resolver) (interface{}, error) {
	var f pipelineFile
	if err := decodeStrict(path, data, &f); err != nil {
		return nil, err
	}
	rp, err := f.RenderPass.description()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: render pass", path)
	}
	state, err := f.fixedFunctionState()
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return &assets.PipelineAsset{RenderPass: rp, FixedFunctionState: state}, nil
}

func (r *attachmentRefFile) reference() (metadata.AttachmentReference, error) {
	layout, err := imageLayouts.parse("layout", r.Layout, metadata.ImageLayoutUndefined)
	return metadata.AttachmentReference{Attachment: r.Attachment, Layout: layout}, err
}

func references(refs []attachmentRefFile) ([]metadata.AttachmentReference, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	out := make([]metadata.AttachmentReference, len(refs))
	for i := range refs {
		ref, err := refs[i].reference()
		if err != nil {
			return nil, err
		}
		out[i] = ref
	}
	return out, nil
}

func (a *attachmentFile) description() (desc metadata.AttachmentDescription, err error) {
	if desc.Format, err = formats.parse("format", a.Format, metadata.FormatMatchSurface); err != nil {
		return
	}
	desc.Samples = metadata.SampleCount(a.Samples)
	if desc.LoadOp, err = loadOps.parse("load_op", a.LoadOp, metadata.AttachmentLoadOpClear); err != nil {
		return
	}
	if desc.StoreOp, err = storeOps.parse("store_op", a.StoreOp, metadata.AttachmentStoreOpStore); err != nil {
		return
	}
	if desc.StencilLoadOp, err = loadOps.parse("stencil_load_op", a.StencilLoadOp, metadata.AttachmentLoadOpDontCare); err != nil {
		return
	}
	if desc.StencilStoreOp, err = storeOps.parse("stencil_store_op", a.StencilStoreOp, metadata.AttachmentStoreOpDontCare); err != nil {
		return
	}
	if desc.InitialLayout, err = imageLayouts.parse("initial_layout", a.InitialLayout, metadata.ImageLayoutUndefined); err != nil {
		return
	}
	desc.FinalLayout, err = imageLayouts.parse("final_layout", a.FinalLayout, metadata.ImageLayoutPresentSrc)
	return
}

func (r *renderPassFile) description() (metadata.RenderPassDescription, error) {
	var desc metadata.RenderPassDescription
	if len(r.Subpasses) == 0 {
		return desc, errors.New("at least one subpass is required")
	}
	for i := range r.Attachments {
		a, err := r.Attachments[i].description()
		if err != nil {
			return desc, errors.Wrapf(err, "attachment %d", i)
		}
		desc.Attachments = append(desc.Attachments, a)
	}
	for i := range r.Subpasses {
		sp := &r.Subpasses[i]
		var out metadata.SubpassDescription
		var err error
		if out.ColorAttachments, err = references(sp.ColorAttachments); err != nil {
			return desc, errors.Wrapf(err, "subpass %d", i)
		}
		if out.InputAttachments, err = references(sp.InputAttachments); err != nil {
			return desc, errors.Wrapf(err, "subpass %d", i)
		}
		if out.ResolveAttachments, err = references(sp.ResolveAttachments); err != nil {
			return desc, errors.Wrapf(err, "subpass %d", i)
		}
		if sp.DepthStencilAttachment != nil {
			ref, err := sp.DepthStencilAttachment.reference()
			if err != nil {
				return desc, errors.Wrapf(err, "subpass %d", i)
			}
			out.DepthStencilAttachment = &ref
		}
		for _, refs := range [][]metadata.AttachmentReference{out.ColorAttachments, out.InputAttachments, out.ResolveAttachments} {
			for _, ref := range refs {
				if int(ref.Attachment) >= len(desc.Attachments) {
					return desc, errors.Newf("subpass %d references attachment %d of %d", i, ref.Attachment, len(desc.Attachments))
				}
			}
		}
		desc.Subpasses = append(desc.Subpasses, out)
	}
	return desc, nil
}

func (f *pipelineFile) fixedFunctionState() (s metadata.FixedFunctionState, err error) {
	for _, b := range f.VertexInput.Bindings {
		rate, err := inputRates.parse("input_rate", b.InputRate, metadata.VertexInputRateVertex)
		if err != nil {
			return s, err
		}
		s.VertexInput.Bindings = append(s.VertexInput.Bindings, metadata.VertexInputBinding{
			Binding: b.Binding, Stride: b.Stride, InputRate: rate,
		})
	}
	for _, a := range f.VertexInput.Attributes {
		format, err := formats.parse("format", a.Format, metadata.FormatUndefined)
		if err != nil {
			return s, err
		}
		s.VertexInput.Attributes = append(s.VertexInput.Attributes, metadata.VertexInputAttribute{
			Location: a.Location, Binding: a.Binding, Format: format, Offset: a.Offset,
		})
	}

	if s.InputAssembly.Topology, err = topologies.parse("topology", f.InputAssembly.Topology, metadata.PrimitiveTopologyTriangleList); err != nil {
		return
	}
	s.InputAssembly.PrimitiveRestartEnable = f.InputAssembly.PrimitiveRestart

	r := f.Rasterization
	if s.Rasterization.PolygonMode, err = polygonModes.parse("polygon_mode", r.PolygonMode, metadata.PolygonModeFill); err != nil {
		return
	}
	if s.Rasterization.CullMode, err = cullModes.parse("cull_mode", r.CullMode, metadata.CullModeNone); err != nil {
		return
	}
	if s.Rasterization.FrontFace, err = frontFaces.parse("front_face", r.FrontFace, metadata.FrontFaceCounterClockwise); err != nil {
		return
	}
	s.Rasterization.DepthClampEnable = r.DepthClamp
	s.Rasterization.DepthBiasEnable = r.DepthBias
	s.Rasterization.LineWidth = r.LineWidth
	if s.Rasterization.LineWidth == 0 {
		s.Rasterization.LineWidth = 1
	}

	m := f.Multisample
	s.Multisample = metadata.MultisampleState{
		RasterizationSamples:  metadata.SampleCount(m.Samples),
		SampleShadingEnable:   m.SampleShading,
		MinSampleShading:      m.MinSampleShading,
		AlphaToCoverageEnable: m.AlphaToCoverage,
	}
	if s.Multisample.RasterizationSamples == 0 {
		s.Multisample.RasterizationSamples = metadata.SampleCount1
	}

	d := f.DepthStencil
	s.DepthStencil = metadata.DepthStencilState{
		DepthTestEnable:       d.DepthTest,
		DepthWriteEnable:      d.DepthWrite,
		DepthBoundsTestEnable: d.DepthBoundsTest,
		StencilTestEnable:     d.StencilTest,
		MinDepthBounds:        d.MinDepthBounds,
		MaxDepthBounds:        d.MaxDepthBounds,
	}
	if s.DepthStencil.DepthCompareOp, err = compareOps.parse("compare_op", d.CompareOp, metadata.CompareOpLess); err != nil {
		return
	}

	for i, a := range f.ColorBlend.Attachments {
		blend, err := a.state()
		if err != nil {
			return s, errors.Wrapf(err, "color blend attachment %d", i)
		}
		s.ColorBlend.Attachments = append(s.ColorBlend.Attachments, blend)
	}
	s.ColorBlend.BlendConstants = f.ColorBlend.BlendConstants

	names := f.DynamicStates
	if names == nil {
		names = []string{"viewport", "scissor"}
	}
	for _, n := range names {
		ds, err := dynamicStates.parse("dynamic_states", n, metadata.DynamicStateViewport)
		if err != nil {
			return s, err
		}
		s.DynamicStates = append(s.DynamicStates, ds)
	}
	return s, nil
}

func (a *blendAttachmentFile) state() (s metadata.ColorBlendAttachmentState, err error) {
	s.BlendEnable = a.Blend
	if s.SrcColorBlendFactor, err = blendFactors.parse("src_color", a.SrcColor, metadata.BlendFactorSrcAlpha); err != nil {
		return
	}
	if s.DstColorBlendFactor, err = blendFactors.parse("dst_color", a.DstColor, metadata.BlendFactorOneMinusSrcAlpha); err != nil {
		return
	}
	if s.ColorBlendOp, err = blendOps.parse("color_op", a.ColorOp, metadata.BlendOpAdd); err != nil {
		return
	}
	if s.SrcAlphaBlendFactor, err = blendFactors.parse("src_alpha", a.SrcAlpha, metadata.BlendFactorOne); err != nil {
		return
	}
	if s.DstAlphaBlendFactor, err = blendFactors.parse("dst_alpha", a.DstAlpha, metadata.BlendFactorZero); err != nil {
		return
	}
	if s.AlphaBlendOp, err = blendOps.parse("alpha_op", a.AlphaOp, metadata.BlendOpAdd); err != nil {
		return
	}
	s.ColorWriteMask = metadata.ColorComponentAll
	if a.WriteMask != nil {
		s.ColorWriteMask, err = parseFlags(colorComponents, "write_mask", a.WriteMask)
	}
	return
}
