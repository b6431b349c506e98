package metadata

type VertexInputBinding struct {
	Binding   uint32
	Stride    uint32
	InputRate VertexInputRate
}

func (b VertexInputBinding) HashInto(h *Hasher) {
	h.Uint32(b.Binding).Uint32(b.Stride).Uint32(uint32(b.InputRate))
}

type VertexInputAttribute struct {
	Location uint32
	Binding  uint32
	Format   Format
	Offset   uint32
}

func (a VertexInputAttribute) HashInto(h *Hasher) {
	h.Uint32(a.Location).Uint32(a.Binding).Uint32(uint32(a.Format)).Uint32(a.Offset)
}

type VertexInputState struct {
	Bindings   []VertexInputBinding
	Attributes []VertexInputAttribute
}

func (s VertexInputState) HashInto(h *Hasher) {
	hashSlice(h, s.Bindings)
	hashSlice(h, s.Attributes)
}

type InputAssemblyState struct {
	Topology               PrimitiveTopology
	PrimitiveRestartEnable bool
}

type RasterizationState struct {
	PolygonMode      PolygonMode
	CullMode         CullMode
	FrontFace        FrontFace
	DepthClampEnable bool
	DepthBiasEnable  bool
	LineWidth        float32
}

type MultisampleState struct {
	RasterizationSamples  SampleCount
	SampleShadingEnable   bool
	MinSampleShading      float32
	AlphaToCoverageEnable bool
}

type DepthStencilState struct {
	DepthTestEnable       bool
	DepthWriteEnable      bool
	DepthCompareOp        CompareOp
	DepthBoundsTestEnable bool
	StencilTestEnable     bool
	MinDepthBounds        float32
	MaxDepthBounds        float32
}

type ColorBlendAttachmentState struct {
	BlendEnable         bool
	SrcColorBlendFactor BlendFactor
	DstColorBlendFactor BlendFactor
	ColorBlendOp        BlendOp
	SrcAlphaBlendFactor BlendFactor
	DstAlphaBlendFactor BlendFactor
	AlphaBlendOp        BlendOp
	ColorWriteMask      ColorComponentFlags
}

func (a ColorBlendAttachmentState) HashInto(h *Hasher) {
	h.Bool(a.BlendEnable).
		Uint32(uint32(a.SrcColorBlendFactor)).
		Uint32(uint32(a.DstColorBlendFactor)).
		Uint32(uint32(a.ColorBlendOp)).
		Uint32(uint32(a.SrcAlphaBlendFactor)).
		Uint32(uint32(a.DstAlphaBlendFactor)).
		Uint32(uint32(a.AlphaBlendOp)).
		Uint32(uint32(a.ColorWriteMask))
}

type ColorBlendState struct {
	Attachments    []ColorBlendAttachmentState
	BlendConstants [4]float32
}

/**
 * @brief The fixed-function part of a graphics pipeline.
 */
type FixedFunctionState struct {
	VertexInput   VertexInputState
	InputAssembly InputAssemblyState
	Rasterization RasterizationState
	Multisample   MultisampleState
	DepthStencil  DepthStencilState
	ColorBlend    ColorBlendState
	/** @brief Viewport and scissor are dynamic unless listed otherwise. */
	DynamicStates []DynamicState
}

func (s *FixedFunctionState) HashInto(h *Hasher) {
	s.VertexInput.HashInto(h)

	h.Uint32(uint32(s.InputAssembly.Topology)).Bool(s.InputAssembly.PrimitiveRestartEnable)

	r := s.Rasterization
	h.Uint32(uint32(r.PolygonMode)).
		Uint32(uint32(r.CullMode)).
		Uint32(uint32(r.FrontFace)).
		Bool(r.DepthClampEnable).
		Bool(r.DepthBiasEnable).
		Float32(r.LineWidth)

	m := s.Multisample
	h.Uint32(uint32(m.RasterizationSamples)).
		Bool(m.SampleShadingEnable).
		Float32(m.MinSampleShading).
		Bool(m.AlphaToCoverageEnable)

	d := s.DepthStencil
	h.Bool(d.DepthTestEnable).
		Bool(d.DepthWriteEnable).
		Uint32(uint32(d.DepthCompareOp)).
		Bool(d.DepthBoundsTestEnable).
		Bool(d.StencilTestEnable).
		Float32(d.MinDepthBounds).
		Float32(d.MaxDepthBounds)

	hashSlice(h, s.ColorBlend.Attachments)
	for _, c := range s.ColorBlend.BlendConstants {
		h.Float32(c)
	}

	h.Len(len(s.DynamicStates))
	for _, ds := range s.DynamicStates {
		h.Uint32(uint32(ds))
	}
}

/**
 * @brief Everything needed to build a graphics pipeline for one surface.
 * The render pass and layout are described, not referenced, so identical
 * descriptions from different materials resolve to the same native pipeline.
 */
type GraphicsPipelineDescription struct {
	Stages             []ShaderStageDescription
	FixedFunctionState *FixedFunctionState
	PipelineLayout     *PipelineLayoutDescription
	RenderPass         *RenderPassDescription
	Surface            SwapchainSurfaceInfo
}

func (d *GraphicsPipelineDescription) HashInto(h *Hasher) {
	hashSlice(h, d.Stages)
	d.FixedFunctionState.HashInto(h)
	d.PipelineLayout.HashInto(h)
	d.RenderPass.HashInto(h)
	d.Surface.HashInto(h)
}
