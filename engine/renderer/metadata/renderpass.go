package metadata

import "fmt"

/**
 * @brief Describes one attachment of a render pass. Format may be
 * FormatMatchSurface or FormatMatchDepth, resolved against the swapchain surface.
 */
type AttachmentDescription struct {
	Format         Format
	Samples        SampleCount
	LoadOp         AttachmentLoadOp
	StoreOp        AttachmentStoreOp
	StencilLoadOp  AttachmentLoadOp
	StencilStoreOp AttachmentStoreOp
	InitialLayout  ImageLayout
	FinalLayout    ImageLayout
}

func (a AttachmentDescription) HashInto(h *Hasher) {
	h.Uint32(uint32(a.Format)).
		Uint32(uint32(a.Samples)).
		Uint32(uint32(a.LoadOp)).
		Uint32(uint32(a.StoreOp)).
		Uint32(uint32(a.StencilLoadOp)).
		Uint32(uint32(a.StencilStoreOp)).
		Uint32(uint32(a.InitialLayout)).
		Uint32(uint32(a.FinalLayout))
}

// Resolve replaces the surface placeholders with the concrete formats of surface.
func (a AttachmentDescription) Resolve(surface *SwapchainSurfaceInfo) AttachmentDescription {
	switch a.Format {
	case FormatMatchSurface:
		a.Format = surface.ColorFormat
	case FormatMatchDepth:
		a.Format = surface.DepthFormat
	}
	if a.Samples == 0 {
		a.Samples = surface.SampleCount
	}
	return a
}

type AttachmentReference struct {
	Attachment uint32
	Layout     ImageLayout
}

func (r AttachmentReference) HashInto(h *Hasher) {
	h.Uint32(r.Attachment).Uint32(uint32(r.Layout))
}

type SubpassDescription struct {
	ColorAttachments   []AttachmentReference
	InputAttachments   []AttachmentReference
	ResolveAttachments []AttachmentReference
	/** @brief Optional depth attachment. */
	DepthStencilAttachment *AttachmentReference
}

func (s SubpassDescription) HashInto(h *Hasher) {
	hashSlice(h, s.ColorAttachments)
	hashSlice(h, s.InputAttachments)
	hashSlice(h, s.ResolveAttachments)
	h.Bool(s.DepthStencilAttachment != nil)
	if s.DepthStencilAttachment != nil {
		s.DepthStencilAttachment.HashInto(h)
	}
}

/**
 * @brief Describes a render pass independently of the surface it targets.
 */
type RenderPassDescription struct {
	Attachments []AttachmentDescription
	Subpasses   []SubpassDescription
}

func (d *RenderPassDescription) HashInto(h *Hasher) {
	hashSlice(h, d.Attachments)
	hashSlice(h, d.Subpasses)
}

/**
 * @brief Everything about a presentation target that render passes and
 * pipelines depend on. Windows with identical info share resources.
 */
type SwapchainSurfaceInfo struct {
	Width       uint32
	Height      uint32
	ColorFormat Format
	DepthFormat Format
	SampleCount SampleCount
}

func (s SwapchainSurfaceInfo) HashInto(h *Hasher) {
	h.Uint32(s.Width).
		Uint32(s.Height).
		Uint32(uint32(s.ColorFormat)).
		Uint32(uint32(s.DepthFormat)).
		Uint32(uint32(s.SampleCount))
}

func (s SwapchainSurfaceInfo) String() string {
	return fmt.Sprintf("%dx%d color=%d depth=%d samples=%d", s.Width, s.Height, s.ColorFormat, s.DepthFormat, s.SampleCount)
}

/**
 * @brief Cache key of a render pass created for one surface.
 */
type RenderPassKey struct {
	RenderPass *RenderPassDescription
	Surface    SwapchainSurfaceInfo
}

func (k RenderPassKey) HashInto(h *Hasher) {
	k.RenderPass.HashInto(h)
	k.Surface.HashInto(h)
}
