package metadata

/**
 * @brief Describes an image to create. Images are not deduplicated: every
 * load produces its own native image.
 */
type ImageDescription struct {
	Width       uint32
	Height      uint32
	Depth       uint32
	MipLevels   uint32
	ArrayLayers uint32
	Format      Format
	Samples     SampleCount
	Usage       ImageUsageFlags
	MemoryUsage MemoryUsage
}

func (d *ImageDescription) HashInto(h *Hasher) {
	h.Uint32(d.Width).
		Uint32(d.Height).
		Uint32(d.Depth).
		Uint32(d.MipLevels).
		Uint32(d.ArrayLayers).
		Uint32(uint32(d.Format)).
		Uint32(uint32(d.Samples)).
		Uint32(uint32(d.Usage)).
		Uint32(uint32(d.MemoryUsage))
}

/**
 * @brief Describes a 2D sampled RGBA8 texture of the given size.
 */
func NewTexture2DDescription(width, height uint32) ImageDescription {
	return ImageDescription{
		Width:       width,
		Height:      height,
		Depth:       1,
		MipLevels:   1,
		ArrayLayers: 1,
		Format:      FormatR8G8B8A8Unorm,
		Samples:     SampleCount1,
		Usage:       ImageUsageSampled | ImageUsageTransferDst,
		MemoryUsage: MemoryUsageGPUOnly,
	}
}

type ImageSubresourceRange struct {
	AspectMask     ImageAspectFlags
	BaseMipLevel   uint32
	LevelCount     uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

/**
 * @brief Describes a view onto an image. The cache key is the image identity
 * plus this description.
 */
type ImageViewDescription struct {
	ViewType         ImageViewType
	Format           Format
	SubresourceRange ImageSubresourceRange
}

func (d *ImageViewDescription) HashInto(h *Hasher) {
	r := d.SubresourceRange
	h.Uint32(uint32(d.ViewType)).
		Uint32(uint32(d.Format)).
		Uint32(uint32(r.AspectMask)).
		Uint32(r.BaseMipLevel).
		Uint32(r.LevelCount).
		Uint32(r.BaseArrayLayer).
		Uint32(r.LayerCount)
}

/** @brief The default view of a single-layer color image. */
func DefaultImageViewDescription(format Format) ImageViewDescription {
	return ImageViewDescription{
		ViewType: ImageViewType2D,
		Format:   format,
		SubresourceRange: ImageSubresourceRange{
			AspectMask: ImageAspectColor,
			LevelCount: 1,
			LayerCount: 1,
		},
	}
}

/**
 * @brief Describes a buffer to create.
 */
type BufferDescription struct {
	Size        uint64
	Usage       BufferUsageFlags
	MemoryUsage MemoryUsage
}

func (d *BufferDescription) HashInto(h *Hasher) {
	h.Uint64(d.Size).Uint32(uint32(d.Usage)).Uint32(uint32(d.MemoryUsage))
}
