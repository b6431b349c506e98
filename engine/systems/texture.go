package systems

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/assets"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gpu/engine/resources"
)

// LoadedImage is an uploaded image and its default 2D view.
type LoadedImage struct {
	Image     *resources.ResourceArc[*resources.ImageResource]
	ImageView *resources.ResourceArc[*resources.ImageViewResource]
}

func (i *LoadedImage) release() {
	i.ImageView.Release()
	i.Image.Release()
}

type LoadedBuffer struct {
	Buffer *resources.ResourceArc[*resources.BufferResource]
}

func (b *LoadedBuffer) release() {
	b.Buffer.Release()
}

func bytesPerPixel(f metadata.Format) int {
	switch f {
	case metadata.FormatR8Unorm:
		return 1
	case metadata.FormatR8G8Unorm:
		return 2
	case metadata.FormatR8G8B8A8Unorm, metadata.FormatR8G8B8A8Srgb, metadata.FormatB8G8R8A8Unorm, metadata.FormatB8G8R8A8Srgb, metadata.FormatR32Sfloat:
		return 4
	case metadata.FormatR16G16B16A16Sfloat, metadata.FormatR32G32Sfloat:
		return 8
	case metadata.FormatR32G32B32Sfloat:
		return 12
	case metadata.FormatR32G32B32A32Sfloat:
		return 16
	default:
		return 0
	}
}

func (rm *ResourceManager) loadImage(_ assets.LoadHandle, asset *assets.ImageAsset) (*LoadedImage, error) {
	bpp := bytesPerPixel(asset.Format)
	if bpp == 0 {
		return nil, errors.Newf("unsupported image format %d", asset.Format)
	}
	if want := int(asset.Width) * int(asset.Height) * bpp; want == 0 || len(asset.Data) != want {
		return nil, errors.Newf("%dx%d image needs %d bytes, got %d", asset.Width, asset.Height, want, len(asset.Data))
	}

	desc := metadata.NewTexture2DDescription(asset.Width, asset.Height)
	desc.Format = asset.Format
	image, err := rm.lookup.CreateImage(desc, asset.Data)
	if err != nil {
		return nil, err
	}
	view, err := rm.lookup.GetOrCreateImageView(image, metadata.DefaultImageViewDescription(asset.Format))
	if err != nil {
		image.Release()
		return nil, err
	}
	return &LoadedImage{Image: image, ImageView: view}, nil
}

func (rm *ResourceManager) loadBuffer(_ assets.LoadHandle, asset *assets.BufferAsset) (*LoadedBuffer, error) {
	if len(asset.Data) == 0 {
		return nil, errors.New("buffer without data")
	}
	buffer, err := rm.lookup.CreateBuffer(metadata.BufferDescription{
		Size:        uint64(len(asset.Data)),
		Usage:       asset.Usage,
		MemoryUsage: metadata.MemoryUsageGPUOnly,
	}, asset.Data)
	if err != nil {
		return nil, err
	}
	return &LoadedBuffer{Buffer: buffer}, nil
}
