package loaders

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/assets"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageLoader decodes common image formats into tightly packed RGBA8 pixels.
type ImageLoader struct {
	// Flip rows so the first row is the bottom of the image.
	FlipY bool
	// Tag the pixels as sRGB encoded instead of linear.
	SRGB bool
	// Larger images are downscaled to fit, 0 disables.
	MaxDimension uint32
}

func (il *ImageLoader) Kind() assets.AssetKind {
	return assets.AssetKindImage
}

func (il *ImageLoader) Extensions() []string {
	return []string{".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp"}
}

func (il *ImageLoader) Load(path string, data []byte, _ assets.Resolver) (interface{}, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "decoding image %s", path)
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, errors.Newf("image %s (%s) is empty", path, format)
	}

	w, h := fitWithin(bounds.Dx(), bounds.Dy(), int(il.MaxDimension))
	rgba, ok := img.(*image.RGBA)
	switch {
	case w != bounds.Dx() || h != bounds.Dy():
		rgba = image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.CatmullRom.Scale(rgba, rgba.Bounds(), img, bounds, xdraw.Src, nil)
	case !ok || rgba.Stride != 4*w || bounds.Min != (image.Point{}):
		rgba = image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.Draw(rgba, rgba.Bounds(), img, bounds.Min, xdraw.Src)
	}
	if il.FlipY {
		flipRows(rgba)
	}

	pixelFormat := metadata.FormatR8G8B8A8Unorm
	if il.SRGB {
		pixelFormat = metadata.FormatR8G8B8A8Srgb
	}
	return &assets.ImageAsset{
		Width:  uint32(w),
		Height: uint32(h),
		Format: pixelFormat,
		Data:   rgba.Pix,
	}, nil
}

// fitWithin scales w x h down, keeping the aspect ratio, until both sides
// are at most limit.
func fitWithin(w, h, limit int) (int, int) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h
	}
	if w >= h {
		return limit, max(1, h*limit/w)
	}
	return max(1, w*limit/h), limit
}

func flipRows(img *image.RGBA) {
	h := img.Bounds().Dy()
	row := make([]byte, img.Stride)
	for y := 0; y < h/2; y++ {
		top := img.Pix[y*img.Stride : (y+1)*img.Stride]
		bottom := img.Pix[(h-1-y)*img.Stride : (h-y)*img.Stride]
		copy(row, top)
		copy(top, bottom)
		copy(bottom, row)
	}
}
