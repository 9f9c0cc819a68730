package media

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/gif"

	"github.com/stickerflow/stickerflow/internal/domain"
)

// FirstFrame decodes an animated GIF and composites its first frame against
// the logical screen. The first frame stands in for the whole animation; the
// pipeline tags such results as approximations.
func FirstFrame(data []byte) (*image.NRGBA, error) {
	decoded, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedAsset, err)
	}
	if len(decoded.Image) == 0 {
		return nil, fmt.Errorf("%w: gif contains no frames", domain.ErrMalformedAsset)
	}

	width := decoded.Config.Width
	height := decoded.Config.Height
	first := decoded.Image[0]
	if width == 0 || height == 0 {
		width = first.Bounds().Dx()
		height = first.Bounds().Dy()
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, first.Bounds(), first, first.Bounds().Min, draw.Over)
	return canvas, nil
}

// DecodeStatic decodes any supported single-frame image into an NRGBA raster.
func DecodeStatic(data []byte) (*image.NRGBA, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAssetDecode, err)
	}
	return ToNRGBA(src), nil
}

// ToNRGBA returns a copy of src backed by a straight-alpha RGBA buffer. The
// copy keeps pipeline stages pure: no stage mutates its input raster.
func ToNRGBA(src image.Image) *image.NRGBA {
	if n, ok := src.(*image.NRGBA); ok {
		clone := image.NewNRGBA(n.Bounds())
		copy(clone.Pix, n.Pix)
		return clone
	}
	dst := image.NewNRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst
}
