package demo

import (
	"context"
	"hash/fnv"
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/stickerflow/stickerflow/internal/media"
)

// Simulator is the local stand-in for the generative backend. It never
// performs network I/O and is deterministic for identical input: demo runs
// must be reproducible so mode switches don't surprise anyone.
type Simulator struct{}

const (
	captionBandFraction = 0.25
	placeholderEdge     = 512
)

// RemoveText approximates caption scrubbing with local pixel operations:
// flood the bottom caption band with a background color sampled just above
// it, and blank the top-right watermark region the same way.
func (Simulator) RemoveText(ctx context.Context, assetPNG []byte) (*image.NRGBA, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	src, err := media.DecodeStatic(assetPNG)
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	out := image.NewNRGBA(bounds)
	copy(out.Pix, src.Pix)

	// Caption band: bottom quarter, recolored to the row just above it.
	bandTop := height - int(float64(height)*captionBandFraction)
	if bandTop < 0 {
		bandTop = 0
	}
	sampleY := bandTop - 1
	if sampleY < 0 {
		sampleY = 0
	}
	fill := averageRowColor(src, sampleY)
	for y := bandTop; y < height; y++ {
		for x := 0; x < width; x++ {
			out.SetNRGBA(bounds.Min.X+x, bounds.Min.Y+y, fill)
		}
	}

	// Watermark region: small fixed top-right box, blanked with the color to
	// its immediate left.
	wmWidth := width / 4
	wmHeight := height / 10
	if wmWidth > 0 && wmHeight > 0 {
		sampleX := width - wmWidth - 1
		if sampleX < 0 {
			sampleX = 0
		}
		wmFill := src.NRGBAAt(bounds.Min.X+sampleX, bounds.Min.Y+wmHeight/2)
		for y := 0; y < wmHeight; y++ {
			for x := width - wmWidth; x < width; x++ {
				out.SetNRGBA(bounds.Min.X+x, bounds.Min.Y+y, wmFill)
			}
		}
	}

	return out, nil
}

// Generate returns the demo placeholder: a prompt-seeded two-tone gradient
// stamped as demo output. Identical prompts yield identical pixels; demo mode
// is illustrative, not generative.
func (Simulator) Generate(ctx context.Context, prompt string) (*image.NRGBA, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	seed := fnv.New64a()
	_, _ = seed.Write([]byte(strings.TrimSpace(prompt)))
	h := seed.Sum64()

	top := color.NRGBA{
		R: uint8(h),
		G: uint8(h >> 8),
		B: uint8(h >> 16),
		A: 255,
	}
	bottom := color.NRGBA{
		R: uint8(h >> 24),
		G: uint8(h >> 32),
		B: uint8(h >> 40),
		A: 255,
	}

	img := image.NewNRGBA(image.Rect(0, 0, placeholderEdge, placeholderEdge))
	for y := 0; y < placeholderEdge; y++ {
		blend := float64(y) / float64(placeholderEdge-1)
		row := color.NRGBA{
			R: lerp(top.R, bottom.R, blend),
			G: lerp(top.G, bottom.G, blend),
			B: lerp(top.B, bottom.B, blend),
			A: 255,
		}
		for x := 0; x < placeholderEdge; x++ {
			img.SetNRGBA(x, y, row)
		}
	}

	stampLabel(img, "DEMO PREVIEW")
	return img, nil
}

func averageRowColor(img *image.NRGBA, y int) color.NRGBA {
	bounds := img.Bounds()
	width := bounds.Dx()
	if width == 0 {
		return color.NRGBA{A: 255}
	}

	var r, g, b int
	for x := 0; x < width; x++ {
		c := img.NRGBAAt(bounds.Min.X+x, bounds.Min.Y+y)
		r += int(c.R)
		g += int(c.G)
		b += int(c.B)
	}
	return color.NRGBA{
		R: uint8(r / width),
		G: uint8(g / width),
		B: uint8(b / width),
		A: 255,
	}
}

func stampLabel(dst *image.NRGBA, text string) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: 230}),
		Face: face,
	}

	width := drawer.MeasureString(text).Ceil()
	x := (dst.Bounds().Dx() - width) / 2
	baseline := dst.Bounds().Dy() - 24
	drawer.Dot = fixed.P(x, baseline)
	drawer.DrawString(text)
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}
