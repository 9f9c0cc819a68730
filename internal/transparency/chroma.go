package transparency

import (
	"context"
	"errors"
	"image"

	"github.com/stickerflow/stickerflow/internal/domain"
)

// ChromaKey is the deterministic heuristic tier: sample border pixels for the
// presumed background color, then clear the alpha of background-colored
// pixels reachable from the border. Flood-fill keeps same-colored interior
// regions (eyes, highlights) opaque; the cutoff boundary is feathered so the
// edge does not alias.
type ChromaKey struct {
	// Threshold is the squared per-channel color distance treated as
	// background. Zero means the default.
	Threshold int
}

const (
	defaultChromaThreshold = 3 * 48 * 48
	featherBand            = 1.5
)

func (ChromaKey) Name() string {
	return domain.TierHeuristic
}

func (c ChromaKey) Apply(ctx context.Context, src *image.NRGBA) (*image.NRGBA, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, errors.New("empty raster")
	}

	threshold := c.Threshold
	if threshold <= 0 {
		threshold = defaultChromaThreshold
	}

	bg := sampleBackground(src)
	out := image.NewNRGBA(bounds)
	copy(out.Pix, src.Pix)

	visited := make([]bool, width*height)
	queue := make([]int, 0, 2*(width+height))

	push := func(x, y int) {
		idx := y*width + x
		if visited[idx] {
			return
		}
		visited[idx] = true
		queue = append(queue, idx)
	}

	for x := 0; x < width; x++ {
		push(x, 0)
		push(x, height-1)
	}
	for y := 0; y < height; y++ {
		push(0, y)
		push(width-1, y)
	}

	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		x := idx % width
		y := idx / width

		dist := colorDistanceSq(out, x, y, bg)
		if dist > int(float64(threshold)*featherBand) {
			continue
		}

		pix := out.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
		if dist <= threshold {
			out.Pix[pix+3] = 0
		} else {
			// Feather zone: scale alpha by how far past the cutoff we are.
			ratio := float64(dist-threshold) / (float64(threshold) * (featherBand - 1))
			out.Pix[pix+3] = uint8(ratio * float64(out.Pix[pix+3]))
		}

		if x > 0 {
			push(x-1, y)
		}
		if x < width-1 {
			push(x+1, y)
		}
		if y > 0 {
			push(x, y-1)
		}
		if y < height-1 {
			push(x, y+1)
		}
	}

	return out, nil
}

type rgb struct {
	r, g, b int
}

// sampleBackground picks the dominant quantized color along the raster
// border, corners weighted double. Flat generated-sticker backgrounds make
// this a reliable estimate.
func sampleBackground(img *image.NRGBA) rgb {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	counts := make(map[rgb]int)
	sums := make(map[rgb]rgb)

	sample := func(x, y, weight int) {
		pix := img.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
		r := int(img.Pix[pix])
		g := int(img.Pix[pix+1])
		b := int(img.Pix[pix+2])
		key := rgb{r >> 4, g >> 4, b >> 4}
		counts[key] += weight
		sum := sums[key]
		sum.r += r * weight
		sum.g += g * weight
		sum.b += b * weight
		sums[key] = sum
	}

	for x := 0; x < width; x++ {
		sample(x, 0, 1)
		sample(x, height-1, 1)
	}
	for y := 0; y < height; y++ {
		sample(0, y, 1)
		sample(width-1, y, 1)
	}
	sample(0, 0, 2)
	sample(width-1, 0, 2)
	sample(0, height-1, 2)
	sample(width-1, height-1, 2)

	var bestKey rgb
	best := -1
	for key, count := range counts {
		if count > best {
			best = count
			bestKey = key
		}
	}

	sum := sums[bestKey]
	return rgb{sum.r / best, sum.g / best, sum.b / best}
}

func colorDistanceSq(img *image.NRGBA, x, y int, bg rgb) int {
	bounds := img.Bounds()
	pix := img.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
	dr := int(img.Pix[pix]) - bg.r
	dg := int(img.Pix[pix+1]) - bg.g
	db := int(img.Pix[pix+2]) - bg.b
	return dr*dr + dg*dg + db*db
}
