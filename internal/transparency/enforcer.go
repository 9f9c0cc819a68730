package transparency

import (
	"context"
	"image"
	"log"

	"github.com/stickerflow/stickerflow/internal/domain"
)

// minTranslucentFraction is the non-degeneracy bar: a strategy output counts
// as transparent only if at least this fraction of pixels is below full
// opacity. Guards against a segmentation call that "succeeds" but hands back
// an unmodified opaque image.
const minTranslucentFraction = 0.01

// Strategy is one tier in the fallback chain. A returned error means "skip to
// the next tier"; it is absorbed here and never reaches the caller.
type Strategy interface {
	Name() string
	Apply(ctx context.Context, src *image.NRGBA) (*image.NRGBA, error)
}

type Result struct {
	Raster *image.NRGBA
	Tier   string
}

// Enforcer guarantees an output raster with a meaningful alpha channel, or —
// as the terminal passthrough contract — the input with alpha forced opaque,
// tagged so callers can treat it as a soft failure.
type Enforcer struct {
	logger     *log.Logger
	strategies []Strategy
}

// NewEnforcer builds the tier chain in strict order. A nil matting strategy
// (no model configured) simply starts the chain at the heuristic tier.
func NewEnforcer(logger *log.Logger, matting Strategy) *Enforcer {
	strategies := make([]Strategy, 0, 2)
	if matting != nil {
		strategies = append(strategies, matting)
	}
	strategies = append(strategies, ChromaKey{})

	return &Enforcer{
		logger:     logger,
		strategies: strategies,
	}
}

// Enforce is total: for any structurally valid raster it returns an RGBA
// raster and the tier that produced it. First accepted strategy wins;
// rejected or failed tiers are logged and skipped.
func (e *Enforcer) Enforce(ctx context.Context, src *image.NRGBA) Result {
	for _, strategy := range e.strategies {
		out, err := strategy.Apply(ctx, src)
		if err != nil {
			if e.logger != nil {
				e.logger.Printf("transparency tier skipped tier=%s err=%v", strategy.Name(), err)
			}
			continue
		}
		if degenerateAlpha(out) {
			if e.logger != nil {
				e.logger.Printf("transparency tier rejected tier=%s reason=degenerate_alpha", strategy.Name())
			}
			continue
		}
		return Result{Raster: out, Tier: strategy.Name()}
	}

	return Result{Raster: forceOpaque(src), Tier: domain.TierPassthrough}
}

func degenerateAlpha(img *image.NRGBA) bool {
	bounds := img.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return true
	}

	needed := int(float64(total) * minTranslucentFraction)
	if needed < 1 {
		needed = 1
	}

	translucent := 0
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] < 0xFF {
			translucent++
			if translucent >= needed {
				return false
			}
		}
	}
	return true
}

func forceOpaque(src *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(src.Bounds())
	copy(out.Pix, src.Pix)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xFF
	}
	return out
}
