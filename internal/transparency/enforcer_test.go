package transparency

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log"
	"testing"

	"github.com/stickerflow/stickerflow/internal/domain"
)

type fakeStrategy struct {
	name  string
	apply func(ctx context.Context, src *image.NRGBA) (*image.NRGBA, error)
}

func (f fakeStrategy) Name() string { return f.name }

func (f fakeStrategy) Apply(ctx context.Context, src *image.NRGBA) (*image.NRGBA, error) {
	return f.apply(ctx, src)
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// flatSubject builds a raster with a flat background and a centered square
// subject of a clearly different color.
func flatSubject(size int, bg, fg color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetNRGBA(x, y, bg)
		}
	}
	q := size / 4
	for y := q; y < size-q; y++ {
		for x := q; x < size-q; x++ {
			img.SetNRGBA(x, y, fg)
		}
	}
	return img
}

func TestEnforceIsTotalOnValidRasters(t *testing.T) {
	inputs := map[string]*image.NRGBA{
		"flat subject": flatSubject(32, color.NRGBA{250, 250, 250, 255}, color.NRGBA{200, 30, 30, 255}),
		"single pixel": flatSubject(1, color.NRGBA{0, 0, 0, 255}, color.NRGBA{0, 0, 0, 255}),
		"uniform":      flatSubject(16, color.NRGBA{10, 200, 10, 255}, color.NRGBA{10, 200, 10, 255}),
	}

	enforcer := NewEnforcer(discardLogger(), nil)
	for name, src := range inputs {
		res := enforcer.Enforce(context.Background(), src)
		if res.Raster == nil {
			t.Fatalf("%s: expected a raster, got nil", name)
		}
		if res.Tier == domain.TierNone {
			t.Fatalf("%s: expected a tier to be reported", name)
		}
		if res.Raster.Bounds() != src.Bounds() {
			t.Fatalf("%s: bounds changed", name)
		}
	}
}

func TestDegenerateMLOutputFallsToHeuristic(t *testing.T) {
	src := flatSubject(32, color.NRGBA{245, 245, 245, 255}, color.NRGBA{180, 40, 40, 255})

	var degenerate *image.NRGBA
	ml := fakeStrategy{name: domain.TierML, apply: func(_ context.Context, in *image.NRGBA) (*image.NRGBA, error) {
		// "Successful" call that hands back an unmodified opaque raster.
		degenerate = image.NewNRGBA(in.Bounds())
		copy(degenerate.Pix, in.Pix)
		return degenerate, nil
	}}

	res := NewEnforcer(discardLogger(), ml).Enforce(context.Background(), src)
	if res.Tier != domain.TierHeuristic {
		t.Fatalf("expected heuristic tier, got %s", res.Tier)
	}
	if bytes.Equal(res.Raster.Pix, degenerate.Pix) {
		t.Fatal("heuristic output must differ pixel-wise from the degenerate ML output")
	}
}

func TestMLFailureIsAbsorbed(t *testing.T) {
	src := flatSubject(32, color.NRGBA{245, 245, 245, 255}, color.NRGBA{40, 40, 180, 255})

	ml := fakeStrategy{name: domain.TierML, apply: func(context.Context, *image.NRGBA) (*image.NRGBA, error) {
		return nil, errors.New("segmentation backend unavailable")
	}}

	res := NewEnforcer(discardLogger(), ml).Enforce(context.Background(), src)
	if res.Tier != domain.TierHeuristic {
		t.Fatalf("expected heuristic tier after ML failure, got %s", res.Tier)
	}
}

func TestMLAcceptedWhenAlphaNonDegenerate(t *testing.T) {
	src := flatSubject(32, color.NRGBA{245, 245, 245, 255}, color.NRGBA{40, 180, 40, 255})

	ml := fakeStrategy{name: domain.TierML, apply: func(_ context.Context, in *image.NRGBA) (*image.NRGBA, error) {
		out := image.NewNRGBA(in.Bounds())
		copy(out.Pix, in.Pix)
		for i := 3; i < len(out.Pix)/2; i += 4 {
			out.Pix[i] = 0
		}
		return out, nil
	}}

	res := NewEnforcer(discardLogger(), ml).Enforce(context.Background(), src)
	if res.Tier != domain.TierML {
		t.Fatalf("expected ML tier to win, got %s", res.Tier)
	}
}

func TestPassthroughForcesOpaqueAlpha(t *testing.T) {
	// A subject that fills the canvas to the border ring leaves too few
	// background pixels for the heuristic tier to clear, so the chain lands
	// on the passthrough contract.
	size := 400
	src := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if x == 0 || y == 0 || x == size-1 || y == size-1 {
				src.SetNRGBA(x, y, color.NRGBA{255, 255, 255, 255})
			} else {
				src.SetNRGBA(x, y, color.NRGBA{30, 60, 120, 255})
			}
		}
	}

	res := NewEnforcer(discardLogger(), nil).Enforce(context.Background(), src)
	if res.Tier != domain.TierPassthrough {
		t.Fatalf("expected passthrough tier, got %s", res.Tier)
	}
	for i := 3; i < len(res.Raster.Pix); i += 4 {
		if res.Raster.Pix[i] != 0xFF {
			t.Fatal("passthrough must force alpha fully opaque")
		}
	}
}
