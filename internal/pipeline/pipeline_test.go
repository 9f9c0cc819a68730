package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log"
	"testing"

	"github.com/stickerflow/stickerflow/internal/demo"
	"github.com/stickerflow/stickerflow/internal/domain"
	"github.com/stickerflow/stickerflow/internal/genai"
	"github.com/stickerflow/stickerflow/internal/media"
	"github.com/stickerflow/stickerflow/internal/mode"
	"github.com/stickerflow/stickerflow/internal/transparency"
	"github.com/stickerflow/stickerflow/internal/usage"
)

type fakeGenerator struct {
	calls    int
	response []byte
	err      error
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, _ genai.Request) ([]byte, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return f.response, "image/png", nil
}

func newTestPipeline(t *testing.T, resolver mode.Resolver, generator Generator) (*Pipeline, *usage.Counter) {
	t.Helper()

	codec, err := media.NewCodec()
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	logger := log.New(io.Discard, "", 0)
	counter := usage.NewCounter()
	p := New(
		logger,
		resolver,
		generator,
		demo.Simulator{},
		transparency.NewEnforcer(logger, nil),
		codec,
		counter,
	)
	return p, counter
}

// Demo removeText on an opaque JPEG: output is PNG, alpha stays fully
// opaque, and the bottom caption band collapses to a single sampled color.
func TestRemoveTextDemoOnOpaqueJPEG(t *testing.T) {
	src := opaqueJPEG(t, 300, 300)

	p, counter := newTestPipeline(t, mode.Static{}, &fakeGenerator{})
	result, err := p.RemoveText(context.Background(), domain.MediaAsset{Data: src, MIME: "image/jpeg"})
	if err != nil {
		t.Fatalf("remove text: %v", err)
	}

	if result.Mode != domain.ModeDemo {
		t.Fatalf("expected demo mode, got %s", result.Mode)
	}
	if result.Tier != domain.TierNone {
		t.Fatalf("demo path must not report a transparency tier, got %s", result.Tier)
	}
	if result.Approximated {
		t.Fatal("static input must not be tagged approximated")
	}

	out, err := png.Decode(bytes.NewReader(result.PNG))
	if err != nil {
		t.Fatalf("decode result png: %v", err)
	}
	raster := media.ToNRGBA(out)

	for i := 3; i < len(raster.Pix); i += 4 {
		if raster.Pix[i] != 0xFF {
			t.Fatal("demo path must leave alpha fully opaque")
		}
	}

	fill := raster.NRGBAAt(0, 299)
	for y := 225; y < 300; y++ {
		for x := 0; x < 300; x++ {
			if raster.NRGBAAt(x, y) != fill {
				t.Fatalf("caption band pixel (%d,%d) not uniformly recolored", x, y)
			}
		}
	}

	if counter.Total() != 1 {
		t.Fatalf("expected one usage increment, got %d", counter.Total())
	}
}

// Live removeText on a 5-frame GIF: single static result from the first
// frame, tagged approximated, with a real transparency tier.
func TestRemoveTextLiveOnAnimatedGIF(t *testing.T) {
	generator := &fakeGenerator{response: stickerCandidatePNG(t)}
	p, _ := newTestPipeline(t, mode.Static{Mode: mode.Mode{Live: true, Credential: "key-123"}}, generator)

	result, err := p.RemoveText(context.Background(), domain.MediaAsset{Data: animatedGIF(t, 5), MIME: "image/gif"})
	if err != nil {
		t.Fatalf("remove text: %v", err)
	}

	if generator.calls != 1 {
		t.Fatalf("expected exactly one backend call, got %d", generator.calls)
	}
	if result.Mode != domain.ModeLive {
		t.Fatalf("expected live mode, got %s", result.Mode)
	}
	if result.Tier == domain.TierNone {
		t.Fatal("live path must report the tier that satisfied transparency")
	}
	if !result.Approximated {
		t.Fatal("animated input must be tagged as a first-frame approximation")
	}

	if _, err := png.Decode(bytes.NewReader(result.PNG)); err != nil {
		t.Fatalf("decode result png: %v", err)
	}
}

// When the resolver reports demo, no backend call happens for either
// operation, regardless of stored credentials.
func TestDemoModeNeverCallsBackend(t *testing.T) {
	generator := &fakeGenerator{response: stickerCandidatePNG(t)}
	p, _ := newTestPipeline(t, mode.Static{}, generator)

	if _, err := p.RemoveText(context.Background(), domain.MediaAsset{Data: opaqueJPEG(t, 50, 50), MIME: "image/jpeg"}); err != nil {
		t.Fatalf("remove text: %v", err)
	}
	if _, err := p.GenerateFromPrompt(context.Background(), "a fox sticker", domain.Resolution1K); err != nil {
		t.Fatalf("generate: %v", err)
	}

	if generator.calls != 0 {
		t.Fatalf("demo mode must not reach the backend, saw %d calls", generator.calls)
	}
}

func TestGenerateFromPromptDemoIsIdempotent(t *testing.T) {
	p, _ := newTestPipeline(t, mode.Static{}, &fakeGenerator{})

	first, err := p.GenerateFromPrompt(context.Background(), "a fox sticker", "")
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}
	second, err := p.GenerateFromPrompt(context.Background(), "a fox sticker", "")
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}

	if !bytes.Equal(first.PNG, second.PNG) {
		t.Fatal("demo generation must be idempotent for the same prompt")
	}
	if first.Mode != domain.ModeDemo {
		t.Fatalf("expected demo mode, got %s", first.Mode)
	}
}

func TestGenerateFromPromptLiveEnforcesTransparency(t *testing.T) {
	generator := &fakeGenerator{response: stickerCandidatePNG(t)}
	p, _ := newTestPipeline(t, mode.Static{Mode: mode.Mode{Live: true, Credential: "key-123"}}, generator)

	result, err := p.GenerateFromPrompt(context.Background(), "a fox sticker", domain.Resolution2K)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if result.Tier != domain.TierHeuristic {
		t.Fatalf("expected heuristic tier on flat-background candidate, got %s", result.Tier)
	}

	raster, err := media.DecodeStatic(result.PNG)
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if raster.Pix[3] != 0 {
		t.Fatal("expected transparent corner after enforcement")
	}
}

func TestEmptyGenerationSurfacesWithoutRetry(t *testing.T) {
	generator := &fakeGenerator{err: domain.ErrEmptyGeneration}
	p, counter := newTestPipeline(t, mode.Static{Mode: mode.Mode{Live: true, Credential: "key-123"}}, generator)

	_, err := p.GenerateFromPrompt(context.Background(), "a fox sticker", "")
	if !errors.Is(err, domain.ErrEmptyGeneration) {
		t.Fatalf("expected ErrEmptyGeneration, got %v", err)
	}
	if generator.calls != 1 {
		t.Fatalf("empty generation must not be retried, saw %d calls", generator.calls)
	}
	if counter.Total() != 0 {
		t.Fatal("failed runs must not count as usage")
	}
}

func TestRemoveTextRejectsMalformedAsset(t *testing.T) {
	p, _ := newTestPipeline(t, mode.Static{}, &fakeGenerator{})

	_, err := p.RemoveText(context.Background(), domain.MediaAsset{Data: []byte("not an image"), MIME: "image/png"})
	if !errors.Is(err, domain.ErrMalformedAsset) {
		t.Fatalf("expected ErrMalformedAsset, got %v", err)
	}
}

func TestRemoveTextValidatesEmptyAsset(t *testing.T) {
	p, _ := newTestPipeline(t, mode.Static{}, &fakeGenerator{})
	if _, err := p.RemoveText(context.Background(), domain.MediaAsset{}); err == nil {
		t.Fatal("expected validation error for empty asset")
	}
}

func TestGenerateFromPromptValidatesBlankPrompt(t *testing.T) {
	p, _ := newTestPipeline(t, mode.Static{}, &fakeGenerator{})
	if _, err := p.GenerateFromPrompt(context.Background(), "   ", ""); err == nil {
		t.Fatal("expected validation error for blank prompt")
	}
}

func opaqueJPEG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8((x * 255) / w), G: 120, B: uint8((y * 255) / h), A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// stickerCandidatePNG mimics a backend candidate: flat white background,
// centered dark subject, fully opaque.
func stickerCandidatePNG(t *testing.T) []byte {
	t.Helper()

	size := 64
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetNRGBA(x, y, color.NRGBA{250, 250, 250, 255})
		}
	}
	for y := 16; y < 48; y++ {
		for x := 16; x < 48; x++ {
			img.SetNRGBA(x, y, color.NRGBA{40, 40, 160, 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode candidate png: %v", err)
	}
	return buf.Bytes()
}

func animatedGIF(t *testing.T, frames int) []byte {
	t.Helper()

	out := &gif.GIF{}
	for i := 0; i < frames; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, 32, 32), palette.Plan9)
		for y := 0; y < 32; y++ {
			for x := 0; x < 32; x++ {
				frame.Set(x, y, color.RGBA{R: uint8(i * 50), G: uint8(x * 8), B: uint8(y * 8), A: 255})
			}
		}
		out.Image = append(out.Image, frame)
		out.Delay = append(out.Delay, 5)
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, out); err != nil {
		t.Fatalf("encode animated gif: %v", err)
	}
	return buf.Bytes()
}
