package pipeline

import (
	"context"
	"fmt"
	"image"
	"log"
	"strings"

	"github.com/stickerflow/stickerflow/internal/domain"
	"github.com/stickerflow/stickerflow/internal/genai"
	"github.com/stickerflow/stickerflow/internal/media"
	"github.com/stickerflow/stickerflow/internal/mode"
	"github.com/stickerflow/stickerflow/internal/transparency"
	"github.com/stickerflow/stickerflow/internal/usage"
)

type Generator interface {
	Generate(ctx context.Context, credential string, req genai.Request) ([]byte, string, error)
}

type Simulator interface {
	RemoveText(ctx context.Context, assetPNG []byte) (*image.NRGBA, error)
	Generate(ctx context.Context, prompt string) (*image.NRGBA, error)
}

type Enforcer interface {
	Enforce(ctx context.Context, src *image.NRGBA) transparency.Result
}

// Pipeline composes classification, mode resolution, generation (live or
// simulated) and transparency enforcement into the two public transform
// operations. One invocation is one sequential chain of stages; failures
// surface as typed errors and are never blanket-retried here.
type Pipeline struct {
	logger    *log.Logger
	resolver  mode.Resolver
	generator Generator
	simulator Simulator
	enforcer  Enforcer
	codec     media.Codec
	counter   *usage.Counter
}

func New(
	logger *log.Logger,
	resolver mode.Resolver,
	generator Generator,
	simulator Simulator,
	enforcer Enforcer,
	codec media.Codec,
	counter *usage.Counter,
) *Pipeline {
	return &Pipeline{
		logger:    logger,
		resolver:  resolver,
		generator: generator,
		simulator: simulator,
		enforcer:  enforcer,
		codec:     codec,
		counter:   counter,
	}
}

// RemoveText scrubs caption text and watermarks from a static image or an
// animated GIF. Animated input is reduced to its first frame: per-frame
// re-synthesis would cost one generative call per frame, so the single
// representative frame is a deliberate approximation and the result says so.
func (p *Pipeline) RemoveText(ctx context.Context, asset domain.MediaAsset) (domain.TransformResult, error) {
	req := domain.TransformRequest{Kind: domain.KindTextRemoval, Asset: asset}
	if err := req.Validate(); err != nil {
		return domain.TransformResult{}, err
	}

	info, err := media.Classify(asset.Data, asset.MIME)
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("classify stage: %w", err)
	}

	working := asset.Data
	if info.Animated {
		frame, err := media.FirstFrame(asset.Data)
		if err != nil {
			return domain.TransformResult{}, fmt.Errorf("frame stage: %w", err)
		}
		working, err = media.EncodePNG(frame)
		if err != nil {
			return domain.TransformResult{}, fmt.Errorf("frame stage: %w", err)
		}
	}

	m, err := p.resolver.Resolve(ctx)
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("resolve mode: %w", err)
	}

	if !m.Live {
		raster, err := p.simulator.RemoveText(ctx, working)
		if err != nil {
			return domain.TransformResult{}, fmt.Errorf("demo stage: %w", err)
		}
		return p.finish(raster, domain.ModeDemo, domain.TierNone, info.Animated)
	}

	canonical, err := p.codec.CanonicalPNG(ctx, working)
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("canonicalize stage: %w", err)
	}

	candidate, _, err := p.generator.Generate(ctx, m.Credential, genai.RemoveTextRequest(canonical))
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("generate stage: %w", err)
	}

	raster, err := media.DecodeStatic(candidate)
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("decode candidate: %w", err)
	}

	enforced := p.enforcer.Enforce(ctx, raster)
	return p.finish(enforced.Raster, domain.ModeLive, enforced.Tier, info.Animated)
}

// GenerateFromPrompt synthesizes a fresh sticker. No classifier step: there
// is no input asset.
func (p *Pipeline) GenerateFromPrompt(ctx context.Context, prompt, resolution string) (domain.TransformResult, error) {
	req := domain.TransformRequest{Kind: domain.KindGeneration, Prompt: prompt, Resolution: resolution}
	if err := req.Validate(); err != nil {
		return domain.TransformResult{}, err
	}
	prompt = strings.TrimSpace(prompt)

	m, err := p.resolver.Resolve(ctx)
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("resolve mode: %w", err)
	}

	if !m.Live {
		raster, err := p.simulator.Generate(ctx, prompt)
		if err != nil {
			return domain.TransformResult{}, fmt.Errorf("demo stage: %w", err)
		}
		return p.finish(raster, domain.ModeDemo, domain.TierNone, false)
	}

	candidate, _, err := p.generator.Generate(ctx, m.Credential, genai.GenerateRequest(prompt, resolution))
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("generate stage: %w", err)
	}

	raster, err := media.DecodeStatic(candidate)
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("decode candidate: %w", err)
	}

	enforced := p.enforcer.Enforce(ctx, raster)
	return p.finish(enforced.Raster, domain.ModeLive, enforced.Tier, false)
}

// UsageTotal reports the process-wide count of successful transformations.
func (p *Pipeline) UsageTotal() int64 {
	return p.counter.Total()
}

// finish encodes the terminal raster and counts the run. The counter moves
// exactly once per success, demo runs included, so quota accounting stays
// consistent across mode switches.
func (p *Pipeline) finish(raster *image.NRGBA, runMode, tier string, approximated bool) (domain.TransformResult, error) {
	data, err := media.EncodePNG(raster)
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("encode stage: %w", err)
	}

	p.counter.Increment()
	if p.logger != nil {
		p.logger.Printf("transform complete mode=%s tier=%s approximated=%t bytes=%d", runMode, tier, approximated, len(data))
	}

	bounds := raster.Bounds()
	return domain.TransformResult{
		PNG:          data,
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
		Mode:         runMode,
		Tier:         tier,
		Approximated: approximated,
	}, nil
}
