package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stickerflow/stickerflow/internal/domain"
)

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

// Source locates the input asset for one task; Emitters place the terminal
// PNG next to it under the task id.
type Source struct {
	TaskID     string
	SourceType string
	ObjectKey  string
}

type Fetcher interface {
	Fetch(ctx context.Context, src Source) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, src Source, png []byte) (string, error)
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, src Source) ([]byte, error) {
	if !strings.EqualFold(src.SourceType, domain.SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, src.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(src.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", src.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, src Source, png []byte) (string, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return "", errors.New("output directory is required")
	}

	taskDir := filepath.Join(e.OutputDir, sanitizePathToken(src.TaskID))
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(taskDir, "sticker.png")
	if err := os.WriteFile(fullPath, png, 0o644); err != nil {
		return "", fmt.Errorf("write output file: %w", err)
	}
	return fullPath, nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
