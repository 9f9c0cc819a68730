//go:build !govips || !cgo

package media

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/stickerflow/stickerflow/internal/domain"
)

type stdlibCodec struct{}

func (stdlibCodec) CanonicalPNG(ctx context.Context, input []byte) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	src, _, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedAsset, err)
	}
	return EncodePNG(ToNRGBA(src))
}

func Startup() error {
	return nil
}

func Shutdown() {}

// NewCodec returns the canonicalizing codec for this build. The govips build
// tag swaps in a libvips-backed implementation.
func NewCodec() (Codec, error) {
	return stdlibCodec{}, nil
}
