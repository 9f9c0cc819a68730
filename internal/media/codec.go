package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
)

// Codec re-encodes arbitrary raster input into the canonical wire format:
// PNG with an alpha channel. The generative backend accepts only a fixed
// small set of encodings, so every outbound image passes through here first.
type Codec interface {
	CanonicalPNG(ctx context.Context, input []byte) ([]byte, error)
}

// EncodePNG serializes a raster into the canonical output encoding.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
