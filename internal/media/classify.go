package media

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"strings"

	"github.com/stickerflow/stickerflow/internal/domain"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Info is the classification fact for one asset. Animated is only ever true
// for GIF containers holding two or more image frame blocks.
type Info struct {
	Animated   bool
	FrameCount int
	MIME       string
}

// Classify sniffs the real container type from the byte stream and, for GIFs,
// walks the block structure to count frames. The declared MIME is advisory: a
// renamed payload whose bytes disagree with the declared image type is
// rejected rather than trusted.
func Classify(data []byte, declaredMIME string) (Info, error) {
	if len(data) == 0 {
		return Info{}, fmt.Errorf("%w: empty asset", domain.ErrMalformedAsset)
	}

	sniffed := http.DetectContentType(data)
	declared := strings.ToLower(strings.TrimSpace(declaredMIME))
	if declared != "" && strings.HasPrefix(declared, "image/") && declared != sniffed {
		return Info{}, fmt.Errorf("%w: declared %s but content is %s", domain.ErrMalformedAsset, declared, sniffed)
	}

	if sniffed == "image/gif" {
		frames, err := gifFrameCount(data)
		if err != nil {
			return Info{}, err
		}
		return Info{
			Animated:   frames >= 2,
			FrameCount: frames,
			MIME:       "image/gif",
		}, nil
	}

	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return Info{}, fmt.Errorf("%w: %v", domain.ErrMalformedAsset, err)
	}

	return Info{
		Animated:   false,
		FrameCount: 1,
		MIME:       sniffed,
	}, nil
}

const (
	gifBlockImage     = 0x2C
	gifBlockExtension = 0x21
	gifBlockTrailer   = 0x3B
)

// gifFrameCount walks the GIF block stream and counts image descriptor
// blocks. Extension blocks are skipped; anything structurally out of place
// fails as malformed. The walk trusts the container, never the extension or
// declared type.
func gifFrameCount(data []byte) (int, error) {
	if len(data) < 13 {
		return 0, fmt.Errorf("%w: gif header truncated", domain.ErrMalformedAsset)
	}
	header := string(data[:6])
	if header != "GIF87a" && header != "GIF89a" {
		return 0, fmt.Errorf("%w: not a gif signature", domain.ErrMalformedAsset)
	}

	// Logical screen descriptor: 4 bytes dimensions, packed flags, background
	// index, aspect ratio.
	pos := 6 + 7
	packed := data[12]
	if packed&0x80 != 0 {
		tableSize := 3 * (1 << ((packed & 0x07) + 1))
		pos += tableSize
	}

	frames := 0
	for {
		if pos >= len(data) {
			return 0, fmt.Errorf("%w: gif block stream truncated", domain.ErrMalformedAsset)
		}
		switch data[pos] {
		case gifBlockTrailer:
			if frames == 0 {
				return 0, fmt.Errorf("%w: gif contains no image frames", domain.ErrMalformedAsset)
			}
			return frames, nil

		case gifBlockExtension:
			pos += 2
			next, err := skipSubBlocks(data, pos)
			if err != nil {
				return 0, err
			}
			pos = next

		case gifBlockImage:
			if pos+10 > len(data) {
				return 0, fmt.Errorf("%w: gif image descriptor truncated", domain.ErrMalformedAsset)
			}
			imagePacked := data[pos+9]
			pos += 10
			if imagePacked&0x80 != 0 {
				tableSize := 3 * (1 << ((imagePacked & 0x07) + 1))
				pos += tableSize
			}
			// LZW minimum code size byte precedes the pixel sub-blocks.
			pos++
			next, err := skipSubBlocks(data, pos)
			if err != nil {
				return 0, err
			}
			pos = next
			frames++

		default:
			return 0, fmt.Errorf("%w: unexpected gif block 0x%02x", domain.ErrMalformedAsset, data[pos])
		}
	}
}

func skipSubBlocks(data []byte, pos int) (int, error) {
	for {
		if pos >= len(data) {
			return 0, fmt.Errorf("%w: gif sub-blocks truncated", domain.ErrMalformedAsset)
		}
		size := int(data[pos])
		pos++
		if size == 0 {
			return pos, nil
		}
		if pos+size > len(data) {
			return 0, fmt.Errorf("%w: gif sub-block overruns buffer", domain.ErrMalformedAsset)
		}
		pos += size
	}
}
