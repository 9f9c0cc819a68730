package domain

import "errors"

var (
	// ErrMalformedAsset marks input bytes that cannot be parsed as a
	// recognizable container for their declared type. Fatal, never retried.
	ErrMalformedAsset = errors.New("malformed asset")

	// ErrEmptyGeneration marks a backend response with no usable image
	// candidate. Fatal for this call; a repeat against the same input would
	// only burn quota.
	ErrEmptyGeneration = errors.New("generation returned no image candidate")

	// ErrTimeout marks a stage-local deadline. Depending on the stage it
	// either feeds the next transparency tier or surfaces to the caller.
	ErrTimeout = errors.New("stage timed out")

	// ErrAssetDecode marks a demo-mode decode failure.
	ErrAssetDecode = errors.New("asset decode failed")
)

// UserMessage folds the error taxonomy into one of the three user-facing
// classes: try a different image, try again, or connectivity.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrMalformedAsset), errors.Is(err, ErrAssetDecode):
		return "This file could not be read. Try a different image."
	case errors.Is(err, ErrEmptyGeneration):
		return "Nothing usable came back for this input. Try a different image or prompt."
	case errors.Is(err, ErrTimeout):
		return "The transformation took too long. Try again."
	default:
		return "Something went wrong reaching the generation service. Check connectivity and try again."
	}
}
