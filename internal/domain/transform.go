package domain

import (
	"errors"
	"fmt"
	"strings"
)

const (
	KindTextRemoval = "remove_text"
	KindGeneration  = "generate"
)

const (
	ModeLive = "live"
	ModeDemo = "demo"
)

// Tier names the transparency strategy that satisfied (or gave up on) the
// alpha invariant. TierPassthrough means transparency was NOT achieved and
// callers should treat the output as best-effort.
const (
	TierNone        = ""
	TierML          = "ml"
	TierHeuristic   = "heuristic"
	TierPassthrough = "passthrough"
)

const (
	Resolution1K = "1k"
	Resolution2K = "2k"
	Resolution4K = "4k"
)

type MediaAsset struct {
	Data []byte
	MIME string
}

type TransformRequest struct {
	Kind       string
	Asset      MediaAsset
	Prompt     string
	Resolution string
}

// TransformResult is the terminal output of one pipeline run. PNG always
// carries an alpha channel; Tier records which strategy produced it.
// Approximated is set when an animated source was reduced to its first frame.
type TransformResult struct {
	PNG          []byte
	Width        int
	Height       int
	Mode         string
	Tier         string
	Approximated bool
}

func (r TransformRequest) Validate() error {
	switch r.Kind {
	case KindTextRemoval:
		if len(r.Asset.Data) == 0 {
			return errors.New("remove_text requires a non-empty asset")
		}
	case KindGeneration:
		if strings.TrimSpace(r.Prompt) == "" {
			return errors.New("generate requires a non-empty prompt")
		}
		if r.Resolution != "" && !ValidResolution(r.Resolution) {
			return fmt.Errorf("unsupported resolution: %s", r.Resolution)
		}
	default:
		return fmt.Errorf("unsupported transform kind: %s", r.Kind)
	}
	return nil
}

func ValidResolution(resolution string) bool {
	switch strings.ToLower(strings.TrimSpace(resolution)) {
	case Resolution1K, Resolution2K, Resolution4K:
		return true
	default:
		return false
	}
}

// ResolutionEdge maps a resolution hint to the longest output edge in pixels.
func ResolutionEdge(resolution string) int {
	switch strings.ToLower(strings.TrimSpace(resolution)) {
	case Resolution2K:
		return 2048
	case Resolution4K:
		return 4096
	default:
		return 1024
	}
}
