package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stickerflow/stickerflow/internal/domain"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.5-flash-image"
	defaultTimeout = 60 * time.Second
)

// Instruction strings are fixed and never user-editable; the only user input
// that reaches the backend is the prompt on the generation path.
const (
	instructionRemoveText = "Remove all caption text, subtitles and watermarks from this image. " +
		"Reconstruct the covered areas to match the surrounding content. " +
		"Return the subject on a fully transparent background."
	instructionGenerate = "Generate a single sticker-style illustration for the following prompt. " +
		"Use bold clean outlines and a fully transparent background."
)

type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client wraps one request/response exchange with the generative backend.
// Stateless: one call yields one candidate image or a typed failure.
type Client struct {
	httpClient *http.Client
	endpoint   string
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   fmt.Sprintf("%s/v1beta/models/%s:generateContent", baseURL, url.PathEscape(model)),
	}
}

// SetTransport swaps the underlying transport. Tests use it to prove the demo
// path never reaches the network.
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.httpClient.Transport = rt
}

type Request struct {
	Instruction string
	ImagePNG    []byte
	Prompt      string
	Resolution  string
}

// RemoveTextRequest builds the fixed-instruction edit request for a canonical
// PNG payload.
func RemoveTextRequest(canonicalPNG []byte) Request {
	return Request{
		Instruction: instructionRemoveText,
		ImagePNG:    canonicalPNG,
	}
}

// GenerateRequest builds the fixed-instruction text-to-image request.
func GenerateRequest(prompt, resolution string) Request {
	return Request{
		Instruction: instructionGenerate,
		Prompt:      strings.TrimSpace(prompt),
		Resolution:  resolution,
	}
}

type wirePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *wireInlineData `json:"inline_data,omitempty"`
}

type wireInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wireGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type wireRequest struct {
	Contents         []wireContent         `json:"contents"`
	GenerationConfig *wireGenerationConfig `json:"generationConfig,omitempty"`
}

type wireResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text       string `json:"text"`
				InlineData *struct {
					MIMEType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate performs one exchange and returns the first inline image
// candidate. A response with no inline image is ErrEmptyGeneration and must
// not be retried automatically: repeating the same prompt against a refusal
// only burns quota.
func (c *Client) Generate(ctx context.Context, credential string, req Request) ([]byte, string, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, "", errors.New("credential is required for live generation")
	}

	body, err := json.Marshal(buildWireRequest(req))
	if err != nil {
		return nil, "", fmt.Errorf("marshal generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("build generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", credential)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, "", fmt.Errorf("%w: generation backend", domain.ErrTimeout)
		}
		return nil, "", fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, "", fmt.Errorf("read generation response: %w", err)
	}

	if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout {
		return nil, "", fmt.Errorf("%w: backend returned status=%d", domain.ErrTimeout, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("generation backend returned status=%d: %s", resp.StatusCode, truncate(payload, 200))
	}

	var parsed wireResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, "", fmt.Errorf("decode generation response: %w", err)
	}
	if parsed.Error != nil {
		return nil, "", fmt.Errorf("generation backend error code=%d: %s", parsed.Error.Code, parsed.Error.Message)
	}

	for _, candidate := range parsed.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, "", fmt.Errorf("decode inline image data: %w", err)
			}
			mimeType := part.InlineData.MIMEType
			if mimeType == "" {
				mimeType = "image/png"
			}
			return data, mimeType, nil
		}
	}

	return nil, "", domain.ErrEmptyGeneration
}

func buildWireRequest(req Request) wireRequest {
	parts := make([]wirePart, 0, 3)
	parts = append(parts, wirePart{Text: req.Instruction})
	if req.Prompt != "" {
		parts = append(parts, wirePart{Text: req.Prompt})
	}
	if req.Resolution != "" {
		parts = append(parts, wirePart{
			Text: fmt.Sprintf("Target roughly %d pixels on the longest edge.", domain.ResolutionEdge(req.Resolution)),
		})
	}
	if len(req.ImagePNG) > 0 {
		parts = append(parts, wirePart{
			InlineData: &wireInlineData{
				MIMEType: "image/png",
				Data:     base64.StdEncoding.EncodeToString(req.ImagePNG),
			},
		})
	}

	return wireRequest{
		Contents: []wireContent{{Role: "user", Parts: parts}},
		GenerationConfig: &wireGenerationConfig{
			ResponseModalities: []string{"IMAGE"},
		},
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(data []byte, limit int) string {
	s := strings.TrimSpace(string(data))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
