package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stickerflow/stickerflow/internal/domain"
)

func TestGenerateReturnsFirstInlineCandidate(t *testing.T) {
	want := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "key-123" {
			t.Errorf("expected credential header, got %q", r.Header.Get("x-goog-api-key"))
		}

		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Contents) != 1 || len(req.Contents[0].Parts) == 0 {
			t.Error("expected one content with parts")
		}
		if !strings.Contains(req.Contents[0].Parts[0].Text, "transparent background") {
			t.Error("expected fixed instruction text in first part")
		}

		fmt.Fprintf(w, `{"candidates":[{"content":{"parts":[
			{"text":"here you go"},
			{"inlineData":{"mimeType":"image/png","data":%q}}
		]}}]}`, base64.StdEncoding.EncodeToString(want))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Model: "test-model"})
	got, mimeType, err := client.Generate(context.Background(), "key-123", RemoveTextRequest([]byte{0x01}))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if mimeType != "image/png" {
		t.Fatalf("expected image/png, got %s", mimeType)
	}
	if string(got) != string(want) {
		t.Fatal("expected decoded inline bytes to round-trip")
	}
}

func TestGenerateNoCandidateIsEmptyGeneration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"cannot help with that"}]}}]}`)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	_, _, err := client.Generate(context.Background(), "key-123", GenerateRequest("a fox sticker", domain.Resolution1K))
	if !errors.Is(err, domain.ErrEmptyGeneration) {
		t.Fatalf("expected ErrEmptyGeneration, got %v", err)
	}
}

func TestGenerateTimeoutIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	_, _, err := client.Generate(context.Background(), "key-123", GenerateRequest("a fox sticker", ""))
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestGenerateSurfacesBackendStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":429,"message":"quota"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	_, _, err := client.Generate(context.Background(), "key-123", GenerateRequest("a fox sticker", ""))
	if err == nil || !strings.Contains(err.Error(), "status=429") {
		t.Fatalf("expected status=429 error, got %v", err)
	}
}

func TestGenerateRequiresCredential(t *testing.T) {
	client := NewClient(Config{})
	if _, _, err := client.Generate(context.Background(), "  ", GenerateRequest("a fox sticker", "")); err == nil {
		t.Fatal("expected error for blank credential")
	}
}

func TestResolutionHintCarriesPixelEdge(t *testing.T) {
	var sawHint bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, part := range req.Contents[0].Parts {
			if strings.Contains(part.Text, "4096 pixels") {
				sawHint = true
			}
		}
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	_, _, _ = client.Generate(context.Background(), "key-123", GenerateRequest("a fox sticker", domain.Resolution4K))
	if !sawHint {
		t.Fatal("expected resolution hint part with pixel edge")
	}
}
