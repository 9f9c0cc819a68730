package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	TaskStatusCreated    = "created"
	TaskStatusQueued     = "queued"
	TaskStatusProcessing = "processing"
	TaskStatusSucceeded  = "succeeded"
	TaskStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
	SourceTypeNone        = "none"
)

type CreateTaskRequest struct {
	Kind       string `json:"kind"`
	SourceType string `json:"source_type,omitempty"`
	ObjectKey  string `json:"object_key,omitempty"`
	MIME       string `json:"mime,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}

type Task struct {
	ID           string
	Status       string
	Kind         string
	SourceType   string
	ObjectKey    string
	MIME         string
	Prompt       string
	Resolution   string
	WebhookURL   string
	UserID       string
	OutputKey    string
	Mode         string
	Tier         string
	Approximated bool
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (r CreateTaskRequest) Validate() error {
	kind := strings.ToLower(strings.TrimSpace(r.Kind))
	switch kind {
	case KindTextRemoval:
		sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
		if sourceType == "" {
			return errors.New("source_type is required for kind=remove_text")
		}
		if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
			return fmt.Errorf("unsupported source_type: %s", r.SourceType)
		}
		if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
			return errors.New("object_key is required for source_type=local_file")
		}
	case KindGeneration:
		if strings.TrimSpace(r.Prompt) == "" {
			return errors.New("prompt is required for kind=generate")
		}
		if r.Resolution != "" && !ValidResolution(r.Resolution) {
			return fmt.Errorf("unsupported resolution: %s", r.Resolution)
		}
	case "":
		return errors.New("kind is required")
	default:
		return fmt.Errorf("unsupported kind: %s", r.Kind)
	}
	return nil
}
