package store

import (
	"context"

	"github.com/stickerflow/stickerflow/internal/domain"
)

type TaskStore interface {
	Create(ctx context.Context, task domain.Task) error
	Get(ctx context.Context, id string) (domain.Task, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Task, error)
	RecordResult(ctx context.Context, id string, result TaskResult) (domain.Task, error)
}

// TaskResult is the persisted outcome of one pipeline run.
type TaskResult struct {
	Status       string
	OutputKey    string
	Mode         string
	Tier         string
	Approximated bool
	Error        string
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}

// UsageSummary aggregates usage logs for the reporting endpoint.
type UsageSummary struct {
	TotalTransforms int64 `json:"total_transforms"`
	LiveTransforms  int64 `json:"live_transforms"`
	DemoTransforms  int64 `json:"demo_transforms"`
	OutputPixels    int64 `json:"output_pixels"`
	ComputeTimeMS   int64 `json:"compute_time_ms"`
}
