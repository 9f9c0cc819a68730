package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stickerflow/stickerflow/internal/domain"
	"github.com/stickerflow/stickerflow/internal/queue"
	"github.com/stickerflow/stickerflow/internal/store"
)

type fakeEnqueuer struct {
	payload queue.TransformPayload
	called  bool
}

func (f *fakeEnqueuer) EnqueueTransform(_ context.Context, payload queue.TransformPayload) (*asynq.TaskInfo, error) {
	f.called = true
	f.payload = payload
	return &asynq.TaskInfo{
		ID:            "queue-task-1",
		Queue:         "default",
		State:         asynq.TaskStatePending,
		NextProcessAt: time.Now().UTC(),
	}, nil
}

type fakeStorage struct {
	exists bool
}

func (f fakeStorage) PresignedPutURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://minio.test/put/" + objectKey, nil
}

func (f fakeStorage) PresignedGetURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://minio.test/get/" + objectKey, nil
}

func (f fakeStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return f.exists, nil
}

func newTestServer(t *testing.T) (*Server, *fakeEnqueuer, *store.MemoryTaskStore) {
	t.Helper()
	enqueuer := &fakeEnqueuer{}
	taskStore := store.NewMemoryTaskStore()
	srv := NewServer(log.New(io.Discard, "", 0), enqueuer, taskStore, fakeStorage{exists: true}, Options{})
	return srv, enqueuer, taskStore
}

func TestExtractTaskIDFromStartPath(t *testing.T) {
	taskID, err := extractTaskIDFromStartPath("/v1/transforms/abc123/start")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if taskID != "abc123" {
		t.Fatalf("expected abc123, got %s", taskID)
	}

	if _, err := extractTaskIDFromStartPath("/v1/transforms/abc123"); err == nil {
		t.Fatal("expected error for invalid path")
	}
}

func TestExtractTaskIDFromPath(t *testing.T) {
	taskID, err := extractTaskIDFromPath("/v1/transforms/abc123")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if taskID != "abc123" {
		t.Fatalf("expected abc123, got %s", taskID)
	}

	if _, err := extractTaskIDFromPath("/v1/transforms/abc123/extra"); err == nil {
		t.Fatal("expected error for nested path")
	}
}

func TestCreateGenerationTask(t *testing.T) {
	srv, _, taskStore := newTestServer(t)

	body := `{"kind":"generate","prompt":"a fox sticker","resolution":"2k","user_id":"user-1"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/transforms", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
		Kind   string `json:"kind"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != domain.TaskStatusCreated {
		t.Fatalf("expected status=created, got %s", resp.Status)
	}

	task, ok, err := taskStore.Get(context.Background(), resp.TaskID)
	if err != nil || !ok {
		t.Fatalf("expected persisted task, ok=%t err=%v", ok, err)
	}
	if task.SourceType != domain.SourceTypeNone {
		t.Fatalf("expected generation task to carry source_type=none, got %s", task.SourceType)
	}
	if task.Prompt != "a fox sticker" || task.Resolution != domain.Resolution2K {
		t.Fatalf("prompt/resolution did not persist: %+v", task)
	}
}

func TestCreateRemoveTextTaskIssuesUploadSlot(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := `{"kind":"remove_text","source_type":"s3_presigned","mime":"image/gif"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/transforms", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Upload struct {
			ObjectKey       string `json:"object_key"`
			PresignedPutURL string `json:"presigned_put_url"`
			State           string `json:"presigned_url_state"`
		} `json:"upload"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Upload.State != "ready" {
		t.Fatalf("expected upload state ready, got %s", resp.Upload.State)
	}
	if resp.Upload.PresignedPutURL == "" {
		t.Fatal("expected a presigned put URL")
	}
	if !strings.HasPrefix(resp.Upload.ObjectKey, "uploads/") {
		t.Fatalf("expected uploads/ object key, got %s", resp.Upload.ObjectKey)
	}
}

func TestCreateTaskRejectsInvalidRequest(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/transforms", strings.NewReader(`{"kind":"generate"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestStartTaskEnqueuesPayload(t *testing.T) {
	srv, enqueuer, taskStore := newTestServer(t)

	now := time.Now().UTC()
	if err := taskStore.Create(context.Background(), domain.Task{
		ID:         "task-1",
		Status:     domain.TaskStatusCreated,
		Kind:       domain.KindTextRemoval,
		SourceType: domain.SourceTypeS3Presigned,
		ObjectKey:  "uploads/task-1/source",
		MIME:       "image/gif",
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("seed task: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/transforms/task-1/start", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !enqueuer.called {
		t.Fatal("expected task to be enqueued")
	}
	if enqueuer.payload.Kind != domain.KindTextRemoval || enqueuer.payload.ObjectKey != "uploads/task-1/source" {
		t.Fatalf("payload did not carry task fields: %+v", enqueuer.payload)
	}

	task, _, _ := taskStore.Get(context.Background(), "task-1")
	if task.Status != domain.TaskStatusQueued {
		t.Fatalf("expected status=queued, got %s", task.Status)
	}
}

func TestGetTaskIncludesResultAfterSuccess(t *testing.T) {
	srv, _, taskStore := newTestServer(t)

	now := time.Now().UTC()
	if err := taskStore.Create(context.Background(), domain.Task{
		ID:         "task-2",
		Status:     domain.TaskStatusProcessing,
		Kind:       domain.KindGeneration,
		SourceType: domain.SourceTypeNone,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	if _, err := taskStore.RecordResult(context.Background(), "task-2", store.TaskResult{
		Status:    domain.TaskStatusSucceeded,
		OutputKey: "outputs/task-2/sticker.png",
		Mode:      domain.ModeDemo,
		Tier:      domain.TierNone,
	}); err != nil {
		t.Fatalf("record result: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/transforms/task-2", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp struct {
		Status string `json:"status"`
		Result struct {
			OutputKey   string `json:"output_key"`
			Mode        string `json:"mode"`
			DownloadURL string `json:"download_url"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != domain.TaskStatusSucceeded {
		t.Fatalf("expected status=succeeded, got %s", resp.Status)
	}
	if resp.Result.Mode != domain.ModeDemo {
		t.Fatalf("expected mode=demo, got %s", resp.Result.Mode)
	}
	if resp.Result.DownloadURL == "" {
		t.Fatal("expected a download URL for object-store output")
	}
}

func TestUsageEndpointAggregatesLogs(t *testing.T) {
	srv, _, taskStore := newTestServer(t)

	for _, mode := range []string{domain.ModeLive, domain.ModeDemo, domain.ModeDemo} {
		if err := taskStore.CreateUsageLog(context.Background(), domain.UsageLog{
			UserID:       "user-1",
			Mode:         mode,
			OutputPixels: 1_000,
			CreatedAt:    time.Now().UTC(),
		}); err != nil {
			t.Fatalf("seed usage log: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var summary store.UsageSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if summary.TotalTransforms != 3 {
		t.Fatalf("expected 3 transforms, got %d", summary.TotalTransforms)
	}
	if summary.LiveTransforms != 1 || summary.DemoTransforms != 2 {
		t.Fatalf("unexpected mode split: %+v", summary)
	}
	if summary.OutputPixels != 3_000 {
		t.Fatalf("expected 3000 output pixels, got %d", summary.OutputPixels)
	}
}
