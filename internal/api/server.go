package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stickerflow/stickerflow/internal/domain"
	"github.com/stickerflow/stickerflow/internal/id"
	"github.com/stickerflow/stickerflow/internal/queue"
	"github.com/stickerflow/stickerflow/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger       *log.Logger
	queueClient  queueEnqueuer
	taskStore    store.TaskStore
	usage        usageSummarizer
	storage      objectStorage
	presignTTL   time.Duration
	userIDHeader string
	rateLimiter  RateLimiter
	metrics      *metrics
	tracer       trace.Tracer
	mux          *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueTransform(ctx context.Context, payload queue.TransformPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

type usageSummarizer interface {
	UsageSummary(ctx context.Context) (store.UsageSummary, error)
}

type Options struct {
	PresignTTL   time.Duration
	UserIDHeader string
	RateLimiter  RateLimiter
	Usage        usageSummarizer
}

func NewServer(logger *log.Logger, queueClient queueEnqueuer, taskStore store.TaskStore, storage objectStorage, opts Options) *Server {
	presignTTL := opts.PresignTTL
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	userIDHeader := strings.TrimSpace(opts.UserIDHeader)
	if userIDHeader == "" {
		userIDHeader = "X-User-ID"
	}
	if storage == nil {
		storage = unavailableObjectStorage{}
	}

	usage := opts.Usage
	if usage == nil {
		if summarizer, ok := taskStore.(usageSummarizer); ok {
			usage = summarizer
		}
	}

	s := &Server{
		logger:       logger,
		queueClient:  queueClient,
		taskStore:    taskStore,
		usage:        usage,
		storage:      storage,
		presignTTL:   presignTTL,
		userIDHeader: userIDHeader,
		rateLimiter:  opts.RateLimiter,
		metrics:      newMetrics(),
		tracer:       otel.Tracer("stickerflow/api"),
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) PresignedGetURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/transforms", s.handleCreateTask)
	s.mux.HandleFunc("POST /v1/transforms/", s.handleStartTask)
	s.mux.HandleFunc("GET /v1/transforms/", s.handleGetTask)
	s.mux.HandleFunc("GET /v1/usage", s.handleUsage)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	taskID := id.New()
	kind := strings.ToLower(strings.TrimSpace(req.Kind))
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	if kind == domain.KindGeneration {
		sourceType = domain.SourceTypeNone
		objectKey = ""
	}

	if sourceType == domain.SourceTypeS3Presigned {
		objectKey = fmt.Sprintf("uploads/%s/source", taskID)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			s.logger.Printf("generate presigned url failed for task %s: %v", taskID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate upload URL"})
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = strings.TrimSpace(r.Header.Get(s.userIDHeader))
	}

	task := domain.Task{
		ID:         taskID,
		Status:     domain.TaskStatusCreated,
		Kind:       kind,
		SourceType: sourceType,
		ObjectKey:  objectKey,
		MIME:       strings.TrimSpace(req.MIME),
		Prompt:     strings.TrimSpace(req.Prompt),
		Resolution: strings.ToLower(strings.TrimSpace(req.Resolution)),
		WebhookURL: strings.TrimSpace(req.WebhookURL),
		UserID:     userID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.taskStore.Create(r.Context(), task); err != nil {
		s.logger.Printf("create task failed for task %s: %v", task.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create task"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id": task.ID,
		"status":  task.Status,
		"kind":    task.Kind,
		"upload": map[string]string{
			"object_key":          task.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url": fmt.Sprintf("/v1/transforms/%s/start", task.ID),
	})
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := extractTaskIDFromStartPath(r.URL.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	task, ok, err := s.taskStore.Get(r.Context(), taskID)
	if err != nil {
		s.logger.Printf("fetch task failed for task %s: %v", taskID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load task"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	if err := s.verifySourceExists(r.Context(), task); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	payload := queue.TransformPayload{
		TaskID:      task.ID,
		Kind:        task.Kind,
		SourceType:  task.SourceType,
		ObjectKey:   task.ObjectKey,
		MIME:        task.MIME,
		Prompt:      task.Prompt,
		Resolution:  task.Resolution,
		WebhookURL:  task.WebhookURL,
		RequestedAt: time.Now().UTC(),
	}

	taskInfo, err := s.queueClient.EnqueueTransform(r.Context(), payload)
	if err != nil {
		s.logger.Printf("enqueue failed for task %s: %v", task.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue task"})
		return
	}

	if _, err := s.taskStore.UpdateStatus(r.Context(), task.ID, domain.TaskStatusQueued); err != nil {
		s.logger.Printf("update status failed for task %s: %v", task.ID, err)
	}

	s.metrics.tasksEnqueued.WithLabelValues(taskInfo.Queue, task.Kind).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id":     task.ID,
		"status":      domain.TaskStatusQueued,
		"queue":       taskInfo.Queue,
		"queue_id":    taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := extractTaskIDFromPath(r.URL.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	task, ok, err := s.taskStore.Get(r.Context(), taskID)
	if err != nil {
		s.logger.Printf("fetch task failed for task %s: %v", taskID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load task"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	body := map[string]any{
		"task_id":     task.ID,
		"status":      task.Status,
		"kind":        task.Kind,
		"source_type": task.SourceType,
		"created_at":  task.CreatedAt,
		"updated_at":  task.UpdatedAt,
	}
	if task.Error != "" {
		body["error"] = task.Error
	}
	if task.Status == domain.TaskStatusSucceeded {
		result := map[string]any{
			"output_key":   task.OutputKey,
			"mode":         task.Mode,
			"tier":         task.Tier,
			"approximated": task.Approximated,
		}
		if task.OutputKey != "" && task.SourceType != domain.SourceTypeLocalFile {
			if url, err := s.storage.PresignedGetURL(r.Context(), task.OutputKey, s.presignTTL); err == nil {
				result["download_url"] = url
			} else {
				s.logger.Printf("generate download url failed for task %s: %v", task.ID, err)
			}
		}
		body["result"] = result
	}

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "usage reporting is unavailable"})
		return
	}

	summary, err := s.usage.UsageSummary(r.Context())
	if err != nil {
		s.logger.Printf("usage summary failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load usage"})
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) verifySourceExists(ctx context.Context, task domain.Task) error {
	switch task.SourceType {
	case domain.SourceTypeNone:
		return nil
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(task.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", task.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, task.ObjectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", task.ObjectKey)
		}
		return nil
	}
}

func extractTaskIDFromStartPath(path string) (string, error) {
	trimmed := strings.TrimPrefix(path, "/v1/transforms/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "start" {
		return "", errors.New("expected path format /v1/transforms/{id}/start")
	}
	return parts[0], nil
}

func extractTaskIDFromPath(path string) (string, error) {
	trimmed := strings.Trim(strings.TrimPrefix(path, "/v1/transforms/"), "/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return "", errors.New("expected path format /v1/transforms/{id}")
	}
	return trimmed, nil
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
