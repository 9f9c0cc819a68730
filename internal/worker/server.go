package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stickerflow/stickerflow/internal/config"
	"github.com/stickerflow/stickerflow/internal/domain"
	"github.com/stickerflow/stickerflow/internal/pipeline"
	"github.com/stickerflow/stickerflow/internal/queue"
	"github.com/stickerflow/stickerflow/internal/storage"
	"github.com/stickerflow/stickerflow/internal/store"
	"github.com/stickerflow/stickerflow/internal/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	runner        transformRunner
	localFetcher  pipeline.Fetcher
	localEmitter  pipeline.Emitter
	objectFetcher pipeline.Fetcher
	objectEmitter pipeline.Emitter
	webhookClient webhookSender
	taskStore     store.TaskStore
	usageStore    store.UsageStore
	metrics       *metrics
	tracer        trace.Tracer
}

type transformRunner interface {
	RemoveText(ctx context.Context, asset domain.MediaAsset) (domain.TransformResult, error)
	GenerateFromPrompt(ctx context.Context, prompt, resolution string) (domain.TransformResult, error)
	UsageTotal() int64
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	runner transformRunner,
	storageClient *storage.Client,
	webhookClient *webhook.Client,
	taskStore store.TaskStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("transform runner is required")
	}

	if usageStore == nil {
		if combined, ok := taskStore.(store.UsageStore); ok {
			usageStore = combined
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveTasks)),
		runner:        runner,
		localFetcher:  pipeline.LocalFileFetcher{},
		localEmitter:  pipeline.LocalFileEmitter{OutputDir: workerCfg.LocalOutputDir},
		webhookClient: webhookClient,
		taskStore:     taskStore,
		usageStore:    usageStore,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("stickerflow/worker"),
	}

	if storageClient != nil {
		s.objectFetcher = pipeline.ObjectStoreFetcher{Storage: storageClient}
		s.objectEmitter = pipeline.ObjectStoreEmitter{Storage: storageClient, OutputPrefix: "outputs"}
	}

	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeTransform, s.handleTransform)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleTransform(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.TaskStatusFailed

	payload, err := queue.ParseTransformPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.transform", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("task.id", payload.TaskID),
		attribute.String("task.kind", payload.Kind),
		attribute.String("task.source_type", payload.SourceType),
	)
	defer span.End()
	defer func() {
		s.metrics.taskDuration.WithLabelValues(payload.Kind, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.tasksTotal.WithLabelValues(payload.Kind, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeTasks.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeTasks.Dec()
	}()

	s.logger.Printf(
		"Working... task_id=%s kind=%s source_type=%s object_key=%s",
		payload.TaskID,
		payload.Kind,
		payload.SourceType,
		payload.ObjectKey,
	)

	s.updateTaskStatus(ctx, payload.TaskID, domain.TaskStatusProcessing)

	var result domain.TransformResult
	switch payload.Kind {
	case domain.KindTextRemoval:
		result, err = s.runRemoveText(ctx, payload)
	case domain.KindGeneration:
		result, err = s.runner.GenerateFromPrompt(ctx, payload.Prompt, payload.Resolution)
	default:
		err = fmt.Errorf("unsupported kind: %s: %w", payload.Kind, asynq.SkipRetry)
	}
	if err != nil {
		return s.failTask(ctx, span, payload, err)
	}

	outputKey, err := s.emitOutput(ctx, payload, result.PNG)
	if err != nil {
		// Emission hits storage, not the pipeline; a retry can succeed.
		s.updateTaskStatus(ctx, payload.TaskID, domain.TaskStatusFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "emit output failed")
		return fmt.Errorf("emit output: %w", err)
	}

	s.logger.Printf(
		"Processed task_id=%s mode=%s tier=%s approximated=%t output_key=%s",
		payload.TaskID,
		result.Mode,
		result.Tier,
		result.Approximated,
		outputKey,
	)

	updated, recordErr := s.taskStore.RecordResult(ctx, payload.TaskID, store.TaskResult{
		Status:       domain.TaskStatusSucceeded,
		OutputKey:    outputKey,
		Mode:         result.Mode,
		Tier:         result.Tier,
		Approximated: result.Approximated,
	})
	if recordErr != nil {
		s.logger.Printf("record result failed task_id=%s err=%v", payload.TaskID, recordErr)
	}

	s.metrics.transformsByTier.WithLabelValues(result.Mode, tierLabel(result.Tier)).Inc()
	s.recordUsage(ctx, payload, updated, result, time.Since(startedAt))

	if err := s.dispatchWebhook(ctx, payload, webhook.EventTransformSucceeded, map[string]any{
		"task_id":      payload.TaskID,
		"status":       domain.TaskStatusSucceeded,
		"kind":         payload.Kind,
		"output_key":   outputKey,
		"mode":         result.Mode,
		"tier":         result.Tier,
		"approximated": result.Approximated,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = domain.TaskStatusSucceeded
	span.SetStatus(codes.Ok, "processed")
	return nil
}

func (s *Server) runRemoveText(ctx context.Context, payload queue.TransformPayload) (domain.TransformResult, error) {
	fetcher := s.objectFetcher
	if strings.EqualFold(payload.SourceType, domain.SourceTypeLocalFile) {
		fetcher = s.localFetcher
	}
	if fetcher == nil {
		return domain.TransformResult{}, fmt.Errorf("no fetcher for source_type=%s", payload.SourceType)
	}

	data, err := fetcher.Fetch(ctx, pipeline.Source{
		TaskID:     payload.TaskID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
	})
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("fetch source: %w", err)
	}

	return s.runner.RemoveText(ctx, domain.MediaAsset{Data: data, MIME: payload.MIME})
}

func (s *Server) emitOutput(ctx context.Context, payload queue.TransformPayload, png []byte) (string, error) {
	emitter := s.objectEmitter
	if strings.EqualFold(payload.SourceType, domain.SourceTypeLocalFile) || emitter == nil {
		emitter = s.localEmitter
	}
	return emitter.Emit(ctx, pipeline.Source{
		TaskID:     payload.TaskID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
	}, png)
}

// failTask records the terminal failure and decides retryability. Pipeline
// errors are deterministic for a given input, so they skip the queue's
// retry budget; everything else stays retryable.
func (s *Server) failTask(ctx context.Context, span trace.Span, payload queue.TransformPayload, cause error) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, "transform failed")

	if _, err := s.taskStore.RecordResult(ctx, payload.TaskID, store.TaskResult{
		Status: domain.TaskStatusFailed,
		Error:  domain.UserMessage(cause),
	}); err != nil {
		s.logger.Printf("record failure failed task_id=%s err=%v", payload.TaskID, err)
	}

	if err := s.dispatchWebhook(ctx, payload, webhook.EventTransformFailed, map[string]any{
		"task_id":      payload.TaskID,
		"status":       domain.TaskStatusFailed,
		"kind":         payload.Kind,
		"requested_at": payload.RequestedAt,
		"failed_at":    time.Now().UTC(),
		"error":        domain.UserMessage(cause),
	}); err != nil {
		s.logger.Printf("failure webhook dispatch failed task_id=%s err=%v", payload.TaskID, err)
	}

	if isPipelineError(cause) {
		return fmt.Errorf("run transform: %v: %w", cause, asynq.SkipRetry)
	}
	return fmt.Errorf("run transform: %w", cause)
}

func isPipelineError(err error) bool {
	return errors.Is(err, domain.ErrMalformedAsset) ||
		errors.Is(err, domain.ErrEmptyGeneration) ||
		errors.Is(err, domain.ErrAssetDecode)
}

func (s *Server) updateTaskStatus(ctx context.Context, taskID, status string) {
	if s.taskStore == nil {
		return
	}
	if _, err := s.taskStore.UpdateStatus(ctx, taskID, status); err != nil {
		s.logger.Printf("task status update failed task_id=%s status=%s err=%v", taskID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.TransformPayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed task_id=%s event=%s err=%v", payload.TaskID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordUsage(ctx context.Context, payload queue.TransformPayload, task domain.Task, result domain.TransformResult, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := "anonymous"
	if strings.TrimSpace(task.UserID) != "" {
		userID = task.UserID
	}

	outputPixels := int64(result.Width) * int64(result.Height)

	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	usage := domain.UsageLog{
		UserID:        userID,
		TaskID:        payload.TaskID,
		Kind:          payload.Kind,
		Mode:          result.Mode,
		Tier:          result.Tier,
		OutputPixels:  outputPixels,
		ComputeTimeMS: computeTimeMS,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed task_id=%s err=%v", payload.TaskID, err)
		return
	}

	s.metrics.outputPixelsTotal.Add(float64(outputPixels))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
	s.metrics.transformsCounted.Set(float64(s.runner.UsageTotal()))
}

func tierLabel(tier string) string {
	if tier == "" {
		return "none"
	}
	return tier
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
