package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/stickerflow/stickerflow/internal/config"
	"github.com/stickerflow/stickerflow/internal/demo"
	"github.com/stickerflow/stickerflow/internal/genai"
	"github.com/stickerflow/stickerflow/internal/media"
	"github.com/stickerflow/stickerflow/internal/mode"
	"github.com/stickerflow/stickerflow/internal/pipeline"
	"github.com/stickerflow/stickerflow/internal/storage"
	"github.com/stickerflow/stickerflow/internal/store"
	"github.com/stickerflow/stickerflow/internal/telemetry"
	"github.com/stickerflow/stickerflow/internal/transparency"
	"github.com/stickerflow/stickerflow/internal/usage"
	"github.com/stickerflow/stickerflow/internal/webhook"
	"github.com/stickerflow/stickerflow/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "stickerflow-worker",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := media.Startup(); err != nil {
		logger.Fatalf("media codec startup failed: %v", err)
	}
	defer media.Shutdown()

	codec, err := media.NewCodec()
	if err != nil {
		logger.Fatalf("media codec setup failed: %v", err)
	}

	var matting transparency.Strategy
	if strings.TrimSpace(cfg.Matting.ModelPath) != "" {
		m, err := transparency.NewONNXMatting(transparency.MattingConfig{
			ModelPath:  cfg.Matting.ModelPath,
			InputName:  cfg.Matting.InputName,
			OutputName: cfg.Matting.OutputName,
			InputSize:  cfg.Matting.InputSize,
			Timeout:    cfg.Matting.Timeout,
		})
		if err != nil {
			logger.Printf("matting model unavailable, falling back to heuristic tier: %v", err)
		} else {
			matting = m
			defer m.Close()
		}
	}

	pipe := pipeline.New(
		logger,
		mode.EnvResolver{
			CredentialEnv: cfg.GenAI.CredentialEnv,
			ForceDemo:     cfg.GenAI.ForceDemo,
		},
		genai.NewClient(genai.Config{
			BaseURL: cfg.GenAI.BaseURL,
			Model:   cfg.GenAI.Model,
			Timeout: cfg.GenAI.Timeout,
		}),
		demo.Simulator{},
		transparency.NewEnforcer(logger, matting),
		codec,
		usage.NewCounter(),
	)

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("storage client setup failed: %v", err)
	}
	if err := storageClient.EnsureBucket(ctx); err != nil {
		logger.Printf("bucket check failed (object-store tasks may fail): %v", err)
	}

	taskStore, closeStore := newTaskStore(ctx, cfg, logger)
	defer closeStore()

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	srv, err := worker.NewServer(
		logger,
		cfg.Queue,
		cfg.Worker,
		pipe,
		storageClient,
		webhookClient,
		taskStore,
		nil,
	)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	go func() {
		metricsServer := &http.Server{
			Addr:              cfg.Worker.MetricsAddr,
			Handler:           srv.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_tasks=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveTasks,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}

func newTaskStore(ctx context.Context, cfg config.Config, logger *log.Logger) (store.TaskStore, func()) {
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		logger.Printf("no POSTGRES_DSN set, using in-memory task store")
		return store.NewMemoryTaskStore(), func() {}
	}

	pg, err := store.NewPostgresTaskStore(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("postgres task store setup failed: %v", err)
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Printf("task store close error: %v", err)
		}
	}
}
