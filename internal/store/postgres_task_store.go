package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stickerflow/stickerflow/internal/domain"

	_ "github.com/lib/pq"
)

const taskSchemaSQL = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	kind TEXT NOT NULL,
	source_type TEXT NOT NULL DEFAULT '',
	object_key TEXT NOT NULL DEFAULT '',
	mime TEXT NOT NULL DEFAULT '',
	prompt TEXT NOT NULL DEFAULT '',
	resolution TEXT NOT NULL DEFAULT '',
	webhook_url TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	output_key TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL DEFAULT '',
	tier TEXT NOT NULL DEFAULT '',
	approximated BOOLEAN NOT NULL DEFAULT FALSE,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	mode TEXT NOT NULL,
	tier TEXT NOT NULL DEFAULT '',
	output_pixels BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

type PostgresTaskStore struct {
	db *sql.DB
}

func NewPostgresTaskStore(ctx context.Context, dsn string) (*PostgresTaskStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresTaskStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresTaskStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, taskSchemaSQL); err != nil {
		return fmt.Errorf("ensure task schema: %w", err)
	}
	return nil
}

func (s *PostgresTaskStore) Close() error {
	return s.db.Close()
}

func (s *PostgresTaskStore) Create(ctx context.Context, task domain.Task) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO tasks (id, status, kind, source_type, object_key, mime, prompt, resolution,
		                    webhook_url, user_id, output_key, mode, tier, approximated, error,
		                    created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		task.ID,
		task.Status,
		task.Kind,
		task.SourceType,
		task.ObjectKey,
		task.MIME,
		task.Prompt,
		task.Resolution,
		task.WebhookURL,
		task.UserID,
		task.OutputKey,
		task.Mode,
		task.Tier,
		task.Approximated,
		task.Error,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	return nil
}

func (s *PostgresTaskStore) Get(ctx context.Context, id string) (domain.Task, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, kind, source_type, object_key, mime, prompt, resolution,
		        webhook_url, user_id, output_key, mode, tier, approximated, error,
		        created_at, updated_at
		 FROM tasks
		 WHERE id = $1`,
		id,
	)

	var task domain.Task
	if err := row.Scan(
		&task.ID,
		&task.Status,
		&task.Kind,
		&task.SourceType,
		&task.ObjectKey,
		&task.MIME,
		&task.Prompt,
		&task.Resolution,
		&task.WebhookURL,
		&task.UserID,
		&task.OutputKey,
		&task.Mode,
		&task.Tier,
		&task.Approximated,
		&task.Error,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.Task{}, false, nil
		}
		return domain.Task{}, false, fmt.Errorf("query task: %w", err)
	}

	return task, true, nil
}

func (s *PostgresTaskStore) UpdateStatus(ctx context.Context, id, status string) (domain.Task, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		now,
		id,
	)
	if err != nil {
		return domain.Task{}, fmt.Errorf("update task status: %w", err)
	}

	return s.mustGet(ctx, id)
}

func (s *PostgresTaskStore) RecordResult(ctx context.Context, id string, result TaskResult) (domain.Task, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks
		 SET status = $1, output_key = $2, mode = $3, tier = $4, approximated = $5, error = $6, updated_at = $7
		 WHERE id = $8`,
		result.Status,
		result.OutputKey,
		result.Mode,
		result.Tier,
		result.Approximated,
		result.Error,
		now,
		id,
	)
	if err != nil {
		return domain.Task{}, fmt.Errorf("record task result: %w", err)
	}

	return s.mustGet(ctx, id)
}

func (s *PostgresTaskStore) CreateUsageLog(ctx context.Context, usage domain.UsageLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (user_id, task_id, kind, mode, tier, output_pixels, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		usage.UserID,
		usage.TaskID,
		usage.Kind,
		usage.Mode,
		usage.Tier,
		usage.OutputPixels,
		usage.ComputeTimeMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func (s *PostgresTaskStore) UsageSummary(ctx context.Context) (UsageSummary, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE mode = 'live'),
		        COUNT(*) FILTER (WHERE mode = 'demo'),
		        COALESCE(SUM(output_pixels), 0),
		        COALESCE(SUM(compute_time_ms), 0)
		 FROM usage_logs`,
	)

	var summary UsageSummary
	if err := row.Scan(
		&summary.TotalTransforms,
		&summary.LiveTransforms,
		&summary.DemoTransforms,
		&summary.OutputPixels,
		&summary.ComputeTimeMS,
	); err != nil {
		return UsageSummary{}, fmt.Errorf("query usage summary: %w", err)
	}
	return summary, nil
}

func (s *PostgresTaskStore) mustGet(ctx context.Context, id string) (domain.Task, error) {
	task, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		return domain.Task{}, ErrTaskNotFound
	}
	return task, nil
}
