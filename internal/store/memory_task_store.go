package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stickerflow/stickerflow/internal/domain"
)

var ErrTaskNotFound = errors.New("task not found")

// MemoryTaskStore backs single-node deployments and tests. It also collects
// usage logs so the worker can run without postgres.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]domain.Task
	usage []domain.UsageLog
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[string]domain.Task),
	}
}

func (s *MemoryTaskStore) Create(_ context.Context, task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *MemoryTaskStore) Get(_ context.Context, id string) (domain.Task, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	return task, ok, nil
}

func (s *MemoryTaskStore) UpdateStatus(_ context.Context, id, status string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, ErrTaskNotFound
	}

	task.Status = status
	task.UpdatedAt = time.Now().UTC()
	s.tasks[id] = task
	return task, nil
}

func (s *MemoryTaskStore) RecordResult(_ context.Context, id string, result TaskResult) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, ErrTaskNotFound
	}

	task.Status = result.Status
	task.OutputKey = result.OutputKey
	task.Mode = result.Mode
	task.Tier = result.Tier
	task.Approximated = result.Approximated
	task.Error = result.Error
	task.UpdatedAt = time.Now().UTC()
	s.tasks[id] = task
	return task, nil
}

func (s *MemoryTaskStore) CreateUsageLog(_ context.Context, usage domain.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, usage)
	return nil
}

// UsageLogs returns a snapshot for tests and the usage endpoint.
func (s *MemoryTaskStore) UsageLogs() []domain.UsageLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UsageLog, len(s.usage))
	copy(out, s.usage)
	return out
}

func (s *MemoryTaskStore) UsageSummary(_ context.Context) (UsageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var summary UsageSummary
	for _, entry := range s.usage {
		summary.TotalTransforms++
		switch entry.Mode {
		case domain.ModeLive:
			summary.LiveTransforms++
		case domain.ModeDemo:
			summary.DemoTransforms++
		}
		summary.OutputPixels += entry.OutputPixels
		summary.ComputeTimeMS += entry.ComputeTimeMS
	}
	return summary, nil
}
