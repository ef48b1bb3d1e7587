package store

import (
	"context"
	"errors"

	"github.com/seantiz/asyncinfer/internal/model"
)

var (
	// ErrNotFound is returned when a batch is not found.
	ErrNotFound = errors.New("batch not found")

	// ErrInvalidTransition is returned when a batch status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDuplicateResult is returned when a task result is recorded twice.
	ErrDuplicateResult = errors.New("task result already recorded")
)

// BatchStats holds aggregate inference statistics.
type BatchStats struct {
	TotalBatches      int            `json:"total_batches"`
	BatchesByStatus   map[string]int `json:"batches_by_status"`
	TotalTasks        int            `json:"total_tasks"`
	TasksByStatus     map[string]int `json:"tasks_by_status"`
	AvgTaskDurationMS float64        `json:"avg_task_duration_ms"`
}

// Store defines the persistence operations for batches and their task results.
type Store interface {
	CreateBatch(ctx context.Context, b *model.Batch) error
	GetBatch(ctx context.Context, id string) (*model.Batch, error)
	ListBatches(ctx context.Context, limit, offset int) ([]*model.Batch, int, error)
	UpdateBatchStatus(ctx context.Context, id, status string) error
	DeleteBatch(ctx context.Context, id string) error
	InsertTaskResult(ctx context.Context, r *model.TaskResult) error
	GetTaskResults(ctx context.Context, batchID string) ([]model.TaskResult, error)
	GetBatchStats(ctx context.Context) (*BatchStats, error)
	Close() error
}
