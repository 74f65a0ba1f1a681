package scan

import (
	"context"
	"time"

	"github.com/signal-scanner/internal/models"
	"github.com/signal-scanner/internal/types"
)

// TaskStore is the persistence surface the engine needs for tasks.
// *storage.ScanTaskRepository satisfies it.
type TaskStore interface {
	Create(ctx context.Context, task *models.ScanTask) error
	GetByID(ctx context.Context, taskID string) (*models.ScanTask, error)
	List(ctx context.Context, page, pageSize int) ([]*models.ScanTask, int, error)
	MarkRunning(ctx context.Context, taskID string, totalCount int, startedAt time.Time) error
	UpdateProgress(ctx context.Context, taskID string, processed, found int, currentStock *string) (bool, error)
	Finish(ctx context.Context, taskID string, status types.TaskStatus, errorMessage *string, completedAt time.Time, elapsed float64) (bool, error)
	Delete(ctx context.Context, taskID string) error
}

// ResultStore is the persistence surface for signal points found by a
// scan. *storage.ScanResultRepository satisfies it.
type ResultStore interface {
	Insert(ctx context.Context, result *models.ScanResult) (bool, error)
	ListByTask(ctx context.Context, taskID string) ([]*models.ScanResult, error)
}
