package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	apperrors "github.com/signal-scanner/internal/errors"
	"github.com/signal-scanner/internal/models"
	"github.com/signal-scanner/internal/types"
)

// ScanTaskRepository handles scan task persistence
type ScanTaskRepository struct {
	db *PostgresDB
}

// NewScanTaskRepository creates a new scan task repository
func NewScanTaskRepository(db *PostgresDB) *ScanTaskRepository {
	return &ScanTaskRepository{db: db}
}

const scanTaskColumns = `
	id, status, stock_pool, boards, stock_codes, kline_type, bsp_types,
	time_window_days, kline_limit, total_count, processed_count, found_count,
	current_stock, error_message, created_at, started_at, completed_at, elapsed_time
`

// Create inserts a new pending task
func (r *ScanTaskRepository) Create(ctx context.Context, task *models.ScanTask) error {
	query := `
		INSERT INTO scan_tasks (
			id, status, stock_pool, boards, stock_codes, kline_type, bsp_types,
			time_window_days, kline_limit, total_count, processed_count, found_count,
			created_at, elapsed_time
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	bspTypes := make([]string, len(task.BSPTypes))
	for i, t := range task.BSPTypes {
		bspTypes[i] = string(t)
	}

	_, err := r.db.Pool().Exec(ctx, query,
		task.ID,
		task.Status,
		task.StockPool,
		task.Boards,
		task.StockCodes,
		task.KlineType,
		bspTypes,
		task.TimeWindowDays,
		task.KlineLimit,
		task.TotalCount,
		task.ProcessedCount,
		task.FoundCount,
		task.CreatedAt,
		task.ElapsedTime,
	)

	if err != nil {
		return fmt.Errorf("failed to create scan task: %w", err)
	}

	return nil
}

// GetByID retrieves a scan task by id
func (r *ScanTaskRepository) GetByID(ctx context.Context, taskID string) (*models.ScanTask, error) {
	query := `SELECT ` + scanTaskColumns + ` FROM scan_tasks WHERE id = $1`

	task, err := scanTaskRow(r.db.Pool().QueryRow(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewTaskNotFoundError(taskID)
		}
		return nil, fmt.Errorf("failed to get scan task: %w", err)
	}

	return task, nil
}

// List returns one page of tasks ordered by creation time descending,
// plus the total task count.
func (r *ScanTaskRepository) List(ctx context.Context, page, pageSize int) ([]*models.ScanTask, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	var total int
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM scan_tasks`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count scan tasks: %w", err)
	}

	query := `
		SELECT ` + scanTaskColumns + `
		FROM scan_tasks
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool().Query(ctx, query, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list scan tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.ScanTask
	for rows.Next() {
		task, err := scanTaskRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating scan tasks: %w", err)
	}

	return tasks, total, nil
}

// MarkRunning transitions a task to running and records the resolved
// universe size. The status guard keeps the transition one-shot.
func (r *ScanTaskRepository) MarkRunning(ctx context.Context, taskID string, totalCount int, startedAt time.Time) error {
	query := `
		UPDATE scan_tasks
		SET status = $2, total_count = $3, started_at = $4
		WHERE id = $1 AND status = $5
	`

	result, err := r.db.Pool().Exec(ctx, query, taskID, types.TaskRunning, totalCount, startedAt, types.TaskPending)
	if err != nil {
		return fmt.Errorf("failed to mark scan task running: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.NewTaskNotFoundError(taskID)
	}

	return nil
}

// UpdateProgress flushes the worker's counters. Returns false when the task
// row no longer exists (deleted mid-run), which the worker treats as a
// cancellation.
func (r *ScanTaskRepository) UpdateProgress(ctx context.Context, taskID string, processed, found int, currentStock *string) (bool, error) {
	query := `
		UPDATE scan_tasks
		SET processed_count = $2, found_count = $3, current_stock = $4
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, taskID, processed, found, currentStock)
	if err != nil {
		return false, fmt.Errorf("failed to update scan task progress: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// Finish records a terminal transition. Returns false when the task row no
// longer exists.
func (r *ScanTaskRepository) Finish(ctx context.Context, taskID string, status types.TaskStatus, errorMessage *string, completedAt time.Time, elapsed float64) (bool, error) {
	query := `
		UPDATE scan_tasks
		SET status = $2, error_message = $3, current_stock = NULL,
			completed_at = $4, elapsed_time = $5
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, taskID, status, errorMessage, completedAt, elapsed)
	if err != nil {
		return false, fmt.Errorf("failed to finish scan task: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// Delete removes a task row; scan_results rows cascade
func (r *ScanTaskRepository) Delete(ctx context.Context, taskID string) error {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM scan_tasks WHERE id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete scan task: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.NewTaskNotFoundError(taskID)
	}

	return nil
}

// scanTaskRow scans one scan_tasks row
func scanTaskRow(row pgx.Row) (*models.ScanTask, error) {
	var task models.ScanTask
	var bspTypes []string

	err := row.Scan(
		&task.ID,
		&task.Status,
		&task.StockPool,
		&task.Boards,
		&task.StockCodes,
		&task.KlineType,
		&bspTypes,
		&task.TimeWindowDays,
		&task.KlineLimit,
		&task.TotalCount,
		&task.ProcessedCount,
		&task.FoundCount,
		&task.CurrentStock,
		&task.ErrorMessage,
		&task.CreatedAt,
		&task.StartedAt,
		&task.CompletedAt,
		&task.ElapsedTime,
	)
	if err != nil {
		return nil, err
	}

	task.BSPTypes = make([]types.BSPType, len(bspTypes))
	for i, t := range bspTypes {
		task.BSPTypes[i] = types.BSPType(t)
	}

	return &task, nil
}
