package storage

import (
	"context"
	"fmt"

	"github.com/signal-scanner/internal/models"
)

// ScanResultRepository handles scan result persistence
type ScanResultRepository struct {
	db *PostgresDB
}

// NewScanResultRepository creates a new scan result repository
func NewScanResultRepository(db *PostgresDB) *ScanResultRepository {
	return &ScanResultRepository{db: db}
}

// Insert persists one matched signal point. Duplicate detections of the
// same signal (task_id, code, bsp_time, bsp_type) are not re-inserted;
// the return value reports whether a row was actually written.
func (r *ScanResultRepository) Insert(ctx context.Context, result *models.ScanResult) (bool, error) {
	query := `
		INSERT INTO scan_results (
			task_id, code, name, bsp_type, bsp_time, bsp_value, is_buy, kline_type, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (task_id, code, bsp_time, bsp_type) DO NOTHING
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		result.TaskID,
		result.Code,
		result.Name,
		result.BSPType,
		result.BSPTime,
		result.BSPValue,
		result.IsBuy,
		result.KlineType,
		result.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert scan result: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// ListByTask retrieves all results for a task, newest signal first
func (r *ScanResultRepository) ListByTask(ctx context.Context, taskID string) ([]*models.ScanResult, error) {
	query := `
		SELECT id, task_id, code, name, bsp_type, bsp_time, bsp_value, is_buy, kline_type, created_at
		FROM scan_results
		WHERE task_id = $1
		ORDER BY bsp_time DESC, code ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan results: %w", err)
	}
	defer rows.Close()

	var results []*models.ScanResult
	for rows.Next() {
		var res models.ScanResult
		err := rows.Scan(
			&res.ID,
			&res.TaskID,
			&res.Code,
			&res.Name,
			&res.BSPType,
			&res.BSPTime,
			&res.BSPValue,
			&res.IsBuy,
			&res.KlineType,
			&res.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		results = append(results, &res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scan results: %w", err)
	}

	return results, nil
}

// CountByTask returns the number of persisted results for a task
func (r *ScanResultRepository) CountByTask(ctx context.Context, taskID string) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM scan_results WHERE task_id = $1`, taskID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count scan results: %w", err)
	}
	return count, nil
}
