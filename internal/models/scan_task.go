// Package models defines the persisted data model for the signal scanner.
package models

import (
	"time"

	"github.com/signal-scanner/internal/types"
)

// ScanTask represents one batch scan request/execution.
// Scan parameters are immutable once created; progress fields are mutated
// only by the worker that owns the task.
type ScanTask struct {
	ID     string           `json:"taskId" db:"id"`
	Status types.TaskStatus `json:"status" db:"status"`

	StockPool      types.StockPool `json:"stockPool" db:"stock_pool"`
	Boards         []string        `json:"boards,omitempty" db:"boards"`
	StockCodes     []string        `json:"stockCodes,omitempty" db:"stock_codes"`
	KlineType      types.KlineType `json:"klineType" db:"kline_type"`
	BSPTypes       []types.BSPType `json:"bspTypes" db:"bsp_types"`
	TimeWindowDays int             `json:"timeWindowDays" db:"time_window_days"`
	KlineLimit     int             `json:"klineLimit" db:"kline_limit"`

	TotalCount     int     `json:"totalCount" db:"total_count"`
	ProcessedCount int     `json:"processedCount" db:"processed_count"`
	FoundCount     int     `json:"foundCount" db:"found_count"`
	CurrentStock   *string `json:"currentStock,omitempty" db:"current_stock"`
	ErrorMessage   *string `json:"errorMessage,omitempty" db:"error_message"`

	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	StartedAt   *time.Time `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	ElapsedTime float64    `json:"elapsedTime" db:"elapsed_time"`
}

// ProgressPercent returns processed/total as a 0-100 integer, 0 when the
// universe is empty or not yet resolved.
func (t *ScanTask) ProgressPercent() int {
	if t.TotalCount <= 0 {
		return 0
	}
	return t.ProcessedCount * 100 / t.TotalCount
}

// ScanTaskListItem is the compact shape returned by the task list endpoint.
type ScanTaskListItem struct {
	ID          string           `json:"id"`
	Status      types.TaskStatus `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
	Progress    int              `json:"progress"`
	FoundCount  int              `json:"foundCount"`
	ElapsedTime float64          `json:"elapsedTime"`
}

// ListItem projects a task into its list representation.
func (t *ScanTask) ListItem() ScanTaskListItem {
	return ScanTaskListItem{
		ID:          t.ID,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
		Progress:    t.ProgressPercent(),
		FoundCount:  t.FoundCount,
		ElapsedTime: t.ElapsedTime,
	}
}
