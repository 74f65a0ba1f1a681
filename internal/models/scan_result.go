package models

import (
	"time"

	"github.com/signal-scanner/internal/types"
)

// ScanResult represents one matched signal point found during a task.
// (task_id, code, bsp_time, bsp_type) is unique: duplicate detections of
// the same signal are not re-inserted.
type ScanResult struct {
	ID        int64           `json:"id" db:"id"`
	TaskID    string          `json:"taskId" db:"task_id"`
	Code      string          `json:"code" db:"code"`
	Name      string          `json:"name" db:"name"`
	BSPType   types.BSPType   `json:"bspType" db:"bsp_type"`
	BSPTime   time.Time       `json:"bspTime" db:"bsp_time"`
	BSPValue  float64         `json:"bspValue" db:"bsp_value"`
	IsBuy     bool            `json:"isBuy" db:"is_buy"`
	KlineType types.KlineType `json:"klineType" db:"kline_type"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}
