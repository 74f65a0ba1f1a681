// Package scan implements the scan task engine: universe resolution, the
// per-task worker, the supervisor that owns in-flight workers, and the
// progress publisher observers subscribe to.
package scan

import (
	"github.com/signal-scanner/internal/models"
	"github.com/signal-scanner/internal/types"
)

// ProgressSnapshot is an immutable point-in-time view of a task's counters
// and status, pushed to subscribers.
type ProgressSnapshot struct {
	TaskID          string           `json:"taskId"`
	Status          types.TaskStatus `json:"status"`
	ProgressPercent int              `json:"progressPercent"`
	ProcessedCount  int              `json:"processedCount"`
	TotalCount      int              `json:"totalCount"`
	FoundCount      int              `json:"foundCount"`
	CurrentStock    *string          `json:"currentStock,omitempty"`
	ErrorMessage    *string          `json:"errorMessage,omitempty"`
}

// SnapshotFromTask builds the current snapshot of a persisted task,
// used to seed late subscribers.
func SnapshotFromTask(task *models.ScanTask) ProgressSnapshot {
	return ProgressSnapshot{
		TaskID:          task.ID,
		Status:          task.Status,
		ProgressPercent: task.ProgressPercent(),
		ProcessedCount:  task.ProcessedCount,
		TotalCount:      task.TotalCount,
		FoundCount:      task.FoundCount,
		CurrentStock:    task.CurrentStock,
		ErrorMessage:    task.ErrorMessage,
	}
}

// Terminal reports whether this snapshot ends the stream
func (s ProgressSnapshot) Terminal() bool {
	return s.Status.IsTerminal()
}
