// Package types provides common type definitions for the signal scanner system.
package types

// TaskStatus represents the lifecycle state of a scan task
type TaskStatus string

const (
	// TaskPending means the task row exists but no worker has been dispatched yet
	TaskPending TaskStatus = "pending"
	// TaskRunning means exactly one worker owns the task
	TaskRunning TaskStatus = "running"
	// TaskCompleted means the worker exhausted the universe without cancellation or fatal error
	TaskCompleted TaskStatus = "completed"
	// TaskCancelled means a cancellation request was observed before the universe was exhausted
	TaskCancelled TaskStatus = "cancelled"
	// TaskError means a fatal (non-per-stock) failure aborted the task
	TaskError TaskStatus = "error"
)

// IsTerminal reports whether the status admits no further transitions
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskCancelled, TaskError:
		return true
	}
	return false
}

// StockPool selects how a scan request's universe is built
type StockPool string

const (
	// PoolAll scans every tradable stock known to the reference data source
	PoolAll StockPool = "all"
	// PoolBoards scans the union of stocks on the requested boards
	PoolBoards StockPool = "boards"
	// PoolCustom scans an explicit list of stock codes
	PoolCustom StockPool = "custom"
)

// KlineType represents bar granularity
type KlineType string

const (
	KlineDay   KlineType = "day"
	KlineWeek  KlineType = "week"
	KlineMonth KlineType = "month"
	Kline1m    KlineType = "1m"
	Kline5m    KlineType = "5m"
	Kline15m   KlineType = "15m"
	Kline30m   KlineType = "30m"
	Kline60m   KlineType = "60m"
)

// Valid reports whether the granularity is one the analysis engine accepts
func (k KlineType) Valid() bool {
	switch k {
	case KlineDay, KlineWeek, KlineMonth, Kline1m, Kline5m, Kline15m, Kline30m, Kline60m:
		return true
	}
	return false
}

// BSPType is a buy/sell point classification tag produced by the analysis engine
type BSPType string

const (
	BSPType1  BSPType = "1"
	BSPType1p BSPType = "1p"
	BSPType2  BSPType = "2"
	BSPType2s BSPType = "2s"
	BSPType3a BSPType = "3a"
	BSPType3b BSPType = "3b"
)

// Valid reports whether the tag is a known signal-point classification
func (t BSPType) Valid() bool {
	switch t {
	case BSPType1, BSPType1p, BSPType2, BSPType2s, BSPType3a, BSPType3b:
		return true
	}
	return false
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return e.Code + ": " + e.Message
}
