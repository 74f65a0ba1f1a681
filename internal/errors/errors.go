// Package errors defines the scan engine's error taxonomy.
package errors

import (
	"fmt"
	"net/http"

	"github.com/signal-scanner/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents malformed or inconsistent scan parameters (4xx)
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents references to unknown tasks
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents task state conflicts
	CategoryConflict ErrorCategory = "conflict"
	// CategoryCapacity represents concurrency limit rejections
	CategoryCapacity ErrorCategory = "capacity"
	// CategoryData represents per-stock data source failures (recovered locally)
	CategoryData ErrorCategory = "data"
	// CategoryAnalysis represents per-stock analysis engine failures (recovered locally)
	CategoryAnalysis ErrorCategory = "analysis"
	// CategoryDatabase represents task store failures
	CategoryDatabase ErrorCategory = "database"
	// CategorySystem represents everything else (5xx)
	CategorySystem ErrorCategory = "system"
)

// Error codes surfaced through the API and task state
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeTaskNotFound       = "TASK_NOT_FOUND"
	CodeTaskAlreadyRunning = "TASK_ALREADY_RUNNING"
	CodeTaskNotRunning     = "TASK_NOT_RUNNING"
	CodeTooManyActiveTasks = "TOO_MANY_ACTIVE_TASKS"
	CodeDataUnavailable    = "DATA_UNAVAILABLE"
	CodeAnalysisFailure    = "ANALYSIS_FAILURE"
	CodeFatalTaskError     = "FATAL_TASK_ERROR"
	CodeDatabaseError      = "DATABASE_ERROR"
	CodeInternalError      = "INTERNAL_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewInvalidRequestError rejects malformed scan parameters before any task is created
func NewInvalidRequestError(reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidRequest,
		Message:    reason,
	}
}

// NewTaskNotFoundError creates an unknown-task error
func NewTaskNotFoundError(taskID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeTaskNotFound,
		Message:    fmt.Sprintf("scan task not found: %s", taskID),
		Details: map[string]interface{}{
			"taskId": taskID,
		},
	}
}

// NewTaskAlreadyRunningError rejects a start for a task that already has an active worker
func NewTaskAlreadyRunningError(taskID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeTaskAlreadyRunning,
		Message:    fmt.Sprintf("scan task already running: %s", taskID),
		Details: map[string]interface{}{
			"taskId": taskID,
		},
	}
}

// NewTaskNotRunningError reports a cancel against a task with no active worker.
// Benign: cancelling an already-finished task is harmless.
func NewTaskNotRunningError(taskID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusOK,
		Code:       CodeTaskNotRunning,
		Message:    fmt.Sprintf("scan task not running: %s", taskID),
		Details: map[string]interface{}{
			"taskId": taskID,
		},
	}
}

// NewTooManyActiveTasksError rejects a start beyond the concurrency limit
func NewTooManyActiveTasksError(limit int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCapacity,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeTooManyActiveTasks,
		Message:    fmt.Sprintf("too many active scan tasks (limit: %d)", limit),
		Details: map[string]interface{}{
			"limit": limit,
		},
	}
}

// NewDataUnavailableError marks a per-stock data fetch failure
func NewDataUnavailableError(code string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryData,
		StatusCode: http.StatusBadGateway,
		Code:       CodeDataUnavailable,
		Message:    fmt.Sprintf("kline data unavailable for %s", code),
		Cause:      cause,
		Details: map[string]interface{}{
			"code": code,
		},
	}
}

// NewAnalysisFailureError marks a per-stock analysis engine failure
func NewAnalysisFailureError(code string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAnalysis,
		StatusCode: http.StatusBadGateway,
		Code:       CodeAnalysisFailure,
		Message:    fmt.Sprintf("analysis failed for %s", code),
		Cause:      cause,
		Details: map[string]interface{}{
			"code": code,
		},
	}
}

// NewFatalTaskError marks a failure outside the per-stock loop that aborts the whole task
func NewFatalTaskError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeFatalTaskError,
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a task store error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabaseError,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	if catErr, ok := err.(*CategorizedError); ok {
		return catErr
	}

	if svcErr, ok := err.(*types.ServiceError); ok {
		return categorizeServiceError(svcErr)
	}

	return NewInternalError("unexpected error", err)
}

// categorizeServiceError categorizes a ServiceError
func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	switch err.Code {
	case CodeInvalidRequest:
		return &CategorizedError{
			Category:   CategoryValidation,
			StatusCode: http.StatusBadRequest,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case CodeTaskNotFound:
		return &CategorizedError{
			Category:   CategoryNotFound,
			StatusCode: http.StatusNotFound,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case CodeTaskAlreadyRunning:
		return &CategorizedError{
			Category:   CategoryConflict,
			StatusCode: http.StatusConflict,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case CodeTaskNotRunning:
		return &CategorizedError{
			Category:   CategoryConflict,
			StatusCode: http.StatusOK,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case CodeTooManyActiveTasks:
		return &CategorizedError{
			Category:   CategoryCapacity,
			StatusCode: http.StatusTooManyRequests,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	default:
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsPerStock reports whether the error is recovered locally by skipping the
// stock rather than aborting the task.
func IsPerStock(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.Category == CategoryData || catErr.Category == CategoryAnalysis
}

// IsCode reports whether the error carries the given code
func IsCode(err error, code string) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Code == code
}
