package scan

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/signal-scanner/internal/errors"
	"github.com/signal-scanner/internal/logging"
)

// Handle is a reserved execution slot for one task. It carries the
// cancellation flag the task's worker polls.
type Handle struct {
	taskID    string
	cancelled atomic.Bool
	done      chan struct{}
}

// Cancelled returns the flag the worker polls between stocks.
func (h *Handle) Cancelled() *atomic.Bool {
	return &h.cancelled
}

// Done closes when the task's worker has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Supervisor owns the set of in-flight workers. It enforces at most one
// worker per task, a global concurrency ceiling, and the optional
// wall-clock timeout that cancels runaway tasks.
type Supervisor struct {
	mu      sync.Mutex
	active  map[string]*Handle
	limit   int
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewSupervisor creates a supervisor with the given concurrency ceiling.
// timeout zero disables the per-task deadline.
func NewSupervisor(limit int, timeout time.Duration) *Supervisor {
	return &Supervisor{
		active:  make(map[string]*Handle),
		limit:   limit,
		timeout: timeout,
	}
}

// Reserve claims an execution slot for a task before the task row is
// created, so a full engine rejects the request without leaving an
// orphan row behind. The caller must follow up with Start or Release.
func (s *Supervisor) Reserve(taskID string) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.active[taskID]; running {
		return nil, apperrors.NewTaskAlreadyRunningError(taskID)
	}
	if len(s.active) >= s.limit {
		return nil, apperrors.NewTooManyActiveTasksError(s.limit)
	}

	h := &Handle{taskID: taskID, done: make(chan struct{})}
	s.active[taskID] = h
	return h, nil
}

// Release frees a reserved slot whose worker never started.
func (s *Supervisor) Release(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[h.taskID] == h {
		delete(s.active, h.taskID)
		close(h.done)
	}
}

// Start launches the worker on a reserved slot. The slot is freed when
// the worker returns.
func (s *Supervisor) Start(ctx context.Context, h *Handle, w *Worker) {
	var timer *time.Timer
	if s.timeout > 0 {
		timer = time.AfterFunc(s.timeout, func() {
			logging.WithField("task_id", h.taskID).Warn("task deadline exceeded, cancelling")
			h.cancelled.Store(true)
		})
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if timer != nil {
				timer.Stop()
			}
			s.mu.Lock()
			if s.active[h.taskID] == h {
				delete(s.active, h.taskID)
			}
			s.mu.Unlock()
			close(h.done)
		}()
		w.Run(ctx)
	}()
}

// Cancel flips a running task's cancellation flag. Returns
// TaskNotRunning when no worker owns the task.
func (s *Supervisor) Cancel(taskID string) error {
	s.mu.Lock()
	h, running := s.active[taskID]
	s.mu.Unlock()

	if !running {
		return apperrors.NewTaskNotRunningError(taskID)
	}
	h.cancelled.Store(true)
	return nil
}

// IsActive reports whether a worker currently owns the task.
func (s *Supervisor) IsActive(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, running := s.active[taskID]
	return running
}

// ActiveCount reports how many workers are in flight.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Shutdown cancels every in-flight task and waits for the workers to
// drain, or for ctx to expire.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, h := range s.active {
		h.cancelled.Store(true)
	}
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
