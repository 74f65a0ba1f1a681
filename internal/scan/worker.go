package scan

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/signal-scanner/internal/analysis"
	apperrors "github.com/signal-scanner/internal/errors"
	"github.com/signal-scanner/internal/logging"
	"github.com/signal-scanner/internal/market"
	"github.com/signal-scanner/internal/models"
	"github.com/signal-scanner/internal/types"
)

// Worker executes one scan task over its resolved universe. A worker is
// single-shot: construct, Run, discard. Cancellation is cooperative via
// the shared flag the supervisor owns; the worker observes it between
// stocks, never mid-stock.
type Worker struct {
	task     *models.ScanTask
	universe []models.Stock

	tasks     TaskStore
	results   ResultStore
	source    market.DataSource
	analyzer  analysis.Analyzer
	publisher *Publisher

	cancelled *atomic.Bool
	now       func() time.Time
}

// NewWorker builds a worker for a pending task and its resolved universe.
func NewWorker(task *models.ScanTask, universe []models.Stock, tasks TaskStore, results ResultStore, source market.DataSource, analyzer analysis.Analyzer, publisher *Publisher, cancelled *atomic.Bool) *Worker {
	return &Worker{
		task:      task,
		universe:  universe,
		tasks:     tasks,
		results:   results,
		source:    source,
		analyzer:  analyzer,
		publisher: publisher,
		cancelled: cancelled,
		now:       time.Now,
	}
}

// Run drives the task from pending to a terminal state. Per-stock data
// and analysis failures are logged and skipped; anything else ends the
// task in the error state. Run never panics the caller's goroutine out
// of a partial state: every exit path publishes a terminal snapshot.
func (w *Worker) Run(ctx context.Context) {
	log := logging.WithField("task_id", w.task.ID)

	startedAt := w.now()
	if w.cancelled.Load() {
		w.finish(ctx, log, startedAt, types.TaskCancelled, nil)
		return
	}

	if err := w.tasks.MarkRunning(ctx, w.task.ID, len(w.universe), startedAt); err != nil {
		if apperrors.IsCode(err, apperrors.CodeTaskNotFound) {
			// Deleted before it ever ran; nothing to report.
			log.Info("task vanished before start")
			return
		}
		log.WithError(err).Error("failed to mark task running")
		w.finish(ctx, log, startedAt, types.TaskError, apperrors.NewFatalTaskError("failed to start task", err))
		return
	}
	w.task.Status = types.TaskRunning
	w.task.StartedAt = &startedAt
	w.task.TotalCount = len(w.universe)
	w.publishRunning(nil)

	cutoff := startedAt.AddDate(0, 0, -w.task.TimeWindowDays)
	wanted := make(map[types.BSPType]struct{}, len(w.task.BSPTypes))
	for _, t := range w.task.BSPTypes {
		wanted[t] = struct{}{}
	}

	processed := 0
	found := 0
	for _, stock := range w.universe {
		if w.cancelled.Load() || ctx.Err() != nil {
			w.finish(ctx, log, startedAt, types.TaskCancelled, nil)
			return
		}

		// Mark the stock in flight before fetching anything, so observers
		// see what is being analyzed rather than what just finished.
		display := stock.Display()
		if !w.writeProgress(ctx, log, startedAt, processed, found, &display) {
			return
		}

		inserted, err := w.scanStock(ctx, log, stock, wanted, cutoff)
		if err != nil {
			if apperrors.IsPerStock(err) {
				log.WithError(err).WithField("code", stock.Code).Warn("skipping stock")
			} else {
				log.WithError(err).WithField("code", stock.Code).Error("scan aborted")
				w.finish(ctx, log, startedAt, types.TaskError, err)
				return
			}
		}
		processed++
		found += inserted

		if !w.writeProgress(ctx, log, startedAt, processed, found, &display) {
			return
		}
	}

	w.finish(ctx, log, startedAt, types.TaskCompleted, nil)
}

// writeProgress persists and publishes one progress update. Returns
// false when the run must stop; the terminal transition has already
// been handled by then.
func (w *Worker) writeProgress(ctx context.Context, log *logging.Logger, startedAt time.Time, processed, found int, currentStock *string) bool {
	alive, err := w.tasks.UpdateProgress(ctx, w.task.ID, processed, found, currentStock)
	if err != nil {
		log.WithError(err).Error("failed to persist progress")
		w.finish(ctx, log, startedAt, types.TaskError, apperrors.NewFatalTaskError("failed to persist progress", err))
		return false
	}
	if !alive {
		// Task row deleted mid-run: treat as cancellation, but there
		// is no row left to finish.
		log.Info("task deleted mid-run, stopping")
		w.task.ProcessedCount = processed
		w.task.FoundCount = found
		w.publishTerminal(types.TaskCancelled, nil)
		return false
	}
	w.task.ProcessedCount = processed
	w.task.FoundCount = found
	w.publishRunning(currentStock)
	return true
}

// scanStock fetches one stock's series, runs the engine and persists the
// matching signal points. Returns how many new results were stored.
func (w *Worker) scanStock(ctx context.Context, log *logging.Logger, stock models.Stock, wanted map[types.BSPType]struct{}, cutoff time.Time) (int, error) {
	klines, err := w.source.Klines(ctx, stock.Code, w.task.KlineType, w.task.KlineLimit)
	if err != nil {
		return 0, apperrors.NewDataUnavailableError(stock.Code, err)
	}
	if len(klines) == 0 {
		return 0, apperrors.NewDataUnavailableError(stock.Code, nil)
	}

	result, err := w.analyzer.Analyze(ctx, stock.Code, klines, w.task.KlineType)
	if err != nil {
		return 0, err
	}

	name := result.Name
	if name == "" {
		name = stock.Name
	}

	inserted := 0
	for _, point := range result.BSPoints {
		if _, ok := wanted[point.Type]; !ok {
			continue
		}
		ts, err := point.ParsedTime()
		if err != nil {
			log.WithError(err).WithField("code", stock.Code).Warn("dropping signal with bad timestamp")
			continue
		}
		if ts.Before(cutoff) {
			continue
		}

		ok, err := w.results.Insert(ctx, &models.ScanResult{
			TaskID:    w.task.ID,
			Code:      stock.Code,
			Name:      name,
			BSPType:   point.Type,
			BSPTime:   ts,
			BSPValue:  point.Value,
			IsBuy:     point.IsBuy,
			KlineType: w.task.KlineType,
		})
		if err != nil {
			return inserted, apperrors.NewFatalTaskError("failed to store scan result", err)
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// finish moves the task to a terminal state exactly once and publishes
// the terminal snapshot. Uses a background context for the final write
// so cancellation of the run context cannot lose the terminal state.
func (w *Worker) finish(ctx context.Context, log *logging.Logger, startedAt time.Time, status types.TaskStatus, taskErr error) {
	completedAt := w.now()
	elapsed := completedAt.Sub(startedAt).Seconds()

	var errMsg *string
	if taskErr != nil {
		msg := taskErr.Error()
		errMsg = &msg
	}

	writeCtx := context.WithoutCancel(ctx)
	alive, err := w.tasks.Finish(writeCtx, w.task.ID, status, errMsg, completedAt, elapsed)
	if err != nil {
		log.WithError(err).Error("failed to persist terminal state")
	} else if !alive {
		log.Info("task deleted before terminal write")
	}

	w.task.CompletedAt = &completedAt
	w.task.ElapsedTime = elapsed
	w.publishTerminal(status, errMsg)

	log.WithFields(map[string]interface{}{
		"status":    string(status),
		"processed": w.task.ProcessedCount,
		"found":     w.task.FoundCount,
		"elapsed_s": elapsed,
	}).Info("scan finished")
}

func (w *Worker) publishRunning(currentStock *string) {
	w.task.CurrentStock = currentStock
	w.publisher.Publish(ProgressSnapshot{
		TaskID:          w.task.ID,
		Status:          types.TaskRunning,
		ProgressPercent: w.task.ProgressPercent(),
		ProcessedCount:  w.task.ProcessedCount,
		TotalCount:      w.task.TotalCount,
		FoundCount:      w.task.FoundCount,
		CurrentStock:    currentStock,
	})
}

func (w *Worker) publishTerminal(status types.TaskStatus, errMsg *string) {
	w.task.Status = status
	w.task.CurrentStock = nil
	w.task.ErrorMessage = errMsg
	w.publisher.Publish(ProgressSnapshot{
		TaskID:          w.task.ID,
		Status:          status,
		ProgressPercent: w.task.ProgressPercent(),
		ProcessedCount:  w.task.ProcessedCount,
		TotalCount:      w.task.TotalCount,
		FoundCount:      w.task.FoundCount,
		ErrorMessage:    errMsg,
	})
}
