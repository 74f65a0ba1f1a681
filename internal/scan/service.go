package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/signal-scanner/internal/analysis"
	"github.com/signal-scanner/internal/config"
	apperrors "github.com/signal-scanner/internal/errors"
	"github.com/signal-scanner/internal/logging"
	"github.com/signal-scanner/internal/market"
	"github.com/signal-scanner/internal/models"
	"github.com/signal-scanner/internal/types"
)

// StartScanRequest carries the parameters of a new scan.
type StartScanRequest struct {
	StockPool      types.StockPool `json:"stockPool"`
	Boards         []string        `json:"boards,omitempty"`
	StockCodes     []string        `json:"stockCodes,omitempty"`
	KlineType      types.KlineType `json:"klineType"`
	BSPTypes       []types.BSPType `json:"bspTypes"`
	TimeWindowDays int             `json:"timeWindowDays"`
	KlineLimit     int             `json:"klineLimit,omitempty"`
}

// StartScanResponse acknowledges an accepted scan.
type StartScanResponse struct {
	TaskID      string           `json:"taskId"`
	Status      types.TaskStatus `json:"status"`
	TotalStocks int              `json:"totalStocks"`
}

// CancelScanResponse reports the outcome of a cancel request.
type CancelScanResponse struct {
	TaskID    string `json:"taskId"`
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message"`
}

// TaskListResponse is one page of the task history.
type TaskListResponse struct {
	Tasks    []models.ScanTaskListItem `json:"tasks"`
	Total    int                       `json:"total"`
	Page     int                       `json:"page"`
	PageSize int                       `json:"pageSize"`
}

// TaskDetailResponse is the full task record together with whatever
// results it has stored so far.
type TaskDetailResponse struct {
	*models.ScanTask
	Results []*models.ScanResult `json:"results"`
}

// ResultsResponse bundles a task's stored signal points with its
// scan-wide counters.
type ResultsResponse struct {
	TaskID       string               `json:"taskId"`
	Status       types.TaskStatus     `json:"status"`
	Results      []*models.ScanResult `json:"results"`
	TotalScanned int                  `json:"totalScanned"`
	TotalFound   int                  `json:"totalFound"`
	ElapsedTime  float64              `json:"elapsedTime"`
}

// Service is the scan engine's application surface, shared by the HTTP
// API and any other caller.
type Service struct {
	tasks      TaskStore
	results    ResultStore
	resolver   *Resolver
	source     market.DataSource
	analyzer   analysis.Analyzer
	publisher  *Publisher
	supervisor *Supervisor

	defaultKlineLimit int
	now               func() time.Time
}

// NewService wires the engine together.
func NewService(cfg *config.ScanConfig, tasks TaskStore, results ResultStore, source market.DataSource, analyzer analysis.Analyzer) *Service {
	return &Service{
		tasks:             tasks,
		results:           results,
		resolver:          NewResolver(source),
		source:            source,
		analyzer:          analyzer,
		publisher:         NewPublisher(cfg.ProgressBuffer),
		supervisor:        NewSupervisor(cfg.MaxConcurrentTasks, cfg.TaskTimeout),
		defaultKlineLimit: cfg.DefaultKlineLimit,
		now:               time.Now,
	}
}

// Publisher exposes the progress fan-out, mainly for tests.
func (s *Service) Publisher() *Publisher {
	return s.publisher
}

// Supervisor exposes the worker supervisor for shutdown wiring.
func (s *Service) Supervisor() *Supervisor {
	return s.supervisor
}

// StartScan validates the request, resolves the universe, persists the
// pending task and hands it to a background worker. The response is
// returned before the worker has made progress.
func (s *Service) StartScan(ctx context.Context, req *StartScanRequest) (*StartScanResponse, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	universe, err := s.resolver.Resolve(ctx, req.StockPool, req.Boards, req.StockCodes)
	if err != nil {
		return nil, err
	}

	task := &models.ScanTask{
		ID:             uuid.New().String(),
		Status:         types.TaskPending,
		StockPool:      req.StockPool,
		Boards:         req.Boards,
		StockCodes:     req.StockCodes,
		KlineType:      req.KlineType,
		BSPTypes:       req.BSPTypes,
		TimeWindowDays: req.TimeWindowDays,
		KlineLimit:     req.KlineLimit,
		CreatedAt:      s.now(),
	}
	if task.KlineLimit <= 0 {
		task.KlineLimit = s.defaultKlineLimit
	}

	handle, err := s.supervisor.Reserve(task.ID)
	if err != nil {
		return nil, err
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		s.supervisor.Release(handle)
		return nil, err
	}

	worker := NewWorker(task, universe, s.tasks, s.results, s.source, s.analyzer, s.publisher, handle.Cancelled())
	s.supervisor.Start(context.WithoutCancel(ctx), handle, worker)

	logging.WithFields(map[string]interface{}{
		"task_id":      task.ID,
		"stock_pool":   string(task.StockPool),
		"kline_type":   string(task.KlineType),
		"total_stocks": len(universe),
	}).Info("scan started")

	return &StartScanResponse{
		TaskID:      task.ID,
		Status:      types.TaskPending,
		TotalStocks: len(universe),
	}, nil
}

func (s *Service) validate(req *StartScanRequest) error {
	switch req.StockPool {
	case types.PoolAll, types.PoolBoards, types.PoolCustom:
	default:
		return apperrors.NewInvalidRequestError(fmt.Sprintf("invalid stockPool %q", req.StockPool))
	}
	if !req.KlineType.Valid() {
		return apperrors.NewInvalidRequestError(fmt.Sprintf("invalid klineType %q", req.KlineType))
	}
	if len(req.BSPTypes) == 0 {
		return apperrors.NewInvalidRequestError("bspTypes must not be empty")
	}
	for _, t := range req.BSPTypes {
		if !t.Valid() {
			return apperrors.NewInvalidRequestError(fmt.Sprintf("invalid bsp type %q", t))
		}
	}
	if req.TimeWindowDays < 1 {
		return apperrors.NewInvalidRequestError("timeWindowDays must be at least 1")
	}
	if req.KlineLimit < 0 {
		return apperrors.NewInvalidRequestError("klineLimit must be positive")
	}
	return nil
}

// CancelScan requests cooperative cancellation of a running task. A
// second cancel, or a cancel of an already-terminal task, is benign.
func (s *Service) CancelScan(ctx context.Context, taskID string) (*CancelScanResponse, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if err := s.supervisor.Cancel(taskID); err != nil {
		return &CancelScanResponse{
			TaskID:    taskID,
			Cancelled: false,
			Message:   fmt.Sprintf("task is %s, nothing to cancel", task.Status),
		}, nil
	}
	return &CancelScanResponse{
		TaskID:    taskID,
		Cancelled: true,
		Message:   "cancellation requested",
	}, nil
}

// StreamProgress subscribes to a task's progress stream. The returned
// snapshot is the task's current state and must be delivered to the
// observer first; if it is already terminal the subscription is closed
// and the stream consists of that one snapshot.
func (s *Service) StreamProgress(ctx context.Context, taskID string) (*Subscription, ProgressSnapshot, error) {
	// Subscribe before reading the row so a terminal transition between
	// the two is seen either in the snapshot or on the channel.
	sub := s.publisher.Subscribe(taskID)

	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		sub.Close()
		return nil, ProgressSnapshot{}, err
	}

	current := SnapshotFromTask(task)
	if current.Terminal() {
		sub.Close()
		return sub, current, nil
	}
	// Snapshots published between the subscribe and the row read are
	// older than the row; drop them so the stream never moves backwards.
	sub.trimStale(current.ProcessedCount)
	return sub, current, nil
}

// GetTask returns one task's full record with its stored results.
func (s *Service) GetTask(ctx context.Context, taskID string) (*TaskDetailResponse, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	results, err := s.results.ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &TaskDetailResponse{ScanTask: task, Results: results}, nil
}

// ListTasks returns one page of task history, newest first.
func (s *Service) ListTasks(ctx context.Context, page, pageSize int) (*TaskListResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	tasks, total, err := s.tasks.List(ctx, page, pageSize)
	if err != nil {
		return nil, err
	}

	items := make([]models.ScanTaskListItem, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, t.ListItem())
	}
	return &TaskListResponse{
		Tasks:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// GetResults returns the signal points a task has stored so far, with
// the task's counters. Valid for running tasks too; the caller sees a
// consistent prefix of the final result set.
func (s *Service) GetResults(ctx context.Context, taskID string) (*ResultsResponse, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	results, err := s.results.ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	elapsed := task.ElapsedTime
	if !task.Status.IsTerminal() && task.StartedAt != nil {
		elapsed = s.now().Sub(*task.StartedAt).Seconds()
	}
	return &ResultsResponse{
		TaskID:       task.ID,
		Status:       task.Status,
		Results:      results,
		TotalScanned: task.ProcessedCount,
		TotalFound:   task.FoundCount,
		ElapsedTime:  elapsed,
	}, nil
}

// DeleteTask removes a task and its results. A running task is
// cancelled first; its worker notices the vanished row and stops.
func (s *Service) DeleteTask(ctx context.Context, taskID string) error {
	// Best effort: flag the worker before the row disappears.
	if err := s.supervisor.Cancel(taskID); err == nil {
		logging.WithField("task_id", taskID).Info("cancelling running task before delete")
	}
	return s.tasks.Delete(ctx, taskID)
}
