package scan

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signal-scanner/internal/analysis"
	apperrors "github.com/signal-scanner/internal/errors"
	"github.com/signal-scanner/internal/models"
	"github.com/signal-scanner/internal/types"
)

// memTaskStore mirrors the semantics of the Postgres task repository,
// including the alive/vanished distinction on progress writes.
type memTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*models.ScanTask

	failUpdates bool
	onGetByID   func(taskID string)
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: make(map[string]*models.ScanTask)}
}

func (m *memTaskStore) Create(ctx context.Context, task *models.ScanTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *memTaskStore) GetByID(ctx context.Context, taskID string) (*models.ScanTask, error) {
	if m.onGetByID != nil {
		m.onGetByID(taskID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, apperrors.NewTaskNotFoundError(taskID)
	}
	cp := *t
	return &cp, nil
}

func (m *memTaskStore) List(ctx context.Context, page, pageSize int) ([]*models.ScanTask, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*models.ScanTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		cp := *t
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (m *memTaskStore) MarkRunning(ctx context.Context, taskID string, totalCount int, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return apperrors.NewTaskNotFoundError(taskID)
	}
	t.Status = types.TaskRunning
	t.TotalCount = totalCount
	t.StartedAt = &startedAt
	return nil
}

func (m *memTaskStore) UpdateProgress(ctx context.Context, taskID string, processed, found int, currentStock *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdates {
		return false, apperrors.NewDatabaseError("update progress", fmt.Errorf("store down"))
	}
	t, ok := m.tasks[taskID]
	if !ok {
		return false, nil
	}
	t.ProcessedCount = processed
	t.FoundCount = found
	t.CurrentStock = currentStock
	return true, nil
}

func (m *memTaskStore) Finish(ctx context.Context, taskID string, status types.TaskStatus, errorMessage *string, completedAt time.Time, elapsed float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return false, nil
	}
	t.Status = status
	t.ErrorMessage = errorMessage
	t.CompletedAt = &completedAt
	t.ElapsedTime = elapsed
	t.CurrentStock = nil
	return true, nil
}

func (m *memTaskStore) Delete(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[taskID]; !ok {
		return apperrors.NewTaskNotFoundError(taskID)
	}
	delete(m.tasks, taskID)
	return nil
}

// memResultStore enforces the (task, code, time, type) uniqueness the
// Postgres table carries.
type memResultStore struct {
	mu      sync.Mutex
	results []*models.ScanResult
	seen    map[string]struct{}
	nextID  int64

	failInserts bool
}

func newMemResultStore() *memResultStore {
	return &memResultStore{seen: make(map[string]struct{})}
}

func resultKey(r *models.ScanResult) string {
	return fmt.Sprintf("%s|%s|%d|%s", r.TaskID, r.Code, r.BSPTime.UnixNano(), r.BSPType)
}

func (m *memResultStore) Insert(ctx context.Context, result *models.ScanResult) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInserts {
		return false, apperrors.NewDatabaseError("insert result", fmt.Errorf("store down"))
	}
	key := resultKey(result)
	if _, dup := m.seen[key]; dup {
		return false, nil
	}
	m.seen[key] = struct{}{}
	m.nextID++
	cp := *result
	cp.ID = m.nextID
	m.results = append(m.results, &cp)
	return true, nil
}

func (m *memResultStore) ListByTask(ctx context.Context, taskID string) ([]*models.ScanResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ScanResult
	for _, r := range m.results {
		if r.TaskID == taskID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memResultStore) countByTask(taskID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.results {
		if r.TaskID == taskID {
			n++
		}
	}
	return n
}

func analysisFailure(code string) error {
	return apperrors.NewAnalysisFailureError(code, fmt.Errorf("engine rejected series"))
}

// stubSource serves a fixed stock list and canned kline series.
type stubSource struct {
	stocks    []models.Stock
	klines    map[string][]models.Kline
	klineErrs map[string]error
}

func newStubSource(stocks ...models.Stock) *stubSource {
	return &stubSource{
		stocks:    stocks,
		klines:    make(map[string][]models.Kline),
		klineErrs: make(map[string]error),
	}
}

func (s *stubSource) AllStocks(ctx context.Context) ([]models.Stock, error) {
	return s.stocks, nil
}

func (s *stubSource) StocksByBoards(ctx context.Context, boards []string) ([]models.Stock, error) {
	wanted := make(map[string]struct{}, len(boards))
	for _, b := range boards {
		wanted[b] = struct{}{}
	}
	var out []models.Stock
	for _, st := range s.stocks {
		if _, ok := wanted[st.Board]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *stubSource) StocksByCodes(ctx context.Context, codes []string) ([]models.Stock, error) {
	wanted := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		wanted[c] = struct{}{}
	}
	var out []models.Stock
	for _, st := range s.stocks {
		if _, ok := wanted[st.Code]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *stubSource) Klines(ctx context.Context, code string, klineType types.KlineType, limit int) ([]models.Kline, error) {
	if err, ok := s.klineErrs[code]; ok {
		return nil, err
	}
	if bars, ok := s.klines[code]; ok {
		return bars, nil
	}
	// Default: a minimal but non-empty series.
	return []models.Kline{{Code: code, Time: time.Now().AddDate(0, 0, -1), Open: 1, High: 1, Low: 1, Close: 1}}, nil
}

// stubAnalyzer delegates to a function so tests can inject per-stock
// behavior and side effects.
type stubAnalyzer struct {
	fn func(ctx context.Context, code string, klines []models.Kline, klineType types.KlineType) (*analysis.Result, error)
}

func (a *stubAnalyzer) Analyze(ctx context.Context, code string, klines []models.Kline, klineType types.KlineType) (*analysis.Result, error) {
	return a.fn(ctx, code, klines, klineType)
}

func noSignals() *stubAnalyzer {
	return &stubAnalyzer{fn: func(ctx context.Context, code string, klines []models.Kline, klineType types.KlineType) (*analysis.Result, error) {
		return &analysis.Result{Code: code}, nil
	}}
}

func signalAt(bspType types.BSPType, ts time.Time, value float64) *stubAnalyzer {
	return &stubAnalyzer{fn: func(ctx context.Context, code string, klines []models.Kline, klineType types.KlineType) (*analysis.Result, error) {
		return &analysis.Result{
			Code: code,
			BSPoints: []analysis.BSPoint{
				{Type: bspType, Time: ts.Format("2006-01-02 15:04"), Value: value, IsBuy: true},
			},
		}, nil
	}}
}

// drain collects every snapshot from a subscription until it closes or
// the timeout fires.
func drain(sub *Subscription, timeout time.Duration) []ProgressSnapshot {
	var out []ProgressSnapshot
	deadline := time.After(timeout)
	for {
		select {
		case snap, ok := <-sub.Updates():
			if !ok {
				return out
			}
			out = append(out, snap)
		case <-deadline:
			return out
		}
	}
}
