package api

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/signal-scanner/internal/errors"
	"github.com/signal-scanner/internal/models"
	"github.com/signal-scanner/internal/scan"
	"github.com/signal-scanner/internal/types"
)

// stubScanService scripts the service layer per test.
type stubScanService struct {
	startScan      func(ctx context.Context, req *scan.StartScanRequest) (*scan.StartScanResponse, error)
	cancelScan     func(ctx context.Context, taskID string) (*scan.CancelScanResponse, error)
	streamProgress func(ctx context.Context, taskID string) (*scan.Subscription, scan.ProgressSnapshot, error)
	getTask        func(ctx context.Context, taskID string) (*scan.TaskDetailResponse, error)
	listTasks      func(ctx context.Context, page, pageSize int) (*scan.TaskListResponse, error)
	getResults     func(ctx context.Context, taskID string) (*scan.ResultsResponse, error)
	deleteTask     func(ctx context.Context, taskID string) error
}

func (s *stubScanService) StartScan(ctx context.Context, req *scan.StartScanRequest) (*scan.StartScanResponse, error) {
	return s.startScan(ctx, req)
}

func (s *stubScanService) CancelScan(ctx context.Context, taskID string) (*scan.CancelScanResponse, error) {
	return s.cancelScan(ctx, taskID)
}

func (s *stubScanService) StreamProgress(ctx context.Context, taskID string) (*scan.Subscription, scan.ProgressSnapshot, error) {
	return s.streamProgress(ctx, taskID)
}

func (s *stubScanService) GetTask(ctx context.Context, taskID string) (*scan.TaskDetailResponse, error) {
	return s.getTask(ctx, taskID)
}

func (s *stubScanService) ListTasks(ctx context.Context, page, pageSize int) (*scan.TaskListResponse, error) {
	return s.listTasks(ctx, page, pageSize)
}

func (s *stubScanService) GetResults(ctx context.Context, taskID string) (*scan.ResultsResponse, error) {
	return s.getResults(ctx, taskID)
}

func (s *stubScanService) DeleteTask(ctx context.Context, taskID string) error {
	return s.deleteTask(ctx, taskID)
}

func testServer(svc ScanServiceInterface) *Server {
	return NewServer(&ServerConfig{
		Host:           "127.0.0.1",
		Port:           "0",
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	}, svc)
}

func TestHandleStartScan(t *testing.T) {
	svc := &stubScanService{
		startScan: func(ctx context.Context, req *scan.StartScanRequest) (*scan.StartScanResponse, error) {
			assert.Equal(t, types.PoolCustom, req.StockPool)
			assert.Equal(t, []string{"sh.600000"}, req.StockCodes)
			return &scan.StartScanResponse{TaskID: "t1", Status: types.TaskPending, TotalStocks: 1}, nil
		},
	}
	srv := testServer(svc)

	body := `{"stockPool":"custom","stockCodes":["sh.600000"],"klineType":"day","bspTypes":["1"],"timeWindowDays":3,"klineLimit":500}`
	req := httptest.NewRequest("POST", "/api/scan", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp scan.StartScanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "t1", resp.TaskID)
	assert.Equal(t, types.TaskPending, resp.Status)
	assert.Equal(t, 1, resp.TotalStocks)
}

func TestHandleStartScanInvalid(t *testing.T) {
	svc := &stubScanService{
		startScan: func(ctx context.Context, req *scan.StartScanRequest) (*scan.StartScanResponse, error) {
			return nil, apperrors.NewInvalidRequestError("bspTypes must not be empty")
		},
	}
	srv := testServer(svc)

	body := `{"stockPool":"custom","stockCodes":["sh.600000"],"klineType":"day","bspTypes":[],"timeWindowDays":3}`
	req := httptest.NewRequest("POST", "/api/scan", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.CodeInvalidRequest, resp.Error.Code)
}

func TestHandleStartScanMalformedBody(t *testing.T) {
	srv := testServer(&stubScanService{})

	req := httptest.NewRequest("POST", "/api/scan", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStartScanAtCapacity(t *testing.T) {
	svc := &stubScanService{
		startScan: func(ctx context.Context, req *scan.StartScanRequest) (*scan.StartScanResponse, error) {
			return nil, apperrors.NewTooManyActiveTasksError(4)
		},
	}
	srv := testServer(svc)

	body := `{"stockPool":"all","klineType":"day","bspTypes":["1"],"timeWindowDays":3}`
	req := httptest.NewRequest("POST", "/api/scan", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHandleGetTask(t *testing.T) {
	svc := &stubScanService{
		getTask: func(ctx context.Context, taskID string) (*scan.TaskDetailResponse, error) {
			if taskID != "t1" {
				return nil, apperrors.NewTaskNotFoundError(taskID)
			}
			return &scan.TaskDetailResponse{
				ScanTask: &models.ScanTask{ID: "t1", Status: types.TaskCompleted, TotalCount: 3, ProcessedCount: 3},
				Results:  []*models.ScanResult{{TaskID: "t1", Code: "sh.600000", BSPType: types.BSPType1}},
			}, nil
		},
	}
	srv := testServer(svc)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/scan/t1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var detail scan.TaskDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, types.TaskCompleted, detail.Status)
	require.Len(t, detail.Results, 1)
	assert.Equal(t, "sh.600000", detail.Results[0].Code)

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/scan/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListTasks(t *testing.T) {
	svc := &stubScanService{
		listTasks: func(ctx context.Context, page, pageSize int) (*scan.TaskListResponse, error) {
			assert.Equal(t, 2, page)
			assert.Equal(t, 10, pageSize)
			return &scan.TaskListResponse{
				Tasks:    []models.ScanTaskListItem{{ID: "t1", Status: types.TaskCompleted}},
				Total:    11,
				Page:     page,
				PageSize: pageSize,
			}, nil
		},
	}
	srv := testServer(svc)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/scan/tasks?page=2&pageSize=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp scan.TaskListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 11, resp.Total)
	assert.Len(t, resp.Tasks, 1)
}

func TestHandleCancelScan(t *testing.T) {
	svc := &stubScanService{
		cancelScan: func(ctx context.Context, taskID string) (*scan.CancelScanResponse, error) {
			switch taskID {
			case "running":
				return &scan.CancelScanResponse{TaskID: taskID, Cancelled: true, Message: "cancellation requested"}, nil
			case "done":
				return &scan.CancelScanResponse{TaskID: taskID, Cancelled: false, Message: "task is completed, nothing to cancel"}, nil
			default:
				return nil, apperrors.NewTaskNotFoundError(taskID)
			}
		},
	}
	srv := testServer(svc)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("POST", "/api/scan/running/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp scan.CancelScanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Cancelled)

	// Cancel of a finished task is benign.
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("POST", "/api/scan/done/cancel", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("POST", "/api/scan/ghost/cancel", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetResults(t *testing.T) {
	svc := &stubScanService{
		getResults: func(ctx context.Context, taskID string) (*scan.ResultsResponse, error) {
			return &scan.ResultsResponse{
				TaskID:       taskID,
				Status:       types.TaskCompleted,
				Results:      []*models.ScanResult{{TaskID: taskID, Code: "sh.600000", BSPType: types.BSPType1, IsBuy: true}},
				TotalScanned: 1,
				TotalFound:   1,
				ElapsedTime:  1.5,
			}, nil
		},
	}
	srv := testServer(svc)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/scan/t1/results", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp scan.ResultsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalFound)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "sh.600000", resp.Results[0].Code)
}

func TestHandleDeleteTask(t *testing.T) {
	svc := &stubScanService{
		deleteTask: func(ctx context.Context, taskID string) error {
			if taskID != "t1" {
				return apperrors.NewTaskNotFoundError(taskID)
			}
			return nil
		},
	}
	srv := testServer(svc)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/scan/t1", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/scan/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStreamProgress(t *testing.T) {
	pub := scan.NewPublisher(16)

	svc := &stubScanService{
		streamProgress: func(ctx context.Context, taskID string) (*scan.Subscription, scan.ProgressSnapshot, error) {
			sub := pub.Subscribe(taskID)
			return sub, scan.ProgressSnapshot{TaskID: taskID, Status: types.TaskRunning, ProcessedCount: 1, TotalCount: 3}, nil
		},
	}
	srv := testServer(svc)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, err := http.NewRequest("GET", ts.URL+"/api/scan/t1/progress", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		pub.Publish(scan.ProgressSnapshot{TaskID: "t1", Status: types.TaskRunning, ProcessedCount: 2, TotalCount: 3})
		pub.Publish(scan.ProgressSnapshot{TaskID: "t1", Status: types.TaskCompleted, ProcessedCount: 3, TotalCount: 3, FoundCount: 2})
	}()

	var snaps []scan.ProgressSnapshot
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var snap scan.ProgressSnapshot
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap))
		snaps = append(snaps, snap)
	}

	require.Len(t, snaps, 3)
	assert.Equal(t, 1, snaps[0].ProcessedCount)
	assert.Equal(t, types.TaskCompleted, snaps[2].Status)
	assert.Equal(t, 2, snaps[2].FoundCount)
}

func TestHandleStreamProgressTerminalTask(t *testing.T) {
	pub := scan.NewPublisher(16)

	svc := &stubScanService{
		streamProgress: func(ctx context.Context, taskID string) (*scan.Subscription, scan.ProgressSnapshot, error) {
			sub := pub.Subscribe(taskID)
			sub.Close()
			return sub, scan.ProgressSnapshot{TaskID: taskID, Status: types.TaskCompleted, ProcessedCount: 3, TotalCount: 3}, nil
		},
	}
	srv := testServer(svc)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/scan/t1/progress", nil)
	req.Header.Set("Accept", "text/event-stream")
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"completed"`)
}

func TestHandleStreamProgressGzipClient(t *testing.T) {
	pub := scan.NewPublisher(16)

	svc := &stubScanService{
		streamProgress: func(ctx context.Context, taskID string) (*scan.Subscription, scan.ProgressSnapshot, error) {
			sub := pub.Subscribe(taskID)
			sub.Close()
			return sub, scan.ProgressSnapshot{TaskID: taskID, Status: types.TaskCompleted, ProcessedCount: 3, TotalCount: 3}, nil
		},
	}
	srv := testServer(svc)

	// A gzip-capable client that never announces an event stream still
	// gets a working (compressed) stream.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/scan/t1/progress", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"status":"completed"`)
}

func TestHandleStreamProgressUnknownTask(t *testing.T) {
	svc := &stubScanService{
		streamProgress: func(ctx context.Context, taskID string) (*scan.Subscription, scan.ProgressSnapshot, error) {
			return nil, scan.ProgressSnapshot{}, apperrors.NewTaskNotFoundError(taskID)
		},
	}
	srv := testServer(svc)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/scan/ghost/progress", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(&stubScanService{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestRateLimitExceeded(t *testing.T) {
	srv := NewServer(&ServerConfig{
		Host:           "127.0.0.1",
		Port:           "0",
		RateLimitRPS:   1,
		RateLimitBurst: 1,
	}, &stubScanService{
		getTask: func(ctx context.Context, taskID string) (*scan.TaskDetailResponse, error) {
			return &scan.TaskDetailResponse{ScanTask: &models.ScanTask{ID: taskID}}, nil
		},
	})

	limited := false
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/scan/t1", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		srv.Router().ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	assert.True(t, limited, "burst of requests should trip the limiter")
}
