package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/signal-scanner/internal/errors"
	"github.com/signal-scanner/internal/logging"
	"github.com/signal-scanner/internal/scan"
)

// handleStartScan handles POST /api/scan - start a new scan task
func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var req scan.StartScanRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, apperrors.CodeInvalidRequest, "Invalid request body", nil)
		return
	}

	result, err := s.scanService.StartScan(r.Context(), &req)
	if err != nil {
		logging.WithError(err).Warnf("StartScan rejected")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

// handleGetTask handles GET /api/scan/:taskId - full task record plus
// its stored results
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskId"]

	task, err := s.scanService.GetTask(r.Context(), taskID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, task)
}

// handleListTasks handles GET /api/scan/tasks?page=&pageSize=
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "pageSize", 20)

	result, err := s.scanService.ListTasks(r.Context(), page, pageSize)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleCancelScan handles POST /api/scan/:taskId/cancel. Cancelling a
// task that is not running is a no-op, still 200.
func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskId"]

	result, err := s.scanService.CancelScan(r.Context(), taskID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleGetResults handles GET /api/scan/:taskId/results
func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskId"]

	result, err := s.scanService.GetResults(r.Context(), taskID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleDeleteTask handles DELETE /api/scan/:taskId
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskId"]

	if err := s.scanService.DeleteTask(r.Context(), taskID); err != nil {
		respondServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleStreamProgress handles GET /api/scan/:taskId/progress - a
// server-sent event stream of progress snapshots. The current snapshot
// is sent immediately; the stream ends after the terminal snapshot or
// when the client disconnects.
func (s *Server) handleStreamProgress(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskId"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, apperrors.CodeInternalError, "Streaming not supported", nil)
		return
	}

	sub, current, err := s.scanService.StreamProgress(r.Context(), taskID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// The server's write timeout would cut long streams short.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	if err := writeEvent(w, current); err != nil {
		return
	}
	flusher.Flush()
	if current.Terminal() {
		return
	}

	for {
		select {
		case snap, open := <-sub.Updates():
			if !open {
				return
			}
			if err := writeEvent(w, snap); err != nil {
				return
			}
			flusher.Flush()
			if snap.Terminal() {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// writeEvent writes one snapshot in SSE wire format.
func writeEvent(w http.ResponseWriter, snap scan.ProgressSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// queryInt reads an integer query parameter, falling back on absence or
// garbage.
func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
