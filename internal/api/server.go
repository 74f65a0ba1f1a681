// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/signal-scanner/internal/logging"
	"github.com/signal-scanner/internal/scan"
)

// ScanServiceInterface defines the interface for scan engine operations
type ScanServiceInterface interface {
	StartScan(ctx context.Context, req *scan.StartScanRequest) (*scan.StartScanResponse, error)
	CancelScan(ctx context.Context, taskID string) (*scan.CancelScanResponse, error)
	StreamProgress(ctx context.Context, taskID string) (*scan.Subscription, scan.ProgressSnapshot, error)
	GetTask(ctx context.Context, taskID string) (*scan.TaskDetailResponse, error)
	ListTasks(ctx context.Context, page, pageSize int) (*scan.TaskListResponse, error)
	GetResults(ctx context.Context, taskID string) (*scan.ResultsResponse, error)
	DeleteTask(ctx context.Context, taskID string) error
}

// Server represents the HTTP API server.
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	scanService ScanServiceInterface
	config      *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RateLimitRPS   int
	RateLimitBurst int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, scanService ScanServiceInterface) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		scanService: scanService,
		config:      config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst)

	// Middleware order matters: logging outermost, compression innermost.
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/scan", s.handleStartScan).Methods("POST")
	api.HandleFunc("/scan/tasks", s.handleListTasks).Methods("GET")
	api.HandleFunc("/scan/{taskId}", s.handleGetTask).Methods("GET")
	api.HandleFunc("/scan/{taskId}", s.handleDeleteTask).Methods("DELETE")
	api.HandleFunc("/scan/{taskId}/progress", s.handleStreamProgress).Methods("GET")
	api.HandleFunc("/scan/{taskId}/cancel", s.handleCancelScan).Methods("POST")
	api.HandleFunc("/scan/{taskId}/results", s.handleGetResults).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "signal-scanner",
	})
}

// Router exposes the configured handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
