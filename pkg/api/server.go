// Package api exposes an HTTP monitoring surface over an engine's health
// checks and long-running operation status.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/health"
	"github.com/Andrei-Masilevich/rocksdb-cloud/pkg/status"
)

// Server serves health and operation-status endpoints for one engine.
type Server struct {
	httpServer    *http.Server
	healthChecker *health.Checker
	statusTracker *status.Tracker
	config        ServerConfig
}

// ServerConfig configures the monitoring server.
type ServerConfig struct {
	Address       string        `yaml:"address" json:"address"`
	ReadTimeout   time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	EnableMetrics bool          `yaml:"enable_metrics" json:"enable_metrics"`
}

// DefaultServerConfig returns sensible defaults for the monitoring server.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:       "localhost:8080",
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		IdleTimeout:   60 * time.Second,
		EnableMetrics: true,
	}
}

// NewServer builds a Server over healthChecker and statusTracker. Either
// collaborator may be nil; the corresponding endpoints report that
// tracking isn't configured rather than panicking.
func NewServer(config ServerConfig, healthChecker *health.Checker, statusTracker *status.Tracker) *Server {
	s := &Server{
		healthChecker: healthChecker,
		statusTracker: statusTracker,
		config:        config,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/status/operations", s.handleOperations)
	mux.HandleFunc("/status/operations/", s.handleOperation)
	if config.EnableMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      s.loggingMiddleware(mux),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Start runs the server, blocking until it stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// StartBackground runs the server in a background goroutine, logging any
// error other than a graceful shutdown.
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			slog.Default().Error("monitoring server stopped", "error", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Default().Debug("monitoring request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.healthChecker == nil {
		respondJSON(w, http.StatusOK, map[string]any{"status": "unknown", "note": "health checks not configured"})
		return
	}

	results, err := s.healthChecker.RunAllChecks(r.Context())
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "error": err.Error()})
		return
	}

	code := http.StatusOK
	if !s.healthChecker.IsHealthy() {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{"healthy": s.healthChecker.IsHealthy(), "checks": results, "stats": s.healthChecker.GetStats()})
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"alive": true})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.healthChecker == nil || s.healthChecker.IsHealthy() {
		respondJSON(w, http.StatusOK, map[string]any{"ready": true})
		return
	}
	respondJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.statusTracker == nil {
		respondJSON(w, http.StatusOK, map[string]any{"note": "operation tracking not configured"})
		return
	}
	respondJSON(w, http.StatusOK, s.statusTracker.GetSystemStatus())
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	if s.statusTracker == nil {
		respondJSON(w, http.StatusOK, []any{})
		return
	}
	respondJSON(w, http.StatusOK, s.statusTracker.GetAllOperations())
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	if s.statusTracker == nil {
		respondError(w, http.StatusNotFound, "operation tracking not configured")
		return
	}
	opID := strings.TrimPrefix(r.URL.Path, "/status/operations/")
	op, err := s.statusTracker.GetOperation(opID)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, op)
}

func respondJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]any{"error": message})
}
