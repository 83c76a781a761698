package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/health"
	"github.com/Andrei-Masilevich/rocksdb-cloud/pkg/status"
)

func TestNewServer(t *testing.T) {
	checker, err := health.NewChecker(&health.Config{Enabled: true})
	if err != nil {
		t.Fatalf("NewChecker failed: %v", err)
	}
	tracker := status.NewTracker(status.DefaultTrackerConfig())

	server := NewServer(DefaultServerConfig(), checker, tracker)

	if server == nil {
		t.Fatal("NewServer returned nil")
	}
	if server.healthChecker != checker {
		t.Error("health checker not set correctly")
	}
	if server.statusTracker != tracker {
		t.Error("status tracker not set correctly")
	}
	if server.httpServer == nil {
		t.Error("http server not initialized")
	}
}

func TestHandleHealth_NoCheckerConfigured(t *testing.T) {
	server := &Server{config: DefaultServerConfig()}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["status"] != "unknown" {
		t.Errorf("expected status=unknown, got %v", response["status"])
	}
}

func TestHandleHealth_RunsRegisteredChecks(t *testing.T) {
	checker, err := health.NewChecker(&health.Config{Enabled: true})
	if err != nil {
		t.Fatalf("NewChecker failed: %v", err)
	}
	if err := checker.RegisterCheck("always-ok", "always succeeds", health.CategoryCore, health.PriorityLow,
		func(context.Context) error { return nil }); err != nil {
		t.Fatalf("RegisterCheck failed: %v", err)
	}

	server := &Server{healthChecker: checker, config: DefaultServerConfig()}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["healthy"] != true {
		t.Errorf("expected healthy=true, got %v", response["healthy"])
	}
}

func TestHandleReadiness_UnhealthyReturnsServiceUnavailable(t *testing.T) {
	checker, err := health.NewChecker(&health.Config{Enabled: true})
	if err != nil {
		t.Fatalf("NewChecker failed: %v", err)
	}
	if err := checker.RegisterCheck("always-fails", "always fails", health.CategoryCore, health.PriorityLow,
		func(context.Context) error { return context.DeadlineExceeded }); err != nil {
		t.Fatalf("RegisterCheck failed: %v", err)
	}
	if _, err := checker.RunAllChecks(context.Background()); err != nil {
		t.Fatalf("RunAllChecks failed: %v", err)
	}

	server := &Server{healthChecker: checker, config: DefaultServerConfig()}

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()
	server.handleReadiness(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}

func TestHandleStatus_NoTrackerConfigured(t *testing.T) {
	server := &Server{config: DefaultServerConfig()}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	server.handleStatus(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestHandleOperation_NotFound(t *testing.T) {
	tracker := status.NewTracker(status.DefaultTrackerConfig())
	server := &Server{statusTracker: tracker, config: DefaultServerConfig()}

	req := httptest.NewRequest(http.MethodGet, "/status/operations/missing", nil)
	w := httptest.NewRecorder()
	server.handleOperation(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}
