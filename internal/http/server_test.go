package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type mockIngest struct {
	joined bool
}

func (m *mockIngest) IsJoined() bool { return m.joined }

func newTestServer(ready bool, ingest ConsumerStatus) *Server {
	logger := zap.NewNop()
	checker := &AtomicReady{}
	if ready {
		checker.MarkReady()
	}
	return NewServer(":0", checker, ingest, logger)
}

func TestHealthz_AlwaysOK(t *testing.T) {
	s := newTestServer(false, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	s.handleHealthz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", body["status"])
	}
}

func TestHealthz_ContentType(t *testing.T) {
	s := newTestServer(false, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	s.handleHealthz(w, req)

	ct := w.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}
}

func TestReadyz_NotReady_EventLoopNotStarted(t *testing.T) {
	s := newTestServer(false, nil)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "not_ready" {
		t.Errorf("expected status 'not_ready', got '%v'", body["status"])
	}
	checks := body["checks"].(map[string]any)
	if checks["event_loop"] != "not_ready" {
		t.Errorf("expected event_loop 'not_ready', got '%v'", checks["event_loop"])
	}
}

func TestReadyz_ReadyWithoutIngest(t *testing.T) {
	s := newTestServer(true, nil)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ready" {
		t.Errorf("expected status 'ready', got '%v'", body["status"])
	}
	checks := body["checks"].(map[string]any)
	if _, ok := checks["ingest"]; ok {
		t.Error("expected no ingest check when ingest is nil")
	}
}

func TestReadyz_IngestNotJoined(t *testing.T) {
	s := newTestServer(true, &mockIngest{joined: false})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	checks := body["checks"].(map[string]any)
	if checks["ingest"] != "not_joined" {
		t.Errorf("expected ingest 'not_joined', got '%v'", checks["ingest"])
	}
}

func TestReadyz_AllHealthy(t *testing.T) {
	s := newTestServer(true, &mockIngest{joined: true})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ready" {
		t.Errorf("expected status 'ready', got '%v'", body["status"])
	}
	checks := body["checks"].(map[string]any)
	if checks["event_loop"] != "ok" {
		t.Errorf("expected event_loop 'ok', got '%v'", checks["event_loop"])
	}
	if checks["ingest"] != "ok" {
		t.Errorf("expected ingest 'ok', got '%v'", checks["ingest"])
	}
}

func TestReadyz_ContentType(t *testing.T) {
	s := newTestServer(true, nil)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	ct := w.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}
}
