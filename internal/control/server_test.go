package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/drift/internal/session"
	"github.com/goodtune/drift/internal/storage"
	"github.com/goodtune/drift/internal/storage/bolt"
	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := bolt.Open(filepath.Join(t.TempDir(), "drift.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := session.Config{
		SessionID:   "test-session",
		Account:     "testuser",
		StaleTTL:    time.Hour,
		Phases:      []session.Phase{{Name: "feed", MaxUnits: 5}},
		Weights:     map[storage.ActionKind]float64{"like": 1.0},
		SessionCaps: map[storage.ActionKind]int{"like": 3},
		DailyCaps:   map[storage.ActionKind]int{"like": 10},
		DedupCap:    10,
		HistoryCap:  5,
	}
	machine, err := session.New(cfg, store, session.Options{
		Executor: session.NoopExecutor{},
		Source:   session.NewStaticSource(nil),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create machine: %v", err)
	}

	return NewServer("127.0.0.1:0", machine, zerolog.Nop())
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Paused {
		t.Error("Expected un-paused machine")
	}
}

func TestStatusRejectsPost(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestPauseResumeStopFlipControlFlags(t *testing.T) {
	s := newTestServer(t)

	post := func(handler http.HandlerFunc, path string) {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		handler(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("POST %s: expected 200, got %d", path, rec.Code)
		}
	}

	post(s.handlePause, "/pause")
	if !s.machine.Control().Paused() {
		t.Error("Expected pause flag set")
	}

	post(s.handleResume, "/resume")
	if s.machine.Control().Paused() {
		t.Error("Expected pause flag cleared")
	}

	post(s.handleStop, "/stop")
	if !s.machine.Control().Stopped() {
		t.Error("Expected stop flag set")
	}
}

func TestMutationsRejectGet(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/pause", nil)
	rec := httptest.NewRecorder()
	s.handlePause(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
	if s.machine.Control().Paused() {
		t.Error("Expected no state change on rejected method")
	}
}
