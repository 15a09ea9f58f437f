package control

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/drift/internal/session"
	"github.com/goodtune/drift/internal/storage"
	"github.com/rs/zerolog"
)

// Server exposes the pause/resume/stop surface and a status endpoint over
// local HTTP. It only reads machine state and flips control flags; all
// session mutations stay on the machine's own thread.
type Server struct {
	machine  *session.Machine
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

type statusResponse struct {
	SessionID   string                     `json:"session_id"`
	Status      string                     `json:"status"`
	PhaseIndex  int                        `json:"phase_index"`
	PhaseCursor string                     `json:"phase_cursor,omitempty"`
	Counters    map[storage.ActionKind]int `json:"counters"`
	AbortReason string                     `json:"abort_reason,omitempty"`
	StartedAt   time.Time                  `json:"started_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`
	Paused      bool                       `json:"paused"`
}

// NewServer creates a control server bound to the given address.
func NewServer(addr string, machine *session.Machine, logger zerolog.Logger) *Server {
	s := &Server{
		machine: machine,
		logger:  logger.With().Str("component", "control").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/pause", s.handlePause)
	mux.HandleFunc("/resume", s.handleResume)
	mux.HandleFunc("/stop", s.handleStop)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the control server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting control server")
	go func() {
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Control server error")
		}
	}()
	return nil
}

// Stop stops the control server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping control server")
	return s.server.Close()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := s.machine.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		SessionID:   state.SessionID,
		Status:      string(state.Status),
		PhaseIndex:  state.CurrentPhaseIndex,
		PhaseCursor: state.PhaseCursor,
		Counters:    state.Counters,
		AbortReason: state.AbortReason,
		StartedAt:   state.StartedAt,
		UpdatedAt:   state.UpdatedAt,
		Paused:      s.machine.Control().Paused(),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.machine.Control().Pause()
	s.logger.Info().Msg("Pause requested")
	writeJSON(w, http.StatusOK, map[string]string{"result": "pausing"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.machine.Control().Resume()
	s.logger.Info().Msg("Resume requested")
	writeJSON(w, http.StatusOK, map[string]string{"result": "resuming"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.machine.Control().Stop()
	s.logger.Info().Msg("Stop requested")
	writeJSON(w, http.StatusOK, map[string]string{"result": "stopping"})
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
