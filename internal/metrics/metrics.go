package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Action metrics
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drift_actions_total",
			Help: "Total actions attempted, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	SkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drift_skips_total",
			Help: "Units or actions skipped, by reason",
		},
		[]string{"kind", "reason"},
	)

	// Rate limit metrics
	RateLimitSignalsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drift_rate_limit_signals_total",
			Help: "Throttle signals reported by the action executor",
		},
	)

	// Phase metrics
	PhasesCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drift_phases_completed_total",
			Help: "Phases run to completion, by phase name",
		},
		[]string{"phase"},
	)

	PacingDelaySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drift_pacing_delay_seconds",
			Help:    "Pacing delays taken between units and phases",
			Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120, 300},
		},
		[]string{"category"},
	)

	// Session metrics
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drift_sessions_total",
			Help: "Sessions finished, by final status",
		},
		[]string{"status"},
	)

	CheckpointsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drift_checkpoints_total",
			Help: "State checkpoints written to storage",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ActionsTotal,
		SkipsTotal,
		RateLimitSignalsTotal,
		PhasesCompletedTotal,
		PacingDelaySeconds,
		SessionsTotal,
		CheckpointsTotal,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
