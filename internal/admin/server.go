package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// StatusSnapshot mirrors master.StatusSnapshot so this package does not
// need to import internal/master directly.
type StatusSnapshot struct {
	WorkerCount       int   `json:"worker_count"`
	ActiveReaders     int   `json:"active_readers"`
	LastAssignedBlock int64 `json:"last_assigned_block"`
	AllowShutdown     bool  `json:"allow_shutdown"`
}

// ControlSurface is the interface the admin server uses to drive the
// Lifecycle Controller. In production this is satisfied by
// *master.Controller; tests can provide a simple fake.
type ControlSurface interface {
	TriggerStart()
	Stop(ctx context.Context) error
	StatusSnapshot() (StatusSnapshot, bool)
}

// Server provides an HTTP-based control and status API for the master.
type Server struct {
	control ControlSurface
	logger  *slog.Logger
}

// NewServer creates a new admin API server.
func NewServer(control ControlSurface, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		control: control,
		logger:  logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerOption configures optional dependencies for the admin server.
type ServerOption func(*Server)

// Handler returns the HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/control/start", methodGuard(http.MethodPost, s.handleControlStart))
	mux.HandleFunc("/control/stop", methodGuard(http.MethodPost, s.handleControlStop))
	mux.HandleFunc("/status", methodGuard(http.MethodGet, s.handleStatus))
	mux.HandleFunc("/healthz", methodGuard(http.MethodGet, s.handleHealthz))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// methodGuard restricts a handler to a single HTTP method, mirroring the
// routing behavior of Go 1.22+ ServeMux method-prefixed patterns.
func methodGuard(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleControlStart releases the preview-mode start gate. Safe to call
// more than once, and safe to call when the controller was never started
// in preview mode.
func (s *Server) handleControlStart(w http.ResponseWriter, r *http.Request) {
	s.control.TriggerStart()
	s.logger.Info("start trigger received via admin API")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleControlStop drains the fleet gracefully, blocking until the
// Progress Monitor allows shutdown or the request context is cancelled.
func (s *Server) handleControlStop(w http.ResponseWriter, r *http.Request) {
	if err := s.control.Stop(r.Context()); err != nil {
		s.logger.Error("stop handler failed", "err", err)
		http.Error(w, `{"error":"stop did not complete"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.control.StatusSnapshot()
	if !ok {
		http.Error(w, `{"error":"engine not started yet"}`, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
