// Package httpapi serves the monitoring endpoints: health, metrics, and the
// latest scan results.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sawpanic/gridrun/internal/metrics"
	"github.com/sawpanic/gridrun/internal/orchestrator"
)

// HealthProbe reports whether an upstream dependency is reachable.
type HealthProbe func(ctx context.Context) error

// Server exposes read-only monitoring endpoints. It never mutates trading
// state.
type Server struct {
	router  *mux.Router
	metrics *metrics.Registry
	probes  map[string]HealthProbe
	log     zerolog.Logger

	mu         sync.RWMutex
	lastResult *orchestrator.ScanResult
}

// NewServer builds the monitoring server. probes maps dependency names to
// health checks; metrics may be nil.
func NewServer(reg *metrics.Registry, probes map[string]HealthProbe, log zerolog.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		metrics: reg,
		probes:  probes,
		log:     log.With().Str("component", "httpapi").Logger(),
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/signals", s.handleSignals).Methods(http.MethodGet)
	s.router.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	if reg != nil {
		s.router.Handle("/metrics", reg.Handler()).Methods(http.MethodGet)
	}

	return s
}

// SetLastResult publishes a completed scan to the API.
func (s *Server) SetLastResult(result *orchestrator.ScanResult) {
	s.mu.Lock()
	s.lastResult = result
	s.mu.Unlock()
}

// Handler returns the router for mounting or testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks serving the API until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("monitoring server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp time.Time         `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "ok",
		Checks:    make(map[string]string, len(s.probes)),
		Timestamp: time.Now().UTC(),
	}
	status := http.StatusOK
	for name, probe := range s.probes {
		if err := probe(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			resp.Checks[name] = "ok"
		}
	}

	s.writeJSON(w, status, resp)
}

func (s *Server) handleSignals(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	result := s.lastResult
	s.mu.RUnlock()

	if result == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no scans yet"})
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	result := s.lastResult
	s.mu.RUnlock()

	if result == nil {
		http.Error(w, "no scans yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(result.Summary() + "\n")); err != nil {
		s.log.Warn().Err(err).Msg("summary write failed")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}
