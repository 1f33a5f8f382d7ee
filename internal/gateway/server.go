// Package gateway serves the local admin surface: liveness, scheduler
// status, Prometheus metrics, and a live blotter tail over websocket. It
// is strictly read-only; nothing here can start a job or mutate state.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigil-sh/vigil/internal/blotter"
)

const shutdownGrace = 5 * time.Second

// RunSummary is one recent run in the /status payload.
type RunSummary struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Error     string    `json:"error,omitempty"`
}

// Status is the payload served on /status.
type Status struct {
	StartedAt  time.Time    `json:"started_at"`
	Jobs       int          `json:"jobs"`
	LastTick   time.Time    `json:"last_tick,omitzero"`
	Running    int          `json:"running"`
	RecentRuns []RunSummary `json:"recent_runs,omitempty"`
}

// Config holds server construction parameters.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:8787".
	Addr string

	// StatusFunc supplies the /status payload. Nil serves a zero Status.
	StatusFunc func() Status

	// Blotter backs the /ws/blotter live tail. Nil disables the endpoint.
	Blotter *blotter.Store

	Metrics *Metrics
	Logger  *slog.Logger
}

// Server is the admin HTTP server.
type Server struct {
	addr       string
	statusFunc func() Status
	blotter    *blotter.Store
	metrics    *Metrics
	logger     *slog.Logger
}

// New creates a Server from cfg.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:       cfg.Addr,
		statusFunc: cfg.StatusFunc,
		blotter:    cfg.Blotter,
		metrics:    cfg.Metrics,
		logger:     logger,
	}
}

// Router builds the chi router with all admin routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)

	if reg := s.metrics.Registry(); reg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	if s.blotter != nil {
		r.Get("/ws/blotter", s.handleBlotterTail)
	}
	return r
}

// Serve runs the server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway: admin server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("gateway: admin server stopped")
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var st Status
	if s.statusFunc != nil {
		st = s.statusFunc()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		s.logger.Error("gateway: encoding status", "error", err)
	}
}
