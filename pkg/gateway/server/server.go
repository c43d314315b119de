// Package server assembles the gateway's HTTP surface and owns graceful
// shutdown of live calls.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/voxbridge/voxbridge/pkg/core/flow"
	"github.com/voxbridge/voxbridge/pkg/core/session"
	"github.com/voxbridge/voxbridge/pkg/core/txn"
	"github.com/voxbridge/voxbridge/pkg/gateway/audit"
	"github.com/voxbridge/voxbridge/pkg/gateway/config"
	"github.com/voxbridge/voxbridge/pkg/gateway/handlers"
	"github.com/voxbridge/voxbridge/pkg/gateway/lifecycle"
	"github.com/voxbridge/voxbridge/pkg/gateway/live"
	"github.com/voxbridge/voxbridge/pkg/gateway/metrics"
	"github.com/voxbridge/voxbridge/pkg/gateway/mw"
)

// Deps carries the shared services the server routes to.
type Deps struct {
	Flow      flow.Adapter
	Bridge    *txn.Bridge
	Providers session.Providers
	Audit     audit.Sink
	Metrics   *metrics.Metrics
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	deps      Deps
	registry  *session.Registry
	lifecycle *lifecycle.Lifecycle
}

func New(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		deps:      deps,
		registry:  session.NewRegistry(),
		lifecycle: &lifecycle.Lifecycle{},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.lifecycle,
		Registry:  s.registry,
	})
	s.mux.Handle("/v1/history", handlers.HistoryHandler{
		Audit:  s.deps.Audit,
		Limit:  s.cfg.HistoryLimit,
		Logger: s.logger,
	})
	s.mux.Handle("/v1/call", live.NewHandler(live.Deps{
		Config:    s.cfg,
		Logger:    s.logger,
		Metrics:   s.deps.Metrics,
		Audit:     s.deps.Audit,
		Registry:  s.registry,
		Flow:      s.deps.Flow,
		Bridge:    s.deps.Bridge,
		Providers: s.deps.Providers,
	}))
	if s.deps.Metrics != nil {
		s.mux.Handle("/metrics", s.deps.Metrics.Handler())
	}
}

// Registry exposes the live session registry, mainly for tests and for
// operators that want drain visibility.
func (s *Server) Registry() *session.Registry { return s.registry }

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// ListenAndServe runs the server until ctx is canceled, then drains live
// calls within the configured grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	return s.shutdown(httpServer)
}

func (s *Server) shutdown(httpServer *http.Server) error {
	grace := s.cfg.ShutdownGracePeriod
	if grace <= 0 {
		grace = 15 * time.Second
	}

	s.lifecycle.SetDraining(true)
	s.logger.Info("draining", "live_sessions", s.registry.Count(), "grace", grace)

	notified := s.registry.NotifyAll("shutting_down", "service restarting, call will end shortly")
	if notified > 0 {
		s.logger.Info("notified live sessions", "count", notified)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if !s.registry.Wait(drainCtx) {
		canceled := s.registry.CancelAll()
		s.logger.Warn("grace period expired, canceling sessions", "count", canceled)
		s.registry.Wait(context.Background())
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
