// Package core provides the HTTP chassis for the Weather Bingo API. It owns
// the chi router, the middleware chain, the JSON response envelope and the
// health endpoint; domain handlers register themselves under /api/v1.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"weatherbingo/internal/config"
)

// MetricsCollector records API telemetry. telemetry.Emitter is the
// CloudWatch implementation.
type MetricsCollector interface {
	RecordRequest(method, endpoint string, status int, duration time.Duration)
}

// RouteRegistrar mounts a group of handlers onto the /api/v1 router.
type RouteRegistrar func(r chi.Router)

// Server encapsulates the API dependencies so tests can inject fakes.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	Validator    *Validator
	Metrics      MetricsCollector
	HealthProbes []HealthProbe

	// V1RouteRegistrars are invoked in order by MountRoutes. Populated by
	// the entry point to avoid an import cycle with the handlers package.
	V1RouteRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer prepares a server with an empty router. Call MountRoutes after
// the registrars and probes are set.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the underlying mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ListenAndServe runs an HTTP server on the configured port until ctx is
// cancelled, then drains in-flight requests within the shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.Config.Server.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.Logger.Info("server shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	s.Logger.Info("server shutdown complete")
	return nil
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.Config.Server.ShutdownTimeout > 0 {
		return s.Config.Server.ShutdownTimeout
	}
	return 10 * time.Second
}
