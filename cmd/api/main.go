// Package main is the entry point for the Weather Bingo API server.
//
// It loads configuration, connects to PostgreSQL, wires the forecast cache,
// resolver and poller, and serves the HTTP API. Unless POLLER_ENABLED=false
// the background poller runs in-process. SIGINT or SIGTERM stops the poller
// and drains the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"weatherbingo/internal/api/handlers"
	"weatherbingo/internal/app"
	"weatherbingo/internal/config"
	"weatherbingo/internal/core"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(secretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("weather bingo API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"poller_enabled", cfg.Poller.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("wiring services: %w", err)
	}
	defer svc.Close()

	srv, err := buildServer(cfg, svc, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	if cfg.Poller.Enabled {
		g.Go(func() error {
			err := svc.Poller.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("weather bingo API stopped cleanly")
	return nil
}

// buildServer mounts the API onto a core.Server. The poller status route is
// always mounted; with the poller disabled it reports the initial state.
func buildServer(cfg *config.Config, svc *app.Services, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	if svc.Metrics != nil {
		srv.Metrics = svc.Metrics
	}
	srv.HealthProbes = []core.HealthProbe{
		core.PingProbe{Component: "database", Target: svc.Store},
	}

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, handlers.Registrar(
		handlers.NewRaceHandler(svc.Store, srv.Validator, logger),
		handlers.NewForecastHandler(svc.Store, svc.Resolver, srv.Validator, logger),
		handlers.NewPollerHandler(svc.State),
	))
	srv.MountRoutes()
	return srv, nil
}

// secretProvider returns the SSM provider outside local mode. Local runs
// read everything from the environment and .env.
func secretProvider() config.SecretProvider {
	if os.Getenv("APP_ENV") == "local" {
		return nil
	}
	return config.NewSSMProvider(os.Getenv("AWS_REGION"))
}

func newLogger(cfg *config.Config) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})
	return slog.New(handler).With("service", cfg.Service)
}
