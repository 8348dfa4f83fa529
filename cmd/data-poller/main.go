// Package main is the entry point for the standalone forecast poller.
//
// Run as a plain process it loops forever, sleeping between cycles as the
// poller decides. Inside AWS Lambda (AWS_LAMBDA_RUNTIME_API set) every
// invocation runs exactly one cycle and the EventBridge schedule replaces the
// in-process sleep. The API server should then run with POLLER_ENABLED=false.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"weatherbingo/internal/app"
	"weatherbingo/internal/config"
	"weatherbingo/internal/types"
)

// cycleRunner is the slice of scheduler.Poller the Lambda handler needs.
type cycleRunner interface {
	RunCycle(ctx context.Context) time.Duration
}

// stateSource exposes the snapshot published by the last cycle.
type stateSource interface {
	Snapshot() types.PollerState
}

// CycleResult is the Lambda response summarising one cycle.
type CycleResult struct {
	Checkpoints int            `json:"checkpoints"`
	Results     map[string]int `json:"results"`
	NextWakeup  string         `json:"next_wakeup"`
	TotalPolls  uint64         `json:"total_polls"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.Load(provider)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})).With("service", cfg.Service+"-poller")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to wire services", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		logger.Info("data poller initialized (lambda)")
		lambda.Start(newHandler(svc.Poller, svc.State, logger))
		return
	}

	logger.Info("data poller initialized (standalone)")
	if err := svc.Poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("poller exited", "error", err)
		os.Exit(1)
	}
}

// newHandler wraps one poll cycle for the Lambda runtime. A cycle never fails
// as a whole; per-checkpoint errors are reported in the result counts.
func newHandler(poller cycleRunner, state stateSource, logger *slog.Logger) func(ctx context.Context) (CycleResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) (CycleResult, error) {
		if err := ctx.Err(); err != nil {
			return CycleResult{}, fmt.Errorf("invocation cancelled before polling: %w", err)
		}

		wait := poller.RunCycle(ctx)
		snap := state.Snapshot()

		res := CycleResult{
			Checkpoints: len(snap.Checkpoints),
			Results:     make(map[string]int),
			NextWakeup:  wait.String(),
			TotalPolls:  snap.TotalPolls,
		}
		for _, cp := range snap.Checkpoints {
			res.Results[resultLabel(cp.LastPollResult)]++
		}

		logger.InfoContext(ctx, "poll cycle complete",
			"checkpoints", res.Checkpoints,
			"results", res.Results,
			"suggested_wait", wait,
		)
		return res, nil
	}
}

// resultLabel folds every error message into a single "error" bucket.
func resultLabel(result string) string {
	switch {
	case result == "":
		return "pending"
	case strings.HasPrefix(result, types.PollResultErrorPrefix):
		return "error"
	default:
		return result
	}
}
