package main

// Periodic consistency sweep:
//   SWEEP_INTERVAL_SECONDS=600 go run ./cmd/worker

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"papers-backend/internal/bootstrap"
	"papers-backend/internal/shared/config"
	"papers-backend/internal/shared/telemetry"
	"papers-backend/internal/sweep"
)

const (
	defaultIntervalSeconds = 900
	defaultRunTimeoutSec   = 300
)

type sweepRunner interface {
	Run(ctx context.Context) (sweep.Report, error)
}

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.BuildWith(ctx, cfg, bootstrap.Options{SkipRouter: true})
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	interval := time.Duration(envInt("SWEEP_INTERVAL_SECONDS", defaultIntervalSeconds)) * time.Second
	timeout := time.Duration(envInt("SWEEP_TIMEOUT_SECONDS", defaultRunTimeoutSec)) * time.Second

	app.Log.Info("sweep worker started", "interval", interval.String(), "timeout", timeout.String())
	runLoop(ctx, app.Sweeper, interval, timeout, app.Log)
	app.Log.Info("sweep worker stopped")
}

// runLoop sweeps once immediately and then on every tick until ctx ends.
// Failed runs are logged and retried on the next tick.
func runLoop(ctx context.Context, runner sweepRunner, interval, timeout time.Duration, logger *telemetry.Logger) int {
	runs := 0
	ticker := time.NewTicker(max(interval, time.Second))
	defer ticker.Stop()

	for {
		runs++
		runOnce(ctx, runner, timeout, logger)

		select {
		case <-ctx.Done():
			return runs
		case <-ticker.C:
		}
	}
}

func runOnce(ctx context.Context, runner sweepRunner, timeout time.Duration, logger *telemetry.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rep, err := runner.Run(runCtx)
	if err != nil {
		logger.Error("sweep failed", "error", err, "schema_failures", rep.SchemaFailures)
		return
	}
	logger.Info("sweep finished",
		"repaired_orphan_blobs", rep.RepairedOrphanBlobs,
		"marked_failed_records", rep.MarkedFailedRecords,
		"backfilled_records", rep.BackfilledRecords,
		"resolved_cascade_annotations", rep.ResolvedCascadeAnnotations,
		"unmatched_annotation_blobs", rep.UnmatchedAnnotationBlobs,
		"duration_ms", rep.Duration.Milliseconds(),
	)
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return def
	}
	return val
}
