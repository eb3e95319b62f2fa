package main

import (
	"context"
	"fmt"

	"pnl-pipeline/internal/engine"
	"pnl-pipeline/internal/engine/engineobs"
	"pnl-pipeline/internal/expectancy"
	"pnl-pipeline/internal/interfaces"
	"pnl-pipeline/internal/logger"
	"pnl-pipeline/internal/pipeline"
	"pnl-pipeline/internal/postgres"
	"pnl-pipeline/internal/refresh"
	"pnl-pipeline/internal/runlog"
	"pnl-pipeline/internal/store"
	"pnl-pipeline/internal/types"

	"github.com/joho/godotenv"
)

// initializeSystem loads the environment and brings up the logger.
func initializeSystem() error {
	_ = godotenv.Load()
	return logger.Init()
}

// loadConfig loads and returns the configuration.
func loadConfig(ctx context.Context) (*store.Config, error) {
	cfg, err := store.LoadConfig("config.yaml")
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		return nil, err
	}
	runlog.SetDir(cfg.RunLog.Dir)
	return cfg, nil
}

// compressOldLogs gzips run log files older than the retention window.
func compressOldLogs(ctx context.Context, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	if err := runlog.CompressOlder(retentionDays); err != nil {
		logger.Warn(ctx, "Failed to compress old run logs", "error", err)
	}
}

// openStore connects the storage layer.
func openStore(ctx context.Context, cfg *store.Config) (*postgres.Store, error) {
	st, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to connect to database", err)
		return nil, err
	}
	return st, nil
}

// initializeEngine builds the replay engine wrapped with observability
// middleware.
func initializeEngine() interfaces.Engine {
	return engineobs.Wrap(engine.New())
}

// runVariant drains one variant's pending queue through the worker pool. The
// returned error covers collaborator failures only, both batch-level and
// per-unit; skipped units are terminal outcomes, not failures.
func runVariant(ctx context.Context, cfg *store.Config, st *postgres.Store, eng interfaces.Engine, variant types.Variant) error {
	runner := pipeline.NewRunner(eng, st, st, st, st, st, st, cfg.Pipeline.Workers)
	results, err := runner.Run(ctx, variant)
	if err != nil {
		logger.ErrorWithErr(ctx, "Variant run failed", err, "variant", variant.String())
		return err
	}
	if failed := pipeline.Failed(results); failed > 0 {
		err := fmt.Errorf("%d of %d units failed", failed, len(results))
		logger.ErrorWithErr(ctx, "Variant run had failing units", err, "variant", variant.String())
		return err
	}
	logger.Info(ctx, "Variant run done", "variant", variant.String(), "units", len(results))
	return nil
}

// runRefresh folds finished intraday series into the daily ledger.
func runRefresh(ctx context.Context, st *postgres.Store) error {
	added, err := refresh.New(st, st).Run(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Daily refresh failed", err)
		return err
	}
	logger.Info(ctx, "Daily refresh done", "new_days", added)
	return nil
}

// runScorecards recomputes the expectancy scorecards of live strategies.
func runScorecards(ctx context.Context, st *postgres.Store) error {
	n, err := pipeline.NewScorecardRunner(st, expectancy.New(), st, st).Run(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Scorecard run failed", err)
		return err
	}
	logger.Info(ctx, "Scorecard run done", "strategies", n)
	return nil
}
