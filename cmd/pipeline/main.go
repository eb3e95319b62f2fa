package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pnl-pipeline/internal/logger"
	"pnl-pipeline/internal/types"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := initializeSystem(); err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Shutdown(context.Background()) }()

	cfg, err := loadConfig(ctx)
	if err != nil {
		os.Exit(1)
	}
	compressOldLogs(ctx, cfg.RunLog.RetentionDays)

	store, err := openStore(ctx, cfg)
	if err != nil {
		os.Exit(1)
	}
	defer store.Close()

	eng := initializeEngine()

	if cfg.Pipeline.RunClose {
		if err := runVariant(ctx, cfg, store, eng, types.VariantClose); err != nil {
			os.Exit(1)
		}
	}
	if cfg.Pipeline.RunBanded {
		if err := runVariant(ctx, cfg, store, eng, types.VariantBanded); err != nil {
			os.Exit(1)
		}
	}
	if cfg.Pipeline.RunRefresh {
		if err := runRefresh(ctx, store); err != nil {
			os.Exit(1)
		}
	}
	if cfg.Pipeline.RunExpectancy {
		if err := runScorecards(ctx, store); err != nil {
			os.Exit(1)
		}
	}

	logger.Info(ctx, "Pipeline run finished")
}
