package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pnl-pipeline/internal/logger"
	"pnl-pipeline/internal/marketdata"
	"pnl-pipeline/internal/postgres"
	"pnl-pipeline/internal/store"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Shutdown(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := store.LoadConfig("config.yaml")
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		os.Exit(1)
	}

	st, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to connect to database", err)
		os.Exit(1)
	}
	defer st.Close()

	apiKey, token, err := st.AccessToken(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "No broker session available", err)
		os.Exit(1)
	}

	fetcher := marketdata.NewFetcher(apiKey, token, cfg.Broker.Exchange)
	backfiller := marketdata.NewBackfiller(fetcher, st, st, cfg.Broker.ShelfMinBars)
	if err := backfiller.Run(ctx); err != nil {
		logger.ErrorWithErr(ctx, "OHLC backfill failed", err)
		os.Exit(1)
	}
	logger.Info(ctx, "OHLC backfill finished")
}
