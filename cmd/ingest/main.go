package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pnl-pipeline/internal/ingest"
	"pnl-pipeline/internal/logger"
	"pnl-pipeline/internal/postgres"
	"pnl-pipeline/internal/runlog"
	"pnl-pipeline/internal/scrape"
	"pnl-pipeline/internal/store"

	"github.com/joho/godotenv"
)

const scrapeTimeout = 30 * time.Second

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
	runlog.SetDir(cfg.RunLog.Dir)

	st, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to connect to database", err)
		os.Exit(1)
	}
	defer st.Close()

	downloadReports(ctx, cfg, st)

	ing := ingest.New(st, st, cfg.Ingest.SourceDir, cfg.Ingest.ProcessedDir)
	if err := ing.IngestFiles(ctx); err != nil {
		logger.ErrorWithErr(ctx, "File ingest failed", err)
		os.Exit(1)
	}
	if err := ing.SyncVerification(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Verification sync failed", err)
		os.Exit(1)
	}
	logger.Info(ctx, "Ingest run finished")
}

// downloadReports pulls fresh trade reports off the dashboard into the
// ingest source directory. Missing dashboard credentials skip the step; the
// directory may already hold manually dropped files.
func downloadReports(ctx context.Context, cfg *store.Config, st *postgres.Store) {
	email := os.Getenv("DASHBOARD_EMAIL")
	password := os.Getenv("DASHBOARD_PASSWORD")
	if cfg.Scrape.BaseURL == "" || email == "" || password == "" {
		logger.Info(ctx, "Dashboard download skipped, not configured")
		return
	}

	strategies, err := st.Strategies(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load strategies for download", err)
		return
	}
	var targets []scrape.Target
	for _, meta := range strategies {
		if meta.Status != "Active" {
			continue
		}
		targets = append(targets, scrape.Target{
			StrategyName: meta.Name,
			UserID:       email,
			Password:     password,
		})
	}

	dir := cfg.Scrape.DownloadDir
	if dir == "" {
		dir = cfg.Ingest.SourceDir
	}
	d := scrape.NewDownloader(cfg.Scrape.BaseURL, dir, scrapeTimeout)
	if _, err := d.FetchReports(ctx, targets); err != nil {
		logger.ErrorWithErr(ctx, "Dashboard download failed", err)
	}
}
