package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pnl-pipeline/internal/interfaces"
	"pnl-pipeline/internal/logger"
	"pnl-pipeline/internal/types"
)

const syncBatchSize = 500

// Store is the persistence surface the ingest steps use.
type Store interface {
	Strategies(ctx context.Context) ([]types.StrategyMeta, error)
	UpsertAuditRows(ctx context.Context, rows []AuditRow) error
	PendingAuditRows(ctx context.Context) ([]AuditRow, error)
	VerificationIDs(ctx context.Context) (map[int64]bool, error)
	InsertVerificationRows(ctx context.Context, rows []VerificationRow) error
	MarkAuditSynced(ctx context.Context, ids []int64) error
	CachePresence(ctx context.Context, minDate, maxDate string) (CachePresence, error)
}

// Ingestor lands broker trade reports in the audit table and promotes them
// into the verification table with an OHLC availability verdict.
type Ingestor struct {
	store        Store
	hb           interfaces.Heartbeat
	sourceDir    string
	processedDir string
	now          func() time.Time
}

func New(store Store, hb interfaces.Heartbeat, sourceDir, processedDir string) *Ingestor {
	return &Ingestor{
		store:        store,
		hb:           hb,
		sourceDir:    sourceDir,
		processedDir: processedDir,
		now:          time.Now,
	}
}

// IngestFiles parses every trade report in the source directory, upserts the
// rows and moves each handled file to the processed directory. Files whose
// name resolves to no strategy stay behind for a human to look at.
func (ing *Ingestor) IngestFiles(ctx context.Context) error {
	ing.hb.Beat(ctx, "ingest", types.HeartbeatRunning, "scanning source directory")

	entries, err := os.ReadDir(ing.sourceDir)
	if err != nil {
		ing.hb.Beat(ctx, "ingest", types.HeartbeatError, err.Error())
		return fmt.Errorf("scan %s: %w", ing.sourceDir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		logger.Info(ctx, "No trade reports found", "dir", ing.sourceDir)
		ing.hb.Beat(ctx, "ingest", types.HeartbeatSuccess, "idle: no files found")
		return nil
	}

	strategies, err := ing.store.Strategies(ctx)
	if err != nil {
		ing.hb.Beat(ctx, "ingest", types.HeartbeatError, err.Error())
		return fmt.Errorf("load strategies: %w", err)
	}
	byID := make(map[string]int)
	byName := make(map[string]int)
	for _, s := range strategies {
		if s.Status != "Active" {
			continue
		}
		byID[fmt.Sprintf("%08d", s.ID)] = s.ID
		byName[strings.TrimSpace(s.Name)] = s.ID
	}

	for i, name := range files {
		ing.hb.Beat(ctx, "ingest", types.HeartbeatRunning,
			fmt.Sprintf("file %d/%d: %s", i+1, len(files), name))

		sid, ok := ResolveStrategy(name, byID, byName)
		if !ok {
			logger.Warn(ctx, "No strategy for report file, skipped", "file", name)
			continue
		}

		if err := ing.ingestOne(ctx, name, sid); err != nil {
			ing.hb.Beat(ctx, "ingest", types.HeartbeatError, err.Error())
			return err
		}
	}

	ing.hb.Beat(ctx, "ingest", types.HeartbeatSuccess,
		fmt.Sprintf("completed: %d files processed", len(files)))
	return nil
}

func (ing *Ingestor) ingestOne(ctx context.Context, name string, strategyID int) error {
	path := filepath.Join(ing.sourceDir, name)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	strategyName := strings.TrimSuffix(name, filepath.Ext(name))
	rows, err := ReadTrades(ctx, f, strategyID, strategyName)
	f.Close()
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	if len(rows) == 0 {
		logger.Warn(ctx, "Trade report had no usable rows", "file", name)
		return nil
	}

	if err := ing.store.UpsertAuditRows(ctx, rows); err != nil {
		return fmt.Errorf("upsert audit rows from %s: %w", name, err)
	}
	logger.Info(ctx, "Report ingested", "file", name, "rows", len(rows))

	if err := os.MkdirAll(ing.processedDir, 0o755); err != nil {
		return fmt.Errorf("create processed dir: %w", err)
	}
	if err := os.Rename(path, filepath.Join(ing.processedDir, name)); err != nil {
		return fmt.Errorf("move %s to processed: %w", name, err)
	}
	return nil
}

// SyncVerification promotes pending audit rows into the verification table.
// Rows already promoted keep their existing verdict untouched.
func (ing *Ingestor) SyncVerification(ctx context.Context) error {
	ing.hb.Beat(ctx, "verify", types.HeartbeatRunning, "scanning verification records")

	existing, err := ing.store.VerificationIDs(ctx)
	if err != nil {
		ing.hb.Beat(ctx, "verify", types.HeartbeatError, err.Error())
		return fmt.Errorf("load verification ids: %w", err)
	}
	pending, err := ing.store.PendingAuditRows(ctx)
	if err != nil {
		ing.hb.Beat(ctx, "verify", types.HeartbeatError, err.Error())
		return fmt.Errorf("load pending audit rows: %w", err)
	}

	fresh := pending[:0:0]
	for _, row := range pending {
		if !existing[row.ID] {
			fresh = append(fresh, row)
		}
	}
	if len(fresh) == 0 {
		logger.Info(ctx, "No pending trades to promote")
		ing.hb.Beat(ctx, "verify", types.HeartbeatSuccess, "no pending trades found")
		return nil
	}

	minDate, maxDate := fresh[0].TradeDate, fresh[0].TradeDate
	for _, row := range fresh[1:] {
		if row.TradeDate < minDate {
			minDate = row.TradeDate
		}
		if row.TradeDate > maxDate {
			maxDate = row.TradeDate
		}
	}

	ing.hb.Beat(ctx, "verify", types.HeartbeatRunning,
		fmt.Sprintf("mapping %d new trades", len(fresh)))
	cache, err := ing.store.CachePresence(ctx, minDate, maxDate)
	if err != nil {
		ing.hb.Beat(ctx, "verify", types.HeartbeatError, err.Error())
		return fmt.Errorf("load cache presence: %w", err)
	}

	promoted := Triage(ctx, fresh, cache, Cutoff(ing.now()))

	ing.hb.Beat(ctx, "verify", types.HeartbeatRunning,
		fmt.Sprintf("syncing %d rows", len(promoted)))
	for start := 0; start < len(promoted); start += syncBatchSize {
		end := start + syncBatchSize
		if end > len(promoted) {
			end = len(promoted)
		}
		batch := promoted[start:end]
		if err := ing.store.InsertVerificationRows(ctx, batch); err != nil {
			ing.hb.Beat(ctx, "verify", types.HeartbeatError, err.Error())
			return fmt.Errorf("insert verification batch: %w", err)
		}
		ids := make([]int64, len(batch))
		for i, row := range batch {
			ids[i] = row.ID
		}
		if err := ing.store.MarkAuditSynced(ctx, ids); err != nil {
			ing.hb.Beat(ctx, "verify", types.HeartbeatError, err.Error())
			return fmt.Errorf("mark audit synced: %w", err)
		}
	}

	ing.hb.Beat(ctx, "verify", types.HeartbeatSuccess,
		fmt.Sprintf("synced %d trades", len(promoted)))
	return nil
}
