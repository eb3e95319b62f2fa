package postgres

import (
	"context"
	"fmt"

	"pnl-pipeline/internal/ingest"
	"pnl-pipeline/internal/marketdata"
	"pnl-pipeline/internal/types"
)

// UpsertAuditRows lands parsed report rows, ignoring exact duplicate
// executions already present.
func (s *Store) UpsertAuditRows(ctx context.Context, rows []ingest.AuditRow) error {
	for _, r := range rows {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO strategy_trades_audit (
				strategy_id, strategy_name, trade_date, instrument, txn_time,
				txn_type, quantity, price, run_counter, status
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (strategy_id, trade_date, instrument, txn_time,
			             txn_type, quantity, price)
			DO NOTHING`,
			r.StrategyID, r.StrategyName, r.TradeDate, r.Instrument, r.TxnTime,
			r.TxnType, r.Quantity, r.Price, r.RunCounter, r.Status)
		if err != nil {
			return fmt.Errorf("Store.UpsertAuditRows: %w", err)
		}
	}
	return nil
}

// PendingAuditRows returns audit rows not yet promoted to verification.
func (s *Store) PendingAuditRows(ctx context.Context) ([]ingest.AuditRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, strategy_id, strategy_name, trade_date::text, instrument,
		       txn_time, txn_type, quantity, price, run_counter, status, created_at
		FROM strategy_trades_audit
		WHERE status = 'pending_ohlc'`)
	if err != nil {
		return nil, fmt.Errorf("Store.PendingAuditRows: %w", err)
	}
	defer rows.Close()

	var out []ingest.AuditRow
	for rows.Next() {
		var r ingest.AuditRow
		if err := rows.Scan(&r.ID, &r.StrategyID, &r.StrategyName, &r.TradeDate,
			&r.Instrument, &r.TxnTime, &r.TxnType, &r.Quantity, &r.Price,
			&r.RunCounter, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("Store.PendingAuditRows: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// VerificationIDs returns the set of audit ids already promoted.
func (s *Store) VerificationIDs(ctx context.Context) (map[int64]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM strategy_trades_verification`)
	if err != nil {
		return nil, fmt.Errorf("Store.VerificationIDs: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("Store.VerificationIDs: scan: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// InsertVerificationRows promotes triaged rows into the verification table.
func (s *Store) InsertVerificationRows(ctx context.Context, rows []ingest.VerificationRow) error {
	for _, r := range rows {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO strategy_trades_verification (
				id, strategy_id, strategy_name, trade_date, instrument, txn_time,
				txn_type, quantity, price, run_counter, created_at,
				broker_symbol, ohlc_status, pnl_status, pnl_1min_status
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			r.ID, r.StrategyID, r.StrategyName, r.TradeDate, r.Instrument,
			r.TxnTime, r.TxnType, r.Quantity, r.Price, r.RunCounter, r.CreatedAt,
			r.BrokerSymbol, r.OHLCStatus.String(), r.PnLStatus.String(),
			r.PnL1MinStatus.String())
		if err != nil {
			return fmt.Errorf("Store.InsertVerificationRows: %w", err)
		}
	}
	return nil
}

// MarkAuditSynced flips promoted audit rows out of the pending queue.
func (s *Store) MarkAuditSynced(ctx context.Context, ids []int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE strategy_trades_audit
		SET status = 'synced_to_verification'
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("Store.MarkAuditSynced: %w", err)
	}
	return nil
}

type cachePresence map[string]bool

func (c cachePresence) HasBars(symbol, tradeDate string) bool {
	return c[symbol+"_"+tradeDate]
}

// CachePresence loads the set of (symbol, day) pairs with cached bars inside
// the date window.
func (s *Store) CachePresence(ctx context.Context, minDate, maxDate string) (ingest.CachePresence, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT symbol, left(ts, 10)
		FROM market_ohlc_cache
		WHERE ts >= $1 AND ts <= $2`,
		minDate+" 00:00:00", maxDate+" 11:59:59 PM")
	if err != nil {
		return nil, fmt.Errorf("Store.CachePresence: %w", err)
	}
	defer rows.Close()

	out := make(cachePresence)
	for rows.Next() {
		var symbol, day string
		if err := rows.Scan(&symbol, &day); err != nil {
			return nil, fmt.Errorf("Store.CachePresence: scan: %w", err)
		}
		out[symbol+"_"+day] = true
	}
	return out, rows.Err()
}

// PendingSymbolDays lists symbol-days the triage step queued for the broker.
func (s *Store) PendingSymbolDays(ctx context.Context) ([]marketdata.SymbolDay, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT broker_symbol, trade_date::text
		FROM strategy_trades_verification
		WHERE ohlc_status = 'pending_api_search' AND broker_symbol <> ''`)
	if err != nil {
		return nil, fmt.Errorf("Store.PendingSymbolDays: %w", err)
	}
	defer rows.Close()

	var out []marketdata.SymbolDay
	for rows.Next() {
		var sd marketdata.SymbolDay
		if err := rows.Scan(&sd.Symbol, &sd.TradeDate); err != nil {
			return nil, fmt.Errorf("Store.PendingSymbolDays: scan: %w", err)
		}
		out = append(out, sd)
	}
	return out, rows.Err()
}

// BarCount reports how many bars the cache holds for a symbol-day.
func (s *Store) BarCount(ctx context.Context, symbol, tradeDate string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM market_ohlc_cache
		WHERE symbol = $1 AND ts LIKE $2`,
		symbol, tradeDate+" %").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("Store.BarCount: %w", err)
	}
	return n, nil
}

// UpsertBars lands fetched candles in the bar cache.
func (s *Store) UpsertBars(ctx context.Context, bars []marketdata.CachedBar) error {
	for _, b := range bars {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO market_ohlc_cache (token, symbol, ts, open, high, low, close, volume)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (symbol, ts) DO UPDATE SET
				open = EXCLUDED.open,
				high = EXCLUDED.high,
				low = EXCLUDED.low,
				close = EXCLUDED.close,
				volume = EXCLUDED.volume`,
			b.Token, b.Symbol, b.TS, b.Bar.Open, b.Bar.High, b.Bar.Low,
			b.Bar.Close, b.Bar.Volume)
		if err != nil {
			return fmt.Errorf("Store.UpsertBars: %w", err)
		}
	}
	return nil
}

// SetVerified flips a symbol-day's verification rows to verified; the unit
// becomes computable on the next pipeline run.
func (s *Store) SetVerified(ctx context.Context, symbol, tradeDate string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE strategy_trades_verification
		SET ohlc_status = $3
		WHERE broker_symbol = $1 AND trade_date = $2`,
		symbol, tradeDate, types.OHLCVerifiedPresent.String())
	if err != nil {
		return fmt.Errorf("Store.SetVerified: %w", err)
	}
	return nil
}

// MarkMissing is terminal: the broker has no bars for the day, so both PnL
// variants are skipped for these rows.
func (s *Store) MarkMissing(ctx context.Context, symbol, tradeDate string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE strategy_trades_verification
		SET ohlc_status = $3,
		    pnl_status = $4,
		    pnl_1min_status = $4
		WHERE broker_symbol = $1 AND trade_date = $2`,
		symbol, tradeDate,
		types.OHLCMissingAtVault.String(), types.StatusSkippedNoOHLC.String())
	if err != nil {
		return fmt.Errorf("Store.MarkMissing: %w", err)
	}
	return nil
}
