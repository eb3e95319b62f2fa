package postgres

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/bytedance/sonic"

	"pnl-pipeline/internal/interfaces"
	"pnl-pipeline/internal/logger"
	"pnl-pipeline/internal/marketdata"
	"pnl-pipeline/internal/pipeline"
	"pnl-pipeline/internal/types"
)

// statusColumn maps a series variant to its verification status column.
func statusColumn(variant types.Variant) string {
	if variant == types.VariantBanded {
		return "pnl_status"
	}
	return "pnl_1min_status"
}

// seriesTable maps a series variant to its output table.
func seriesTable(variant types.Variant) string {
	if variant == types.VariantBanded {
		return "intraday_pnl_1min_ohlc"
	}
	return "intraday_pnl_1min_closing"
}

// PendingUnits lists (strategy, date) pairs still pending for the variant,
// restricted to days whose market data triaged as usable.
func (s *Store) PendingUnits(ctx context.Context, variant types.Variant) ([]pipeline.Unit, error) {
	q := fmt.Sprintf(`
		SELECT DISTINCT strategy_id, trade_date::text
		FROM strategy_trades_verification
		WHERE %s = 'pending'
		  AND ohlc_status IN ('verified_ohlc_present', 'partial_ohlc_data')`,
		statusColumn(variant))
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("Store.PendingUnits: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Unit
	for rows.Next() {
		var sid int
		var dateStr string
		if err := rows.Scan(&sid, &dateStr); err != nil {
			return nil, fmt.Errorf("Store.PendingUnits: scan: %w", err)
		}
		date, err := time.ParseInLocation("2006-01-02", dateStr, marketdata.IST)
		if err != nil {
			return nil, fmt.Errorf("Store.PendingUnits: bad trade_date %q: %w", dateStr, err)
		}
		out = append(out, pipeline.Unit{StrategyID: sid, TradeDate: date})
	}
	return out, rows.Err()
}

// SeriesExists reports whether the unit's series row is already persisted.
func (s *Store) SeriesExists(ctx context.Context, variant types.Variant, strategyID int, tradeDate time.Time) (bool, error) {
	q := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s
			WHERE strategy_id = $1 AND trade_date = $2
		)`, seriesTable(variant))
	var exists bool
	err := s.pool.QueryRow(ctx, q, strategyID, tradeDate.Format("2006-01-02")).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("Store.SeriesExists: %w", err)
	}
	return exists, nil
}

// Mark writes a unit's terminal status to its verification rows.
func (s *Store) Mark(ctx context.Context, strategyID int, tradeDate time.Time, variant types.Variant, status types.UnitStatus) error {
	q := fmt.Sprintf(`
		UPDATE strategy_trades_verification
		SET %s = $3
		WHERE strategy_id = $1 AND trade_date = $2`,
		statusColumn(variant))
	_, err := s.pool.Exec(ctx, q, strategyID, tradeDate.Format("2006-01-02"), status.String())
	if err != nil {
		return fmt.Errorf("Store.Mark: %w", err)
	}
	return nil
}

// Trades loads one unit's ledger, oldest execution first. Quantities are
// absolute; direction lives in the transaction type.
func (s *Store) Trades(ctx context.Context, strategyID int, tradeDate time.Time) ([]types.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT broker_symbol, txn_type, quantity, price, txn_time
		FROM strategy_trades_verification
		WHERE strategy_id = $1 AND trade_date = $2`,
		strategyID, tradeDate.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("Store.Trades: %w", err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var symbol, txnType, txnTime string
		var qty, price float64
		if err := rows.Scan(&symbol, &txnType, &qty, &price, &txnTime); err != nil {
			return nil, fmt.Errorf("Store.Trades: scan: %w", err)
		}
		tt, ok := types.ParseTxnType(txnType)
		if !ok {
			logger.Warn(ctx, "Unknown transaction type, trade skipped",
				"strategy_id", strategyID, "txn_type", txnType)
			continue
		}
		ts, err := time.ParseInLocation("2006-01-02 3:04:05 PM", txnTime, marketdata.IST)
		if err != nil {
			return nil, fmt.Errorf("Store.Trades: bad txn_time %q: %w", txnTime, err)
		}
		out = append(out, types.Trade{
			Instrument: symbol,
			Type:       tt,
			Qty:        int(math.Abs(qty)),
			Price:      price,
			Time:       ts,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// DayBars bulk-loads the day's cached bars for the unit's instruments.
func (s *Store) DayBars(ctx context.Context, instruments []string, tradeDate time.Time) (interfaces.BarProvider, error) {
	cache := marketdata.NewDayCache()
	if len(instruments) == 0 {
		return cache, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, ts, open, high, low, close, volume
		FROM market_ohlc_cache
		WHERE symbol = ANY($1) AND ts LIKE $2`,
		instruments, tradeDate.Format("2006-01-02")+" %")
	if err != nil {
		return nil, fmt.Errorf("Store.DayBars: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var symbol, ts string
		var b types.Bar
		if err := rows.Scan(&symbol, &ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("Store.DayBars: scan: %w", err)
		}
		cache.Put(symbol, ts, b)
	}
	return cache, rows.Err()
}

// UpsertClosePnL replaces the unit's close-marked series.
func (s *Store) UpsertClosePnL(ctx context.Context, strategyID int, tradeDate time.Time, points []types.PnLPoint) error {
	data, err := sonic.Marshal(points)
	if err != nil {
		return fmt.Errorf("Store.UpsertClosePnL: marshal: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO intraday_pnl_1min_closing (strategy_id, trade_date, pnl_data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (strategy_id, trade_date)
		DO UPDATE SET pnl_data = EXCLUDED.pnl_data, updated_at = now()`,
		strategyID, tradeDate.Format("2006-01-02"), data)
	if err != nil {
		return fmt.Errorf("Store.UpsertClosePnL: %w", err)
	}
	return nil
}

// UpsertBandedPnL replaces the unit's high/low-banded series.
func (s *Store) UpsertBandedPnL(ctx context.Context, strategyID int, tradeDate time.Time, points []types.BandedPnLPoint) error {
	data, err := sonic.Marshal(points)
	if err != nil {
		return fmt.Errorf("Store.UpsertBandedPnL: marshal: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO intraday_pnl_1min_ohlc (strategy_id, trade_date, pnl_data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (strategy_id, trade_date)
		DO UPDATE SET pnl_data = EXCLUDED.pnl_data, updated_at = now()`,
		strategyID, tradeDate.Format("2006-01-02"), data)
	if err != nil {
		return fmt.Errorf("Store.UpsertBandedPnL: %w", err)
	}
	return nil
}
