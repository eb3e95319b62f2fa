package marketdata

import (
	"context"
	"fmt"
	"time"

	"pnl-pipeline/internal/interfaces"
	"pnl-pipeline/internal/logger"
	"pnl-pipeline/internal/types"
)

// SymbolDay is one (broker symbol, trading day) the bar cache may be missing.
type SymbolDay struct {
	Symbol    string
	TradeDate string
}

// CandleSource is the broker surface the backfiller pulls candles from.
// *Fetcher implements it; tests substitute a fake.
type CandleSource interface {
	ResolveToken(ctx context.Context, symbol string) (int, error)
	DayCandles(ctx context.Context, token int, symbol string, tradeDate time.Time) ([]CachedBar, error)
}

// BackfillStore is the persistence surface of the backfill step.
type BackfillStore interface {
	// PendingSymbolDays lists symbol-days still marked pending_api_search.
	PendingSymbolDays(ctx context.Context) ([]SymbolDay, error)
	// BarCount reports how many bars the cache holds for a symbol-day.
	BarCount(ctx context.Context, symbol, tradeDate string) (int, error)
	UpsertBars(ctx context.Context, bars []CachedBar) error
	// SetVerified flips the symbol-day's verification rows to
	// verified_ohlc_present, leaving the PnL statuses pending.
	SetVerified(ctx context.Context, symbol, tradeDate string) error
	// MarkMissing flips the rows to missing_ohlc_at_vault and both PnL
	// statuses to skipped_no_ohlc; the unit will never be computable.
	MarkMissing(ctx context.Context, symbol, tradeDate string) error
}

// Backfiller fills the bar cache for trades the triage step queued, pulling
// full sessions from the broker only when the shelf is too thin.
type Backfiller struct {
	candles  CandleSource
	store    BackfillStore
	hb       interfaces.Heartbeat
	shelfMin int
}

func NewBackfiller(candles CandleSource, store BackfillStore, hb interfaces.Heartbeat, shelfMin int) *Backfiller {
	if shelfMin <= 0 {
		shelfMin = 300
	}
	return &Backfiller{candles: candles, store: store, hb: hb, shelfMin: shelfMin}
}

// Run resolves every queued symbol-day. A full shelf is verified without
// touching the broker; a fetch that yields nothing is terminal. Broker errors
// leave the day queued for the next run.
func (b *Backfiller) Run(ctx context.Context) error {
	b.hb.Beat(ctx, "fetchohlc", types.HeartbeatRunning, "scanning api search queue")

	pending, err := b.store.PendingSymbolDays(ctx)
	if err != nil {
		b.hb.Beat(ctx, "fetchohlc", types.HeartbeatError, err.Error())
		return fmt.Errorf("load pending symbol days: %w", err)
	}
	queue := dedupeSymbolDays(pending)
	if len(queue) == 0 {
		logger.Info(ctx, "Bar cache already complete")
		b.hb.Beat(ctx, "fetchohlc", types.HeartbeatSuccess, "no symbols to backfill")
		return nil
	}

	var fetched, shelved, missing, failed int
	for i, sd := range queue {
		b.hb.Beat(ctx, "fetchohlc", types.HeartbeatRunning,
			fmt.Sprintf("[%d/%d] %s %s", i+1, len(queue), sd.Symbol, sd.TradeDate))

		count, err := b.store.BarCount(ctx, sd.Symbol, sd.TradeDate)
		if err != nil {
			b.hb.Beat(ctx, "fetchohlc", types.HeartbeatError, err.Error())
			return fmt.Errorf("bar count %s %s: %w", sd.Symbol, sd.TradeDate, err)
		}
		if count >= b.shelfMin {
			if err := b.store.SetVerified(ctx, sd.Symbol, sd.TradeDate); err != nil {
				return fmt.Errorf("verify %s %s: %w", sd.Symbol, sd.TradeDate, err)
			}
			shelved++
			continue
		}

		token, err := b.candles.ResolveToken(ctx, sd.Symbol)
		if err != nil {
			logger.Warn(ctx, "Symbol unknown to broker",
				"symbol", sd.Symbol, "trade_date", sd.TradeDate, "error", err)
			if err := b.store.MarkMissing(ctx, sd.Symbol, sd.TradeDate); err != nil {
				return fmt.Errorf("mark missing %s %s: %w", sd.Symbol, sd.TradeDate, err)
			}
			missing++
			continue
		}

		date, err := time.ParseInLocation("2006-01-02", sd.TradeDate, IST)
		if err != nil {
			logger.Warn(ctx, "Bad trade date in queue", "trade_date", sd.TradeDate)
			failed++
			continue
		}

		bars, err := b.candles.DayCandles(ctx, token, sd.Symbol, date)
		if err != nil {
			logger.ErrorWithErr(ctx, "Candle fetch failed, day left queued", err,
				"symbol", sd.Symbol, "trade_date", sd.TradeDate)
			failed++
			continue
		}
		if len(bars) == 0 {
			if err := b.store.MarkMissing(ctx, sd.Symbol, sd.TradeDate); err != nil {
				return fmt.Errorf("mark missing %s %s: %w", sd.Symbol, sd.TradeDate, err)
			}
			missing++
			continue
		}

		if err := b.store.UpsertBars(ctx, bars); err != nil {
			b.hb.Beat(ctx, "fetchohlc", types.HeartbeatError, err.Error())
			return fmt.Errorf("upsert bars %s %s: %w", sd.Symbol, sd.TradeDate, err)
		}
		if err := b.store.SetVerified(ctx, sd.Symbol, sd.TradeDate); err != nil {
			return fmt.Errorf("verify %s %s: %w", sd.Symbol, sd.TradeDate, err)
		}
		fetched++
	}

	logger.Info(ctx, "Backfill finished",
		"fetched", fetched, "shelved", shelved, "missing", missing, "failed", failed)
	b.hb.Beat(ctx, "fetchohlc", types.HeartbeatSuccess,
		fmt.Sprintf("backfill: %d fetched, %d shelved, %d missing", fetched, shelved, missing))
	return nil
}

func dedupeSymbolDays(in []SymbolDay) []SymbolDay {
	seen := make(map[SymbolDay]bool, len(in))
	out := in[:0:0]
	for _, sd := range in {
		if seen[sd] {
			continue
		}
		seen[sd] = true
		out = append(out, sd)
	}
	return out
}
