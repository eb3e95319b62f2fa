package interfaces

import (
	"context"
	"time"

	"pnl-pipeline/internal/types"
)

// BarProvider answers minute-resolution mark-to-market lookups. The key is
// the exact no-leading-zero rendering produced by marketdata.MinuteKey; it is
// the join key against the cached market bars and must match bit-for-bit.
type BarProvider interface {
	Bar(instrument, minuteKey string) (types.Bar, bool)
}

// Engine replays one strategy's trades for one day against market bars and
// emits a minute PnL series. Implementations must be deterministic: identical
// trades and bar responses produce byte-identical series.
type Engine interface {
	ComputeClose(ctx context.Context, trades []types.Trade, bars BarProvider, tradeDate time.Time) ([]types.PnLPoint, error)
	ComputeBanded(ctx context.Context, trades []types.Trade, bars BarProvider, tradeDate time.Time) ([]types.BandedPnLPoint, error)
}

// Summarizer rolls a strategy's full daily PnL history into its scorecard.
type Summarizer interface {
	Summarize(ctx context.Context, meta types.StrategyMeta, days []types.DailyPnL) (types.ExpectancyRecord, error)
}
