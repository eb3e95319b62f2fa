package interfaces

import (
	"context"
	"time"

	"pnl-pipeline/internal/types"
)

// TradeSource hands the engine one day's ledger for one strategy. Trades must
// arrive time-ordered and already attributed to resolved broker symbols, or
// the engine's per-minute bucketing is invalid.
type TradeSource interface {
	Trades(ctx context.Context, strategyID int, tradeDate time.Time) ([]types.Trade, error)
}

// BarLoader bulk-loads a day's cached bars for a set of instruments and
// returns a provider over them.
type BarLoader interface {
	DayBars(ctx context.Context, instruments []string, tradeDate time.Time) (BarProvider, error)
}

// Sink persists computed outputs. All operations are idempotent
// replace-by-key upserts.
type Sink interface {
	UpsertClosePnL(ctx context.Context, strategyID int, tradeDate time.Time, points []types.PnLPoint) error
	UpsertBandedPnL(ctx context.Context, strategyID int, tradeDate time.Time, points []types.BandedPnLPoint) error
	UpsertExpectancy(ctx context.Context, records []types.ExpectancyRecord) error
}

// StatusChannel records each unit's terminal state so the next run can
// sequence what still needs computing. The pipeline only produces the status
// value; the channel owns the write.
type StatusChannel interface {
	Mark(ctx context.Context, strategyID int, tradeDate time.Time, variant types.Variant, status types.UnitStatus) error
}

// Heartbeat is the progress channel the dashboard polls. Failures to beat
// are logged and swallowed; they never fail a run.
type Heartbeat interface {
	Beat(ctx context.Context, step string, state types.HeartbeatState, msg string)
}
