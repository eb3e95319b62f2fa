package engine

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"pnl-pipeline/internal/interfaces"
	"pnl-pipeline/internal/logger"
	"pnl-pipeline/internal/marketdata"
	"pnl-pipeline/internal/types"
)

var (
	// ErrNoTrades is returned for an empty ledger; the caller skips the
	// unit and must not mark it completed.
	ErrNoTrades = errors.New("no trades in ledger")
	// ErrAfterSessionClose is returned when the earliest trade's minute is
	// already past the session close; such input is malformed and is never
	// silently processed.
	ErrAfterSessionClose = errors.New("earliest trade after session close")
)

// Engine replays one (strategy, date) ledger minute-by-minute against cached
// market bars. It holds no cross-run state; a zero value is ready to use.
type Engine struct{}

var _ interfaces.Engine = (*Engine)(nil)

func New() *Engine { return &Engine{} }

// ComputeClose emits the close-marked PnL series: one point per simulated
// minute with pnl = round2(realized + close-marked unrealized).
func (e *Engine) ComputeClose(ctx context.Context, trades []types.Trade, bars interfaces.BarProvider, tradeDate time.Time) ([]types.PnLPoint, error) {
	var points []types.PnLPoint
	err := replay(ctx, trades, tradeDate, func(b *book, cursor time.Time, minuteKey string) {
		unrealized := b.markClose(bars, minuteKey)
		points = append(points, types.PnLPoint{
			Time: marketdata.MinuteLabel(cursor),
			PnL:  round2(b.realized + unrealized),
		})
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}

// ComputeBanded emits the high-fidelity series: per minute, PnL marked at the
// bar's close plus a best/worst band from its high and low.
func (e *Engine) ComputeBanded(ctx context.Context, trades []types.Trade, bars interfaces.BarProvider, tradeDate time.Time) ([]types.BandedPnLPoint, error) {
	var points []types.BandedPnLPoint
	err := replay(ctx, trades, tradeDate, func(b *book, cursor time.Time, minuteKey string) {
		c, h, l := b.markBanded(bars, minuteKey)
		points = append(points, types.BandedPnLPoint{
			Time:  marketdata.MinuteLabel(cursor),
			Close: format2(b.realized + c),
			High:  format2(b.realized + h),
			Low:   format2(b.realized + l),
		})
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}

// replay walks the session in 1-minute buckets: apply the bucket's trades in
// ledger order, then hand the book to emit for mark-to-market. It stops once
// the book is flat and the cursor has passed the last trade, otherwise runs
// through the session close inclusive.
func replay(ctx context.Context, trades []types.Trade, tradeDate time.Time, emit func(b *book, cursor time.Time, minuteKey string)) error {
	if len(trades) == 0 {
		return ErrNoTrades
	}

	earliest, latest := trades[0].Time, trades[0].Time
	for _, t := range trades[1:] {
		if t.Time.Before(earliest) {
			earliest = t.Time
		}
		if t.Time.After(latest) {
			latest = t.Time
		}
	}

	cursor := marketdata.TruncateMinute(earliest)
	sessionClose := marketdata.SessionClose(tradeDate)
	if cursor.After(sessionClose) {
		return ErrAfterSessionClose
	}

	logger.Debug(ctx, "Replay started",
		"trades", len(trades),
		"from", marketdata.MinuteKey(cursor),
	)

	b := newBook()
	idx := 0
	for !cursor.After(sessionClose) {
		next := cursor.Add(time.Minute)
		for idx < len(trades) && trades[idx].Time.Before(next) {
			b.apply(trades[idx])
			idx++
		}

		emit(b, cursor, marketdata.MinuteKey(cursor))

		if !b.hasOpen() && cursor.After(latest) {
			break
		}
		cursor = next
	}
	return nil
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func format2(x float64) string {
	return strconv.FormatFloat(round2(x), 'f', 2, 64)
}
