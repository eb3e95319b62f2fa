package engineobs

import (
	"context"
	"time"

	"pnl-pipeline/internal/interfaces"
	"pnl-pipeline/internal/logger"
	"pnl-pipeline/internal/types"
)

type observableEngine struct {
	engine interfaces.Engine
}

var _ interfaces.Engine = (*observableEngine)(nil)

func Wrap(eng interfaces.Engine) interfaces.Engine {
	return &observableEngine{
		engine: eng,
	}
}

func (oe *observableEngine) ComputeClose(ctx context.Context, trades []types.Trade, bars interfaces.BarProvider, tradeDate time.Time) ([]types.PnLPoint, error) {
	ctx, span := logger.StartSpan(ctx, "engine.ComputeClose")
	defer span.End()

	start := time.Now()

	points, err := oe.engine.ComputeClose(ctx, trades, bars, tradeDate)
	if err != nil {
		logger.ErrorWithErr(ctx, "Close replay failed", err,
			"trade_date", tradeDate.Format("2006-01-02"),
			"trades", len(trades),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	logger.Info(ctx, "Close replay completed",
		"trade_date", tradeDate.Format("2006-01-02"),
		"trades", len(trades),
		"points", len(points),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return points, nil
}

func (oe *observableEngine) ComputeBanded(ctx context.Context, trades []types.Trade, bars interfaces.BarProvider, tradeDate time.Time) ([]types.BandedPnLPoint, error) {
	ctx, span := logger.StartSpan(ctx, "engine.ComputeBanded")
	defer span.End()

	start := time.Now()

	points, err := oe.engine.ComputeBanded(ctx, trades, bars, tradeDate)
	if err != nil {
		logger.ErrorWithErr(ctx, "Banded replay failed", err,
			"trade_date", tradeDate.Format("2006-01-02"),
			"trades", len(trades),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	logger.Info(ctx, "Banded replay completed",
		"trade_date", tradeDate.Format("2006-01-02"),
		"trades", len(trades),
		"points", len(points),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return points, nil
}
