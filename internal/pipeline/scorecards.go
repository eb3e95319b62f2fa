package pipeline

import (
	"context"
	"errors"
	"fmt"

	"pnl-pipeline/internal/expectancy"
	"pnl-pipeline/internal/interfaces"
	"pnl-pipeline/internal/logger"
	"pnl-pipeline/internal/types"
)

// ScorecardSource reads what the summarizer needs from storage.
type ScorecardSource interface {
	Strategies(ctx context.Context) ([]types.StrategyMeta, error)
	DailyHistory(ctx context.Context, strategyID int) ([]types.DailyPnL, error)
}

// ScorecardRunner recomputes the risk scorecard of every live strategy and
// replaces the expectancy table contents for those strategies.
type ScorecardRunner struct {
	src  ScorecardSource
	sum  interfaces.Summarizer
	sink interfaces.Sink
	hb   interfaces.Heartbeat
}

func NewScorecardRunner(src ScorecardSource, sum interfaces.Summarizer, sink interfaces.Sink, hb interfaces.Heartbeat) *ScorecardRunner {
	return &ScorecardRunner{src: src, sum: sum, sink: sink, hb: hb}
}

// Run summarizes every Active, Live Auto strategy with daily history and
// upserts the batch. Strategies without history are skipped, not failed.
func (s *ScorecardRunner) Run(ctx context.Context) (int, error) {
	s.hb.Beat(ctx, "expectancy", types.HeartbeatRunning, "computing live auto stats")

	strategies, err := s.src.Strategies(ctx)
	if err != nil {
		s.hb.Beat(ctx, "expectancy", types.HeartbeatError, err.Error())
		return 0, fmt.Errorf("load strategies: %w", err)
	}

	var records []types.ExpectancyRecord
	for _, meta := range strategies {
		if meta.Status != "Active" || meta.DeploymentType != "Live Auto" {
			continue
		}
		days, err := s.src.DailyHistory(ctx, meta.ID)
		if err != nil {
			s.hb.Beat(ctx, "expectancy", types.HeartbeatError, err.Error())
			return 0, fmt.Errorf("load history for strategy %d: %w", meta.ID, err)
		}
		rec, err := s.sum.Summarize(ctx, meta, days)
		if err != nil {
			if errors.Is(err, expectancy.ErrNoHistory) {
				logger.Warn(ctx, "No daily history, scorecard skipped",
					"strategy_id", meta.ID, "strategy", meta.Name)
				continue
			}
			s.hb.Beat(ctx, "expectancy", types.HeartbeatError, err.Error())
			return 0, fmt.Errorf("summarize strategy %d: %w", meta.ID, err)
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		logger.Info(ctx, "No live auto scorecards to write")
		s.hb.Beat(ctx, "expectancy", types.HeartbeatSuccess, "no valid live auto payloads")
		return 0, nil
	}

	if err := s.sink.UpsertExpectancy(ctx, records); err != nil {
		s.hb.Beat(ctx, "expectancy", types.HeartbeatError, err.Error())
		return 0, fmt.Errorf("upsert scorecards: %w", err)
	}

	logger.Info(ctx, "Scorecards refreshed", "strategies", len(records))
	s.hb.Beat(ctx, "expectancy", types.HeartbeatSuccess,
		fmt.Sprintf("live auto sync complete: %d rows", len(records)))
	return len(records), nil
}
