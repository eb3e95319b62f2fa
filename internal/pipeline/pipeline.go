package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"pnl-pipeline/internal/engine"
	"pnl-pipeline/internal/interfaces"
	"pnl-pipeline/internal/logger"
	"pnl-pipeline/internal/runlog"
	"pnl-pipeline/internal/types"
)

// Unit is one (strategy, trading day) PnL computation.
type Unit struct {
	StrategyID int
	TradeDate  time.Time
}

// UnitSource sequences the work queue from the verification table.
type UnitSource interface {
	// PendingUnits lists units still pending for the variant, restricted to
	// days whose market data is verified or at least partially present.
	PendingUnits(ctx context.Context, variant types.Variant) ([]Unit, error)
	// SeriesExists reports whether the unit's series was already persisted
	// by an earlier run.
	SeriesExists(ctx context.Context, variant types.Variant, strategyID int, tradeDate time.Time) (bool, error)
}

// Result is one unit's outcome within a run.
type Result struct {
	Unit
	Status   types.UnitStatus
	Points   int
	FinalPnL float64
	Err      error
}

// Runner drives one variant's queue through the engine with a bounded worker
// pool. Units are independent; their relative completion order does not
// matter because every write is an idempotent keyed upsert.
type Runner struct {
	engine  interfaces.Engine
	trades  interfaces.TradeSource
	bars    interfaces.BarLoader
	sink    interfaces.Sink
	status  interfaces.StatusChannel
	hb      interfaces.Heartbeat
	units   UnitSource
	workers int
}

func NewRunner(
	eng interfaces.Engine,
	trades interfaces.TradeSource,
	bars interfaces.BarLoader,
	sink interfaces.Sink,
	status interfaces.StatusChannel,
	hb interfaces.Heartbeat,
	units UnitSource,
	workers int,
) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		engine:  eng,
		trades:  trades,
		bars:    bars,
		sink:    sink,
		status:  status,
		hb:      hb,
		units:   units,
		workers: workers,
	}
}

// Run processes every pending unit for the variant and returns per-unit
// results in queue order. Unit failures are recorded, not fatal; only a
// failure to sequence the queue aborts the run.
func (r *Runner) Run(ctx context.Context, variant types.Variant) ([]Result, error) {
	step := "pnl_" + variant.String()
	start := time.Now()
	r.hb.Beat(ctx, step, types.HeartbeatRunning, "analyzing queue")

	pending, err := r.units.PendingUnits(ctx, variant)
	if err != nil {
		r.hb.Beat(ctx, step, types.HeartbeatError, err.Error())
		return nil, fmt.Errorf("load pending units: %w", err)
	}

	queue := dedupe(pending)
	if len(queue) == 0 {
		logger.Info(ctx, "No pending units", "variant", variant.String())
		r.hb.Beat(ctx, step, types.HeartbeatSuccess, "no pending tasks")
		return nil, nil
	}

	logger.Info(ctx, "Queue sequenced",
		"variant", variant.String(), "units", len(queue), "workers", r.workers)

	results := make([]Result, len(queue))
	jobs := make(chan int)
	var wg sync.WaitGroup
	var done sync.Mutex
	processed := 0

	for w := 0; w < r.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = r.processUnit(ctx, variant, queue[i])

				done.Lock()
				processed++
				n := processed
				done.Unlock()
				r.hb.Beat(ctx, step, types.HeartbeatRunning,
					fmt.Sprintf("[%d/%d] processing strategy %d", n, len(queue), queue[i].StrategyID))
			}
		}()
	}
	for i := range queue {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
		date := res.TradeDate.Format("2006-01-02")
		logger.Unit(ctx, res.StrategyID, date, variant.String(), res.Status.String())
		entry := runlog.Entry{
			StrategyID: res.StrategyID,
			TradeDate:  date,
			Variant:    variant.String(),
			Status:     res.Status.String(),
			Points:     res.Points,
			FinalPnL:   res.FinalPnL,
		}
		if res.Err != nil {
			entry.Error = res.Err.Error()
		}
		if err := runlog.Append(entry); err != nil {
			logger.Warn(ctx, "Run log append failed", "error", err)
		}
	}
	_ = runlog.AppendStep(runlog.StepEntry{
		Step:       step,
		Status:     types.HeartbeatSuccess.String(),
		Processed:  len(queue),
		DurationMs: time.Since(start).Milliseconds(),
	})

	if failed > 0 {
		r.hb.Beat(ctx, step, types.HeartbeatSuccess,
			fmt.Sprintf("processed %d units, %d failed", len(queue), failed))
	} else {
		r.hb.Beat(ctx, step, types.HeartbeatSuccess,
			fmt.Sprintf("processed %d units", len(queue)))
	}
	return results, nil
}

func (r *Runner) processUnit(ctx context.Context, variant types.Variant, u Unit) Result {
	res := Result{Unit: u, Status: types.StatusPending}

	exists, err := r.units.SeriesExists(ctx, variant, u.StrategyID, u.TradeDate)
	if err != nil {
		res.Err = fmt.Errorf("idempotency check: %w", err)
		return res
	}
	if exists {
		// an earlier run computed the series but died before the status
		// write; just resync the status
		if err := r.status.Mark(ctx, u.StrategyID, u.TradeDate, variant, types.StatusCompleted); err != nil {
			res.Err = fmt.Errorf("sync status: %w", err)
			return res
		}
		res.Status = types.StatusCompleted
		return res
	}

	trades, err := r.trades.Trades(ctx, u.StrategyID, u.TradeDate)
	if err != nil {
		res.Err = fmt.Errorf("load trades: %w", err)
		return res
	}
	if len(trades) == 0 {
		return res
	}

	instruments := uniqueInstruments(trades)
	bars, err := r.bars.DayBars(ctx, instruments, u.TradeDate)
	if err != nil {
		res.Err = fmt.Errorf("load bars: %w", err)
		return res
	}

	switch variant {
	case types.VariantBanded:
		points, err := r.engine.ComputeBanded(ctx, trades, bars, u.TradeDate)
		if err != nil {
			return r.computeFailed(ctx, res, variant, err)
		}
		if err := r.sink.UpsertBandedPnL(ctx, u.StrategyID, u.TradeDate, points); err != nil {
			res.Err = fmt.Errorf("persist series: %w", err)
			return res
		}
		res.Points = len(points)
		if v, err := strconv.ParseFloat(points[len(points)-1].Close, 64); err == nil {
			res.FinalPnL = v
		}
	default:
		points, err := r.engine.ComputeClose(ctx, trades, bars, u.TradeDate)
		if err != nil {
			return r.computeFailed(ctx, res, variant, err)
		}
		if err := r.sink.UpsertClosePnL(ctx, u.StrategyID, u.TradeDate, points); err != nil {
			res.Err = fmt.Errorf("persist series: %w", err)
			return res
		}
		res.Points = len(points)
		res.FinalPnL = points[len(points)-1].PnL
	}

	if err := r.status.Mark(ctx, u.StrategyID, u.TradeDate, variant, types.StatusCompleted); err != nil {
		res.Err = fmt.Errorf("mark completed: %w", err)
		return res
	}
	res.Status = types.StatusCompleted
	return res
}

func (r *Runner) computeFailed(ctx context.Context, res Result, variant types.Variant, err error) Result {
	if errors.Is(err, engine.ErrAfterSessionClose) {
		if merr := r.status.Mark(ctx, res.StrategyID, res.TradeDate, variant, types.StatusSkippedInvalidTime); merr != nil {
			res.Err = fmt.Errorf("mark skipped: %w", merr)
			return res
		}
		res.Status = types.StatusSkippedInvalidTime
		return res
	}
	res.Err = fmt.Errorf("compute series: %w", err)
	return res
}

// Failed counts results whose collaborator interaction errored. Skips and
// resyncs are terminal outcomes, not failures.
func Failed(results []Result) int {
	n := 0
	for _, res := range results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// dedupe collapses duplicate units (one per verification row) and orders the
// queue by strategy then day.
func dedupe(units []Unit) []Unit {
	seen := make(map[string]bool, len(units))
	out := units[:0:0]
	for _, u := range units {
		key := fmt.Sprintf("%d_%s", u.StrategyID, u.TradeDate.Format("2006-01-02"))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StrategyID != out[j].StrategyID {
			return out[i].StrategyID < out[j].StrategyID
		}
		return out[i].TradeDate.Before(out[j].TradeDate)
	})
	return out
}

func uniqueInstruments(trades []types.Trade) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range trades {
		if !seen[t.Instrument] {
			seen[t.Instrument] = true
			out = append(out, t.Instrument)
		}
	}
	return out
}
