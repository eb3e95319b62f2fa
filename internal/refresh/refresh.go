package refresh

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"pnl-pipeline/internal/interfaces"
	"pnl-pipeline/internal/logger"
	"pnl-pipeline/internal/types"
)

// LotSize is one row of the per-index lot size history. EffectiveDate is
// "2006-01-02"; comparisons are lexicographic.
type LotSize struct {
	Instrument    string
	EffectiveDate string
	Size          float64
}

// Deployment records the multiplier a strategy ran with in a given month.
// Month is rendered as the full month name plus year ("October 2025").
type Deployment struct {
	StrategyID int
	Month      string
	Multiplier int
}

// IntradayFinal is the closing point of one stored close-marked minute
// series: the realized day PnL for that (strategy, date).
type IntradayFinal struct {
	StrategyID int
	TradeDate  string
	LastPnL    float64
}

// Row is one daily_strategy_pnl row. The cumulative columns are recomputed
// over a strategy's whole history every time a new day lands, so existing
// rows are rewritten together with the new ones.
type Row struct {
	TradeDate         string
	TradeYear         int
	TradeMonth        int
	TradeMonthName    string
	MonthYear         string
	StrategyID        int
	StrategyName      string
	IndexName         string
	UserName          string
	Grouping          string
	Status            string
	DeploymentType    string
	PnL               float64
	EffCapital        float64
	Multiplier        int
	IsWin             bool
	PnLPercent        float64
	CumulativePnL     float64
	PeakCumulativePnL float64
	MaxDDAmount       float64
}

// Source is the storage surface the refresh step reads and writes.
type Source interface {
	Strategies(ctx context.Context) ([]types.StrategyMeta, error)
	LotSizes(ctx context.Context) ([]LotSize, error)
	Deployments(ctx context.Context) ([]Deployment, error)
	IntradayFinals(ctx context.Context) ([]IntradayFinal, error)
	DailyRows(ctx context.Context) ([]Row, error)
	UpsertDailyRows(ctx context.Context, rows []Row) error
}

// Refresher folds finished intraday series into the daily strategy ledger,
// normalizing each day's PnL by the capital actually deployed that month.
type Refresher struct {
	src Source
	hb  interfaces.Heartbeat
	now func() time.Time
}

func New(src Source, hb interfaces.Heartbeat) *Refresher {
	return &Refresher{src: src, hb: hb, now: time.Now}
}

// Run appends every new (strategy, date) day to the daily ledger and rewrites
// the cumulative columns of each touched strategy. It returns the number of
// new days added.
func (r *Refresher) Run(ctx context.Context) (int, error) {
	r.hb.Beat(ctx, "refresh", types.HeartbeatRunning, "syncing source tables")

	strategies, err := r.src.Strategies(ctx)
	if err != nil {
		return 0, r.fail(ctx, fmt.Errorf("load strategies: %w", err))
	}
	lots, err := r.src.LotSizes(ctx)
	if err != nil {
		return 0, r.fail(ctx, fmt.Errorf("load lot sizes: %w", err))
	}
	deployments, err := r.src.Deployments(ctx)
	if err != nil {
		return 0, r.fail(ctx, fmt.Errorf("load deployments: %w", err))
	}
	finals, err := r.src.IntradayFinals(ctx)
	if err != nil {
		return 0, r.fail(ctx, fmt.Errorf("load intraday finals: %w", err))
	}
	existing, err := r.src.DailyRows(ctx)
	if err != nil {
		return 0, r.fail(ctx, fmt.Errorf("load daily rows: %w", err))
	}

	active := make(map[int]types.StrategyMeta)
	for _, s := range strategies {
		if s.Status == "Active" && s.DeploymentType == "Live Auto" {
			active[s.ID] = s
		}
	}

	existingKeys := make(map[string]bool, len(existing))
	for _, row := range existing {
		existingKeys[dayKey(row.StrategyID, row.TradeDate)] = true
	}

	// per-lot capital at today's lot size; historical days are rescaled by
	// the lot size that applied back then
	unitCap := make(map[int]float64, len(active))
	today := r.now()
	for id, s := range active {
		lot, err := lotSizeOn(lots, s.IndexName, today)
		if err != nil {
			logger.Warn(ctx, "No lot size for index, strategy skipped",
				"strategy_id", id, "index", s.IndexName)
			continue
		}
		unitCap[id] = s.Capital / lot
	}

	r.hb.Beat(ctx, "refresh", types.HeartbeatRunning,
		fmt.Sprintf("analyzing %d intraday records", len(finals)))

	var fresh []Row
	for _, fin := range finals {
		meta, ok := active[fin.StrategyID]
		if !ok || existingKeys[dayKey(fin.StrategyID, fin.TradeDate)] {
			continue
		}
		cap, ok := unitCap[fin.StrategyID]
		if !ok {
			continue
		}
		date, err := time.Parse("2006-01-02", fin.TradeDate)
		if err != nil {
			logger.Warn(ctx, "Bad trade date in intraday series, skipped",
				"strategy_id", fin.StrategyID, "trade_date", fin.TradeDate)
			continue
		}

		histLot, err := lotSizeOn(lots, meta.IndexName, date)
		if err != nil {
			logger.Warn(ctx, "No historical lot size, day skipped",
				"strategy_id", fin.StrategyID, "trade_date", fin.TradeDate)
			continue
		}
		mult := multiplierFor(deployments, fin.StrategyID, date)
		effCap := cap * histLot * float64(mult)

		row := Row{
			TradeDate:      fin.TradeDate,
			TradeYear:      date.Year(),
			TradeMonth:     int(date.Month()),
			TradeMonthName: date.Format("Jan"),
			MonthYear:      date.Format("Jan 2006"),
			StrategyID:     fin.StrategyID,
			StrategyName:   meta.Name,
			IndexName:      meta.IndexName,
			UserName:       meta.UserName,
			Grouping:       meta.Grouping,
			Status:         meta.Status,
			DeploymentType: meta.DeploymentType,
			PnL:            round2(fin.LastPnL),
			EffCapital:     round2(effCap),
			Multiplier:     mult,
			IsWin:          fin.LastPnL > 0,
		}
		if effCap > 0 {
			row.PnLPercent = round4(fin.LastPnL / effCap * 100)
		}
		fresh = append(fresh, row)
	}

	if len(fresh) == 0 {
		r.hb.Beat(ctx, "refresh", types.HeartbeatSuccess, "already up to date")
		logger.Info(ctx, "Daily ledger already up to date")
		return 0, nil
	}

	r.hb.Beat(ctx, "refresh", types.HeartbeatRunning,
		fmt.Sprintf("computing metrics for %d new days", len(fresh)))

	payload := rebuildTouched(existing, fresh)
	if err := r.src.UpsertDailyRows(ctx, payload); err != nil {
		return 0, r.fail(ctx, fmt.Errorf("upsert daily rows: %w", err))
	}

	r.hb.Beat(ctx, "refresh", types.HeartbeatSuccess,
		fmt.Sprintf("updated %d days", len(fresh)))
	logger.Info(ctx, "Daily ledger refreshed",
		"new_days", len(fresh), "rows_written", len(payload))
	return len(fresh), nil
}

func (r *Refresher) fail(ctx context.Context, err error) error {
	r.hb.Beat(ctx, "refresh", types.HeartbeatError, err.Error())
	return err
}

// rebuildTouched recomputes cumulative PnL, running peak and drawdown for
// every strategy that gained at least one new day, returning that strategy's
// full history ready to upsert.
func rebuildTouched(existing, fresh []Row) []Row {
	touched := make(map[int]bool)
	for _, row := range fresh {
		touched[row.StrategyID] = true
	}

	byStrategy := make(map[int][]Row)
	var order []int
	add := func(row Row) {
		if !touched[row.StrategyID] {
			return
		}
		if _, seen := byStrategy[row.StrategyID]; !seen {
			order = append(order, row.StrategyID)
		}
		byStrategy[row.StrategyID] = append(byStrategy[row.StrategyID], row)
	}
	for _, row := range existing {
		add(row)
	}
	for _, row := range fresh {
		add(row)
	}
	sort.Ints(order)

	var out []Row
	for _, sid := range order {
		rows := byStrategy[sid]
		sort.Slice(rows, func(i, j int) bool {
			return rows[i].TradeDate < rows[j].TradeDate
		})
		var cum, peak float64
		for i := range rows {
			cum += rows[i].PnL
			if i == 0 || cum > peak {
				peak = cum
			}
			rows[i].CumulativePnL = cum
			rows[i].PeakCumulativePnL = peak
			rows[i].MaxDDAmount = peak - cum
		}
		out = append(out, rows...)
	}
	return out
}

// lotSizeOn resolves the lot size in force for a trading day: the newest
// entry effective on or before the first of that day's month, falling back to
// the instrument's earliest entry for dates predating the history.
func lotSizeOn(lots []LotSize, instrument string, date time.Time) (float64, error) {
	firstOfMonth := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02")

	var best *LotSize
	var earliest *LotSize
	for i := range lots {
		l := &lots[i]
		if l.Instrument != instrument {
			continue
		}
		if earliest == nil || l.EffectiveDate < earliest.EffectiveDate {
			earliest = l
		}
		if l.EffectiveDate <= firstOfMonth && (best == nil || l.EffectiveDate > best.EffectiveDate) {
			best = l
		}
	}
	if best != nil {
		return best.Size, nil
	}
	if earliest != nil {
		return earliest.Size, nil
	}
	return 0, fmt.Errorf("no lot size history for %s", instrument)
}

// multiplierFor returns the strategy's deployment multiplier for the day's
// month, defaulting to 1 when no deployment row exists.
func multiplierFor(deployments []Deployment, strategyID int, date time.Time) int {
	month := date.Format("January 2006")
	for _, d := range deployments {
		if d.StrategyID == strategyID && d.Month == month {
			return d.Multiplier
		}
	}
	return 1
}

func dayKey(strategyID int, tradeDate string) string {
	return fmt.Sprintf("%d_%s", strategyID, tradeDate)
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }
func round4(x float64) float64 { return math.Round(x*1e4) / 1e4 }
