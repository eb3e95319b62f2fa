package refresh

import (
	"context"
	"math"
	"testing"
	"time"

	"pnl-pipeline/internal/types"
)

type fakeSource struct {
	strategies []types.StrategyMeta
	lots       []LotSize
	deploys    []Deployment
	finals     []IntradayFinal
	daily      []Row

	upserted []Row
}

func (f *fakeSource) Strategies(ctx context.Context) ([]types.StrategyMeta, error) {
	return f.strategies, nil
}
func (f *fakeSource) LotSizes(ctx context.Context) ([]LotSize, error)       { return f.lots, nil }
func (f *fakeSource) Deployments(ctx context.Context) ([]Deployment, error) { return f.deploys, nil }
func (f *fakeSource) IntradayFinals(ctx context.Context) ([]IntradayFinal, error) {
	return f.finals, nil
}
func (f *fakeSource) DailyRows(ctx context.Context) ([]Row, error) { return f.daily, nil }
func (f *fakeSource) UpsertDailyRows(ctx context.Context, rows []Row) error {
	f.upserted = append(f.upserted, rows...)
	return nil
}

type fakeHeartbeat struct {
	states []types.HeartbeatState
}

func (f *fakeHeartbeat) Beat(ctx context.Context, step string, state types.HeartbeatState, msg string) {
	f.states = append(f.states, state)
}

var niftyLots = []LotSize{
	{Instrument: "NIFTY", EffectiveDate: "2024-01-01", Size: 50},
	{Instrument: "NIFTY", EffectiveDate: "2025-10-01", Size: 75},
}

func TestLotSizeOn(t *testing.T) {
	cases := []struct {
		date string
		want float64
	}{
		{"2025-11-15", 75}, // newest entry in force
		{"2025-10-05", 75}, // effective exactly on the first of month
		{"2025-02-10", 50},
		{"2023-06-01", 50}, // predates history, earliest entry wins
	}
	for _, c := range cases {
		date, _ := time.Parse("2006-01-02", c.date)
		got, err := lotSizeOn(niftyLots, "NIFTY", date)
		if err != nil {
			t.Fatalf("lotSizeOn(%s): %v", c.date, err)
		}
		if got != c.want {
			t.Errorf("lotSizeOn(%s) = %v, want %v", c.date, got, c.want)
		}
	}

	if _, err := lotSizeOn(niftyLots, "BANKNIFTY", time.Now()); err == nil {
		t.Error("expected error for unknown instrument")
	}
}

func TestMultiplierFor(t *testing.T) {
	deploys := []Deployment{{StrategyID: 42, Month: "October 2025", Multiplier: 2}}
	oct, _ := time.Parse("2006-01-02", "2025-10-28")
	sep, _ := time.Parse("2006-01-02", "2025-09-28")

	if got := multiplierFor(deploys, 42, oct); got != 2 {
		t.Errorf("October multiplier = %d, want 2", got)
	}
	if got := multiplierFor(deploys, 42, sep); got != 1 {
		t.Errorf("September multiplier = %d, want default 1", got)
	}
	if got := multiplierFor(deploys, 7, oct); got != 1 {
		t.Errorf("unknown strategy multiplier = %d, want default 1", got)
	}
}

func TestRunAppendsNewDayAndRebuildsCumulative(t *testing.T) {
	src := &fakeSource{
		strategies: []types.StrategyMeta{
			{ID: 42, Name: "NiftyShortStraddle", IndexName: "NIFTY", Status: "Active", DeploymentType: "Live Auto", Capital: 150000},
			{ID: 7, Name: "Parked", IndexName: "NIFTY", Status: "Inactive", DeploymentType: "Live Auto", Capital: 100000},
		},
		lots:    niftyLots,
		deploys: []Deployment{{StrategyID: 42, Month: "October 2025", Multiplier: 2}},
		finals: []IntradayFinal{
			{StrategyID: 42, TradeDate: "2025-10-28", LastPnL: 1234.567},
			{StrategyID: 42, TradeDate: "2025-10-27", LastPnL: 999}, // already present
			{StrategyID: 7, TradeDate: "2025-10-28", LastPnL: 5000}, // inactive strategy
		},
		daily: []Row{
			{StrategyID: 42, TradeDate: "2025-10-27", PnL: 100},
		},
	}
	hb := &fakeHeartbeat{}
	r := New(src, hb)
	r.now = func() time.Time { return time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC) }

	added, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if added != 1 {
		t.Fatalf("added = %d, want 1", added)
	}

	// the touched strategy's full history is rewritten, oldest first
	if len(src.upserted) != 2 {
		t.Fatalf("upserted %d rows, want 2: %+v", len(src.upserted), src.upserted)
	}
	old, fresh := src.upserted[0], src.upserted[1]
	if old.TradeDate != "2025-10-27" || fresh.TradeDate != "2025-10-28" {
		t.Fatalf("row order wrong: %s, %s", old.TradeDate, fresh.TradeDate)
	}

	if fresh.PnL != 1234.57 {
		t.Errorf("PnL = %v, want 1234.57", fresh.PnL)
	}
	// capital 150000 at today's lot 75 gives 2000 per lot; October lot 75
	// and multiplier 2 give 300000 effective
	if fresh.EffCapital != 300000 {
		t.Errorf("EffCapital = %v, want 300000", fresh.EffCapital)
	}
	if fresh.Multiplier != 2 {
		t.Errorf("Multiplier = %d, want 2", fresh.Multiplier)
	}
	if fresh.PnLPercent != 0.4115 {
		t.Errorf("PnLPercent = %v, want 0.4115", fresh.PnLPercent)
	}
	if !fresh.IsWin {
		t.Error("IsWin should be true")
	}
	if fresh.MonthYear != "Oct 2025" || fresh.TradeMonthName != "Oct" {
		t.Errorf("month fields = %q, %q", fresh.MonthYear, fresh.TradeMonthName)
	}

	if old.CumulativePnL != 100 || math.Abs(fresh.CumulativePnL-1334.57) > 1e-9 {
		t.Errorf("cumulative = %v, %v; want 100, 1334.57", old.CumulativePnL, fresh.CumulativePnL)
	}
	if math.Abs(fresh.PeakCumulativePnL-1334.57) > 1e-9 || fresh.MaxDDAmount != 0 {
		t.Errorf("peak/dd = %v, %v", fresh.PeakCumulativePnL, fresh.MaxDDAmount)
	}
}

func TestRunAlreadyUpToDate(t *testing.T) {
	src := &fakeSource{
		strategies: []types.StrategyMeta{
			{ID: 42, Name: "NiftyShortStraddle", IndexName: "NIFTY", Status: "Active", DeploymentType: "Live Auto", Capital: 150000},
		},
		lots:   niftyLots,
		finals: []IntradayFinal{{StrategyID: 42, TradeDate: "2025-10-27", LastPnL: 999}},
		daily:  []Row{{StrategyID: 42, TradeDate: "2025-10-27", PnL: 999}},
	}
	hb := &fakeHeartbeat{}
	r := New(src, hb)

	added, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if added != 0 {
		t.Fatalf("added = %d, want 0", added)
	}
	if len(src.upserted) != 0 {
		t.Fatalf("no rows should be written, got %d", len(src.upserted))
	}
	last := hb.states[len(hb.states)-1]
	if last != types.HeartbeatSuccess {
		t.Fatalf("final heartbeat = %v, want success", last)
	}
}

func TestRunDrawdownColumns(t *testing.T) {
	src := &fakeSource{
		strategies: []types.StrategyMeta{
			{ID: 42, Name: "NiftyShortStraddle", IndexName: "NIFTY", Status: "Active", DeploymentType: "Live Auto", Capital: 150000},
		},
		lots:   niftyLots,
		finals: []IntradayFinal{{StrategyID: 42, TradeDate: "2025-10-29", LastPnL: -400}},
		daily: []Row{
			{StrategyID: 42, TradeDate: "2025-10-27", PnL: 500},
			{StrategyID: 42, TradeDate: "2025-10-28", PnL: -200},
		},
	}
	r := New(src, &fakeHeartbeat{})
	r.now = func() time.Time { return time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC) }

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(src.upserted) != 3 {
		t.Fatalf("upserted %d rows, want 3", len(src.upserted))
	}
	last := src.upserted[2]
	if last.CumulativePnL != -100 {
		t.Errorf("CumulativePnL = %v, want -100", last.CumulativePnL)
	}
	if last.PeakCumulativePnL != 500 {
		t.Errorf("PeakCumulativePnL = %v, want 500", last.PeakCumulativePnL)
	}
	if last.MaxDDAmount != 600 {
		t.Errorf("MaxDDAmount = %v, want 600", last.MaxDDAmount)
	}
}
