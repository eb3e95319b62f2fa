package expectancy

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"pnl-pipeline/internal/types"
)

var meta = types.StrategyMeta{
	ID:             42,
	Name:           "NiftyShortStraddle",
	Status:         "Active",
	DeploymentType: "Live Auto",
	Capital:        100000,
}

// ledger builds a daily history starting 2025-01-06 with a fixed effective
// capital, cumulating PnL along the way.
func ledger(effCap float64, pnls ...float64) []types.DailyPnL {
	start := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	var cum float64
	days := make([]types.DailyPnL, len(pnls))
	for i, p := range pnls {
		cum += p
		days[i] = types.DailyPnL{
			StrategyID:    meta.ID,
			TradeDate:     start.AddDate(0, 0, i),
			PnL:           p,
			EffCapital:    effCap,
			CumulativePnL: cum,
		}
	}
	return days
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestSummarizeCoreRates(t *testing.T) {
	rec, err := New().Summarize(context.Background(), meta, ledger(100000, 100, -50, 0, 200))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	// zero-pnl day is excluded from the win/loss base
	approx(t, "WinRate", rec.WinRate, round6(2.0/3.0))
	approx(t, "LossRate", rec.LossRate, round6(1.0/3.0))
	approx(t, "AverageGain", rec.AverageGain, 150)
	approx(t, "AverageLoss", rec.AverageLoss, 50)
	approx(t, "RiskRewardRatio", rec.RiskRewardRatio, 3)

	expPerDay := rec.WinRate*150 - rec.LossRate*50
	approx(t, "MonthlyExpectancy", rec.MonthlyExpectancy, round6(expPerDay*22))
	approx(t, "TotalReturnPct", rec.TotalReturnPct, 0.0025)

	if rec.TradeDaysCount != 4 {
		t.Errorf("TradeDaysCount = %d, want 4", rec.TradeDaysCount)
	}
	if rec.FirstTradeDate != "2025-01-06" || rec.LastTradeDate != "2025-01-09" {
		t.Errorf("date range = %s..%s", rec.FirstTradeDate, rec.LastTradeDate)
	}
	if !rec.LowSampleFlag {
		t.Error("LowSampleFlag should be set for 4 days")
	}
	if rec.StrategyCapital != 100000 {
		t.Errorf("StrategyCapital = %v", rec.StrategyCapital)
	}
	if rec.DeploymentStatus != "Active" || rec.DeploymentType != "Live Auto" {
		t.Errorf("deployment fields = %s/%s", rec.DeploymentStatus, rec.DeploymentType)
	}
}

func TestSummarizeDrawdownRecovered(t *testing.T) {
	rec, err := New().Summarize(context.Background(), meta, ledger(100000, 100, -50, 0, 200))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	approx(t, "MaxDD", rec.MaxDD, 50)
	approx(t, "MaxDDPercent", rec.MaxDDPercent, 0.0005)
	if rec.MaxDDDurationDays != 3 {
		t.Errorf("MaxDDDurationDays = %d, want 3 (peak day 0 to recovery day 3)", rec.MaxDDDurationDays)
	}
}

func TestSummarizeDrawdownNeverRecovered(t *testing.T) {
	rec, err := New().Summarize(context.Background(), meta, ledger(100000, 100, -60))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	approx(t, "MaxDD", rec.MaxDD, 60)
	if rec.MaxDDDurationDays != 1 {
		t.Errorf("MaxDDDurationDays = %d, want 1 (runs to final day)", rec.MaxDDDurationDays)
	}
}

func TestSummarizeDrawdownRepeatedPeak(t *testing.T) {
	// cumulative 100, 100, 40, 110: the drawdown is measured from the LAST
	// day at the peak, not the first
	rec, err := New().Summarize(context.Background(), meta, ledger(100000, 100, 0, -60, 70))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	approx(t, "MaxDD", rec.MaxDD, 60)
	if rec.MaxDDDurationDays != 2 {
		t.Errorf("MaxDDDurationDays = %d, want 2", rec.MaxDDDurationDays)
	}
}

func TestSummarizeFlatHistoryGuards(t *testing.T) {
	rec, err := New().Summarize(context.Background(), meta, ledger(100000, 100, 100, 100))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	// constant gains: no losses, zero volatility, zero drawdown; every
	// derived ratio must stay zero instead of dividing by zero
	approx(t, "LossRate", rec.LossRate, 0)
	approx(t, "RiskRewardRatio", rec.RiskRewardRatio, 0)
	approx(t, "AnnualVolatilityPct", rec.AnnualVolatilityPct, 0)
	approx(t, "SharpeRatio", rec.SharpeRatio, 0)
	approx(t, "SortinoRatio", rec.SortinoRatio, 0)
	approx(t, "CalmarRatio", rec.CalmarRatio, 0)
	approx(t, "MaxDD", rec.MaxDD, 0)
	if rec.MaxDDDurationDays != 0 {
		t.Errorf("MaxDDDurationDays = %d, want 0", rec.MaxDDDurationDays)
	}
}

func TestSummarizeVolatilityAndRatios(t *testing.T) {
	days := ledger(100000, 1000, -500, 800, -300, 600)
	rec, err := New().Summarize(context.Background(), meta, days)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	rets := []float64{0.01, -0.005, 0.008, -0.003, 0.006}
	wantVol := round6(sampleStd(rets) * math.Sqrt(252))
	approx(t, "AnnualVolatilityPct", rec.AnnualVolatilityPct, wantVol)
	approx(t, "SharpeRatio", rec.SharpeRatio, round6(rec.CAGRPct/wantVol))

	wantDown := round6(sampleStd([]float64{-0.005, -0.003}) * math.Sqrt(252))
	approx(t, "AnnualDownsideVolPct", rec.AnnualDownsideVolPct, wantDown)
	approx(t, "SortinoRatio", rec.SortinoRatio, round6(rec.CAGRPct/wantDown))
	approx(t, "CalmarRatio", rec.CalmarRatio, round6(rec.CAGRPct/rec.MaxDDPercent))
}

func TestSummarizeRecentWindows(t *testing.T) {
	pnls := make([]float64, 40)
	for i := range pnls {
		pnls[i] = 10
	}
	rec, err := New().Summarize(context.Background(), meta, ledger(100000, pnls...))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	// cumulative goes 10..400; last 30d window starts at cum[40-30]=110
	approx(t, "Last30dReturnPct", rec.Last30dReturnPct, round6((400.0-110.0)/100000))
	// fewer than 90 days: window clamps to the full history's first day
	approx(t, "Last90dReturnPct", rec.Last90dReturnPct, round6((400.0-10.0)/100000))
}

func TestSummarizeMonthlyFillsGapMonths(t *testing.T) {
	days := []types.DailyPnL{
		{TradeDate: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), PnL: 500, EffCapital: 100000, CumulativePnL: 500},
		{TradeDate: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), PnL: -200, EffCapital: 100000, CumulativePnL: 300},
	}
	rec, err := New().Summarize(context.Background(), meta, days)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	want := []types.MonthlyPnL{
		{Month: "2025-01", PnL: 500},
		{Month: "2025-02", PnL: 0},
		{Month: "2025-03", PnL: -200},
	}
	if len(rec.MonthlyPnL) != len(want) {
		t.Fatalf("MonthlyPnL = %+v, want %+v", rec.MonthlyPnL, want)
	}
	for i := range want {
		if rec.MonthlyPnL[i] != want[i] {
			t.Fatalf("MonthlyPnL[%d] = %+v, want %+v", i, rec.MonthlyPnL[i], want[i])
		}
	}
	approx(t, "PositiveMonthsPct", rec.PositiveMonthsPct, round6(1.0/3.0))
}

func TestSummarizeSparklineDownsamples(t *testing.T) {
	pnls := make([]float64, 100)
	for i := range pnls {
		pnls[i] = 100
	}
	rec, err := New().Summarize(context.Background(), meta, ledger(100000, pnls...))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(rec.Sparkline) != 25 {
		t.Fatalf("Sparkline length = %d, want 25", len(rec.Sparkline))
	}
	// endpoints are always kept: cum[0]=100 and cum[99]=10000 over 100000
	approx(t, "Sparkline[0]", rec.Sparkline[0], round6(100.0/100000*100))
	approx(t, "Sparkline[24]", rec.Sparkline[24], round6(10000.0/100000*100))
}

func TestSummarizeShortSeriesKeptWhole(t *testing.T) {
	rec, err := New().Summarize(context.Background(), meta, ledger(100000, 10, 20, 30))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(rec.Sparkline) != 3 {
		t.Fatalf("Sparkline length = %d, want 3", len(rec.Sparkline))
	}
}

func TestSummarizeNoHistory(t *testing.T) {
	_, err := New().Summarize(context.Background(), meta, nil)
	if !errors.Is(err, ErrNoHistory) {
		t.Fatalf("err = %v, want ErrNoHistory", err)
	}
}

func TestSummarizeUnsortedInput(t *testing.T) {
	days := ledger(100000, 100, -50, 200)
	shuffled := []types.DailyPnL{days[2], days[0], days[1]}
	a, err := New().Summarize(context.Background(), meta, days)
	if err != nil {
		t.Fatalf("sorted: %v", err)
	}
	b, err := New().Summarize(context.Background(), meta, shuffled)
	if err != nil {
		t.Fatalf("shuffled: %v", err)
	}
	if a.WinRate != b.WinRate || a.MaxDD != b.MaxDD || a.TotalReturnPct != b.TotalReturnPct {
		t.Fatal("scorecard depends on input order")
	}
}

func TestDownsampleIndices(t *testing.T) {
	series := make([]float64, 100)
	for i := range series {
		series[i] = float64(i)
	}
	out := downsample(series, 25)
	if len(out) != 25 {
		t.Fatalf("len = %d, want 25", len(out))
	}
	if out[0] != 0 || out[24] != 99 {
		t.Fatalf("endpoints = %v, %v; want 0, 99", out[0], out[24])
	}
	if out[1] != 4 { // int(1 * 99 / 24)
		t.Fatalf("out[1] = %v, want 4", out[1])
	}
}
