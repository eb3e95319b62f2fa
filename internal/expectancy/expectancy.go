package expectancy

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"pnl-pipeline/internal/interfaces"
	"pnl-pipeline/internal/logger"
	"pnl-pipeline/internal/types"
)

// ErrNoHistory is returned when a strategy has no daily PnL rows; the caller
// skips the strategy rather than writing an empty scorecard.
var ErrNoHistory = errors.New("no daily pnl history")

const (
	tradingDaysPerYear  = 252.0
	tradingDaysPerMonth = 22.0
	sparklinePoints     = 25
	lowSampleThreshold  = 60
)

// Summarizer rolls a strategy's daily PnL ledger into its risk scorecard.
// All ratio fields are rounded to 6 decimals and currency fields to 2,
// matching the persisted scorecard format.
type Summarizer struct{}

var _ interfaces.Summarizer = (*Summarizer)(nil)

func New() *Summarizer { return &Summarizer{} }

// Summarize computes the full scorecard from the daily ledger. Days are
// re-sorted by trade date so callers need not guarantee order. Capital in the
// denominators is the latest day's effective capital, so lot-size and
// multiplier changes over the strategy's life do not distort the ratios.
func (s *Summarizer) Summarize(ctx context.Context, meta types.StrategyMeta, days []types.DailyPnL) (types.ExpectancyRecord, error) {
	if len(days) == 0 {
		return types.ExpectancyRecord{}, ErrNoHistory
	}

	sorted := make([]types.DailyPnL, len(days))
	copy(sorted, days)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].TradeDate.Before(sorted[j].TradeDate)
	})

	n := len(sorted)
	pnls := make([]float64, n)
	effCap := make([]float64, n)
	cum := make([]float64, n)
	for i, d := range sorted {
		pnls[i] = d.PnL
		effCap[i] = d.EffCapital
		cum[i] = d.CumulativePnL
	}
	capital := effCap[n-1]

	rec := types.ExpectancyRecord{
		StrategyID:       meta.ID,
		StrategyName:     meta.Name,
		TradeDaysCount:   n,
		FirstTradeDate:   sorted[0].TradeDate.Format("2006-01-02"),
		LastTradeDate:    sorted[n-1].TradeDate.Format("2006-01-02"),
		LowSampleFlag:    n < lowSampleThreshold,
		StrategyCapital:  capital,
		DeploymentStatus: meta.Status,
		DeploymentType:   meta.DeploymentType,
		LastCalculatedAt: time.Now().UTC(),
	}

	// win/loss stats over non-zero days only; flat days carry no signal
	var wins, losses []float64
	for _, p := range pnls {
		if p > 0 {
			wins = append(wins, p)
		} else if p < 0 {
			losses = append(losses, -p)
		}
	}
	nonzero := len(wins) + len(losses)
	if nonzero > 0 {
		rec.WinRate = round6(float64(len(wins)) / float64(nonzero))
		rec.LossRate = round6(float64(len(losses)) / float64(nonzero))
	}
	if len(wins) > 0 {
		rec.AverageGain = round6(mean(wins))
	}
	if len(losses) > 0 {
		rec.AverageLoss = round6(mean(losses))
	}
	if rec.AverageLoss > 0 {
		rec.RiskRewardRatio = round6(rec.AverageGain / rec.AverageLoss)
	}

	expPerDay := rec.WinRate*rec.AverageGain - rec.LossRate*rec.AverageLoss
	rec.MonthlyExpectancy = round6(expPerDay * tradingDaysPerMonth)
	if capital > 0 {
		rec.MonthlyExpectancyPercent = round6(rec.MonthlyExpectancy / capital)
		rec.TotalReturnPct = round6(cum[n-1] / capital)
	}

	years := math.Max(float64(n)/tradingDaysPerYear, 0.001)
	if 1+rec.TotalReturnPct > 0 {
		rec.CAGRPct = round6(math.Pow(1+rec.TotalReturnPct, 1/years) - 1)
	}

	peakIdx, troughIdx, maxDD := drawdown(cum)
	rec.MaxDD = round2(maxDD)
	if capital > 0 {
		rec.MaxDDPercent = round6(maxDD / capital)
	}
	if maxDD > 0 {
		rec.MaxDDDurationDays = ddDuration(cum, peakIdx, troughIdx)
	}

	rets := make([]float64, n)
	var downside []float64
	for i := range pnls {
		rets[i] = pnls[i] / effCap[i]
		if rets[i] < 0 {
			downside = append(downside, rets[i])
		}
	}
	if n > 1 {
		rec.AnnualVolatilityPct = round6(sampleStd(rets) * math.Sqrt(tradingDaysPerYear))
	}
	if rec.AnnualVolatilityPct > 0 {
		rec.SharpeRatio = round6(rec.CAGRPct / rec.AnnualVolatilityPct)
	}
	if len(downside) > 1 {
		rec.AnnualDownsideVolPct = round6(sampleStd(downside) * math.Sqrt(tradingDaysPerYear))
	}
	if rec.AnnualDownsideVolPct > 0 {
		rec.SortinoRatio = round6(rec.CAGRPct / rec.AnnualDownsideVolPct)
	}
	if rec.MaxDDPercent > 0 {
		rec.CalmarRatio = round6(rec.CAGRPct / rec.MaxDDPercent)
	}

	if capital > 0 {
		rec.Last30dReturnPct = round6((cum[n-1] - cum[n-min(30, n)]) / capital)
		rec.Last90dReturnPct = round6((cum[n-1] - cum[n-min(90, n)]) / capital)
	}

	normCum := make([]float64, n)
	for i := range cum {
		if effCap[i] != 0 {
			normCum[i] = cum[i] / effCap[i]
		}
	}
	spark := downsample(normCum, sparklinePoints)
	rec.Sparkline = make([]float64, len(spark))
	for i, v := range spark {
		rec.Sparkline[i] = round6(v * 100)
	}

	rec.MonthlyPnL = monthlyBuckets(sorted)
	if len(rec.MonthlyPnL) > 0 {
		positive := 0
		for _, m := range rec.MonthlyPnL {
			if m.PnL > 0 {
				positive++
			}
		}
		rec.PositiveMonthsPct = round6(float64(positive) / float64(len(rec.MonthlyPnL)))
	}

	logger.Debug(ctx, "Scorecard computed",
		"strategy_id", meta.ID,
		"trade_days", n,
		"win_rate", rec.WinRate,
		"max_dd", rec.MaxDD,
	)
	return rec, nil
}

// drawdown returns the running-peak index, the trough index of the deepest
// drawdown (first occurrence) and its depth.
func drawdown(cum []float64) (peakIdx, troughIdx int, maxDD float64) {
	peak := cum[0]
	curPeakIdx := 0
	for i, v := range cum {
		if v > peak {
			peak = v
			curPeakIdx = i
		}
		if dd := peak - v; dd > maxDD {
			maxDD = dd
			troughIdx = i
			peakIdx = curPeakIdx
		}
	}
	return peakIdx, troughIdx, maxDD
}

// ddDuration measures the deepest drawdown in days: from the last day the
// series sat at the pre-trough peak to the first day at or above it again,
// or to the final day if it never recovered.
func ddDuration(cum []float64, peakIdx, troughIdx int) int {
	peakVal := cum[peakIdx]

	lastAtPeak := peakIdx
	for i := troughIdx - 1; i >= 0; i-- {
		if cum[i] == peakVal {
			lastAtPeak = i
			break
		}
	}

	for i := troughIdx; i < len(cum); i++ {
		if cum[i] >= peakVal {
			return i - lastAtPeak
		}
	}
	d := (len(cum) - 1) - lastAtPeak
	if d < 0 {
		return 0
	}
	return d
}

// downsample picks count evenly spaced samples, always keeping the first and
// last points. Shorter series are returned whole.
func downsample(series []float64, count int) []float64 {
	if len(series) <= count {
		out := make([]float64, len(series))
		copy(out, series)
		return out
	}
	out := make([]float64, count)
	for i := 0; i < count; i++ {
		idx := int(float64(i) * float64(len(series)-1) / float64(count-1))
		out[i] = series[idx]
	}
	return out
}

// monthlyBuckets sums PnL per calendar month, emitting a zero row for every
// gap month between the first and last trade so the timeline stays contiguous.
func monthlyBuckets(days []types.DailyPnL) []types.MonthlyPnL {
	sums := make(map[string]float64)
	for _, d := range days {
		sums[d.TradeDate.Format("2006-01")] += d.PnL
	}

	first := days[0].TradeDate
	lastKey := days[len(days)-1].TradeDate.Format("2006-01")
	var out []types.MonthlyPnL
	for m := time.Date(first.Year(), first.Month(), 1, 0, 0, 0, 0, time.UTC); ; m = m.AddDate(0, 1, 0) {
		key := m.Format("2006-01")
		if key > lastKey {
			break
		}
		out = append(out, types.MonthlyPnL{Month: key, PnL: round2(sums[key])})
	}
	return out
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStd is the standard deviation with one delta degree of freedom.
func sampleStd(xs []float64) float64 {
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
