package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"pnl-pipeline/internal/refresh"
	"pnl-pipeline/internal/types"
)

// LotSizes returns the full per-index lot size history.
func (s *Store) LotSizes(ctx context.Context) ([]refresh.LotSize, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT instrument, effective_date::text, lot_size
		FROM lot_sizes`)
	if err != nil {
		return nil, fmt.Errorf("Store.LotSizes: %w", err)
	}
	defer rows.Close()

	var out []refresh.LotSize
	for rows.Next() {
		var l refresh.LotSize
		if err := rows.Scan(&l.Instrument, &l.EffectiveDate, &l.Size); err != nil {
			return nil, fmt.Errorf("Store.LotSizes: scan: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Deployments returns the monthly deployment multipliers.
func (s *Store) Deployments(ctx context.Context) ([]refresh.Deployment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT strategy_id, month, multiplier
		FROM live_deployments`)
	if err != nil {
		return nil, fmt.Errorf("Store.Deployments: %w", err)
	}
	defer rows.Close()

	var out []refresh.Deployment
	for rows.Next() {
		var d refresh.Deployment
		if err := rows.Scan(&d.StrategyID, &d.Month, &d.Multiplier); err != nil {
			return nil, fmt.Errorf("Store.Deployments: scan: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// IntradayFinals extracts the final PnL point of every stored close-marked
// series; empty series are skipped in the query.
func (s *Store) IntradayFinals(ctx context.Context) ([]refresh.IntradayFinal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT strategy_id, trade_date::text, (pnl_data -> -1 ->> 'pnl')::float8
		FROM intraday_pnl_1min_closing
		WHERE jsonb_array_length(pnl_data) > 0`)
	if err != nil {
		return nil, fmt.Errorf("Store.IntradayFinals: %w", err)
	}
	defer rows.Close()

	var out []refresh.IntradayFinal
	for rows.Next() {
		var f refresh.IntradayFinal
		if err := rows.Scan(&f.StrategyID, &f.TradeDate, &f.LastPnL); err != nil {
			return nil, fmt.Errorf("Store.IntradayFinals: scan: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

const dailyColumns = `
	trade_date::text, trade_year, trade_month, trade_month_name, month_year,
	strategy_id, strategy_name, index_name, user_name, strategy_grouping,
	status, deployment_type, pnl, eff_capital, multiplier, is_win,
	pnl_percent, cumulative_pnl, peak_cumulative_pnl, max_dd_amount`

func scanDailyRow(scan func(...any) error) (refresh.Row, error) {
	var r refresh.Row
	err := scan(&r.TradeDate, &r.TradeYear, &r.TradeMonth, &r.TradeMonthName,
		&r.MonthYear, &r.StrategyID, &r.StrategyName, &r.IndexName, &r.UserName,
		&r.Grouping, &r.Status, &r.DeploymentType, &r.PnL, &r.EffCapital,
		&r.Multiplier, &r.IsWin, &r.PnLPercent, &r.CumulativePnL,
		&r.PeakCumulativePnL, &r.MaxDDAmount)
	return r, err
}

// DailyRows returns the whole daily ledger.
func (s *Store) DailyRows(ctx context.Context) ([]refresh.Row, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+dailyColumns+` FROM daily_strategy_pnl`)
	if err != nil {
		return nil, fmt.Errorf("Store.DailyRows: %w", err)
	}
	defer rows.Close()

	var out []refresh.Row
	for rows.Next() {
		r, err := scanDailyRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("Store.DailyRows: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertDailyRows replaces daily ledger rows keyed by (strategy, date).
func (s *Store) UpsertDailyRows(ctx context.Context, rows []refresh.Row) error {
	for _, r := range rows {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO daily_strategy_pnl (
				trade_date, trade_year, trade_month, trade_month_name, month_year,
				strategy_id, strategy_name, index_name, user_name, strategy_grouping,
				status, deployment_type, pnl, eff_capital, multiplier, is_win,
				pnl_percent, cumulative_pnl, peak_cumulative_pnl, max_dd_amount
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
			ON CONFLICT (strategy_id, trade_date) DO UPDATE SET
				pnl = EXCLUDED.pnl,
				eff_capital = EXCLUDED.eff_capital,
				multiplier = EXCLUDED.multiplier,
				is_win = EXCLUDED.is_win,
				pnl_percent = EXCLUDED.pnl_percent,
				cumulative_pnl = EXCLUDED.cumulative_pnl,
				peak_cumulative_pnl = EXCLUDED.peak_cumulative_pnl,
				max_dd_amount = EXCLUDED.max_dd_amount,
				status = EXCLUDED.status,
				deployment_type = EXCLUDED.deployment_type`,
			r.TradeDate, r.TradeYear, r.TradeMonth, r.TradeMonthName, r.MonthYear,
			r.StrategyID, r.StrategyName, r.IndexName, r.UserName, r.Grouping,
			r.Status, r.DeploymentType, r.PnL, r.EffCapital, r.Multiplier, r.IsWin,
			r.PnLPercent, r.CumulativePnL, r.PeakCumulativePnL, r.MaxDDAmount)
		if err != nil {
			return fmt.Errorf("Store.UpsertDailyRows: %w", err)
		}
	}
	return nil
}

// DailyHistory returns one strategy's daily ledger for the summarizer,
// oldest day first.
func (s *Store) DailyHistory(ctx context.Context, strategyID int) ([]types.DailyPnL, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT strategy_id, trade_date::text, pnl, eff_capital, cumulative_pnl,
		       multiplier, is_win, pnl_percent
		FROM daily_strategy_pnl
		WHERE strategy_id = $1
		ORDER BY trade_date`,
		strategyID)
	if err != nil {
		return nil, fmt.Errorf("Store.DailyHistory: %w", err)
	}
	defer rows.Close()

	var out []types.DailyPnL
	for rows.Next() {
		var d types.DailyPnL
		var dateStr string
		if err := rows.Scan(&d.StrategyID, &dateStr, &d.PnL, &d.EffCapital,
			&d.CumulativePnL, &d.Multiplier, &d.IsWin, &d.PnLPercent); err != nil {
			return nil, fmt.Errorf("Store.DailyHistory: scan: %w", err)
		}
		d.TradeDate, err = time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, fmt.Errorf("Store.DailyHistory: bad trade_date %q: %w", dateStr, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpsertExpectancy replaces scorecards keyed by strategy.
func (s *Store) UpsertExpectancy(ctx context.Context, records []types.ExpectancyRecord) error {
	for _, r := range records {
		spark, err := sonic.Marshal(r.Sparkline)
		if err != nil {
			return fmt.Errorf("Store.UpsertExpectancy: marshal sparkline: %w", err)
		}
		monthly, err := sonic.Marshal(r.MonthlyPnL)
		if err != nil {
			return fmt.Errorf("Store.UpsertExpectancy: marshal monthly: %w", err)
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO expectancy (
				strategy_id, strategy_name, win_rate, loss_rate, average_gain,
				average_loss, risk_reward_ratio, monthly_expectancy,
				monthly_expectancy_percent, max_dd, max_dd_percent,
				max_dd_duration_days, trade_days_count, first_trade_date,
				last_trade_date, total_return_pct, cagr_pct, last30d_return_pct,
				last90d_return_pct, annual_volatility_pct,
				annual_downside_volatility_pct, sharpe_ratio, sortino_ratio,
				calmar_ratio, sparkline_compact, positive_months_pct,
				monthly_pnl_json, low_sample_flag, strategy_capital,
				deployment_status, deployment_type, last_calculated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,
			          $18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32)
			ON CONFLICT (strategy_id) DO UPDATE SET
				strategy_name = EXCLUDED.strategy_name,
				win_rate = EXCLUDED.win_rate,
				loss_rate = EXCLUDED.loss_rate,
				average_gain = EXCLUDED.average_gain,
				average_loss = EXCLUDED.average_loss,
				risk_reward_ratio = EXCLUDED.risk_reward_ratio,
				monthly_expectancy = EXCLUDED.monthly_expectancy,
				monthly_expectancy_percent = EXCLUDED.monthly_expectancy_percent,
				max_dd = EXCLUDED.max_dd,
				max_dd_percent = EXCLUDED.max_dd_percent,
				max_dd_duration_days = EXCLUDED.max_dd_duration_days,
				trade_days_count = EXCLUDED.trade_days_count,
				first_trade_date = EXCLUDED.first_trade_date,
				last_trade_date = EXCLUDED.last_trade_date,
				total_return_pct = EXCLUDED.total_return_pct,
				cagr_pct = EXCLUDED.cagr_pct,
				last30d_return_pct = EXCLUDED.last30d_return_pct,
				last90d_return_pct = EXCLUDED.last90d_return_pct,
				annual_volatility_pct = EXCLUDED.annual_volatility_pct,
				annual_downside_volatility_pct = EXCLUDED.annual_downside_volatility_pct,
				sharpe_ratio = EXCLUDED.sharpe_ratio,
				sortino_ratio = EXCLUDED.sortino_ratio,
				calmar_ratio = EXCLUDED.calmar_ratio,
				sparkline_compact = EXCLUDED.sparkline_compact,
				positive_months_pct = EXCLUDED.positive_months_pct,
				monthly_pnl_json = EXCLUDED.monthly_pnl_json,
				low_sample_flag = EXCLUDED.low_sample_flag,
				strategy_capital = EXCLUDED.strategy_capital,
				deployment_status = EXCLUDED.deployment_status,
				deployment_type = EXCLUDED.deployment_type,
				last_calculated_at = EXCLUDED.last_calculated_at`,
			r.StrategyID, r.StrategyName, r.WinRate, r.LossRate, r.AverageGain,
			r.AverageLoss, r.RiskRewardRatio, r.MonthlyExpectancy,
			r.MonthlyExpectancyPercent, r.MaxDD, r.MaxDDPercent,
			r.MaxDDDurationDays, r.TradeDaysCount, r.FirstTradeDate,
			r.LastTradeDate, r.TotalReturnPct, r.CAGRPct, r.Last30dReturnPct,
			r.Last90dReturnPct, r.AnnualVolatilityPct, r.AnnualDownsideVolPct,
			r.SharpeRatio, r.SortinoRatio, r.CalmarRatio, spark,
			r.PositiveMonthsPct, monthly, r.LowSampleFlag, r.StrategyCapital,
			r.DeploymentStatus, r.DeploymentType, r.LastCalculatedAt)
		if err != nil {
			return fmt.Errorf("Store.UpsertExpectancy: %w", err)
		}
	}
	return nil
}
