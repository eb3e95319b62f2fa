package ingest

import (
	"context"
	"time"

	"pnl-pipeline/internal/logger"
	"pnl-pipeline/internal/types"
)

// brokerHistoryDays is how far back the broker serves 1-minute candles. It
// advertises roughly 90 days; the margin absorbs clock and holiday skew.
const brokerHistoryDays = 88

// VerificationRow is one audit row promoted into the verification table with
// its resolved broker symbol and market-data availability.
type VerificationRow struct {
	AuditRow
	BrokerSymbol  string
	OHLCStatus    types.OHLCStatus
	PnLStatus     types.UnitStatus
	PnL1MinStatus types.UnitStatus
}

// CachePresence answers whether any cached bars exist for a broker symbol on
// a trading day.
type CachePresence interface {
	HasBars(symbol, tradeDate string) bool
}

// Cutoff returns the oldest trade date the broker can still backfill.
func Cutoff(now time.Time) string {
	return now.AddDate(0, 0, -brokerHistoryDays).Format("2006-01-02")
}

// Triage promotes audit rows to verification rows. Cached days are verified
// outright, days the broker can still serve are queued for the fetcher, and
// anything older is marked unavailable. Both PnL statuses start pending.
func Triage(ctx context.Context, rows []AuditRow, cache CachePresence, cutoff string) []VerificationRow {
	out := make([]VerificationRow, 0, len(rows))
	counts := make(map[types.OHLCStatus]int)
	for _, row := range rows {
		symbol, err := TranslateInstrument(row.Instrument)
		if err != nil {
			logger.Warn(ctx, "Untranslatable instrument",
				"instrument", row.Instrument, "strategy_id", row.StrategyID)
			symbol = ""
		}

		var status types.OHLCStatus
		switch {
		case symbol != "" && cache.HasBars(symbol, row.TradeDate):
			status = types.OHLCVerifiedPresent
		case row.TradeDate >= cutoff:
			status = types.OHLCPendingAPISearch
		default:
			status = types.OHLCHistoricalUnavailable
		}
		counts[status]++

		out = append(out, VerificationRow{
			AuditRow:      row,
			BrokerSymbol:  symbol,
			OHLCStatus:    status,
			PnLStatus:     types.StatusPending,
			PnL1MinStatus: types.StatusPending,
		})
	}

	logger.Info(ctx, "Triage complete",
		"rows", len(rows),
		"verified", counts[types.OHLCVerifiedPresent],
		"pending_api", counts[types.OHLCPendingAPISearch],
		"unavailable", counts[types.OHLCHistoricalUnavailable],
	)
	return out
}
