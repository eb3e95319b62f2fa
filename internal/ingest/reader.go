package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"pnl-pipeline/internal/logger"
	"pnl-pipeline/internal/marketdata"
)

// Column positions in the broker's trade report export. The sheet carries
// many unused columns; only these are read.
const (
	colInstrument = 4
	colTxnType    = 11
	colTradeDate  = 14
	colTradeTime  = 15
	colQuantity   = 16
	colPrice      = 18
	colRunCounter = 27
	minColumns    = 28
)

// AuditRow is one ingested execution, exactly as it lands in the audit table.
// TradeDate is "2006-01-02" and TxnTime the full minute-key rendering of the
// execution timestamp.
type AuditRow struct {
	ID           int64
	StrategyID   int
	StrategyName string
	TradeDate    string
	Instrument   string
	TxnTime      string
	TxnType      string
	Quantity     float64
	Price        float64
	RunCounter   int
	Status       string
	CreatedAt    time.Time
}

var (
	numericJunk  = regexp.MustCompile(`[^\d.-]`)
	idFilePrefix = regexp.MustCompile(`^(\d{8})_`)
	copySuffix   = regexp.MustCompile(`\s*\(\d+\)$`)
)

// ResolveStrategy maps a report file name to a strategy id, first by the
// eight-digit id prefix, then by the cleaned file name against strategy names.
func ResolveStrategy(fileName string, byID map[string]int, byName map[string]int) (int, bool) {
	if m := idFilePrefix.FindStringSubmatch(fileName); m != nil {
		if id, ok := byID[m[1]]; ok {
			return id, true
		}
	}

	clean := fileName
	for _, ext := range []string{".csv", ".CSV", ".xlsx", ".XLSX"} {
		clean = strings.TrimSuffix(clean, ext)
	}
	clean = strings.TrimSpace(copySuffix.ReplaceAllString(clean, ""))
	id, ok := byName[clean]
	return id, ok
}

// ReadTrades parses a trade report and returns its audit rows, deduplicated
// on the full execution identity. Rows with a blank instrument or an
// unparseable timestamp are skipped, not fatal; a broken row in a report must
// not block the rest of the day's trades.
func ReadTrades(ctx context.Context, r io.Reader, strategyID int, strategyName string) ([]AuditRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var rows []AuditRow
	seen := make(map[string]bool)
	line := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read trade report: %w", err)
		}
		line++
		if line == 1 {
			continue // header
		}
		if len(record) < minColumns {
			continue
		}
		instrument := strings.TrimSpace(record[colInstrument])
		if instrument == "" {
			continue
		}

		ts, err := parseTradeTimestamp(record[colTradeDate], record[colTradeTime])
		if err != nil {
			logger.Warn(ctx, "Unparseable trade timestamp, row skipped",
				"line", line, "date", record[colTradeDate], "time", record[colTradeTime])
			continue
		}

		row := AuditRow{
			StrategyID:   strategyID,
			StrategyName: strategyName,
			TradeDate:    ts.Format("2006-01-02"),
			Instrument:   instrument,
			TxnTime:      marketdata.MinuteKey(ts),
			TxnType:      strings.TrimSpace(record[colTxnType]),
			Quantity:     cleanNumber(record[colQuantity]),
			Price:        cleanNumber(record[colPrice]),
			RunCounter:   int(cleanNumber(record[colRunCounter])),
			Status:       "pending_ohlc",
		}

		key := fmt.Sprintf("%d|%s|%s|%s|%s|%v|%v",
			row.StrategyID, row.TradeDate, row.Instrument, row.TxnTime,
			row.TxnType, row.Quantity, row.Price)
		if seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, row)
	}
	return rows, nil
}

func parseTradeTimestamp(date, clock string) (time.Time, error) {
	combined := strings.TrimSpace(date) + " " + strings.TrimSpace(clock)
	layouts := []string{
		"2006-01-02 15:04:05",
		"2006-01-02 3:04:05 PM",
		"02-01-2006 15:04:05",
		"02/01/2006 15:04:05",
	}
	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, combined, marketdata.IST); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", combined)
}

// cleanNumber strips currency symbols and separators before parsing. A value
// that still fails to parse counts as zero, matching how blank cells land.
func cleanNumber(s string) float64 {
	cleaned := numericJunk.ReplaceAllString(s, "")
	if cleaned == "" {
		return 0
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return v
}
