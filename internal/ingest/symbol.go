package ingest

import (
	"fmt"
	"strings"
	"time"
)

// TranslateInstrument converts an exchange option identifier to the broker's
// trading symbol. Monthly expiries (last Thursday of the month) drop the day:
//
//	OPTIDX_NIFTY_28OCT2025_PE_24400 -> NIFTYOCT25P24400
//	OPTIDX_NIFTY_16OCT2025_PE_24400 -> NIFTY16OCT25P24400
//
// Identifiers outside the OPTIDX family pass through unchanged.
func TranslateInstrument(name string) (string, error) {
	parts := strings.Split(name, "_")
	if len(parts) == 0 || parts[0] != "OPTIDX" {
		return name, nil
	}
	if len(parts) < 5 {
		return "", fmt.Errorf("malformed option identifier %q", name)
	}

	symbol, expiryStr, optType, strike := parts[1], parts[2], parts[3], parts[4]
	if optType == "" {
		return "", fmt.Errorf("missing option type in %q", name)
	}

	expiry, err := time.Parse("02Jan2006", toTitleMonth(expiryStr))
	if err != nil {
		return "", fmt.Errorf("bad expiry %q in %q: %w", expiryStr, name, err)
	}
	if len(expiryStr) != 9 {
		return "", fmt.Errorf("bad expiry %q in %q", expiryStr, name)
	}

	day := expiryStr[:2]
	monthAbbr := strings.ToUpper(expiryStr[2:5])
	yearShort := expiryStr[7:]
	typeLetter := string(optType[0])

	if isMonthlyExpiry(expiry) {
		return symbol + monthAbbr + yearShort + typeLetter + strike, nil
	}
	return symbol + day + monthAbbr + yearShort + typeLetter + strike, nil
}

// isMonthlyExpiry reports whether the date is the last Thursday of its month.
func isMonthlyExpiry(d time.Time) bool {
	if d.Weekday() != time.Thursday {
		return false
	}
	return d.AddDate(0, 0, 7).Month() != d.Month()
}

// toTitleMonth normalizes 28OCT2025 to 28Oct2025 for time.Parse.
func toTitleMonth(expiry string) string {
	if len(expiry) != 9 {
		return expiry
	}
	month := expiry[2:5]
	return expiry[:2] + strings.ToUpper(month[:1]) + strings.ToLower(month[1:]) + expiry[5:]
}
