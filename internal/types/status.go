package types

// UnitStatus is the terminal state of one (strategy, date) PnL unit. The
// string forms below are the persisted values; everything inside the
// pipeline works with the enum.
type UnitStatus int

const (
	StatusPending UnitStatus = iota
	StatusCompleted
	StatusSkippedInvalidTime
	StatusSkippedNoOHLC
)

func (s UnitStatus) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusSkippedInvalidTime:
		return "skipped_invalid_time"
	case StatusSkippedNoOHLC:
		return "skipped_no_ohlc"
	default:
		return "pending"
	}
}

// OHLCStatus tracks market-data availability for a verification row.
type OHLCStatus int

const (
	OHLCPending OHLCStatus = iota
	OHLCPendingAPISearch
	OHLCVerifiedPresent
	OHLCPartialData
	OHLCMissingAtVault
	OHLCHistoricalUnavailable
)

func (s OHLCStatus) String() string {
	switch s {
	case OHLCPendingAPISearch:
		return "pending_api_search"
	case OHLCVerifiedPresent:
		return "verified_ohlc_present"
	case OHLCPartialData:
		return "partial_ohlc_data"
	case OHLCMissingAtVault:
		return "missing_ohlc_at_vault"
	case OHLCHistoricalUnavailable:
		return "historical_data_unavailable_at_broker"
	default:
		return "pending_ohlc"
	}
}

// Variant selects which of the two intraday series a unit produces.
type Variant int

const (
	VariantClose Variant = iota
	VariantBanded
)

func (v Variant) String() string {
	if v == VariantBanded {
		return "1min_ohlc"
	}
	return "1min_closing"
}

// HeartbeatState is the coarse run state written to the heartbeat channel.
type HeartbeatState int

const (
	HeartbeatRunning HeartbeatState = iota
	HeartbeatSuccess
	HeartbeatError
)

func (h HeartbeatState) String() string {
	switch h {
	case HeartbeatSuccess:
		return "success"
	case HeartbeatError:
		return "error"
	default:
		return "running"
	}
}

// ParseOHLCStatus maps a persisted status string back to the enum.
func ParseOHLCStatus(s string) (OHLCStatus, bool) {
	for _, st := range []OHLCStatus{
		OHLCPending, OHLCPendingAPISearch, OHLCVerifiedPresent,
		OHLCPartialData, OHLCMissingAtVault, OHLCHistoricalUnavailable,
	} {
		if st.String() == s {
			return st, true
		}
	}
	return OHLCPending, false
}
