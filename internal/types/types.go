package types

import "time"

// TxnType is the direction of a single execution as reported by the broker.
type TxnType int

const (
	Buy TxnType = iota
	Sell
)

// ParseTxnType maps the broker's single-letter transaction codes.
func ParseTxnType(s string) (TxnType, bool) {
	switch s {
	case "B", "BUY":
		return Buy, true
	case "S", "SELL":
		return Sell, true
	}
	return Buy, false
}

func (t TxnType) String() string {
	if t == Sell {
		return "S"
	}
	return "B"
}

// Side of an open inventory position. Only meaningful while quantity > 0.
type Side int

const (
	Long Side = iota
	Short
)

func (s Side) String() string {
	if s == Short {
		return "SHORT"
	}
	return "LONG"
}

// Opposite returns the flipped side.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// Trade is one execution attributed to a strategy on a trading day.
// Immutable once ingested; ordered by Time within a (strategy, date) unit.
type Trade struct {
	Instrument string // resolved broker symbol
	Type       TxnType
	Qty        int
	Price      float64
	Time       time.Time // second precision, IST
}

// Bar is one cached 1-minute OHLC candle.
type Bar struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// PnLPoint is one minute of the close-marked PnL series.
type PnLPoint struct {
	Time string  `json:"time"`
	PnL  float64 `json:"pnl"`
}

// BandedPnLPoint is one minute of the high/low-banded series. The three
// values are stored as 2dp strings, matching the persisted wire format.
type BandedPnLPoint struct {
	Time  string `json:"time"`
	Close string `json:"c"`
	High  string `json:"h"`
	Low   string `json:"l"`
}

// DailyPnL is one row of the per-day strategy ledger the summarizer consumes.
// EffCapital is capital normalized by lot size and the month's deployment
// multiplier; it is supplied by the refresh step, never computed here.
type DailyPnL struct {
	StrategyID    int
	TradeDate     time.Time
	PnL           float64
	EffCapital    float64
	CumulativePnL float64
	Multiplier    int
	IsWin         bool
	PnLPercent    float64
}

// StrategyMeta is the strategies-table row the pipeline keys off.
type StrategyMeta struct {
	ID             int
	Name           string
	IndexName      string
	UserName       string
	Grouping       string
	Status         string
	DeploymentType string
	Capital        float64
}

// MonthlyPnL is one calendar month's summed PnL in a scorecard.
type MonthlyPnL struct {
	Month string  `json:"month"`
	PnL   float64 `json:"pnl"`
}

// ExpectancyRecord is a strategy's full risk scorecard, replaced wholesale
// on every recomputation.
type ExpectancyRecord struct {
	StrategyID               int
	StrategyName             string
	WinRate                  float64
	LossRate                 float64
	AverageGain              float64
	AverageLoss              float64
	RiskRewardRatio          float64
	MonthlyExpectancy        float64
	MonthlyExpectancyPercent float64
	MaxDD                    float64
	MaxDDPercent             float64
	MaxDDDurationDays        int
	TradeDaysCount           int
	FirstTradeDate           string
	LastTradeDate            string
	TotalReturnPct           float64
	CAGRPct                  float64
	Last30dReturnPct         float64
	Last90dReturnPct         float64
	AnnualVolatilityPct      float64
	AnnualDownsideVolPct     float64
	SharpeRatio              float64
	SortinoRatio             float64
	CalmarRatio              float64
	Sparkline                []float64
	PositiveMonthsPct        float64
	MonthlyPnL               []MonthlyPnL
	LowSampleFlag            bool
	StrategyCapital          float64
	DeploymentStatus         string
	DeploymentType           string
	LastCalculatedAt         time.Time
}
