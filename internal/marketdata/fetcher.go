package marketdata

import (
	"context"
	"fmt"
	"strings"

	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"pnl-pipeline/internal/logger"
	"pnl-pipeline/internal/types"
)

// CachedBar is one row destined for the market bar cache table.
type CachedBar struct {
	Token  int
	Symbol string
	TS     string // minute key, see MinuteKey
	Bar    types.Bar
}

// Fetcher pulls 1-minute historical candles from the broker for days the
// cache is missing. It lazily authenticates on first use so runs with a warm
// cache never touch the broker.
type Fetcher struct {
	apiKey      string
	accessToken string
	exchange    string

	kc     *kiteconnect.Client
	tokens map[string]int
}

// NewFetcher creates a fetcher for the given broker credentials.
func NewFetcher(apiKey, accessToken, exchange string) *Fetcher {
	if exchange == "" {
		exchange = "NFO"
	}
	return &Fetcher{apiKey: apiKey, accessToken: accessToken, exchange: exchange}
}

func (f *Fetcher) client() *kiteconnect.Client {
	if f.kc == nil {
		f.kc = kiteconnect.New(f.apiKey)
		f.kc.SetAccessToken(f.accessToken)
	}
	return f.kc
}

// ResolveToken finds the instrument token for a broker trading symbol. The
// full instrument dump is fetched once per run and cached.
func (f *Fetcher) ResolveToken(ctx context.Context, symbol string) (int, error) {
	if f.tokens == nil {
		logger.Info(ctx, "Loading instrument dump", "exchange", f.exchange)
		instruments, err := f.client().GetInstrumentsByExchange(f.exchange)
		if err != nil {
			return 0, fmt.Errorf("instrument dump for %s: %w", f.exchange, err)
		}
		f.tokens = make(map[string]int, len(instruments))
		for _, inst := range instruments {
			f.tokens[strings.ToUpper(strings.TrimSpace(inst.Tradingsymbol))] = inst.InstrumentToken
		}
	}

	token, ok := f.tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return 0, fmt.Errorf("no instrument token for symbol %s", symbol)
	}
	return token, nil
}

// DayCandles fetches the full session of 1-minute candles for one instrument
// on one trading day, keyed ready for the cache table.
func (f *Fetcher) DayCandles(ctx context.Context, token int, symbol string, tradeDate time.Time) ([]CachedBar, error) {
	from := SessionOpen(tradeDate)
	to := SessionClose(tradeDate)

	candles, err := f.client().GetHistoricalData(token, "minute", from, to, false, false)
	if err != nil {
		return nil, fmt.Errorf("historical candles %s %s: %w", symbol, tradeDate.Format("2006-01-02"), err)
	}

	bars := make([]CachedBar, 0, len(candles))
	for _, c := range candles {
		bars = append(bars, CachedBar{
			Token:  token,
			Symbol: symbol,
			TS:     MinuteKey(c.Date.Time),
			Bar: types.Bar{
				Open:   c.Open,
				High:   c.High,
				Low:    c.Low,
				Close:  c.Close,
				Volume: int64(c.Volume),
			},
		})
	}
	return bars, nil
}
