package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"pnl-pipeline/internal/marketdata"
	"pnl-pipeline/internal/types"
)

var tradeDate = time.Date(2025, 10, 28, 0, 0, 0, 0, marketdata.IST)

func dayBars(t *testing.T, sym string, closes map[string]float64) *marketdata.DayCache {
	t.Helper()
	cache := marketdata.NewDayCache()
	for key, c := range closes {
		cache.Put(sym, key, types.Bar{Open: c, High: c, Low: c, Close: c})
	}
	return cache
}

func TestComputeCloseFullSession(t *testing.T) {
	sym := "NIFTYOCT25P24400"
	trades := []types.Trade{
		trade(sym, types.Buy, 100, 105, 9, 20, 15),
		trade(sym, types.Sell, 40, 108, 9, 21, 5),
		trade(sym, types.Sell, 60, 107, 9, 25, 40),
	}
	bars := dayBars(t, sym, map[string]float64{
		"2025-10-28 9:20:00 AM": 106,
		"2025-10-28 9:21:00 AM": 107,
		"2025-10-28 9:22:00 AM": 106,
		// 9:23 deliberately missing
		"2025-10-28 9:24:00 AM": 105.5,
		"2025-10-28 9:25:00 AM": 107,
	})

	points, err := New().ComputeClose(context.Background(), trades, bars, tradeDate)
	if err != nil {
		t.Fatalf("ComputeClose: %v", err)
	}

	want := []types.PnLPoint{
		{Time: "9:20 AM", PnL: 100},
		{Time: "9:21 AM", PnL: 240},
		{Time: "9:22 AM", PnL: 180},
		{Time: "9:23 AM", PnL: 120}, // missing bar, realized only
		{Time: "9:24 AM", PnL: 150},
		{Time: "9:25 AM", PnL: 240},
		{Time: "9:26 AM", PnL: 240},
	}
	if !reflect.DeepEqual(points, want) {
		t.Fatalf("series mismatch:\n got  %+v\n want %+v", points, want)
	}
}

func TestComputeCloseFlipMarksResidualShort(t *testing.T) {
	sym := "NIFTYOCT25P24400"
	trades := []types.Trade{
		trade(sym, types.Buy, 50, 100, 9, 20, 0),
		trade(sym, types.Buy, 50, 110, 9, 21, 0),
		trade(sym, types.Sell, 120, 108, 9, 25, 0),
	}
	bars := dayBars(t, sym, map[string]float64{
		"2025-10-28 9:25:00 AM": 107,
	})

	points, err := New().ComputeClose(context.Background(), trades, bars, tradeDate)
	if err != nil {
		t.Fatalf("ComputeClose: %v", err)
	}

	// realized (108-105)*100 = 300, residual SHORT 20@108 marked at 107 = +20
	var got *types.PnLPoint
	for i := range points {
		if points[i].Time == "9:25 AM" {
			got = &points[i]
			break
		}
	}
	if got == nil {
		t.Fatalf("no point at 9:25 AM in %d-point series", len(points))
	}
	if got.PnL != 320 {
		t.Fatalf("pnl at 9:25 AM = %v, want 320", got.PnL)
	}
}

func TestComputeBandedFormatsTwoDecimals(t *testing.T) {
	sym := "NIFTYOCT25P24400"
	trades := []types.Trade{
		trade(sym, types.Buy, 10, 100, 9, 20, 10),
		trade(sym, types.Sell, 10, 101.5, 9, 21, 20),
	}
	cache := marketdata.NewDayCache()
	cache.Put(sym, "2025-10-28 9:20:00 AM", types.Bar{Open: 100.5, High: 102, Low: 99.5, Close: 101})

	points, err := New().ComputeBanded(context.Background(), trades, cache, tradeDate)
	if err != nil {
		t.Fatalf("ComputeBanded: %v", err)
	}

	want := []types.BandedPnLPoint{
		{Time: "9:20 AM", Close: "10.00", High: "20.00", Low: "-5.00"},
		{Time: "9:21 AM", Close: "15.00", High: "15.00", Low: "15.00"},
		{Time: "9:22 AM", Close: "15.00", High: "15.00", Low: "15.00"},
	}
	if !reflect.DeepEqual(points, want) {
		t.Fatalf("series mismatch:\n got  %+v\n want %+v", points, want)
	}
}

func TestComputeCloseRunsThroughSessionClose(t *testing.T) {
	sym := "NIFTYOCT25P24400"
	trades := []types.Trade{
		trade(sym, types.Buy, 10, 100, 15, 28, 10),
	}

	points, err := New().ComputeClose(context.Background(), trades, marketdata.NewDayCache(), tradeDate)
	if err != nil {
		t.Fatalf("ComputeClose: %v", err)
	}

	labels := []string{"3:28 PM", "3:29 PM", "3:30 PM"}
	if len(points) != len(labels) {
		t.Fatalf("got %d points, want %d", len(points), len(labels))
	}
	for i, p := range points {
		if p.Time != labels[i] {
			t.Fatalf("point %d label = %q, want %q", i, p.Time, labels[i])
		}
		if p.PnL != 0 {
			t.Fatalf("point %d pnl = %v, want 0 with no bars", i, p.PnL)
		}
	}
}

func TestComputeCloseNoTrades(t *testing.T) {
	_, err := New().ComputeClose(context.Background(), nil, marketdata.NewDayCache(), tradeDate)
	if !errors.Is(err, ErrNoTrades) {
		t.Fatalf("err = %v, want ErrNoTrades", err)
	}
}

func TestComputeCloseAfterSessionClose(t *testing.T) {
	trades := []types.Trade{
		trade("NIFTYOCT25P24400", types.Buy, 10, 100, 15, 45, 0),
	}
	_, err := New().ComputeClose(context.Background(), trades, marketdata.NewDayCache(), tradeDate)
	if !errors.Is(err, ErrAfterSessionClose) {
		t.Fatalf("err = %v, want ErrAfterSessionClose", err)
	}
}

func TestComputeCloseDeterministicAcrossRuns(t *testing.T) {
	put := "NIFTYOCT25P24400"
	call := "NIFTYOCT25C24500"
	trades := []types.Trade{
		trade(put, types.Buy, 75, 100.25, 9, 20, 5),
		trade(call, types.Sell, 75, 80.10, 9, 20, 40),
		trade(put, types.Sell, 75, 101.40, 9, 22, 0),
		trade(call, types.Buy, 75, 79.55, 9, 22, 10),
	}
	cache := marketdata.NewDayCache()
	for _, key := range []string{
		"2025-10-28 9:20:00 AM",
		"2025-10-28 9:21:00 AM",
		"2025-10-28 9:22:00 AM",
	} {
		cache.Put(put, key, types.Bar{Open: 100.7, High: 101.9, Low: 100.1, Close: 100.7})
		cache.Put(call, key, types.Bar{Open: 79.9, High: 80.4, Low: 79.3, Close: 79.9})
	}

	eng := New()
	first, err := eng.ComputeClose(context.Background(), trades, cache, tradeDate)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	for i := 0; i < 50; i++ {
		again, err := eng.ComputeClose(context.Background(), trades, cache, tradeDate)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d diverged:\n got  %+v\n want %+v", i, again, first)
		}
	}
}
