package engine

import (
	"math"
	"testing"
	"time"

	"pnl-pipeline/internal/marketdata"
	"pnl-pipeline/internal/types"
)

func trade(sym string, tt types.TxnType, qty int, price float64, hh, mm, ss int) types.Trade {
	return types.Trade{
		Instrument: sym,
		Type:       tt,
		Qty:        qty,
		Price:      price,
		Time:       time.Date(2025, 10, 28, hh, mm, ss, 0, marketdata.IST),
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestBookWeightedAverageLong(t *testing.T) {
	b := newBook()
	b.apply(trade("NIFTYOCT25P24400", types.Buy, 50, 100, 9, 20, 0))
	b.apply(trade("NIFTYOCT25P24400", types.Buy, 50, 110, 9, 21, 0))

	pos := b.positions["NIFTYOCT25P24400"]
	if pos.qty != 100 {
		t.Fatalf("qty = %d, want 100", pos.qty)
	}
	if !almostEqual(pos.avgPrice, 105) {
		t.Fatalf("avgPrice = %v, want 105", pos.avgPrice)
	}
	if pos.side != types.Long {
		t.Fatalf("side = %v, want LONG", pos.side)
	}
	if b.realized != 0 {
		t.Fatalf("realized = %v, want 0", b.realized)
	}
}

func TestBookWeightedAverageShort(t *testing.T) {
	b := newBook()
	b.apply(trade("NIFTYOCT25C24500", types.Sell, 50, 100, 9, 20, 0))
	b.apply(trade("NIFTYOCT25C24500", types.Sell, 50, 98, 9, 22, 0))

	pos := b.positions["NIFTYOCT25C24500"]
	if pos.qty != 100 {
		t.Fatalf("qty = %d, want 100", pos.qty)
	}
	if !almostEqual(pos.avgPrice, 99) {
		t.Fatalf("avgPrice = %v, want 99", pos.avgPrice)
	}
	if pos.side != types.Short {
		t.Fatalf("side = %v, want SHORT", pos.side)
	}
}

func TestBookPartialCloseRealizes(t *testing.T) {
	b := newBook()
	b.apply(trade("NIFTYOCT25P24400", types.Buy, 100, 105, 9, 20, 0))
	b.apply(trade("NIFTYOCT25P24400", types.Sell, 40, 108, 9, 25, 0))

	if !almostEqual(b.realized, 120) {
		t.Fatalf("realized = %v, want 120", b.realized)
	}
	pos := b.positions["NIFTYOCT25P24400"]
	if pos.qty != 60 {
		t.Fatalf("qty = %d, want 60", pos.qty)
	}
	if !almostEqual(pos.avgPrice, 105) {
		t.Fatalf("avgPrice = %v, want 105 (partial close must not touch it)", pos.avgPrice)
	}
}

func TestBookFlipRealizesAndReopens(t *testing.T) {
	b := newBook()
	b.apply(trade("NIFTYOCT25P24400", types.Buy, 100, 105, 9, 20, 0))
	b.apply(trade("NIFTYOCT25P24400", types.Sell, 120, 108, 9, 25, 0))

	if !almostEqual(b.realized, 300) {
		t.Fatalf("realized = %v, want 300", b.realized)
	}
	pos := b.positions["NIFTYOCT25P24400"]
	if pos.qty != 20 {
		t.Fatalf("qty = %d, want 20", pos.qty)
	}
	if pos.side != types.Short {
		t.Fatalf("side = %v, want SHORT after flip", pos.side)
	}
	if !almostEqual(pos.avgPrice, 108) {
		t.Fatalf("avgPrice = %v, want 108", pos.avgPrice)
	}
}

func TestBookShortCloseRealizes(t *testing.T) {
	b := newBook()
	b.apply(trade("NIFTYOCT25C24500", types.Sell, 100, 99, 9, 20, 0))
	b.apply(trade("NIFTYOCT25C24500", types.Buy, 100, 95, 9, 40, 0))

	if !almostEqual(b.realized, 400) {
		t.Fatalf("realized = %v, want 400", b.realized)
	}
	if b.hasOpen() {
		t.Fatal("book should be flat after full short cover")
	}
}

func TestBookReopenAfterFlat(t *testing.T) {
	b := newBook()
	b.apply(trade("NIFTYOCT25P24400", types.Buy, 50, 100, 9, 20, 0))
	b.apply(trade("NIFTYOCT25P24400", types.Sell, 50, 102, 9, 25, 0))
	b.apply(trade("NIFTYOCT25P24400", types.Sell, 30, 110, 9, 30, 0))

	pos := b.positions["NIFTYOCT25P24400"]
	if pos.side != types.Short || pos.qty != 30 {
		t.Fatalf("pos = %+v, want fresh SHORT 30", pos)
	}
	if !almostEqual(pos.avgPrice, 110) {
		t.Fatalf("avgPrice = %v, want 110", pos.avgPrice)
	}
	if !almostEqual(b.realized, 100) {
		t.Fatalf("realized = %v, want 100", b.realized)
	}
}

func TestBookMarkBandedShortMirrorsBand(t *testing.T) {
	b := newBook()
	b.apply(trade("NIFTYOCT25C24500", types.Sell, 10, 100, 9, 20, 0))

	cache := marketdata.NewDayCache()
	key := "2025-10-28 9:20:00 AM"
	cache.Put("NIFTYOCT25C24500", key, types.Bar{Open: 98, High: 103, Low: 96, Close: 99})

	c, h, l := b.markBanded(cache, key)
	if !almostEqual(c, 10) {
		t.Fatalf("close mark = %v, want 10", c)
	}
	// best case for a short is the bar's low, worst its high
	if !almostEqual(h, 40) {
		t.Fatalf("high mark = %v, want 40", h)
	}
	if !almostEqual(l, -30) {
		t.Fatalf("low mark = %v, want -30", l)
	}
}

func TestBookMarkMissingBarContributesZero(t *testing.T) {
	b := newBook()
	b.apply(trade("NIFTYOCT25P24400", types.Buy, 10, 100, 9, 20, 0))
	b.apply(trade("NIFTYOCT25C24500", types.Sell, 10, 50, 9, 20, 30))

	cache := marketdata.NewDayCache()
	key := "2025-10-28 9:20:00 AM"
	cache.Put("NIFTYOCT25P24400", key, types.Bar{Close: 104, High: 104, Low: 104})

	if got := b.markClose(cache, key); !almostEqual(got, 40) {
		t.Fatalf("markClose = %v, want 40 (missing bar skipped)", got)
	}
}

func TestBookMarkZeroCloseBarContributesZero(t *testing.T) {
	b := newBook()
	b.apply(trade("NIFTYOCT25P24400", types.Buy, 10, 100, 9, 20, 0))
	b.apply(trade("NIFTYOCT25C24500", types.Sell, 10, 50, 9, 20, 30))

	cache := marketdata.NewDayCache()
	key := "2025-10-28 9:20:00 AM"
	cache.Put("NIFTYOCT25P24400", key, types.Bar{Close: 104, High: 104, Low: 104})
	// a cached gap row: present but priceless
	cache.Put("NIFTYOCT25C24500", key, types.Bar{})

	if got := b.markClose(cache, key); !almostEqual(got, 40) {
		t.Fatalf("markClose = %v, want 40 (zero-close bar skipped)", got)
	}
	c, h, l := b.markBanded(cache, key)
	if !almostEqual(c, 40) || !almostEqual(h, 40) || !almostEqual(l, 40) {
		t.Fatalf("markBanded = (%v, %v, %v), want (40, 40, 40)", c, h, l)
	}
}
