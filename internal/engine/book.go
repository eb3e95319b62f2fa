package engine

import (
	"pnl-pipeline/internal/interfaces"
	"pnl-pipeline/internal/types"
)

// position is one instrument's open inventory. avgPrice and side are only
// meaningful while qty > 0; entries are kept at qty 0 rather than deleted so
// a later reopen reuses the slot.
type position struct {
	qty      int
	avgPrice float64
	side     types.Side
}

// book is the inventory state of a single replay. It is allocated at run
// start, owned exclusively by that run, and discarded with it. Instruments
// are tracked in first-seen order so that mark-to-market sums are added in a
// fixed order and the emitted series is byte-identical across reruns.
type book struct {
	positions map[string]*position
	order     []string
	realized  float64
}

func newBook() *book {
	return &book{positions: make(map[string]*position)}
}

// apply folds one trade into the book, accumulating realized PnL on closes.
func (b *book) apply(t types.Trade) {
	pos := b.positions[t.Instrument]
	if pos == nil {
		pos = &position{}
		b.positions[t.Instrument] = pos
		b.order = append(b.order, t.Instrument)
	}

	if pos.qty == 0 {
		pos.qty = t.Qty
		pos.avgPrice = t.Price
		if t.Type == types.Sell {
			pos.side = types.Short
		} else {
			pos.side = types.Long
		}
		return
	}

	sameDirection := (pos.side == types.Long && t.Type == types.Buy) ||
		(pos.side == types.Short && t.Type == types.Sell)
	if sameDirection {
		total := pos.qty + t.Qty
		pos.avgPrice = (pos.avgPrice*float64(pos.qty) + t.Price*float64(t.Qty)) / float64(total)
		pos.qty = total
		return
	}

	sign := 1.0
	if pos.side == types.Short {
		sign = -1.0
	}

	if t.Qty > pos.qty {
		// full close plus flip: the excess opens a fresh position at the
		// trade's price on the opposite side
		b.realized += (t.Price - pos.avgPrice) * float64(pos.qty) * sign
		pos.side = pos.side.Opposite()
		pos.qty = t.Qty - pos.qty
		pos.avgPrice = t.Price
		return
	}

	b.realized += (t.Price - pos.avgPrice) * float64(t.Qty) * sign
	pos.qty -= t.Qty
}

// hasOpen reports whether any instrument still holds quantity.
func (b *book) hasOpen() bool {
	for _, sym := range b.order {
		if b.positions[sym].qty > 0 {
			return true
		}
	}
	return false
}

// markClose sums close-marked unrealized PnL over all open positions. A
// missing bar, or a cached bar with a zero close, contributes zero for that
// instrument at that minute; zero is a gap sentinel in the cache, never a
// real option price.
func (b *book) markClose(bars interfaces.BarProvider, minuteKey string) float64 {
	var unrealized float64
	for _, sym := range b.order {
		pos := b.positions[sym]
		if pos.qty == 0 {
			continue
		}
		bar, ok := bars.Bar(sym, minuteKey)
		if !ok || bar.Close == 0 {
			continue
		}
		if pos.side == types.Long {
			unrealized += (bar.Close - pos.avgPrice) * float64(pos.qty)
		} else {
			unrealized += (pos.avgPrice - bar.Close) * float64(pos.qty)
		}
	}
	return unrealized
}

// markBanded sums close/high/low-marked unrealized PnL over all open
// positions. For shorts the band is mirrored: best case marks at the bar's
// low, worst case at its high.
func (b *book) markBanded(bars interfaces.BarProvider, minuteKey string) (c, h, l float64) {
	for _, sym := range b.order {
		pos := b.positions[sym]
		if pos.qty == 0 {
			continue
		}
		bar, ok := bars.Bar(sym, minuteKey)
		if !ok || bar.Close == 0 {
			continue
		}
		qty := float64(pos.qty)
		if pos.side == types.Long {
			c += (bar.Close - pos.avgPrice) * qty
			h += (bar.High - pos.avgPrice) * qty
			l += (bar.Low - pos.avgPrice) * qty
		} else {
			c += (pos.avgPrice - bar.Close) * qty
			h += (pos.avgPrice - bar.Low) * qty
			l += (pos.avgPrice - bar.High) * qty
		}
	}
	return c, h, l
}
