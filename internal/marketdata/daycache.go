package marketdata

import "pnl-pipeline/internal/types"

type barKey struct {
	instrument string
	minuteKey  string
}

// DayCache is an in-memory view of one trading day's cached bars for the
// instruments a unit touches. It is built once before a replay and read-only
// afterwards, so lookups need no locking.
type DayCache struct {
	bars map[barKey]types.Bar
}

// NewDayCache returns an empty cache sized for a full session of bars.
func NewDayCache() *DayCache {
	return &DayCache{bars: make(map[barKey]types.Bar, 400)}
}

// Put stores a bar under its instrument and minute key.
func (c *DayCache) Put(instrument, minuteKey string, b types.Bar) {
	c.bars[barKey{instrument, minuteKey}] = b
}

// Bar returns the bar for an instrument at a minute, or false on a miss.
func (c *DayCache) Bar(instrument, minuteKey string) (types.Bar, bool) {
	b, ok := c.bars[barKey{instrument, minuteKey}]
	return b, ok
}

// Len reports the number of cached bars.
func (c *DayCache) Len() int { return len(c.bars) }
