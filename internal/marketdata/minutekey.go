package marketdata

import "time"

// IST is the exchange timezone. All trade timestamps, minute keys and the
// session close are rendered in it.
var IST = time.FixedZone("IST", 19800)

// MinuteKey renders the bar-cache join key for a minute: trading day plus a
// 12-hour clock with no leading zero on the hour ("2025-10-28 9:16:00 AM").
// The cached bars are stored under exactly this rendering, so any change
// here silently breaks every mark-to-market lookup.
func MinuteKey(t time.Time) string {
	return t.In(IST).Format("2006-01-02 3:04:05 PM")
}

// MinuteLabel renders the series point label for a minute ("9:16 AM").
func MinuteLabel(t time.Time) string {
	return t.In(IST).Format("3:04 PM")
}

// TruncateMinute drops seconds and below.
func TruncateMinute(t time.Time) time.Time {
	t = t.In(IST)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, IST)
}

// SessionClose returns 15:30:00 IST on the given trading day. Trades after
// it are malformed input and bars beyond it are never consulted.
func SessionClose(tradeDate time.Time) time.Time {
	d := tradeDate.In(IST)
	return time.Date(d.Year(), d.Month(), d.Day(), 15, 30, 0, 0, IST)
}

// SessionOpen returns 09:15:00 IST on the given trading day.
func SessionOpen(tradeDate time.Time) time.Time {
	d := tradeDate.In(IST)
	return time.Date(d.Year(), d.Month(), d.Day(), 9, 15, 0, 0, IST)
}
