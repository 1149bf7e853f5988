package exchange

import (
	"regexp"
	"strconv"
	"time"
)

// Kalshi-shaped event tickers encode the expiry date as (YY)(MON)(DD), e.g.
// "KXNBAGAME-26JAN15-BOS" for 2026-01-15. When a market's
// expected_expiration_time/close_time fields are missing or unparsable,
// ParseTickerExpiry recovers an approximate date from the ticker itself so
// the orchestrator's liveness fallback still knows which day the game is on.
// The day digits may be followed directly by team codes, as in
// "KXNBAGAME-26FEB07GSWLAL-LAL".
var tickerDatePattern = regexp.MustCompile(`-(\d{2})([A-Z]{3})(\d{2})`)

var monthAbbrev = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}

// ParseTickerExpiry extracts a (YY)(MON)(DD) date from a market ticker.
// Returns the zero time if the ticker doesn't contain a recognizable date
// segment. The extracted date has no time-of-day component — callers only
// use it to judge whether a game is plausibly live, never to estimate time
// remaining.
func ParseTickerExpiry(ticker string) time.Time {
	m := tickerDatePattern.FindStringSubmatch(ticker)
	if m == nil {
		return time.Time{}
	}
	yy, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}
	}
	month, ok := monthAbbrev[m[2]]
	if !ok {
		return time.Time{}
	}
	day, err := strconv.Atoi(m[3])
	if err != nil {
		return time.Time{}
	}
	return time.Date(2000+yy, month, day, 0, 0, 0, 0, time.UTC)
}

// MaxMatchWindow returns how far a market's expiry may drift from a game's
// scheduled start and still be considered the same event, per sport. Wider
// for sports whose slate has more doubleheader collisions.
func MaxMatchWindow(sport string) time.Duration {
	switch sport {
	case "soccer":
		return 16 * time.Hour
	case "hockey":
		return 12 * time.Hour
	case "baseball":
		return 20 * time.Hour // day/night doubleheaders
	default:
		return 12 * time.Hour
	}
}
