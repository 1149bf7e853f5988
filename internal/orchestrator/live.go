package orchestrator

import (
	"time"

	"github.com/mercer-quant/sporttrader/internal/exchange"
)

// maxGameDuration bounds how long after its scheduled start a game may
// still be considered "plausibly live" by the market-time fallback
// (spec.md 6.3). This is a coarser, unrelated window from
// exchange.MaxMatchWindow, which instead bounds how far a market's expiry
// may drift from a scheduled start and still be matched to the same game.
func maxGameDuration(sport string) time.Duration {
	switch sport {
	case "basketball":
		return 3 * time.Hour
	case "football":
		return 4 * time.Hour
	case "hockey":
		return 3 * time.Hour
	case "baseball":
		return 4 * time.Hour
	default:
		return 3 * time.Hour
	}
}

// gameStartForFallback resolves the best-effort game start time fed to
// decision.EntryInput.GameStartTime when the scoreboard feed is stale
// (spec.md 4.8 step 3 / 6.3). It prefers the scoreboard's own start time;
// when that is zero, it recovers an approximate game day from the ticker's
// (YY)(MON)(DD) segment — per the spec's open question, that parse
// defaults to 00:00 UTC on game day and must only answer "is it plausibly
// live now", never stand in for an exact clock. The result is zeroed once
// it falls outside the sport's max-duration window (or is in the future),
// so a days-old ticker never reads as still live.
func gameStartForFallback(sport, ticker string, scoreboardStart, now time.Time) time.Time {
	start := scoreboardStart
	if start.IsZero() {
		start = exchange.ParseTickerExpiry(ticker)
	}
	if start.IsZero() || now.Before(start) {
		return time.Time{}
	}
	if now.Sub(start) > maxGameDuration(sport) {
		return time.Time{}
	}
	return start
}
