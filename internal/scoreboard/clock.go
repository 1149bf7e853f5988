package scoreboard

import (
	"strconv"
	"strings"
)

// parseClockSeconds parses a "MM:SS" display clock into seconds, returning
// 0 on any malformed input rather than erroring — a bad clock string is not
// fatal to tracking a game, just to estimating time remaining precisely.
func parseClockSeconds(display string) int {
	parts := strings.Split(display, ":")
	if len(parts) != 2 {
		return 0
	}
	minutes, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	seconds, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 0
	}
	return minutes*60 + seconds
}

// timeRemainingSeconds estimates seconds left in the game: remaining time
// in the current period, plus full remaining periods at the sport's period
// length. Sports without a fixed period length (baseball) return the raw
// clock seconds unchanged — there is no way to estimate further.
func timeRemainingSeconds(entry SportEntry, clockSeconds, period int) int {
	if entry.PeriodLengthSeconds == 0 {
		return clockSeconds
	}
	remainingPeriods := entry.TotalPeriods - period
	if remainingPeriods < 0 {
		remainingPeriods = 0
	}
	return clockSeconds + remainingPeriods*entry.PeriodLengthSeconds
}

// mlbOutsRemaining estimates total outs remaining in a 9-inning game from
// the current inning, half (top/bottom), and outs recorded in the current
// half-inning.
func mlbOutsRemaining(period int, isTop bool, outsInInning int) int {
	remainingInnings := 9 - period
	if remainingInnings < 0 {
		remainingInnings = 0
	}
	if isTop {
		return remainingInnings*6 + (3 - outsInInning) + 3
	}
	return remainingInnings*6 + (3 - outsInInning)
}

// elapsedSoccerMinutes converts a count-up clock plus half into total
// elapsed minutes: the second half's clock resumes from 0 but the game
// clock is really clock + 45.
func elapsedSoccerMinutes(clockSeconds, period int) float64 {
	minutes := float64(clockSeconds) / 60
	if period == 2 {
		minutes += 45
	}
	return minutes
}
