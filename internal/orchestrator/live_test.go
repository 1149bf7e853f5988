package orchestrator

import (
	"testing"
	"time"
)

func TestMaxGameDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"basketball": 3 * time.Hour,
		"hockey":     3 * time.Hour,
		"football":   4 * time.Hour,
		"baseball":   4 * time.Hour,
		"esports":    3 * time.Hour,
	}
	for sport, want := range cases {
		if got := maxGameDuration(sport); got != want {
			t.Errorf("maxGameDuration(%q) = %s, want %s", sport, got, want)
		}
	}
}

func TestGameStartForFallback_PrefersScoreboardStart(t *testing.T) {
	now := time.Date(2026, 1, 10, 20, 0, 0, 0, time.UTC)
	start := now.Add(-1 * time.Hour)

	got := gameStartForFallback("basketball", "KXNBA-26JAN10-LALBOS", start, now)
	if !got.Equal(start) {
		t.Fatalf("expected scoreboard start %s, got %s", start, got)
	}
}

func TestGameStartForFallback_FutureGameIsNotLive(t *testing.T) {
	now := time.Date(2026, 1, 10, 20, 0, 0, 0, time.UTC)
	start := now.Add(1 * time.Hour)

	got := gameStartForFallback("basketball", "ignored", start, now)
	if !got.IsZero() {
		t.Fatalf("expected zero time for a game that hasn't started, got %s", got)
	}
}

func TestGameStartForFallback_OutsideMaxDurationIsNotLive(t *testing.T) {
	now := time.Date(2026, 1, 10, 20, 0, 0, 0, time.UTC)
	start := now.Add(-4 * time.Hour) // basketball max is 3h

	got := gameStartForFallback("basketball", "ignored", start, now)
	if !got.IsZero() {
		t.Fatalf("expected zero time once past max game duration, got %s", got)
	}
}

func TestGameStartForFallback_FallsBackToTickerWhenScoreboardUnknown(t *testing.T) {
	now := time.Date(2026, 1, 10, 2, 0, 0, 0, time.UTC) // within football's 4h window of the ticker's 00:00 UTC estimate

	got := gameStartForFallback("football", "KXNFL-26JAN10-DALPHI", time.Time{}, now)
	if got.IsZero() {
		t.Fatalf("expected ticker-derived fallback start for a recent game, got zero")
	}
	if got.Year() != 2026 || int(got.Month()) != 1 || got.Day() != 10 {
		t.Fatalf("expected ticker date 2026-01-10, got %s", got)
	}
}

func TestGameStartForFallback_ZeroEverythingIsNotLive(t *testing.T) {
	got := gameStartForFallback("basketball", "not-a-ticker", time.Time{}, time.Time{})
	if !got.IsZero() {
		t.Fatalf("expected zero time when nothing resolves a start, got %s", got)
	}
}
