package matcher

import (
	"testing"

	"github.com/mercer-quant/sporttrader/internal/discovery"
)

func TestMatch_TokenOverlapFindsBestCandidate(t *testing.T) {
	markets := []discovery.DiscoveredMarket{
		{Ticker: "KXNBAGAME-A", Sport: "basketball", HomeTeam: "Boston Celtics", AwayTeam: "Miami Heat", Volume24h: 100},
		{Ticker: "KXNBAGAME-B", Sport: "basketball", HomeTeam: "Los Angeles Lakers", AwayTeam: "Golden State Warriors", Volume24h: 900},
	}

	match, ok := Match("basketball", "Boston Celtics", "Miami Heat", "", markets, nil)
	if !ok {
		t.Fatal("expected a match")
	}
	if match.Ticker != "KXNBAGAME-A" {
		t.Fatalf("expected KXNBAGAME-A, got %s", match.Ticker)
	}
}

func TestMatch_PinnedTickerBypassesTextMatching(t *testing.T) {
	markets := []discovery.DiscoveredMarket{
		{Ticker: "KXNBAGAME-A", Sport: "basketball", HomeTeam: "Boston Celtics", AwayTeam: "Miami Heat"},
		{Ticker: "KXNBAGAME-B", Sport: "basketball", HomeTeam: "Totally Unrelated", AwayTeam: "Other Team"},
	}

	match, ok := Match("basketball", "Boston Celtics", "Miami Heat", "KXNBAGAME-B", markets, nil)
	if !ok || match.Ticker != "KXNBAGAME-B" {
		t.Fatalf("expected pinned ticker to win regardless of team text, got %+v ok=%v", match, ok)
	}
}

func TestMatch_TieBreaksByVolume(t *testing.T) {
	markets := []discovery.DiscoveredMarket{
		{Ticker: "LOW-VOL", Sport: "soccer", HomeTeam: "Manchester United", AwayTeam: "Chelsea", Volume24h: 10},
		{Ticker: "HIGH-VOL", Sport: "soccer", HomeTeam: "Manchester United", AwayTeam: "Chelsea", Volume24h: 5000},
	}

	match, ok := Match("soccer", "Manchester United", "Chelsea", "", markets, nil)
	if !ok || match.Ticker != "HIGH-VOL" {
		t.Fatalf("expected the higher-volume market to win the tie, got %+v ok=%v", match, ok)
	}
}

func TestMatch_NoCandidateReturnsFalse(t *testing.T) {
	markets := []discovery.DiscoveredMarket{
		{Ticker: "UNRELATED", Sport: "basketball", HomeTeam: "Phoenix Suns", AwayTeam: "Denver Nuggets"},
	}
	_, ok := Match("basketball", "Boston Celtics", "Miami Heat", "", markets, nil)
	if ok {
		t.Fatal("expected no match")
	}
}
