// Package discovery enumerates tradable event markets on the exchange and
// extracts team identity fields from them, generalizing the market side of
// the teacher's ticker/resolver.go away from a hardcoded Kalshi series
// vocabulary.
package discovery

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mercer-quant/sporttrader/internal/exchange"
)

// DiscoveredMarket is one tradable event market with team identity fields
// extracted, ready for the Market Matcher to join against a tracked game.
type DiscoveredMarket struct {
	Ticker        string
	EventTicker   string
	Sport         string
	HomeTeam      string
	AwayTeam      string
	GameStartTime time.Time
	Volume24h     int64
	Market        exchange.Market
}

// SeriesTable maps a sport to the series tickers the exchange groups its
// markets under. Adding a sport is a table entry, not a new code path.
type SeriesTable map[string][]string

// LoadSeriesTable reads a sport -> series-ticker-list mapping from a single
// YAML file, e.g.:
//
//	basketball: [KXNBA]
//	football: [KXNFL, KXNCAAF]
//
// A missing file is not an error; Discover simply has nothing to enumerate
// for that run, same as an empty table.
func LoadSeriesTable(path string) (SeriesTable, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return SeriesTable{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("discovery: read series table %s: %w", path, err)
	}
	var st SeriesTable
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("discovery: parse series table %s: %w", path, err)
	}
	return st, nil
}

const discoveryWindow = 48 * time.Hour

// Discover enumerates every open market across every configured series,
// keeping only those starting within the next 48 hours or already live, and
// drops parlays (multi-leg markets, identified by more than two team names
// in the title).
func Discover(ctx context.Context, client exchange.Client, series SeriesTable) ([]DiscoveredMarket, error) {
	now := time.Now()
	var out []DiscoveredMarket

	for sport, tickers := range series {
		for _, seriesTicker := range tickers {
			markets, err := client.GetMarkets(ctx, seriesTicker)
			if err != nil {
				return nil, err
			}
			for _, m := range markets {
				home, away, ok := extractTeams(m)
				if !ok {
					continue
				}
				if isParlay(m.Title) {
					continue
				}
				if !m.ExpiresAt.IsZero() && m.ExpiresAt.Before(now) {
					continue
				}
				if !m.ExpiresAt.IsZero() && m.ExpiresAt.After(now.Add(discoveryWindow)) {
					continue
				}

				out = append(out, DiscoveredMarket{
					Ticker:        m.Ticker,
					EventTicker:   m.EventTicker,
					Sport:         sport,
					HomeTeam:      home,
					AwayTeam:      away,
					GameStartTime: m.ExpiresAt,
					Volume24h:     m.Volume24h,
					Market:        m,
				})
			}
		}
	}
	return out, nil
}

// extractTeams pulls home/away team names from structured market fields
// first (YesSubTitle/NoSubTitle), falling back to parsing the question
// title ("Team1 at Team2 Winner?") when those are empty.
func extractTeams(m exchange.Market) (home, away string, ok bool) {
	if m.YesSubTitle != "" && m.NoSubTitle != "" {
		return cleanTeamLabel(m.YesSubTitle), cleanTeamLabel(m.NoSubTitle), true
	}
	return teamNamesFromTitle(m.Title)
}

var winnerSuffixes = []string{" to Win", " Winner?", " Winner", " winner", " Wins", " Win"}

func cleanTeamLabel(label string) string {
	label = strings.TrimSpace(label)
	for _, suffix := range winnerSuffixes {
		if strings.HasSuffix(label, suffix) {
			return strings.TrimSpace(strings.TrimSuffix(label, suffix))
		}
	}
	return label
}

var titleSeparators = []string{" at ", " vs. ", " vs "}

// teamNamesFromTitle parses "Team1 at Team2 Winner?" into (team1, team2).
func teamNamesFromTitle(title string) (string, string, bool) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", "", false
	}
	for _, sep := range titleSeparators {
		idx := strings.Index(title, sep)
		if idx < 0 {
			continue
		}
		t1 := strings.TrimSpace(title[:idx])
		rest := strings.TrimSpace(title[idx+len(sep):])
		rest = cleanTeamLabel(rest + " ") // reuse suffix trimming, tolerate trailing "?"
		rest = strings.TrimSuffix(rest, "?")
		rest = strings.TrimSpace(rest)
		if t1 != "" && rest != "" {
			return t1, rest, true
		}
	}
	return "", "", false
}

// isParlay reports whether a market title names more than two teams,
// indicating a multi-leg (parlay) market that Discover excludes.
func isParlay(title string) bool {
	count := 0
	for _, sep := range titleSeparators {
		count += strings.Count(title, sep)
	}
	return count > 1
}
