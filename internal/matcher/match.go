// Package matcher joins a scoreboard game to a discovered market by
// team-name similarity, reusing the teacher's normalize.go almost verbatim
// as a pure text utility and replacing its Kalshi-specific market-pairing
// logic with the spec's token-overlap rule.
package matcher

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mercer-quant/sporttrader/internal/discovery"
)

// AliasTable maps a sport to its team-name alias map ("man utd" ->
// "manchester united"). A sport with no alias map needs none listed.
type AliasTable map[string]map[string]string

// LoadAliasTable reads a sport -> alias-map mapping from a single YAML
// file, e.g.:
//
//	basketball:
//	  man utd: manchester united
//
// A missing file is not an error; Match just has no aliases to apply.
func LoadAliasTable(path string) (AliasTable, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return AliasTable{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("matcher: read alias table %s: %w", path, err)
	}
	var at AliasTable
	if err := yaml.Unmarshal(data, &at); err != nil {
		return nil, fmt.Errorf("matcher: parse alias table %s: %w", path, err)
	}
	return at, nil
}

// Match joins (homeTeam, awayTeam) in the given sport to the best candidate
// in markets. pinnedTicker, when non-empty, bypasses text matching entirely
// and returns that exact market if present among the candidates.
func Match(sport, homeTeam, awayTeam, pinnedTicker string, markets []discovery.DiscoveredMarket, aliases AliasTable) (*discovery.DiscoveredMarket, bool) {
	if pinnedTicker != "" {
		for i := range markets {
			if markets[i].Ticker == pinnedTicker {
				return &markets[i], true
			}
		}
	}

	sportAliases := aliases[sport]
	homeTokens := significantTokens(Normalize(homeTeam, sportAliases))
	awayTokens := significantTokens(Normalize(awayTeam, sportAliases))
	if len(homeTokens) == 0 || len(awayTokens) == 0 {
		return nil, false
	}

	type candidate struct {
		market  *discovery.DiscoveredMarket
		overlap int
	}
	var best *candidate

	for i := range markets {
		m := &markets[i]
		if m.Sport != sport {
			continue
		}
		questionText := Normalize(m.HomeTeam+" "+m.AwayTeam+" "+m.Market.Title, nil)

		homeHit := anyTokenPresent(homeTokens, questionText)
		awayHit := anyTokenPresent(awayTokens, questionText)
		if !homeHit || !awayHit {
			continue
		}

		overlap := countOverlap(homeTokens, questionText) + countOverlap(awayTokens, questionText)
		c := candidate{market: m, overlap: overlap}

		if best == nil ||
			c.overlap > best.overlap ||
			(c.overlap == best.overlap && c.market.Volume24h > best.market.Volume24h) {
			best = &c
		}
	}

	if best == nil {
		return nil, false
	}
	return best.market, true
}

func anyTokenPresent(tokens []string, text string) bool {
	for _, tok := range tokens {
		if strings.Contains(text, tok) {
			return true
		}
	}
	return false
}

func countOverlap(tokens []string, text string) int {
	n := 0
	for _, tok := range tokens {
		if strings.Contains(text, tok) {
			n++
		}
	}
	return n
}
