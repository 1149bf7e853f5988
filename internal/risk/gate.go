package risk

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mercer-quant/sporttrader/internal/config"
)

// Stats is the per-(sport,league) and account-wide accounting the Gate
// checks against configured limits. The Orchestrator computes this from
// the Position Store immediately before calling Approve — the Gate itself
// holds no ledger of its own beyond the per-lane guards.
type Stats struct {
	SportDailyPnLUSDC     decimal.Decimal
	SportOpenPositions    int
	SportOpenExposureUSDC decimal.Decimal

	GlobalDailyPnLUSDC     decimal.Decimal
	GlobalOpenExposureUSDC decimal.Decimal
}

// Gate approves every entry before an order is placed. It layers two
// kinds of checks: stateless pnl/exposure comparisons against
// config.RiskLimits (spec.md 4.9's "per-sport checks" and "global
// checks"), and stateful per-lane guards (risk/spend/throttle/
// idempotency) that need to persist across calls within a sport+league.
type Gate struct {
	limits config.RiskLimits
	global config.GlobalRiskLimits

	killSwitch *Monitor

	mu    sync.Mutex
	lanes map[laneKey]*lane
}

type laneKey struct {
	Sport  string
	League string
}

func NewGate(limits config.RiskLimits, global config.GlobalRiskLimits, killSwitch *Monitor) *Gate {
	return &Gate{
		limits:     limits,
		global:     global,
		killSwitch: killSwitch,
		lanes:      make(map[laneKey]*lane),
	}
}

func (g *Gate) laneFor(sport, league string) *lane {
	key := laneKey{Sport: sport, League: league}

	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.lanes[key]; ok {
		return l
	}

	maxOpen := 0
	maxExposure := decimal.Zero
	var throttleMs int64

	if ll, ok := g.limits.LeagueLimit(sport, league); ok {
		maxOpen = ll.MaxOpenPositions
		maxExposure = decimal.NewFromFloat(ll.MaxGameExposure)
		throttleMs = ll.ThrottleMs
	}

	l := newLane(maxOpen, maxExposure, throttleMs)
	g.lanes[key] = l
	return l
}

// Approve returns (allow, reason). While the kill switch is active every
// entry is rejected regardless of the limits below (spec.md 4.9: "While
// active, the Decision Engine rejects every entry" — the Gate enforces
// the same rule for any caller that goes straight to the Gate).
func (g *Gate) Approve(sport, league, ticker, side string, sizeUSDC decimal.Decimal, stats Stats) (bool, string) {
	if g.killSwitch != nil && g.killSwitch.Active() {
		return false, "kill switch active"
	}

	if sl, ok := g.limits.SportLimit(sport); ok {
		if sl.MaxDailyLossUSDC > 0 && stats.SportDailyPnLUSDC.LessThanOrEqual(decimal.NewFromFloat(-sl.MaxDailyLossUSDC)) {
			return false, fmt.Sprintf("%s daily loss cap reached", sport)
		}
		if sl.MaxSportExposure > 0 && stats.SportOpenExposureUSDC.GreaterThanOrEqual(decimal.NewFromFloat(sl.MaxSportExposure)) {
			return false, fmt.Sprintf("%s exposure cap reached", sport)
		}
	}

	if g.global.MaxDailyLossUSDC > 0 && stats.GlobalDailyPnLUSDC.LessThanOrEqual(decimal.NewFromFloat(-g.global.MaxDailyLossUSDC)) {
		return false, "global daily loss cap reached"
	}
	if g.global.MaxPortfolioExposureUSDC > 0 && stats.GlobalOpenExposureUSDC.GreaterThanOrEqual(decimal.NewFromFloat(g.global.MaxPortfolioExposureUSDC)) {
		return false, "global exposure cap reached"
	}

	l := g.laneFor(sport, league)
	return l.allow(ticker, side, sizeUSDC)
}

// RecordOrder commits the lane reservation Approve made once the entry's
// order has filled and its position row is written.
func (g *Gate) RecordOrder(sport, league, ticker, side string, sizeUSDC decimal.Decimal) {
	g.laneFor(sport, league).recordOrder(ticker, side, sizeUSDC)
}

// Release frees a lane reservation without committing it — used when an
// approved entry ends without a new position (failed placement, no fill,
// or an orphaned fill).
func (g *Gate) Release(sport, league, ticker, side string) {
	g.laneFor(sport, league).release(ticker, side)
}

// RecordClose frees a lane's risk/spend budget when a position closes.
func (g *Gate) RecordClose(sport, league string, sizeUSDC decimal.Decimal) {
	g.laneFor(sport, league).recordClose(sizeUSDC)
}
