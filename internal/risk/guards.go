// Package risk implements the Risk Gate and Kill-Switch Monitor: the
// approval layer between a Decision Engine entry signal and order
// placement, and the background safety net that can halt trading
// entirely. Adapted from the teacher's internal/core/execution/lanes
// four-guard-per-lane shape, rewritten with one consistent method set —
// the teacher's own execution_service.go/lane_router.go call methods
// (lane.Check, lane.MaxGameCents, ClearIdempotencyForTicker,
// lanes.NewLaneWithSpend) that don't exist on its own lane/risk/spend.go,
// a mismatch this package does not reproduce.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// riskGuard bounds the number of concurrently open positions for a lane.
type riskGuard struct {
	maxOpenPositions int
	openCount        int
	mu               sync.Mutex
}

func newRiskGuard(maxOpenPositions int) *riskGuard {
	return &riskGuard{maxOpenPositions: maxOpenPositions}
}

func (g *riskGuard) canPlace() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.maxOpenPositions <= 0 {
		return true
	}
	return g.openCount < g.maxOpenPositions
}

func (g *riskGuard) recordOpen()  { g.mu.Lock(); g.openCount++; g.mu.Unlock() }
func (g *riskGuard) recordClose() { g.mu.Lock(); g.openCount--; g.mu.Unlock() }

// spendGuard bounds cumulative USDC exposure for a lane (per-game
// exposure, not the account-wide exposure the Gate checks separately).
type spendGuard struct {
	maxExposure decimal.Decimal
	spent       decimal.Decimal
	mu          sync.Mutex
}

func newSpendGuard(maxExposure decimal.Decimal) *spendGuard {
	return &spendGuard{maxExposure: maxExposure}
}

func (s *spendGuard) canSpend(amount decimal.Decimal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxExposure.IsZero() {
		return true
	}
	return s.spent.Add(amount).LessThanOrEqual(s.maxExposure)
}

func (s *spendGuard) record(amount decimal.Decimal) {
	s.mu.Lock()
	s.spent = s.spent.Add(amount)
	s.mu.Unlock()
}

func (s *spendGuard) release(amount decimal.Decimal) {
	s.mu.Lock()
	s.spent = s.spent.Sub(amount)
	s.mu.Unlock()
}

// throttleGuard enforces a minimum interval between order placements
// within a lane so a burst of ticks doesn't fire N orders in the same
// second.
type throttleGuard struct {
	interval time.Duration
	lastSend time.Time
	mu       sync.Mutex
}

func newThrottleGuard(interval time.Duration) *throttleGuard {
	return &throttleGuard{interval: interval}
}

func (t *throttleGuard) allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.interval <= 0 {
		return true
	}
	return time.Since(t.lastSend) >= t.interval
}

func (t *throttleGuard) touch() {
	t.mu.Lock()
	t.lastSend = time.Now()
	t.mu.Unlock()
}

// idempotencyGuard prevents two racing Trading-loop ticks from approving
// the same (ticker, side) entry twice before the first one's position row
// has landed. Orchestrator.execute_entry's own re-check against the
// Position Store is the final word; this just closes the gap between
// "Gate approved" and "order placed".
type idempotencyGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newIdempotencyGuard() *idempotencyGuard {
	return &idempotencyGuard{seen: make(map[string]bool)}
}

func (g *idempotencyGuard) key(ticker, side string) string {
	return fmt.Sprintf("%s:%s", ticker, side)
}

func (g *idempotencyGuard) reserve(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[key] {
		return false
	}
	g.seen[key] = true
	return true
}

func (g *idempotencyGuard) release(key string) {
	g.mu.Lock()
	delete(g.seen, key)
	g.mu.Unlock()
}
