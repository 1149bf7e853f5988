package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// lane bundles the four guards for one (sport, league) execution path.
type lane struct {
	risk       *riskGuard
	spend      *spendGuard
	throttle   *throttleGuard
	idempotent *idempotencyGuard
}

func newLane(maxOpenPositions int, maxExposure decimal.Decimal, throttleMs int64) *lane {
	return &lane{
		risk:       newRiskGuard(maxOpenPositions),
		spend:      newSpendGuard(maxExposure),
		throttle:   newThrottleGuard(time.Duration(throttleMs) * time.Millisecond),
		idempotent: newIdempotencyGuard(),
	}
}

// allow runs all four guards in order, cheapest/most-likely-to-reject
// first, and returns the first failing reason.
func (l *lane) allow(ticker, side string, sizeUSDC decimal.Decimal) (bool, string) {
	key := l.idempotent.key(ticker, side)
	if !l.idempotent.reserve(key) {
		return false, "duplicate entry already in flight for this ticker/side"
	}
	if !l.throttle.allow() {
		l.idempotent.release(key)
		return false, "lane throttled"
	}
	if !l.risk.canPlace() {
		l.idempotent.release(key)
		return false, "lane max open positions reached"
	}
	if !l.spend.canSpend(sizeUSDC) {
		l.idempotent.release(key)
		return false, "lane exposure cap reached"
	}
	return true, ""
}

// recordOrder commits the reservation made by allow — called once the
// order has filled and its position row is written — and frees the
// ticker/side's in-flight idempotency key.
func (l *lane) recordOrder(ticker, side string, sizeUSDC decimal.Decimal) {
	l.risk.recordOpen()
	l.spend.record(sizeUSDC)
	l.throttle.touch()
	l.idempotent.release(l.idempotent.key(ticker, side))
}

// release undoes a reservation without committing it, used when an
// approved entry ends without a new position (the order fails to place or
// to fill, or its fill cannot be written to the Position Store).
func (l *lane) release(ticker, side string) {
	l.idempotent.release(l.idempotent.key(ticker, side))
}

// recordClose frees up the lane's risk/spend budget when a position
// closes.
func (l *lane) recordClose(sizeUSDC decimal.Decimal) {
	l.risk.recordClose()
	l.spend.release(sizeUSDC)
}
