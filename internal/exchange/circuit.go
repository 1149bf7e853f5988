package exchange

import (
	"errors"
	"sync"
	"time"
)

// circuitState is closed/open/half-open per the standard circuit breaker
// pattern. No corpus example repo imports a circuit-breaker library, so
// this is hand-rolled to the teacher's own concurrency idiom (a mutex
// guarding small plain state) rather than adding a new dependency for one
// small state machine.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// ErrCircuitOpen is returned immediately, without attempting a request,
// while the breaker is open.
var ErrCircuitOpen = errors.New("exchange: circuit breaker open")

// circuitBreaker trips to open after consecutive failures, then allows one
// trial request through after a cooldown (half-open); a success there
// closes it again, a failure reopens it for another cooldown.
type circuitBreaker struct {
	mu               sync.Mutex
	state            circuitState
	consecutiveFails int
	openedAt         time.Time

	failureThreshold int
	cooldown         time.Duration
}

func newCircuitBreaker(failureThreshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{failureThreshold: failureThreshold, cooldown: cooldown}
}

// Allow reports whether a request may proceed, transitioning open -> half-open
// once the cooldown has elapsed.
func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitOpen:
		if time.Since(cb.openedAt) >= cb.cooldown {
			cb.state = circuitHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFails = 0
	cb.state = circuitClosed
}

func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == circuitHalfOpen {
		cb.state = circuitOpen
		cb.openedAt = time.Now()
		return
	}

	cb.consecutiveFails++
	if cb.consecutiveFails >= cb.failureThreshold {
		cb.state = circuitOpen
		cb.openedAt = time.Now()
	}
}
