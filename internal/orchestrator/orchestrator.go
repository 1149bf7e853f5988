// Package orchestrator composes every subsystem into one user's trading
// bot: six concurrent loops, the entry/exit execution path, startup
// recovery, and emergency shutdown. One Orchestrator owns exactly one
// user's state; internal/fleet is what runs many of them side by side.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mercer-quant/sporttrader/internal/config"
	"github.com/mercer-quant/sporttrader/internal/discovery"
	"github.com/mercer-quant/sporttrader/internal/events"
	"github.com/mercer-quant/sporttrader/internal/exchange"
	"github.com/mercer-quant/sporttrader/internal/gametracker"
	"github.com/mercer-quant/sporttrader/internal/matcher"
	"github.com/mercer-quant/sporttrader/internal/position"
	"github.com/mercer-quant/sporttrader/internal/risk"
	"github.com/mercer-quant/sporttrader/internal/scoreboard"
	"github.com/mercer-quant/sporttrader/internal/telemetry"
)

// State is the orchestrator's own lifecycle state, independent of the
// kill switch (which lives on risk.Manager and gates entries, not loops).
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// SelectedGame is one game a user has opted into tracking, supplied at
// Initialize either from the persisted bot config JSON or from a tracked
// market row flagged is_user_selected (spec.md 4.10 step 2's two sources).
type SelectedGame struct {
	Sport        string
	SportKey     string
	HomeTeam     string
	AwayTeam     string
	PinnedTicker string
	Selection    gametracker.Selection
}

// Deps bundles every collaborator the Orchestrator needs. All of them are
// constructed once by cmd/bot (or internal/fleet) and shared across the
// loops; the Orchestrator itself holds no exchange credentials directly.
type Deps struct {
	UserID string

	Exchange   exchange.Client
	Scoreboard *scoreboard.Client
	Positions  *position.Store
	Games      *gametracker.Store
	Markets    *gametracker.MarketStore
	Bus        *events.Bus
	Gate       *risk.Gate
	KillSwitch *risk.Manager

	Series  discovery.SeriesTable
	Aliases matcher.AliasTable

	// PriceStream is an optional push-price feed (internal/exchange.Stream).
	// When set, newly tracked tickers are subscribed on it as the Discovery
	// loop finds them, and its updates flow through the same
	// EventPriceUpdate path as the poll loop, just sooner. Nil is fine —
	// the Price Poll loop alone is a complete, correct price source.
	PriceStream *exchange.Stream

	// SportConfigs is sport -> YAML override; nil entries are fine, Build
	// treats a nil *SportDefault as "no override at this layer".
	SportConfigs map[string]*config.SportDefault
	Runtime      *config.RuntimeOverride
	Global       config.GlobalRiskLimits

	MaxTrackedGames  int
	OrderFillTimeout time.Duration
	Bankroll         decimal.Decimal
}

// PendingOrder tracks one order between placement and its terminal status
// (filled, cancelled, or timed out), spec.md 3's "in-memory, keyed by
// order id ... removed on terminal order state". It exists so a restart or
// a status read mid-flight can see what the Orchestrator believes is still
// in-flight at the exchange, distinct from the Position Store which only
// ever sees a fill that already landed.
type PendingOrder struct {
	OrderID  string
	Ticker   string
	Side     exchange.OrderSide
	Action   exchange.OrderAction
	Price    decimal.Decimal
	Size     int64
	PlacedAt time.Time
}

// Orchestrator is one user's trading bot. Exported state (State, tracked
// games) is read through accessor methods, never by reaching into fields
// directly — the mu lock is the single coordinator spec.md 5 calls for.
type Orchestrator struct {
	deps Deps

	mu            sync.Mutex
	state         State
	selectedGames []SelectedGame
	lastError     string

	emergencyStop atomic.Bool

	entryLocks    sync.Map // string -> *tryMutex
	pendingOrders sync.Map // order id -> PendingOrder

	streamSubOnce sync.Once

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// subscribePriceStreamOnce routes every EventPriceUpdate (whether published
// by the Price Poll loop or, when deps.PriceStream is configured, by the
// push feed) into the matching TrackedGame. The push feed simply publishes
// more often than the 10s poll floor; both go through the one handler.
func (o *Orchestrator) subscribePriceStreamOnce() {
	o.streamSubOnce.Do(func() {
		o.deps.Bus.Subscribe(events.EventPriceUpdate, func(e events.Event) error {
			payload, ok := e.Payload.(events.PriceUpdateEvent)
			if !ok {
				return nil
			}
			for _, tg := range o.deps.Games.All() {
				if tg.Snapshot().Market.Ticker == payload.ConditionID {
					price := decimal.NewFromFloat(payload.YesBid)
					tg.SendSync(func() { tg.SetCurrentPrice(price) })
					break
				}
			}
			return nil
		})
	})
}

// trackPendingOrder records an order as in-flight between PlaceOrder and
// its terminal status. Called from executeEntry/executeExit.
func (o *Orchestrator) trackPendingOrder(po PendingOrder) {
	o.pendingOrders.Store(po.OrderID, po)
}

// untrackPendingOrder removes an order once it reaches a terminal state
// (filled, cancelled, or timed out).
func (o *Orchestrator) untrackPendingOrder(orderID string) {
	o.pendingOrders.Delete(orderID)
}

// PendingOrders snapshots every order currently believed to be in flight,
// for the status endpoint and for diagnosing a stuck fill.
func (o *Orchestrator) PendingOrders() []PendingOrder {
	out := make([]PendingOrder, 0)
	o.pendingOrders.Range(func(_, v any) bool {
		out = append(out, v.(PendingOrder))
		return true
	})
	return out
}

func New(deps Deps) *Orchestrator {
	if deps.MaxTrackedGames <= 0 {
		deps.MaxTrackedGames = 100
	}
	if deps.OrderFillTimeout <= 0 {
		deps.OrderFillTimeout = 60 * time.Second
	}
	return &Orchestrator{deps: deps, state: StateStopped}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// LastError reports the message of the most recent error caught at a loop
// boundary, for the status endpoint (spec.md 7's "last error category").
func (o *Orchestrator) LastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastError
}

func (o *Orchestrator) recordError(err error) {
	o.mu.Lock()
	o.lastError = err.Error()
	o.mu.Unlock()
}

// Start transitions stopped -> starting -> running and launches the six
// loops. Initialize must have already been called once (position recovery
// runs separately so a caller can inspect recovered state before loops
// start touching it).
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateStopped && o.state != StatePaused {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: cannot start from state %q", o.state)
	}
	o.state = StateStarting
	o.stopCh = make(chan struct{})
	o.mu.Unlock()

	o.subscribePriceStreamOnce()

	loops := []struct {
		name     string
		interval time.Duration
		run      func(context.Context)
	}{
		{"discovery", 10 * time.Second, o.runDiscoveryOnce},
		{"scoreboard_poll", 5 * time.Second, o.runScoreboardPollOnce},
		{"price_poll", 10 * time.Second, o.runPricePollOnce},
		{"trading", 1 * time.Second, o.runTradingOnce},
		{"health", 60 * time.Second, o.runHealthOnce},
		{"cleanup", 120 * time.Second, o.runCleanupOnce},
	}

	for _, l := range loops {
		o.wg.Add(1)
		go o.runLoop(ctx, l.name, l.interval, l.run)
	}

	o.setState(StateRunning)
	telemetry.Infow("orchestrator: started", "user_id", o.deps.UserID)
	return nil
}

// runLoop is the one shape every loop shares: tick on interval, catch and
// log any panic/error at the boundary, never let one bad iteration kill
// the goroutine (spec.md 7: "the loop continues").
func (o *Orchestrator) runLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	defer o.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.safeRun(name, fn, ctx)
		}
	}
}

func (o *Orchestrator) safeRun(name string, fn func(context.Context), ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.Errorw("orchestrator: loop panic recovered", "loop", name, "panic", r, "user_id", o.deps.UserID)
			o.recordError(fmt.Errorf("%s: panic: %v", name, r))
		}
	}()
	fn(ctx)
}

// Stop transitions to stopping, signals every loop, and waits for them to
// drain before settling on stopped.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateStopped {
		o.mu.Unlock()
		return nil
	}
	o.state = StateStopping
	stopCh := o.stopCh
	o.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}

	done := make(chan struct{})
	go func() { o.wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		telemetry.Warnw("orchestrator: stop timed out waiting for loops", "user_id", o.deps.UserID)
	case <-ctx.Done():
	}

	o.setState(StateStopped)
	telemetry.Infow("orchestrator: stopped", "user_id", o.deps.UserID)
	return nil
}

// Pause enters the paused state automatically when the daily-loss limit
// trips; it persists until day rollover (the caller is responsible for
// calling Resume then) or a manual Resume call. Loops keep running —
// pause is enforced by the Trading loop skipping entry evaluation for
// every game, same as an active kill switch, not by stopping the loops
// themselves; exits are still evaluated.
func (o *Orchestrator) Pause(reason string) {
	o.mu.Lock()
	if o.state == StateRunning {
		o.state = StatePaused
	}
	o.lastError = reason
	o.mu.Unlock()
	telemetry.Warnw("orchestrator: paused", "reason", reason, "user_id", o.deps.UserID)
}

func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StatePaused {
		return fmt.Errorf("orchestrator: cannot resume from state %q", o.state)
	}
	o.state = StateRunning
	return nil
}

func (o *Orchestrator) selectedGamesSnapshot() []SelectedGame {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]SelectedGame, len(o.selectedGames))
	copy(out, o.selectedGames)
	return out
}

// effectiveConfig builds the layered EffectiveConfig for one sport,
// per spec.md 9's "computed view, never persisted" design note.
func (o *Orchestrator) effectiveConfig(sport string) config.EffectiveConfig {
	return config.Build(o.deps.SportConfigs[sport], o.deps.Runtime, nil)
}

func leagueFromSportKey(sportKey string) string {
	for i := len(sportKey) - 1; i >= 0; i-- {
		if sportKey[i] == '/' {
			return sportKey[i+1:]
		}
	}
	return sportKey
}

// tryMutex is a non-blocking mutex: TryLock never waits, it either
// acquires immediately or reports failure. This is the per-token
// entry_lock spec.md 5 calls for ("acquired non-blocking; contending
// callers return immediately").
type tryMutex struct {
	ch chan struct{}
}

func newTryMutex() *tryMutex {
	m := &tryMutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

func (m *tryMutex) TryLock() bool {
	select {
	case <-m.ch:
		return true
	default:
		return false
	}
}

func (m *tryMutex) Unlock() {
	m.ch <- struct{}{}
}

// acquireEntryLock returns (unlock, true) if the per-token lock for key
// was free, or (nil, false) if another execute_entry/execute_exit call is
// already holding it — the caller must return immediately in that case.
func (o *Orchestrator) acquireEntryLock(key string) (func(), bool) {
	v, _ := o.entryLocks.LoadOrStore(key, newTryMutex())
	lock := v.(*tryMutex)
	if !lock.TryLock() {
		return nil, false
	}
	return lock.Unlock, true
}
