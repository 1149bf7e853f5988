package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mercer-quant/sporttrader/internal/events"
	"github.com/mercer-quant/sporttrader/internal/telemetry"
)

// Trigger identifies which kill-switch condition fired.
type Trigger string

const (
	TriggerDailyLoss        Trigger = "daily_loss_limit"
	TriggerConsecutiveLoss  Trigger = "consecutive_losses"
	TriggerAPIErrorRate     Trigger = "api_error_rate"
	TriggerOrphanedPosition Trigger = "orphaned_orders"
	TriggerManual           Trigger = "manual"
)

const (
	consecutiveLossThreshold = 4 // out of the last 5 trades
	consecutiveLossWindow    = 5
	apiErrorThreshold        = 10
	apiErrorWindow           = 5 * time.Minute
	monitorInterval          = 30 * time.Second

	// emergencyExitSlippagePct is how far below the last observed price a
	// kill-switch liquidation is willing to sell at — 2% below last, per
	// spec.md 4.9.
	emergencyExitSlippagePct = 0.02
)

// StatsProvider supplies the accounting the Monitor's triggers evaluate.
// Implemented by the orchestrator's adapter over internal/position.Store
// (orchestrator.NewStatsProvider); kept as an interface here so this
// package has no storage dependency.
type StatsProvider interface {
	DailyPnLUSDC(ctx context.Context, userID string) (decimal.Decimal, error)
	MaxDailyLossUSDC(ctx context.Context, userID string) (decimal.Decimal, error)
	RecentTradeResults(ctx context.Context, userID string, n int) (wins []bool, err error)
	OrphanedPositionCount(ctx context.Context, userID string) (int, error)
}

// PositionCloser liquidates every open position at a market-near price
// when the kill switch fires with close_positions requested.
type PositionCloser interface {
	CloseAllAtMarket(ctx context.Context, userID string, slippagePct float64) (closed int, totalPnLUSDC decimal.Decimal, err error)
}

// Manager owns the kill-switch active flag for one user. It is
// deliberately simple state: active/inactive plus the triggers that fired,
// with manual reset required (spec.md 4.9: "requires manual reset").
type Manager struct {
	userID string
	bus    *events.Bus
	closer PositionCloser

	mu              sync.Mutex
	active          bool
	activeTriggers  []Trigger
	errorCounts     map[string][]time.Time
}

func NewManager(userID string, bus *events.Bus, closer PositionCloser) *Manager {
	return &Manager{
		userID:      userID,
		bus:         bus,
		closer:      closer,
		errorCounts: make(map[string][]time.Time),
	}
}

func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) ActiveTriggers() []Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Trigger, len(m.activeTriggers))
	copy(out, m.activeTriggers)
	return out
}

// RecordError tracks one API error for the error-rate trigger, keyed by
// error category so a single noisy endpoint doesn't starve the window.
func (m *Manager) RecordError(category string) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCounts[category] = append(prune(m.errorCounts[category], now), now)
}

func prune(times []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-apiErrorWindow)
	out := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func (m *Manager) recentErrorCount() int {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for cat, times := range m.errorCounts {
		pruned := prune(times, now)
		m.errorCounts[cat] = pruned
		total += len(pruned)
	}
	return total
}

// Evaluate checks the daily-loss, consecutive-loss, and orphaned-position
// triggers against the provider, plus the in-process API error count.
// Returns every trigger that currently fires; the caller (Monitor) decides
// what to do with them.
func (m *Manager) Evaluate(ctx context.Context, stats StatsProvider) ([]Trigger, error) {
	var triggered []Trigger

	dailyPnL, err := stats.DailyPnLUSDC(ctx, m.userID)
	if err != nil {
		return nil, fmt.Errorf("kill switch: daily pnl: %w", err)
	}
	maxLoss, err := stats.MaxDailyLossUSDC(ctx, m.userID)
	if err != nil {
		return nil, fmt.Errorf("kill switch: max daily loss: %w", err)
	}
	if maxLoss.IsPositive() && dailyPnL.LessThanOrEqual(maxLoss.Neg()) {
		triggered = append(triggered, TriggerDailyLoss)
	}

	results, err := stats.RecentTradeResults(ctx, m.userID, consecutiveLossWindow)
	if err != nil {
		return nil, fmt.Errorf("kill switch: recent trades: %w", err)
	}
	if len(results) >= consecutiveLossWindow {
		losses := 0
		for _, won := range results {
			if !won {
				losses++
			}
		}
		if losses >= consecutiveLossThreshold {
			triggered = append(triggered, TriggerConsecutiveLoss)
		}
	}

	if m.recentErrorCount() >= apiErrorThreshold {
		triggered = append(triggered, TriggerAPIErrorRate)
	}

	orphaned, err := stats.OrphanedPositionCount(ctx, m.userID)
	if err != nil {
		return nil, fmt.Errorf("kill switch: orphaned positions: %w", err)
	}
	if orphaned > 0 {
		triggered = append(triggered, TriggerOrphanedPosition)
	}

	return triggered, nil
}

// Activate sets the active flag, optionally liquidates every open
// position, and emits a critical alert. The caller must call Deactivate
// explicitly — there is no automatic recovery.
func (m *Manager) Activate(ctx context.Context, trigger Trigger, closePositions bool, reason string) {
	m.mu.Lock()
	m.active = true
	m.activeTriggers = append(m.activeTriggers, trigger)
	m.mu.Unlock()

	telemetry.Errorw("kill switch activated", "trigger", string(trigger), "reason", reason, "user_id", m.userID)

	closedCount := 0
	var totalPnL decimal.Decimal
	if closePositions && m.closer != nil {
		var err error
		closedCount, totalPnL, err = m.closer.CloseAllAtMarket(ctx, m.userID, emergencyExitSlippagePct)
		if err != nil {
			telemetry.Errorw("kill switch: failed to close all positions", "err", err, "user_id", m.userID)
		}
	}

	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type:      events.EventKillSwitch,
			UserID:    m.userID,
			Timestamp: time.Now(),
			Payload: events.KillSwitchEvent{
				UserID:  m.userID,
				Active:  true,
				Trigger: string(trigger),
				Reason:  reason,
			},
		})
	}

	telemetry.Infow("kill switch: emergency liquidation complete", "closed", closedCount, "total_pnl_usdc", totalPnL.String())
}

// Deactivate clears the active flag. Always a manual, explicit call —
// never invoked by Evaluate or the Monitor loop.
func (m *Manager) Deactivate(reason string) {
	m.mu.Lock()
	m.active = false
	m.activeTriggers = nil
	m.mu.Unlock()

	telemetry.Infow("kill switch deactivated", "reason", reason, "user_id", m.userID)

	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type:      events.EventKillSwitch,
			UserID:    m.userID,
			Timestamp: time.Now(),
			Payload: events.KillSwitchEvent{
				UserID: m.userID,
				Active: false,
				Reason: reason,
			},
		})
	}
}

// Monitor runs Manager.Evaluate on a 30s loop and activates the kill
// switch on the first trigger it observes. It is a thin wrapper: all the
// actual state lives on Manager so a manual Activate/Deactivate call from
// an operator API takes effect immediately, independent of the loop's
// cadence.
type Monitor struct {
	manager *Manager
	stats   StatsProvider

	stop chan struct{}
	done chan struct{}
}

func NewMonitor(manager *Manager, stats StatsProvider) *Monitor {
	return &Monitor{
		manager: manager,
		stats:   stats,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Active reports whether the underlying Manager's kill switch is set —
// this is what the Decision Engine and Gate consult.
func (mon *Monitor) Active() bool {
	return mon.manager.Active()
}

func (mon *Monitor) Run(ctx context.Context) {
	defer close(mon.done)
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-mon.stop:
			return
		case <-ticker.C:
			if mon.manager.Active() {
				continue
			}
			triggered, err := mon.manager.Evaluate(ctx, mon.stats)
			if err != nil {
				telemetry.Warnw("kill switch: evaluation failed", "err", err)
				continue
			}
			if len(triggered) > 0 {
				mon.manager.Activate(ctx, triggered[0], true, fmt.Sprintf("triggers: %v", triggered))
			}
		}
	}
}

func (mon *Monitor) Stop() {
	close(mon.stop)
	<-mon.done
}
