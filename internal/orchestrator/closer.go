package orchestrator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mercer-quant/sporttrader/internal/exchange"
	"github.com/mercer-quant/sporttrader/internal/position"
	"github.com/mercer-quant/sporttrader/internal/risk"
)

// NewStatsProvider adapts a position Store plus a user's configured daily
// loss limit to risk.StatsProvider, for wiring the kill-switch Monitor in
// cmd/bot the same way the Orchestrator wires its own internally.
func NewStatsProvider(store *position.Store, maxDailyLossUSDC decimal.Decimal) risk.StatsProvider {
	return &statsProvider{store: store, maxDailyLossUSDC: maxDailyLossUSDC}
}

// NewPositionCloser adapts a position Store and exchange Client to
// risk.PositionCloser, for wiring the kill-switch Manager in cmd/bot the
// same way the Orchestrator wires its own internally.
func NewPositionCloser(store *position.Store, ex exchange.Client) risk.PositionCloser {
	return &positionCloser{store: store, exchange: ex}
}

// statsProvider adapts internal/position.Store plus the user's configured
// daily loss limit to risk.StatsProvider, so internal/risk never imports
// internal/position or internal/config directly.
type statsProvider struct {
	store            *position.Store
	maxDailyLossUSDC decimal.Decimal
}

func (p *statsProvider) DailyPnLUSDC(ctx context.Context, userID string) (decimal.Decimal, error) {
	return p.store.DailyPnLUSDC(ctx, userID)
}

func (p *statsProvider) MaxDailyLossUSDC(ctx context.Context, userID string) (decimal.Decimal, error) {
	return p.maxDailyLossUSDC, nil
}

func (p *statsProvider) RecentTradeResults(ctx context.Context, userID string, n int) ([]bool, error) {
	return p.store.RecentTradeResults(ctx, userID, n)
}

func (p *statsProvider) OrphanedPositionCount(ctx context.Context, userID string) (int, error) {
	return p.store.OrphanedPositionCount(ctx, userID)
}

// positionCloser adapts internal/position.Store and internal/exchange.Client
// into risk.PositionCloser: liquidating every open position at a
// slippage-adjusted market price when the kill switch (or emergency
// shutdown) requires it.
type positionCloser struct {
	store    *position.Store
	exchange exchange.Client
}

// CloseAllAtMarket implements risk.PositionCloser — used by the kill-switch
// Manager, which always closes with reason kill_switch.
func (c *positionCloser) CloseAllAtMarket(ctx context.Context, userID string, slippagePct float64) (int, decimal.Decimal, error) {
	return c.closeAllAtMarket(ctx, userID, slippagePct, position.ExitKillSwitch)
}

// closeAllAtMarket closes every open position for userID at
// current_price * (1 - slippagePct), where current_price is the bid of the
// side held (yes_bid for YES, no_bid for NO) — "current_price × 0.98"
// applied to either side, per spec.md 4.9/4.10.
func (c *positionCloser) closeAllAtMarket(ctx context.Context, userID string, slippagePct float64, reason position.ExitReason) (int, decimal.Decimal, error) {
	open, err := c.store.GetOpenForUser(ctx, userID)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("position closer: load open positions: %w", err)
	}

	closed := 0
	total := decimal.Zero
	slip := decimal.NewFromFloat(slippagePct)
	one := decimal.NewFromInt(1)

	for _, p := range open {
		exitPrice := p.EntryPrice
		if m, err := c.exchange.GetMarket(ctx, p.ConditionID); err == nil {
			if p.Side == position.SideYes {
				exitPrice = m.YesBid
			} else {
				exitPrice = m.NoBid
			}
		}
		if exitPrice.IsZero() {
			exitPrice = p.EntryPrice
		}

		exitPrice = exitPrice.Mul(one.Sub(slip))
		if exitPrice.IsNegative() {
			exitPrice = decimal.Zero
		}

		proceeds := exitPrice.Mul(p.EntrySize)
		closedRow, err := c.store.Close(ctx, p.ID, exitPrice, p.EntrySize, proceeds, reason, "")
		if err != nil {
			return closed, total, fmt.Errorf("position closer: close %s: %w", p.ID, err)
		}
		closed++
		total = total.Add(closedRow.RealizedPnLUSDC)
	}

	return closed, total, nil
}
