package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mercer-quant/sporttrader/internal/decision"
	"github.com/mercer-quant/sporttrader/internal/events"
	"github.com/mercer-quant/sporttrader/internal/exchange"
	"github.com/mercer-quant/sporttrader/internal/gametracker"
	"github.com/mercer-quant/sporttrader/internal/position"
	"github.com/mercer-quant/sporttrader/internal/risk"
	"github.com/mercer-quant/sporttrader/internal/telemetry"
)

// executeEntry is spec.md 4.10's execute_entry: acquire the per-token
// entry_lock non-blocking, re-validate everything that could have changed
// since the Decision Engine produced signal, place the order, wait for the
// fill, and commit exactly one position row.
func (o *Orchestrator) executeEntry(ctx context.Context, tg *gametracker.TrackedGame, signal *decision.EntrySignal) {
	lockKey := signal.Ticker + ":" + string(signal.Side)
	unlock, ok := o.acquireEntryLock(lockKey)
	if !ok {
		telemetry.Debugw("[ENTRY] lock contended, skipping this tick", "ticker", signal.Ticker)
		return
	}
	defer unlock()

	snap := tg.Snapshot()
	if snap.PositionID != "" {
		return
	}
	if _, found, err := o.deps.Positions.GetOpenForMarket(ctx, o.deps.UserID, signal.Ticker); err != nil {
		telemetry.Errorw("[ENTRY] re-check position store failed", "ticker", signal.Ticker, "err", err)
		return
	} else if found {
		return
	}

	slipOK, observedBest, err := o.deps.Exchange.CheckSlippage(ctx, signal.Ticker, signal.Price, exchange.OrderSide(signal.Side))
	if err != nil {
		telemetry.Warnw("[ENTRY] slippage check failed", "ticker", signal.Ticker, "err", err)
		return
	}
	if !slipOK {
		telemetry.Infow("[ENTRY] slippage too high", "ticker", signal.Ticker, "intended", signal.Price.String(), "observed", observedBest.String())
		return
	}

	start := gameStartForFallback(snap.Sport, signal.Ticker, snap.Market.GameStartTime, time.Now())
	if snap.Status != "in" && start.IsZero() {
		telemetry.Infow("[ENTRY] blocked: game not live and no market-time fallback", "ticker", signal.Ticker)
		return
	}

	league := leagueFromSportKey(snap.SportKey)
	sizeUSDC := signal.SizeUSDC
	allowed, reason := o.deps.Gate.Approve(snap.Sport, league, signal.Ticker, string(signal.Side), sizeUSDC, o.riskStats(ctx, snap.Sport, league))
	if !allowed {
		telemetry.Infow("[ENTRY] rejected by risk gate", "ticker", signal.Ticker, "reason", reason)
		telemetry.Metrics.RiskRejections.Inc()
		return
	}

	count := contractsFromUSDC(sizeUSDC, signal.Price)
	order, err := o.deps.Exchange.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Ticker:        signal.Ticker,
		Action:        exchange.ActionBuy,
		Side:          exchange.OrderSide(signal.Side),
		Type:          exchange.OrderTypeLimit,
		Count:         count,
		Price:         signal.Price,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		o.deps.Gate.Release(snap.Sport, league, signal.Ticker, string(signal.Side))
		telemetry.Errorw("[ENTRY] place order failed", "ticker", signal.Ticker, "err", err)
		return
	}
	telemetry.Metrics.OrdersPlaced.Inc()
	telemetry.Plainf("[ORDER] BUY %s %s count=%d price=%s order_id=%s", signal.Ticker, signal.Side, count, signal.Price, order.OrderID)

	o.trackPendingOrder(PendingOrder{
		OrderID:  order.OrderID,
		Ticker:   signal.Ticker,
		Side:     exchange.OrderSide(signal.Side),
		Action:   exchange.ActionBuy,
		Price:    signal.Price,
		Size:     count,
		PlacedAt: time.Now(),
	})

	filled, err := o.deps.Exchange.WaitForFill(ctx, order.OrderID, o.deps.OrderFillTimeout)
	if err != nil || filled.Status != exchange.OrderStatusExecuted {
		_ = o.deps.Exchange.CancelOrder(ctx, order.OrderID)
		o.untrackPendingOrder(order.OrderID)
		o.deps.Gate.Release(snap.Sport, league, signal.Ticker, string(signal.Side))
		telemetry.Metrics.OrdersTimedOut.Inc()
		telemetry.Plainf("[RESPONSE] %s not filled within %s, cancelled", order.OrderID, o.deps.OrderFillTimeout)
		return
	}
	o.untrackPendingOrder(filled.OrderID)
	telemetry.Metrics.OrdersFilled.Inc()
	telemetry.Plainf("[RESPONSE] %s filled %d @ %s avg", filled.OrderID, filled.FillCount, filled.AvgFillPrice)

	entryCost := filled.AvgFillPrice.Mul(decimal.NewFromInt(filled.FillCount))
	row, created, err := o.deps.Positions.CreateIfAbsent(ctx, position.Position{
		ID:                   uuid.NewString(),
		UserID:                o.deps.UserID,
		ConditionID:           signal.Ticker,
		Side:                  position.Side(strings.ToUpper(string(signal.Side))),
		Status:                position.StatusOpen,
		Team:                  signal.Team,
		EntryPrice:            filled.AvgFillPrice,
		EntrySize:             decimal.NewFromInt(filled.FillCount),
		EntryCostUSDC:         entryCost,
		EntryReason:           signal.Reason,
		EntryOrderID:          filled.OrderID,
		EntryConfidenceScore:  signal.ConfidenceScore,
		EntryAt:               time.Now(),
	})
	if err != nil {
		o.deps.Gate.Release(snap.Sport, league, signal.Ticker, string(signal.Side))
		o.recordOrphan(ctx, signal.Ticker, filled.OrderID, err)
		return
	}
	if !created {
		// Another path already committed a row for this market — the
		// fill we just received has no home. Surface it, don't retry.
		o.deps.Gate.Release(snap.Sport, league, signal.Ticker, string(signal.Side))
		o.recordOrphan(ctx, signal.Ticker, filled.OrderID, fmt.Errorf("position already existed for this market"))
		return
	}

	o.deps.Gate.RecordOrder(snap.Sport, league, signal.Ticker, string(signal.Side), sizeUSDC)
	tg.SendSync(func() { tg.SetPosition(row.ID) })
	telemetry.Metrics.PositionsOpened.Inc()

	o.deps.Bus.Publish(events.Event{
		Type:      events.EventPositionOpened,
		UserID:    o.deps.UserID,
		GameID:    snap.EventID,
		Timestamp: time.Now(),
		Payload: events.PositionOpenedEvent{
			PositionID:  row.ID,
			ConditionID: row.ConditionID,
			Team:        row.Team,
			EntryPrice:  mustFloat(row.EntryPrice),
			EntrySize:   filled.FillCount,
		},
	})
}

func (o *Orchestrator) recordOrphan(ctx context.Context, ticker, orderID string, cause error) {
	telemetry.Metrics.OrphanedOrders.Inc()
	telemetry.Errorw("[ENTRY] orphaned order: fill landed but position write failed", "ticker", ticker, "order_id", orderID, "err", cause)
	if err := o.deps.Positions.RecordOrphanedOrder(ctx, o.deps.UserID, ticker, orderID); err != nil {
		telemetry.Errorw("[ENTRY] failed to record orphaned order", "ticker", ticker, "order_id", orderID, "err", err)
	}
}

// executeExit mirrors executeEntry for closing an open position: place a
// SELL, wait for fill, then commit the close atomically.
func (o *Orchestrator) executeExit(ctx context.Context, tg *gametracker.TrackedGame, positionID string, signal *decision.ExitSignal) {
	snap := tg.Snapshot()
	lockKey := snap.Market.Ticker + ":exit"
	unlock, ok := o.acquireEntryLock(lockKey)
	if !ok {
		return
	}
	defer unlock()

	row, found, err := o.deps.Positions.GetByID(ctx, positionID)
	if err != nil || !found || row.Status != position.StatusOpen {
		return
	}

	side := exchange.SideNo
	if row.Side == position.SideYes {
		side = exchange.SideYes
	}

	order, err := o.deps.Exchange.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Ticker:        row.ConditionID,
		Action:        exchange.ActionSell,
		Side:          side,
		Type:          exchange.OrderTypeLimit,
		Count:         row.EntrySize.IntPart(),
		Price:         signal.Price,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		telemetry.Errorw("[EXIT] place order failed", "position_id", positionID, "err", err)
		return
	}
	telemetry.Metrics.OrdersPlaced.Inc()
	telemetry.Plainf("[ORDER] SELL %s %s count=%s price=%s order_id=%s reason=%s", row.ConditionID, side, row.EntrySize, signal.Price, order.OrderID, signal.Reason)

	o.trackPendingOrder(PendingOrder{
		OrderID:  order.OrderID,
		Ticker:   row.ConditionID,
		Side:     side,
		Action:   exchange.ActionSell,
		Price:    signal.Price,
		Size:     row.EntrySize.IntPart(),
		PlacedAt: time.Now(),
	})

	filled, err := o.deps.Exchange.WaitForFill(ctx, order.OrderID, o.deps.OrderFillTimeout)
	if err != nil || filled.Status != exchange.OrderStatusExecuted {
		_ = o.deps.Exchange.CancelOrder(ctx, order.OrderID)
		o.untrackPendingOrder(order.OrderID)
		telemetry.Metrics.OrdersTimedOut.Inc()
		telemetry.Plainf("[RESPONSE] %s not filled within %s, cancelled", order.OrderID, o.deps.OrderFillTimeout)
		return
	}
	o.untrackPendingOrder(filled.OrderID)
	telemetry.Metrics.OrdersFilled.Inc()

	proceeds := filled.AvgFillPrice.Mul(row.EntrySize)
	closed, err := o.deps.Positions.Close(ctx, positionID, filled.AvgFillPrice, row.EntrySize, proceeds, position.ExitReason(signal.Reason), filled.OrderID)
	if err != nil {
		telemetry.Errorw("[EXIT] position close failed", "position_id", positionID, "err", err)
		return
	}

	league := leagueFromSportKey(snap.SportKey)
	o.deps.Gate.RecordClose(snap.Sport, league, row.EntryCostUSDC)
	tg.SendSync(func() { tg.SetPosition("") })
	telemetry.Metrics.PositionsClosed.Inc()

	o.deps.Bus.Publish(events.Event{
		Type:      events.EventPositionClosed,
		UserID:    o.deps.UserID,
		GameID:    snap.EventID,
		Timestamp: time.Now(),
		Payload: events.PositionClosedEvent{
			PositionID:  closed.ID,
			ConditionID: closed.ConditionID,
			ExitReason:  string(closed.ExitReason),
			RealizedPnL: mustFloat(closed.RealizedPnLUSDC),
		},
	})
}

// riskStats assembles the per-(sport,league)/global accounting the Gate
// needs for one Approve call, read fresh from the Position Store every
// time (spec.md 9: "computed view, never persisted"). Sport-level and
// global figures are the same account-wide numbers here since the
// Position Store does not currently partition by sport; the Gate's own
// per-lane guards (max open positions, max exposure per lane) already
// carry the sport/league-scoped limits.
func (o *Orchestrator) riskStats(ctx context.Context, sport, league string) risk.Stats {
	_ = sport
	_ = league
	dailyPnL, _ := o.deps.Positions.DailyPnLUSDC(ctx, o.deps.UserID)
	exposure, _ := o.deps.Positions.OpenExposureUSDC(ctx, o.deps.UserID)
	return risk.Stats{
		SportDailyPnLUSDC:      dailyPnL,
		SportOpenExposureUSDC:  exposure,
		GlobalDailyPnLUSDC:     dailyPnL,
		GlobalOpenExposureUSDC: exposure,
	}
}

// contractsFromUSDC converts a dollar sizing decision to an integer
// contract count at the given price, same conversion the teacher's
// execution path does at fill time.
func contractsFromUSDC(sizeUSDC, price decimal.Decimal) int64 {
	if price.IsZero() {
		return 0
	}
	count := sizeUSDC.Div(price).IntPart()
	if count < 1 {
		count = 1
	}
	return count
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
