package position

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "positions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.CloseStore() })
	return s
}

func samplePosition(userID, conditionID, team string) Position {
	return Position{
		UserID:        userID,
		ConditionID:   conditionID,
		Side:          SideYes,
		Team:          team,
		EntryPrice:    decimal.NewFromFloat(0.55),
		EntrySize:     decimal.NewFromFloat(20),
		EntryCostUSDC: decimal.NewFromFloat(11),
		EntryReason:   "price_drop",
	}
}

// P1: N concurrent CreateIfAbsent calls on the same (user, condition_id)
// key leave exactly one open row.
func TestStore_CreateIfAbsentIsAtomicAcrossGoroutines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	createdCount := 0
	var mu sync.Mutex

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := s.CreateIfAbsent(ctx, samplePosition("user-1", "KXNBA-GAME1", "Lakers"))
			if err != nil {
				t.Errorf("create if absent: %v", err)
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if createdCount != 1 {
		t.Fatalf("expected exactly 1 goroutine to create the row, got %d", createdCount)
	}

	count, err := s.CountOpenForMarket(ctx, "user-1", "KXNBA-GAME1")
	if err != nil {
		t.Fatalf("count open: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 open row, got %d", count)
	}
}

// P2: a second open position for the same team is rejected even against a
// different condition_id.
func TestStore_CreateIfAbsentRejectsSecondOpenPositionForSameTeam(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, created1, err := s.CreateIfAbsent(ctx, samplePosition("user-1", "KXNBA-GAME1", "Lakers"))
	if err != nil || !created1 {
		t.Fatalf("expected first create to succeed, created=%v err=%v", created1, err)
	}

	row2, created2, err := s.CreateIfAbsent(ctx, samplePosition("user-1", "KXNBA-GAME2", "Lakers"))
	if err != nil {
		t.Fatalf("create if absent: %v", err)
	}
	if created2 {
		t.Fatal("expected second create for the same team to be rejected")
	}
	if row2.ConditionID != "KXNBA-GAME1" {
		t.Fatalf("expected the existing Lakers row back, got condition_id=%s", row2.ConditionID)
	}
}

// P3: realized P&L equals exit proceeds minus entry cost.
func TestStore_CloseComputesAtomicRealizedPnL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row, created, err := s.CreateIfAbsent(ctx, samplePosition("user-1", "KXNBA-GAME1", "Lakers"))
	if err != nil || !created {
		t.Fatalf("create: created=%v err=%v", created, err)
	}

	exitPrice := decimal.NewFromFloat(0.70)
	exitSize := decimal.NewFromFloat(20)
	exitProceeds := exitPrice.Mul(exitSize)

	closed, err := s.Close(ctx, row.ID, exitPrice, exitSize, exitProceeds, ExitTakeProfit, "order-123")
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	wantPnL := exitProceeds.Sub(row.EntryCostUSDC)
	if !closed.RealizedPnLUSDC.Equal(wantPnL) {
		t.Fatalf("expected realized pnl %s, got %s", wantPnL, closed.RealizedPnLUSDC)
	}
	if closed.Status != StatusClosed {
		t.Fatalf("expected closed status, got %s", closed.Status)
	}
}

// P7: closing an already-closed position is a no-op, not an error.
func TestStore_CloseIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row, _, err := s.CreateIfAbsent(ctx, samplePosition("user-1", "KXNBA-GAME1", "Lakers"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	exitPrice := decimal.NewFromFloat(0.70)
	exitSize := decimal.NewFromFloat(20)
	exitProceeds := exitPrice.Mul(exitSize)

	first, err := s.Close(ctx, row.ID, exitPrice, exitSize, exitProceeds, ExitTakeProfit, "order-123")
	if err != nil {
		t.Fatalf("first close: %v", err)
	}

	// Second call uses different (wrong) numbers — if it were not a no-op
	// it would corrupt the already-recorded P&L.
	second, err := s.Close(ctx, row.ID, decimal.NewFromFloat(0.10), decimal.NewFromFloat(20), decimal.NewFromFloat(2), ExitStopLoss, "order-456")
	if err != nil {
		t.Fatalf("second close: %v", err)
	}

	if !second.RealizedPnLUSDC.Equal(first.RealizedPnLUSDC) {
		t.Fatalf("expected second close to be a no-op, pnl changed from %s to %s", first.RealizedPnLUSDC, second.RealizedPnLUSDC)
	}
	if second.ExitReason != ExitTakeProfit {
		t.Fatalf("expected exit reason to remain %q, got %q", ExitTakeProfit, second.ExitReason)
	}

	count, err := s.CountOpenForMarket(ctx, "user-1", "KXNBA-GAME1")
	if err != nil {
		t.Fatalf("count open: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 open rows after close, got %d", count)
	}
}

func TestStore_CloseConcurrentGoroutinesAgreeOnOutcome(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row, _, err := s.CreateIfAbsent(ctx, samplePosition("user-1", "KXNBA-GAME1", "Lakers"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			price := decimal.NewFromFloat(0.5 + float64(i)*0.01)
			_, err := s.Close(ctx, row.ID, price, decimal.NewFromFloat(20), price.Mul(decimal.NewFromFloat(20)), ExitTakeProfit, "order")
			if err != nil {
				t.Errorf("concurrent close: %v", err)
			}
		}(i)
	}
	wg.Wait()

	final, ok, err := s.GetByID(ctx, row.ID)
	if err != nil || !ok {
		t.Fatalf("get by id: ok=%v err=%v", ok, err)
	}
	if final.Status != StatusClosed {
		t.Fatalf("expected closed, got %s", final.Status)
	}
}

func TestStore_DailyPnLAndOpenExposure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row, _, _ := s.CreateIfAbsent(ctx, samplePosition("user-1", "KXNBA-GAME1", "Lakers"))
	exposure, err := s.OpenExposureUSDC(ctx, "user-1")
	if err != nil {
		t.Fatalf("open exposure: %v", err)
	}
	if !exposure.Equal(row.EntryCostUSDC) {
		t.Fatalf("expected open exposure %s, got %s", row.EntryCostUSDC, exposure)
	}

	exitPrice := decimal.NewFromFloat(0.40)
	exitProceeds := exitPrice.Mul(row.EntrySize)
	if _, err := s.Close(ctx, row.ID, exitPrice, row.EntrySize, exitProceeds, ExitStopLoss, "order-1"); err != nil {
		t.Fatalf("close: %v", err)
	}

	pnl, err := s.DailyPnLUSDC(ctx, "user-1")
	if err != nil {
		t.Fatalf("daily pnl: %v", err)
	}
	wantPnL := exitProceeds.Sub(row.EntryCostUSDC)
	if !pnl.Equal(wantPnL) {
		t.Fatalf("expected daily pnl %s, got %s", wantPnL, pnl)
	}

	exposureAfter, err := s.OpenExposureUSDC(ctx, "user-1")
	if err != nil {
		t.Fatalf("open exposure after close: %v", err)
	}
	if !exposureAfter.IsZero() {
		t.Fatalf("expected zero open exposure after close, got %s", exposureAfter)
	}
}

func TestStore_RecentTradeResultsOrderedMostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	loss, _, _ := s.CreateIfAbsent(ctx, samplePosition("user-1", "KXNBA-GAME1", "Lakers"))
	s.Close(ctx, loss.ID, decimal.NewFromFloat(0.10), loss.EntrySize, decimal.NewFromFloat(2), ExitStopLoss, "o1")

	win, _, _ := s.CreateIfAbsent(ctx, samplePosition("user-1", "KXNBA-GAME2", "Celtics"))
	s.Close(ctx, win.ID, decimal.NewFromFloat(0.90), win.EntrySize, decimal.NewFromFloat(18), ExitTakeProfit, "o2")

	results, err := s.RecentTradeResults(ctx, "user-1", 5)
	if err != nil {
		t.Fatalf("recent trade results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0] {
		t.Fatalf("expected most recent trade (win) first, got %v", results)
	}
}

func TestStore_OrphanedPositionCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.OrphanedPositionCount(ctx, "user-1")
	if err != nil {
		t.Fatalf("orphaned count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 orphaned, got %d", n)
	}

	if err := s.RecordOrphanedOrder(ctx, "user-1", "KXNBA-GAME1", "order-xyz"); err != nil {
		t.Fatalf("record orphaned: %v", err)
	}
	// Recording the same order twice must not double-count.
	if err := s.RecordOrphanedOrder(ctx, "user-1", "KXNBA-GAME1", "order-xyz"); err != nil {
		t.Fatalf("record orphaned (dup): %v", err)
	}

	n, err = s.OrphanedPositionCount(ctx, "user-1")
	if err != nil {
		t.Fatalf("orphaned count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 orphaned after dedup insert, got %d", n)
	}
}

func TestStore_TradeStatsWinRate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, team := range []string{"Lakers", "Celtics", "Warriors"} {
		row, _, _ := s.CreateIfAbsent(ctx, samplePosition("user-1", "KXNBA-GAME"+team, team))
		exitPrice := decimal.NewFromFloat(0.30)
		if i < 2 {
			exitPrice = decimal.NewFromFloat(0.80) // win
		}
		s.Close(ctx, row.ID, exitPrice, row.EntrySize, exitPrice.Mul(row.EntrySize), ExitTakeProfit, "o")
	}

	stats, err := s.TradeStats(ctx, "user-1")
	if err != nil {
		t.Fatalf("trade stats: %v", err)
	}
	if stats.TotalTrades != 3 {
		t.Fatalf("expected 3 trades, got %d", stats.TotalTrades)
	}
	if stats.WinRate < 0.6 || stats.WinRate > 0.7 {
		t.Fatalf("expected win rate near 2/3, got %f", stats.WinRate)
	}
}

func TestStore_HasOpenPositionForTeam(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if s.HasOpenPositionForTeam(ctx, "user-1", "Lakers") {
		t.Fatal("expected no open position before create")
	}

	s.CreateIfAbsent(ctx, samplePosition("user-1", "KXNBA-GAME1", "Lakers"))
	if !s.HasOpenPositionForTeam(ctx, "user-1", "Lakers") {
		t.Fatal("expected open position after create")
	}
}
