package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mercer-quant/sporttrader/internal/exchange"
	"github.com/mercer-quant/sporttrader/internal/position"
)

func newTestPositionStore(t *testing.T) *position.Store {
	t.Helper()
	s, err := position.Open(filepath.Join(t.TempDir(), "positions.db"))
	if err != nil {
		t.Fatalf("open position store: %v", err)
	}
	t.Cleanup(func() { s.CloseStore() })
	return s
}

func TestPositionCloser_ClosesAtSlippageAdjustedMarketPrice(t *testing.T) {
	store := newTestPositionStore(t)
	ctx := context.Background()

	yes, _, err := store.CreateIfAbsent(ctx, position.Position{
		UserID: "user-1", ConditionID: "KXCLOSE-YES", Side: position.SideYes, Team: "Lakers",
		EntryPrice: decimal.NewFromFloat(0.50), EntrySize: decimal.NewFromFloat(10), EntryCostUSDC: decimal.NewFromFloat(5),
	})
	if err != nil {
		t.Fatalf("create yes position: %v", err)
	}
	no, _, err := store.CreateIfAbsent(ctx, position.Position{
		UserID: "user-1", ConditionID: "KXCLOSE-NO", Side: position.SideNo, Team: "Celtics",
		EntryPrice: decimal.NewFromFloat(0.40), EntrySize: decimal.NewFromFloat(10), EntryCostUSDC: decimal.NewFromFloat(4),
	})
	if err != nil {
		t.Fatalf("create no position: %v", err)
	}

	ex := &fakeExchange{market: exchange.Market{YesBid: decimal.NewFromFloat(0.60), NoBid: decimal.NewFromFloat(0.30)}}
	closer := &positionCloser{store: store, exchange: ex}

	closed, _, err := closer.closeAllAtMarket(ctx, "user-1", 0.02, position.ExitEmergencyStop)
	if err != nil {
		t.Fatalf("close all: %v", err)
	}
	if closed != 2 {
		t.Fatalf("expected 2 positions closed, got %d", closed)
	}

	closedYes, _, err := store.GetByID(ctx, yes.ID)
	if err != nil {
		t.Fatalf("get yes: %v", err)
	}
	wantYes := decimal.NewFromFloat(0.60).Mul(decimal.NewFromFloat(0.98))
	if !closedYes.ExitPrice.Equal(wantYes) {
		t.Fatalf("expected yes exit price %s, got %s", wantYes, closedYes.ExitPrice)
	}
	if closedYes.ExitReason != position.ExitEmergencyStop {
		t.Fatalf("expected exit reason emergency_stop, got %s", closedYes.ExitReason)
	}

	closedNo, _, err := store.GetByID(ctx, no.ID)
	if err != nil {
		t.Fatalf("get no: %v", err)
	}
	wantNo := decimal.NewFromFloat(0.30).Mul(decimal.NewFromFloat(0.98))
	if !closedNo.ExitPrice.Equal(wantNo) {
		t.Fatalf("expected no exit price %s, got %s", wantNo, closedNo.ExitPrice)
	}
}

func TestPositionCloser_FallsBackToEntryPriceWhenQuoteFails(t *testing.T) {
	store := newTestPositionStore(t)
	ctx := context.Background()

	pos, _, err := store.CreateIfAbsent(ctx, position.Position{
		UserID: "user-1", ConditionID: "KXCLOSE-ERR", Side: position.SideYes, Team: "Lakers",
		EntryPrice: decimal.NewFromFloat(0.50), EntrySize: decimal.NewFromFloat(10), EntryCostUSDC: decimal.NewFromFloat(5),
	})
	if err != nil {
		t.Fatalf("create position: %v", err)
	}

	ex := &fakeExchange{}
	closer := &positionCloser{store: store, exchange: ex}

	if _, _, err := closer.closeAllAtMarket(ctx, "user-1", 0.02, position.ExitKillSwitch); err != nil {
		t.Fatalf("close all: %v", err)
	}

	row, _, err := store.GetByID(ctx, pos.ID)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	want := decimal.NewFromFloat(0.50).Mul(decimal.NewFromFloat(0.98))
	if !row.ExitPrice.Equal(want) {
		t.Fatalf("expected fallback exit price %s, got %s", want, row.ExitPrice)
	}
}

func TestStatsProvider_DelegatesToStoreAndConfiguredLimit(t *testing.T) {
	store := newTestPositionStore(t)
	sp := &statsProvider{store: store, maxDailyLossUSDC: decimal.NewFromFloat(500)}

	limit, err := sp.MaxDailyLossUSDC(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("max daily loss: %v", err)
	}
	if !limit.Equal(decimal.NewFromFloat(500)) {
		t.Fatalf("expected configured limit 500, got %s", limit)
	}

	if _, err := sp.DailyPnLUSDC(context.Background(), "user-1"); err != nil {
		t.Fatalf("daily pnl: %v", err)
	}
	if _, err := sp.RecentTradeResults(context.Background(), "user-1", 5); err != nil {
		t.Fatalf("recent trade results: %v", err)
	}
	if _, err := sp.OrphanedPositionCount(context.Background(), "user-1"); err != nil {
		t.Fatalf("orphaned position count: %v", err)
	}
}
