package fleet

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mercer-quant/sporttrader/internal/config"
	"github.com/mercer-quant/sporttrader/internal/events"
	"github.com/mercer-quant/sporttrader/internal/exchange"
	"github.com/mercer-quant/sporttrader/internal/gametracker"
	"github.com/mercer-quant/sporttrader/internal/orchestrator"
	"github.com/mercer-quant/sporttrader/internal/position"
	"github.com/mercer-quant/sporttrader/internal/risk"
)

// nopExchange is the minimal exchange.Client a fleet test needs: the
// orchestrator's loops never fire in the time a lifecycle test runs, so
// every method here is unreachable and exists only to satisfy the
// interface.
type nopExchange struct{ exchange.Client }

func testDeps(t *testing.T) orchestrator.Deps {
	t.Helper()

	posStore, err := position.Open(filepath.Join(t.TempDir(), "positions.db"))
	if err != nil {
		t.Fatalf("open position store: %v", err)
	}
	t.Cleanup(func() { posStore.CloseStore() })

	marketStore, err := gametracker.OpenMarketStore(filepath.Join(t.TempDir(), "markets.db"))
	if err != nil {
		t.Fatalf("open market store: %v", err)
	}
	t.Cleanup(func() { marketStore.Close() })

	return orchestrator.Deps{
		Exchange:         &nopExchange{},
		Games:            gametracker.NewStore(),
		Positions:        posStore,
		Markets:          marketStore,
		Bus:              events.NewBus(),
		Gate:             risk.NewGate(config.RiskLimits{}, config.GlobalRiskLimits{}, nil),
		SportConfigs:     map[string]*config.SportDefault{},
		OrderFillTimeout: time.Second,
		Bankroll:         decimal.NewFromInt(1000),
		MaxTrackedGames:  100,
	}
}

func TestFleet_StartTracksUserAndIsIdempotent(t *testing.T) {
	f := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch1, err := f.Start(ctx, "user-1", testDeps(t), nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if f.Count() != 1 {
		t.Fatalf("expected 1 tracked user, got %d", f.Count())
	}

	orch2, err := f.Start(ctx, "user-1", testDeps(t), nil)
	if err != nil {
		t.Fatalf("restart running user: %v", err)
	}
	if orch1 != orch2 {
		t.Fatalf("expected Start on an already-running user to return the same orchestrator")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := f.Stop(stopCtx, "user-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestFleet_GetReturnsFalseForUnknownUser(t *testing.T) {
	f := New()
	if _, ok := f.Get("ghost"); ok {
		t.Fatalf("expected no orchestrator for an unknown user")
	}
}

func TestFleet_StopUnknownUserIsNoOp(t *testing.T) {
	f := New()
	if err := f.Stop(context.Background(), "ghost"); err != nil {
		t.Fatalf("expected stop of an untracked user to be a no-op, got %v", err)
	}
}

func TestFleet_StopRemovesUserFromFleet(t *testing.T) {
	f := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := f.Start(ctx, "user-1", testDeps(t), nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := f.Stop(stopCtx, "user-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if _, ok := f.Get("user-1"); ok {
		t.Fatalf("expected user to be removed from the fleet after stop")
	}
	if f.Count() != 0 {
		t.Fatalf("expected 0 tracked users after stop, got %d", f.Count())
	}
}

func TestFleet_StartMultipleUsersAreIndependent(t *testing.T) {
	f := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := f.Start(ctx, "user-1", testDeps(t), nil); err != nil {
		t.Fatalf("start user-1: %v", err)
	}
	if _, err := f.Start(ctx, "user-2", testDeps(t), nil); err != nil {
		t.Fatalf("start user-2: %v", err)
	}

	if f.Count() != 2 {
		t.Fatalf("expected 2 tracked users, got %d", f.Count())
	}

	ids := f.UserIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 user ids, got %d", len(ids))
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := f.StopAll(stopCtx); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	if f.Count() != 0 {
		t.Fatalf("expected 0 tracked users after StopAll, got %d", f.Count())
	}
}
