package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mercer-quant/sporttrader/internal/config"
	"github.com/mercer-quant/sporttrader/internal/events"
	"github.com/mercer-quant/sporttrader/internal/gametracker"
	"github.com/mercer-quant/sporttrader/internal/position"
	"github.com/mercer-quant/sporttrader/internal/risk"
)

func newTestDeps(t *testing.T, ex *fakeExchange) Deps {
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

	autoTrade := true
	minConf := 0.0
	sport := &config.SportDefault{AutoTrade: &autoTrade, MinEntryConfidence: &minConf}

	return Deps{
		UserID:     "user-1",
		Exchange:   ex,
		Games:      gametracker.NewStore(),
		Positions:  posStore,
		Markets:    marketStore,
		Bus:        events.NewBus(),
		Gate:       risk.NewGate(config.RiskLimits{}, config.GlobalRiskLimits{}, nil),
		SportConfigs: map[string]*config.SportDefault{
			"basketball": sport,
		},
		OrderFillTimeout: time.Second,
		Bankroll:         decimal.NewFromInt(1000),
		MaxTrackedGames:  100,
	}
}

func TestOrchestrator_StartStopTransitions(t *testing.T) {
	o := New(newTestDeps(t, &fakeExchange{}))

	if o.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", o.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := o.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if o.State() != StateRunning {
		t.Fatalf("expected running, got %s", o.State())
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := o.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if o.State() != StateStopped {
		t.Fatalf("expected stopped after Stop, got %s", o.State())
	}
}

func TestOrchestrator_PauseResume(t *testing.T) {
	o := New(newTestDeps(t, &fakeExchange{}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := o.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		o.Stop(stopCtx)
	}()

	o.Pause("test pause")
	if o.State() != StatePaused {
		t.Fatalf("expected paused, got %s", o.State())
	}

	if err := o.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if o.State() != StateRunning {
		t.Fatalf("expected running after resume, got %s", o.State())
	}
}

func TestOrchestrator_ResumeFailsWhenNotPaused(t *testing.T) {
	o := New(newTestDeps(t, &fakeExchange{}))
	if err := o.Resume(); err == nil {
		t.Fatalf("expected error resuming a stopped orchestrator")
	}
}

func TestAcquireEntryLock_ContendingCallerFails(t *testing.T) {
	o := New(newTestDeps(t, &fakeExchange{}))

	unlock, ok := o.acquireEntryLock("TICKER:yes")
	if !ok {
		t.Fatalf("expected first lock acquisition to succeed")
	}

	if _, ok := o.acquireEntryLock("TICKER:yes"); ok {
		t.Fatalf("expected contending acquisition to fail while held")
	}

	unlock()

	if _, ok := o.acquireEntryLock("TICKER:yes"); !ok {
		t.Fatalf("expected acquisition to succeed after unlock")
	}
}

func TestAcquireEntryLock_DistinctKeysDoNotContend(t *testing.T) {
	o := New(newTestDeps(t, &fakeExchange{}))

	_, ok1 := o.acquireEntryLock("TICKER:yes")
	_, ok2 := o.acquireEntryLock("TICKER:no")
	if !ok1 || !ok2 {
		t.Fatalf("expected independent keys to both acquire, got %v %v", ok1, ok2)
	}
}

func TestLeagueFromSportKey(t *testing.T) {
	cases := map[string]string{
		"basketball/nba": "nba",
		"football/nfl":   "nfl",
		"nohint":         "nohint",
	}
	for in, want := range cases {
		if got := leagueFromSportKey(in); got != want {
			t.Errorf("leagueFromSportKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEmergencyShutdown_SetsFlagAndStops(t *testing.T) {
	o := New(newTestDeps(t, &fakeExchange{}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := o.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := o.emergencyShutdown(shutdownCtx, false); err != nil {
		t.Fatalf("emergency shutdown: %v", err)
	}

	if !o.emergencyStop.Load() {
		t.Fatalf("expected emergencyStop flag set")
	}
	if o.State() != StateStopped {
		t.Fatalf("expected stopped after emergency shutdown, got %s", o.State())
	}
}
