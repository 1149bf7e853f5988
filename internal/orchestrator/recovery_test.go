package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mercer-quant/sporttrader/internal/discovery"
	"github.com/mercer-quant/sporttrader/internal/gametracker"
	"github.com/mercer-quant/sporttrader/internal/position"
)

func TestInitialize_RecoversOpenPositionKeyedByESPNEventID(t *testing.T) {
	o := New(newTestDeps(t, &fakeExchange{}))
	ctx := context.Background()

	row, created, err := o.deps.Positions.CreateIfAbsent(ctx, position.Position{
		UserID:        o.deps.UserID,
		ConditionID:   "KXRECOVER-1",
		Side:          position.SideYes,
		Team:          "Lakers",
		EntryPrice:    decimal.NewFromFloat(0.55),
		EntrySize:     decimal.NewFromFloat(15),
		EntryCostUSDC: decimal.NewFromFloat(8.25),
	})
	if err != nil || !created {
		t.Fatalf("create position: created=%v err=%v", created, err)
	}

	if err := o.deps.Markets.Upsert(ctx, gametracker.MarketRecord{
		UserID:        o.deps.UserID,
		ConditionID:   "KXRECOVER-1",
		Sport:         "basketball",
		SportKey:      "basketball/nba",
		HomeTeam:      "Lakers",
		AwayTeam:      "Celtics",
		BaselineYes:   decimal.NewFromFloat(0.60),
		ESPNEventID:   "espn-99",
		LastUpdatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("upsert market record: %v", err)
	}

	if err := o.Initialize(ctx, nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	tg, ok := o.deps.Games.Get("basketball", "espn-99")
	if !ok {
		t.Fatalf("expected a tracked game keyed by espn event id")
	}
	snap := tg.Snapshot()
	if snap.PositionID != row.ID {
		t.Fatalf("expected recovered position id %s, got %s", row.ID, snap.PositionID)
	}
	if !snap.CurrentYesPrice.Equal(row.EntryPrice) {
		t.Fatalf("expected current price seeded from entry price, got %s", snap.CurrentYesPrice)
	}
}

func TestInitialize_RecoversOpenPositionWithoutMarketRecord(t *testing.T) {
	o := New(newTestDeps(t, &fakeExchange{}))
	ctx := context.Background()

	row, created, err := o.deps.Positions.CreateIfAbsent(ctx, position.Position{
		UserID:        o.deps.UserID,
		ConditionID:   "KXRECOVER-2",
		Side:          position.SideNo,
		Team:          "Celtics",
		EntryPrice:    decimal.NewFromFloat(0.44),
		EntrySize:     decimal.NewFromFloat(5),
		EntryCostUSDC: decimal.NewFromFloat(2.2),
	})
	if err != nil || !created {
		t.Fatalf("create position: created=%v err=%v", created, err)
	}

	if err := o.Initialize(ctx, nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	tg, ok := o.deps.Games.Get("", "KXRECOVER-2")
	if !ok {
		t.Fatalf("expected a tracked game keyed by condition id when no market record exists")
	}
	snap := tg.Snapshot()
	if snap.PositionID != row.ID {
		t.Fatalf("expected recovered position id %s, got %s", row.ID, snap.PositionID)
	}
}

func TestMigrateTrackedKey_MovesInMemoryAndPersistedRow(t *testing.T) {
	o := New(newTestDeps(t, &fakeExchange{}))
	ctx := context.Background()

	market := discovery.DiscoveredMarket{Ticker: "KXRECOVER-3", Sport: "basketball", HomeTeam: "Lakers", AwayTeam: "Celtics"}
	tg := o.deps.Games.Add("basketball", "basketball/nba", "KXRECOVER-3", "Lakers", "Celtics",
		market, decimal.NewFromFloat(0.5), gametracker.SelectionAuto)
	tg.SendSync(func() { tg.SetPosition("pos-123") })

	if err := o.deps.Markets.Upsert(ctx, gametracker.MarketRecord{
		UserID: o.deps.UserID, ConditionID: "KXRECOVER-3", Sport: "basketball", SportKey: "basketball/nba",
		HomeTeam: "Lakers", AwayTeam: "Celtics", LastUpdatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	o.migrateTrackedKey(ctx, "basketball", "KXRECOVER-3", "espn-200")

	if _, ok := o.deps.Games.Get("basketball", "KXRECOVER-3"); ok {
		t.Fatalf("expected old key to no longer resolve after migration")
	}
	moved, ok := o.deps.Games.Get("basketball", "espn-200")
	if !ok {
		t.Fatalf("expected new key to resolve after migration")
	}
	if moved.Snapshot().PositionID != "pos-123" {
		t.Fatalf("expected position id preserved across rekey")
	}

	rec, ok, err := o.deps.Markets.GetByConditionID(ctx, o.deps.UserID, "KXRECOVER-3")
	if err != nil || !ok {
		t.Fatalf("get persisted record: ok=%v err=%v", ok, err)
	}
	if rec.ESPNEventID != "espn-200" {
		t.Fatalf("expected persisted espn_event_id migrated, got %q", rec.ESPNEventID)
	}
}
