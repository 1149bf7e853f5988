package risk

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

type fakeStatsProvider struct {
	dailyPnL   decimal.Decimal
	maxLoss    decimal.Decimal
	recentWins []bool
	orphanedN  int
}

func (f *fakeStatsProvider) DailyPnLUSDC(context.Context, string) (decimal.Decimal, error) {
	return f.dailyPnL, nil
}

func (f *fakeStatsProvider) MaxDailyLossUSDC(context.Context, string) (decimal.Decimal, error) {
	return f.maxLoss, nil
}

func (f *fakeStatsProvider) RecentTradeResults(context.Context, string, int) ([]bool, error) {
	return f.recentWins, nil
}

func (f *fakeStatsProvider) OrphanedPositionCount(context.Context, string) (int, error) {
	return f.orphanedN, nil
}

func TestManager_EvaluateTriggersDailyLoss(t *testing.T) {
	m := NewManager("user-1", nil, nil)
	stats := &fakeStatsProvider{dailyPnL: decimal.NewFromFloat(-300), maxLoss: decimal.NewFromFloat(250)}

	triggered, err := m.Evaluate(context.Background(), stats)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !containsTrigger(triggered, TriggerDailyLoss) {
		t.Fatalf("expected daily loss trigger, got %v", triggered)
	}
}

func TestManager_EvaluateTriggersConsecutiveLosses(t *testing.T) {
	m := NewManager("user-1", nil, nil)
	stats := &fakeStatsProvider{
		maxLoss:    decimal.NewFromFloat(1000),
		recentWins: []bool{false, false, false, false, true}, // 4 of 5 losses
	}

	triggered, err := m.Evaluate(context.Background(), stats)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !containsTrigger(triggered, TriggerConsecutiveLoss) {
		t.Fatalf("expected consecutive loss trigger, got %v", triggered)
	}
}

func TestManager_EvaluateDoesNotTriggerConsecutiveLossesBelowThreshold(t *testing.T) {
	m := NewManager("user-1", nil, nil)
	stats := &fakeStatsProvider{
		maxLoss:    decimal.NewFromFloat(1000),
		recentWins: []bool{false, false, false, true, true}, // only 3 of 5 losses
	}

	triggered, err := m.Evaluate(context.Background(), stats)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if containsTrigger(triggered, TriggerConsecutiveLoss) {
		t.Fatalf("did not expect consecutive loss trigger, got %v", triggered)
	}
}

func TestManager_EvaluateTriggersAPIErrorRate(t *testing.T) {
	m := NewManager("user-1", nil, nil)
	for i := 0; i < apiErrorThreshold; i++ {
		m.RecordError("scoreboard_timeout")
	}

	stats := &fakeStatsProvider{maxLoss: decimal.NewFromFloat(1000)}
	triggered, err := m.Evaluate(context.Background(), stats)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !containsTrigger(triggered, TriggerAPIErrorRate) {
		t.Fatalf("expected api error rate trigger, got %v", triggered)
	}
}

func TestManager_EvaluateTriggersOrphanedPositions(t *testing.T) {
	m := NewManager("user-1", nil, nil)
	stats := &fakeStatsProvider{maxLoss: decimal.NewFromFloat(1000), orphanedN: 2}

	triggered, err := m.Evaluate(context.Background(), stats)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !containsTrigger(triggered, TriggerOrphanedPosition) {
		t.Fatalf("expected orphaned position trigger, got %v", triggered)
	}
}

func TestManager_ActivateAndDeactivateToggleActive(t *testing.T) {
	m := NewManager("user-1", nil, nil)
	if m.Active() {
		t.Fatal("expected inactive initially")
	}

	m.Activate(context.Background(), TriggerManual, false, "operator request")
	if !m.Active() {
		t.Fatal("expected active after Activate")
	}
	if len(m.ActiveTriggers()) != 1 || m.ActiveTriggers()[0] != TriggerManual {
		t.Fatalf("expected manual trigger recorded, got %v", m.ActiveTriggers())
	}

	m.Deactivate("resolved")
	if m.Active() {
		t.Fatal("expected inactive after Deactivate")
	}
}

func containsTrigger(triggers []Trigger, want Trigger) bool {
	for _, tr := range triggers {
		if tr == want {
			return true
		}
	}
	return false
}
