package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mercer-quant/sporttrader/internal/config"
)

func testLimits() config.RiskLimits {
	return config.RiskLimits{
		"basketball": config.SportLimits{
			MaxDailyLossUSDC: 200,
			MaxSportExposure: 500,
			Leagues: map[string]config.LeagueLimits{
				"nba": {MaxOpenPositions: 2, MaxGameExposure: 100, ThrottleMs: 0},
			},
		},
	}
}

func testGlobal() config.GlobalRiskLimits {
	return config.GlobalRiskLimits{MaxDailyLossUSDC: 1000, MaxPortfolioExposureUSDC: 2000}
}

func TestGate_ApprovesWithinLimits(t *testing.T) {
	g := NewGate(testLimits(), testGlobal(), nil)

	ok, reason := g.Approve("basketball", "nba", "KXNBAGAME-A", "yes", decimal.NewFromFloat(25), Stats{})
	if !ok {
		t.Fatalf("expected approval, got blocked: %q", reason)
	}
}

func TestGate_RejectsOnSportDailyLoss(t *testing.T) {
	g := NewGate(testLimits(), testGlobal(), nil)

	stats := Stats{SportDailyPnLUSDC: decimal.NewFromFloat(-250)}
	ok, reason := g.Approve("basketball", "nba", "KXNBAGAME-A", "yes", decimal.NewFromFloat(25), stats)
	if ok {
		t.Fatal("expected rejection on sport daily loss cap")
	}
	if reason == "" {
		t.Fatal("expected a reason")
	}
}

func TestGate_RejectsOnGlobalExposureCap(t *testing.T) {
	g := NewGate(testLimits(), testGlobal(), nil)

	stats := Stats{GlobalOpenExposureUSDC: decimal.NewFromFloat(2500)}
	ok, _ := g.Approve("basketball", "nba", "KXNBAGAME-A", "yes", decimal.NewFromFloat(25), stats)
	if ok {
		t.Fatal("expected rejection on global exposure cap")
	}
}

func TestGate_LaneRejectsSecondConcurrentEntrySameTickerSide(t *testing.T) {
	g := NewGate(testLimits(), testGlobal(), nil)

	ok1, _ := g.Approve("basketball", "nba", "KXNBAGAME-A", "yes", decimal.NewFromFloat(25), Stats{})
	if !ok1 {
		t.Fatal("expected first approval to succeed")
	}

	ok2, reason := g.Approve("basketball", "nba", "KXNBAGAME-A", "yes", decimal.NewFromFloat(25), Stats{})
	if ok2 {
		t.Fatal("expected second concurrent approval for the same ticker/side to be rejected")
	}
	if reason != "duplicate entry already in flight for this ticker/side" {
		t.Fatalf("unexpected reason: %q", reason)
	}
}

func TestGate_LaneRejectsAtMaxOpenPositions(t *testing.T) {
	g := NewGate(testLimits(), testGlobal(), nil)

	g.Approve("basketball", "nba", "GAME-A", "yes", decimal.NewFromFloat(25), Stats{})
	g.RecordOrder("basketball", "nba", "GAME-A", "yes", decimal.NewFromFloat(25))

	g.Approve("basketball", "nba", "GAME-B", "yes", decimal.NewFromFloat(25), Stats{})
	g.RecordOrder("basketball", "nba", "GAME-B", "yes", decimal.NewFromFloat(25))

	ok, reason := g.Approve("basketball", "nba", "GAME-C", "yes", decimal.NewFromFloat(25), Stats{})
	if ok {
		t.Fatal("expected rejection once the league's max_open_positions is reached")
	}
	if reason != "lane max open positions reached" {
		t.Fatalf("unexpected reason: %q", reason)
	}
}
