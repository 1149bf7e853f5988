package kelly

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// P9: edge <= 0.02 must yield zero recommended contracts.
func TestSize_InsufficientEdgeYieldsZeroContracts(t *testing.T) {
	in := Inputs{
		Bankroll:         dec("1000"),
		CurrentPrice:     dec("0.50"),
		EstimatedWinProb: 0.51, // edge = 0.51/0.50 - 1 = 0.02, not > MinEdge
	}
	result := Size(in)
	if result.RecommendedContracts != 0 {
		t.Fatalf("expected 0 contracts for edge at threshold, got %d (edge=%.4f)", result.RecommendedContracts, result.Edge)
	}
	if result.SizingReason == "" {
		t.Fatal("expected a non-empty sizing reason")
	}
}

func TestSize_StrongEdgeRecommendsPositiveContracts(t *testing.T) {
	in := Inputs{
		Bankroll:         dec("1000"),
		CurrentPrice:     dec("0.40"),
		EstimatedWinProb: 0.60,
	}
	result := Size(in)
	if result.RecommendedContracts < 1 {
		t.Fatalf("expected at least 1 recommended contract, got %d", result.RecommendedContracts)
	}
	if result.Edge <= MinEdge {
		t.Fatalf("expected edge above threshold, got %.4f", result.Edge)
	}
}

func TestSize_HistoricalBlendRequiresSampleSize(t *testing.T) {
	in := Inputs{
		Bankroll:          dec("1000"),
		CurrentPrice:      dec("0.40"),
		EstimatedWinProb:  0.55,
		HistoricalWinRate: 0.90,
		HistoricalSample:  5, // below MinSampleSize, historical rate should be ignored
	}
	result := Size(in)
	if result.WinProbability != 0.55 {
		t.Fatalf("expected win probability to stay at the estimate (0.55) below MinSampleSize, got %.4f", result.WinProbability)
	}
}

func TestSize_InvalidPriceRejected(t *testing.T) {
	in := Inputs{
		Bankroll:         dec("1000"),
		CurrentPrice:     dec("1.0"),
		EstimatedWinProb: 0.9,
	}
	result := Size(in)
	if result.RecommendedContracts != 0 {
		t.Fatalf("expected 0 contracts for invalid price, got %d", result.RecommendedContracts)
	}
}
