// Package kelly sizes positions with fractional Kelly criterion, blending
// an estimated win probability (derived from the confidence score) with
// historical win-rate once enough trades have accumulated.
package kelly

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	DefaultKellyFraction = 0.25
	MinSampleSize        = 20
	MaxKellyFraction     = 0.5
	MinEdge              = 0.02
)

// Inputs bundles everything Size needs for one sizing decision.
type Inputs struct {
	Bankroll          decimal.Decimal
	CurrentPrice      decimal.Decimal // yes-price in [0,1]
	EstimatedWinProb  float64
	HistoricalWinRate float64 // ignored unless HistoricalSampleSize >= MinSampleSize
	HistoricalSample  int

	MaxPositionSize decimal.Decimal // zero = no cap
	MinPositionSize decimal.Decimal // zero = defaults to 1
	ContractPrice   decimal.Decimal // zero = defaults to 1

	KellyFraction    float64 // zero = DefaultKellyFraction
	MaxKellyFraction float64 // zero = MaxKellyFraction
}

// Result is the sizing recommendation.
type Result struct {
	KellyFraction        float64
	OptimalSize          float64
	AdjustedSize         float64
	Edge                 float64
	WinProbability       float64
	RecommendedContracts int64
	MaxContracts         int64
	SizingReason         string
}

// Size computes the recommended position size using fractional Kelly. A
// zero-contract result always carries a non-empty SizingReason explaining
// why (insufficient edge, invalid price).
func Size(in Inputs) Result {
	kellyFrac := in.KellyFraction
	if kellyFrac == 0 {
		kellyFrac = DefaultKellyFraction
	}
	maxKellyFrac := in.MaxKellyFraction
	if maxKellyFrac == 0 {
		maxKellyFrac = MaxKellyFraction
	}

	winProb := blendWinProbability(in.EstimatedWinProb, in.HistoricalWinRate, in.HistoricalSample)
	edge := calculateEdge(in.CurrentPrice, winProb)

	if edge <= MinEdge {
		return Result{
			Edge:           edge,
			WinProbability: winProb,
			SizingReason:   fmt.Sprintf("insufficient edge (%.4f < %.2f)", edge, MinEdge),
		}
	}

	price, _ := in.CurrentPrice.Float64()
	if price >= 1 || price <= 0 {
		return Result{
			Edge:           edge,
			WinProbability: winProb,
			SizingReason:   "invalid price (must be between 0 and 1)",
		}
	}

	odds := (1 / price) - 1
	fullKelly := calculateKellyFraction(winProb, odds)

	adjustedKelly := fullKelly * kellyFrac
	if adjustedKelly > maxKellyFrac {
		adjustedKelly = maxKellyFrac
	}
	if adjustedKelly < 0 {
		adjustedKelly = 0
	}

	bankroll, _ := in.Bankroll.Float64()
	optimalSize := bankroll * fullKelly
	adjustedSize := bankroll * adjustedKelly

	if !in.MaxPositionSize.IsZero() {
		if max, _ := in.MaxPositionSize.Float64(); adjustedSize > max {
			adjustedSize = max
		}
	}
	minSize := 1.0
	if !in.MinPositionSize.IsZero() {
		minSize, _ = in.MinPositionSize.Float64()
	}
	if adjustedSize < minSize {
		adjustedSize = minSize
	}

	contractPrice := 1.0
	if !in.ContractPrice.IsZero() {
		contractPrice, _ = in.ContractPrice.Float64()
	}

	recommended := int64(adjustedSize / contractPrice / price)
	maxContracts := int64(optimalSize / contractPrice / price)
	if recommended < 1 {
		recommended = 1
	}

	return Result{
		KellyFraction:        adjustedKelly,
		OptimalSize:          optimalSize,
		AdjustedSize:         adjustedSize,
		Edge:                 edge,
		WinProbability:       winProb,
		RecommendedContracts: recommended,
		MaxContracts:         maxContracts,
		SizingReason:         sizingReason(fullKelly, adjustedKelly, edge, in.HistoricalSample),
	}
}

// blendWinProbability mixes the estimate with historical performance once
// there are enough trades to trust it, with the blend weight scaling up to
// full trust at 5x the minimum sample size.
func blendWinProbability(estimated, historical float64, sampleSize int) float64 {
	if sampleSize < MinSampleSize {
		return estimated
	}

	confidence := float64(sampleSize) / float64(MinSampleSize*5)
	if confidence > 1.0 {
		confidence = 1.0
	}

	blended := estimated*(1-confidence) + historical*confidence
	if blended < 0.01 {
		blended = 0.01
	}
	if blended > 0.99 {
		blended = 0.99
	}
	return blended
}

// calculateEdge is (win_prob / price) - 1; positive edge means the market
// is underpricing the estimated win probability.
func calculateEdge(price decimal.Decimal, winProb float64) float64 {
	p, _ := price.Float64()
	if p <= 0 || p >= 1 {
		return 0
	}
	return (winProb / p) - 1
}

// calculateKellyFraction is the full Kelly formula f* = (p*b - q) / b.
func calculateKellyFraction(winProb, odds float64) float64 {
	if odds <= 0 {
		return 0
	}
	q := 1 - winProb
	kelly := (winProb*odds - q) / odds
	if kelly < 0 {
		return 0
	}
	return kelly
}

func sizingReason(fullKelly, adjustedKelly, edge float64, sampleSize int) string {
	reason := ""
	switch {
	case edge > 0.15:
		reason = "strong edge detected"
	case edge > 0.08:
		reason = "moderate edge detected"
	default:
		reason = "small edge detected"
	}

	if sampleSize < MinSampleSize {
		reason += fmt.Sprintf("; limited history (%d trades)", sampleSize)
	}
	if adjustedKelly < fullKelly*0.5 {
		reason += "; conservative sizing applied"
	}
	return reason
}
