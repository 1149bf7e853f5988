// Package confidence computes the multi-factor entry confidence score: a
// weighted blend of price drop, time remaining, order book depth, recent
// price trend, game state, and bid-ask spread, each normalized to [0,1].
package confidence

import "github.com/shopspring/decimal"

// Weights, fixed per the spec; they sum to 1.0.
const (
	weightPriceDrop     = 0.30
	weightTimeRemaining = 0.20
	weightVolume        = 0.15
	weightTrend         = 0.15
	weightGameState     = 0.10
	weightSpread        = 0.10
)

// BookLevel is one side (bid or ask) of the top of the order book.
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook is an optional snapshot used for the volume and spread factors.
// A nil OrderBook scores both factors neutral (0.5).
type OrderBook struct {
	Bids []BookLevel
	Asks []BookLevel
}

// Inputs bundles everything the scorer needs for one evaluation. Optional
// fields (OrderBook, RecentPrices, ScoreDiff) score neutral (0.5) when
// absent rather than penalizing or rewarding a signal that wasn't observed.
type Inputs struct {
	CurrentPrice  decimal.Decimal
	BaselinePrice decimal.Decimal

	TimeRemainingSeconds int
	TotalPeriodSeconds   int
	CurrentPeriod        int
	TotalPeriods         int

	OrderBook    *OrderBook
	RecentPrices []decimal.Decimal // oldest first

	HasScoreDiff bool
	ScoreDiff    int // positive = the side we'd buy is ahead
}

// Factors holds each individual [0,1] factor score.
type Factors struct {
	PriceDrop     float64
	TimeRemaining float64
	Volume        float64
	Trend         float64
	GameState     float64
	Spread        float64
}

// Result is the scorer's complete output.
type Result struct {
	OverallScore   float64
	Factors        Factors
	Recommendation string
}

// Recommendation tiers, in descending order of overall score.
const (
	StrongEntry     = "STRONG_ENTRY"
	GoodEntry       = "GOOD_ENTRY"
	AcceptableEntry = "ACCEPTABLE_ENTRY"
	WeakEntry       = "WEAK_ENTRY"
	NoEntry         = "NO_ENTRY"
)

// Score computes the weighted confidence score and per-factor breakdown.
// minEntryConfidence is the EffectiveConfig threshold used only to decide
// between ACCEPTABLE_ENTRY and WEAK_ENTRY in the recommendation ladder; it
// does not change the numeric OverallScore.
func Score(in Inputs, minEntryConfidence float64) Result {
	f := Factors{
		PriceDrop:     scorePriceDrop(in.CurrentPrice, in.BaselinePrice),
		TimeRemaining: scoreTimeRemaining(in.TimeRemainingSeconds, in.TotalPeriodSeconds, in.CurrentPeriod, in.TotalPeriods),
		Volume:        scoreVolume(in.OrderBook),
		Trend:         scoreTrend(in.RecentPrices, in.CurrentPrice),
		GameState:     scoreGameState(in.HasScoreDiff, in.ScoreDiff, in.CurrentPeriod, in.TotalPeriods),
		Spread:        scoreSpread(in.OrderBook),
	}

	overall := f.PriceDrop*weightPriceDrop +
		f.TimeRemaining*weightTimeRemaining +
		f.Volume*weightVolume +
		f.Trend*weightTrend +
		f.GameState*weightGameState +
		f.Spread*weightSpread

	return Result{
		OverallScore:   overall,
		Factors:        f,
		Recommendation: recommend(overall, minEntryConfidence),
	}
}

// MeetsThreshold reports whether result.OverallScore clears the configured
// minimum entry confidence.
func MeetsThreshold(result Result, minEntryConfidence float64) bool {
	return result.OverallScore >= minEntryConfidence
}

func scorePriceDrop(current, baseline decimal.Decimal) float64 {
	if baseline.IsZero() {
		return 0
	}
	dropPct, _ := baseline.Sub(current).Div(baseline).Float64()
	switch {
	case dropPct <= 0:
		return 0.0
	case dropPct >= 0.20:
		return 1.0
	case dropPct >= 0.15:
		return 0.9
	case dropPct >= 0.10:
		return 0.8
	case dropPct >= 0.07:
		return 0.7
	case dropPct >= 0.05:
		return 0.6
	case dropPct >= 0.03:
		return 0.4
	default:
		return 0.2
	}
}

func scoreTimeRemaining(remainingSec, periodSec, period, totalPeriods int) float64 {
	if periodSec == 0 || totalPeriods == 0 {
		return 0.5
	}

	periodsRemaining := totalPeriods - period
	timeInPeriodPct := float64(remainingSec) / float64(periodSec)
	totalRemainingPct := (float64(periodsRemaining) + timeInPeriodPct) / float64(totalPeriods)

	switch {
	case totalRemainingPct >= 0.75:
		return 1.0
	case totalRemainingPct >= 0.50:
		return 0.8
	case totalRemainingPct >= 0.25:
		return 0.6
	case totalRemainingPct >= 0.10:
		return 0.4
	default:
		return 0.2
	}
}

func scoreVolume(book *OrderBook) float64 {
	if book == nil {
		return 0.5
	}

	total := 0.0
	for i, b := range book.Bids {
		if i >= 5 {
			break
		}
		v, _ := b.Size.Float64()
		total += v
	}
	for i, a := range book.Asks {
		if i >= 5 {
			break
		}
		v, _ := a.Size.Float64()
		total += v
	}

	switch {
	case total >= 10000:
		return 1.0
	case total >= 5000:
		return 0.8
	case total >= 1000:
		return 0.6
	case total >= 100:
		return 0.4
	default:
		return 0.2
	}
}

func scoreTrend(recent []decimal.Decimal, current decimal.Decimal) float64 {
	if len(recent) < 3 {
		return 0.5
	}

	prices := recent
	if len(prices) > 10 {
		prices = prices[len(prices)-10:]
	}

	recentAvg := avg(prices[len(prices)-3:])
	earlyN := 3
	if len(prices) < 3 {
		earlyN = len(prices)
	}
	earlyAvg := avg(prices[:earlyN])

	trend := recentAvg - earlyAvg
	switch {
	case trend > 0.02:
		return 0.9
	case trend > 0:
		return 0.7
	case trend > -0.02:
		return 0.5
	case trend > -0.05:
		return 0.3
	default:
		return 0.1
	}
}

func avg(ds []decimal.Decimal) float64 {
	if len(ds) == 0 {
		return 0
	}
	sum := decimal.Zero
	for _, d := range ds {
		sum = sum.Add(d)
	}
	v, _ := sum.Div(decimal.NewFromInt(int64(len(ds)))).Float64()
	return v
}

func scoreGameState(hasDiff bool, diff, period, totalPeriods int) float64 {
	if !hasDiff || totalPeriods == 0 {
		return 0.5
	}

	gameProgress := float64(period) / float64(totalPeriods)

	if diff < 0 {
		deficit := -diff
		if gameProgress < 0.5 {
			switch {
			case deficit <= 10:
				return 0.9
			case deficit <= 15:
				return 0.7
			default:
				return 0.5
			}
		}
		switch {
		case deficit <= 5:
			return 0.7
		case deficit <= 10:
			return 0.5
		default:
			return 0.3
		}
	}

	if diff > 0 {
		return 0.6
	}
	return 0.7
}

func scoreSpread(book *OrderBook) float64 {
	if book == nil || len(book.Bids) == 0 || len(book.Asks) == 0 {
		return 0.5
	}

	bestBid, _ := book.Bids[0].Price.Float64()
	bestAsk, _ := book.Asks[0].Price.Float64()
	if bestBid == 0 {
		return 0.3
	}

	spreadPct := (bestAsk - bestBid) / bestBid
	switch {
	case spreadPct <= 0.005:
		return 1.0
	case spreadPct <= 0.01:
		return 0.8
	case spreadPct <= 0.02:
		return 0.6
	case spreadPct <= 0.05:
		return 0.4
	default:
		return 0.2
	}
}

func recommend(overall, minEntryConfidence float64) string {
	switch {
	case overall >= 0.8:
		return StrongEntry
	case overall >= 0.7:
		return GoodEntry
	case overall >= minEntryConfidence:
		return AcceptableEntry
	case overall >= 0.4:
		return WeakEntry
	default:
		return NoEntry
	}
}
