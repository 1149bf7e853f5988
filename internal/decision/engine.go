package decision

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mercer-quant/sporttrader/internal/confidence"
	"github.com/mercer-quant/sporttrader/internal/exchange"
	"github.com/mercer-quant/sporttrader/internal/kelly"
)

// EvaluateEntry runs the ordered precondition chain. The first failing
// check stops the chain and returns a blocked reason; nothing past it is
// evaluated, same as the engine this was modeled on checking auto_trade
// before ever touching the database. A non-empty blockedReason always
// means signal is nil.
func EvaluateEntry(in EntryInput) (signal *EntrySignal, blockedReason string) {
	if !in.Config.IsEnabled {
		return nil, "disabled"
	}
	if !in.Config.AutoTrade {
		return nil, "auto_trade disabled"
	}
	if in.KillSwitchActive {
		return nil, "kill switch active"
	}

	if !gameIsLive(in) {
		return nil, "game not live"
	}

	if !in.Config.AllowsSegment(in.Segment) {
		return nil, "segment not in allowed_entry_segments"
	}

	if in.TimeRemainingSeconds < in.Config.MinTimeRemainingSeconds {
		return nil, "time remaining below min_time_remaining_seconds"
	}
	if in.TimeRemainingSeconds < in.Config.LatestEntryCutoffSec {
		return nil, "past latest_entry_cutoff"
	}

	if in.OpenPositionsForGame >= in.Config.MaxPositionsPerGame {
		return nil, "max_positions_per_game reached"
	}

	if in.DailyPnLUSDC.LessThanOrEqual(in.MaxDailyLossUSDC.Neg()) {
		return nil, "daily loss limit reached"
	}
	if in.OpenExposureUSDC.GreaterThanOrEqual(in.MaxExposureUSDC) {
		return nil, "max_portfolio_exposure_usdc reached"
	}

	priceSignal := checkPriceConditions(in)
	if priceSignal == nil {
		return nil, "price condition not met"
	}

	if in.Config.MinPregameProb > 0 && in.BaselineYes.LessThan(decimal.NewFromFloat(in.Config.MinPregameProb)) {
		return nil, "baseline below min_pregame_probability"
	}

	if in.HasOpenPositionForTeam != nil && in.HasOpenPositionForTeam(priceSignal.Team) {
		return nil, "already have an open position for this team"
	}

	confResult := confidence.Score(in.Confidence, in.Config.MinEntryConfidenceScore)
	if !confidence.MeetsThreshold(confResult, in.Config.MinEntryConfidenceScore) {
		return nil, "confidence score below min_entry_confidence_score"
	}

	priceSignal.ConfidenceScore = confResult.OverallScore
	priceSignal.ConfidenceBreakdown = confResult.Factors
	priceSignal.Recommendation = confResult.Recommendation

	priceSignal.SizeUSDC = sizeEntry(in, confResult)

	return priceSignal, ""
}

// gameIsLive is the scoreboard-state check with a market-time fallback for
// when the scoreboard feed hasn't refreshed recently (spec.md 4.8 step 3).
func gameIsLive(in EntryInput) bool {
	if in.IsLive {
		return true
	}
	if !in.ScoreboardStale {
		return false
	}
	if in.GameStartTime.IsZero() || in.Now.IsZero() {
		return false
	}
	return in.Now.After(in.GameStartTime)
}

// checkPriceConditions checks the YES side first, then the NO side;
// symmetric drop-from-baseline or absolute-price conditions on both.
func checkPriceConditions(in EntryInput) *EntrySignal {
	if in.BaselineYes.IsZero() || in.CurrentYes.IsZero() {
		return nil
	}

	baselineYes := in.BaselineYes
	currentYes := in.CurrentYes
	one := decimal.NewFromInt(1)
	baselineNo := one.Sub(baselineYes)
	currentNo := one.Sub(currentYes)

	threshold := decimal.NewFromFloat(in.Config.EntryThresholdDropPct)
	absolute := decimal.NewFromFloat(in.Config.AbsoluteEntryPrice)

	yesDrop := decimal.Zero
	if baselineYes.IsPositive() {
		yesDrop = baselineYes.Sub(currentYes).Div(baselineYes)
	}
	if yesDrop.GreaterThanOrEqual(threshold) || (absolute.IsPositive() && currentYes.LessThanOrEqual(absolute)) {
		return &EntrySignal{
			Side:   exchange.SideYes,
			Ticker: in.Ticker,
			Team:   in.HomeTeam,
			Price:  currentYes,
			Reason: fmt.Sprintf("YES price drop: %s%% (threshold: %s%%)",
				yesDrop.Mul(decimal.NewFromInt(100)).StringFixed(1),
				threshold.Mul(decimal.NewFromInt(100)).StringFixed(1)),
		}
	}

	noDrop := decimal.Zero
	if baselineNo.IsPositive() {
		noDrop = baselineNo.Sub(currentNo).Div(baselineNo)
	}
	if noDrop.GreaterThanOrEqual(threshold) || (absolute.IsPositive() && currentNo.LessThanOrEqual(absolute)) {
		return &EntrySignal{
			Side:   exchange.SideNo,
			Ticker: in.Ticker,
			Team:   in.AwayTeam,
			Price:  currentNo,
			Reason: fmt.Sprintf("NO price drop: %s%% (threshold: %s%%)",
				noDrop.Mul(decimal.NewFromInt(100)).StringFixed(1),
				threshold.Mul(decimal.NewFromInt(100)).StringFixed(1)),
		}
	}

	return nil
}

// sizeEntry picks the configured default size or the Kelly result, then
// applies the losing-streak reduction multiplier.
func sizeEntry(in EntryInput, confResult confidence.Result) decimal.Decimal {
	defaultSize := decimal.NewFromFloat(in.Config.DefaultPositionSize)
	size := defaultSize

	if in.UseKellySizing {
		winProb := 0.5 + (confResult.OverallScore-0.5)*0.3
		result := kelly.Size(kelly.Inputs{
			Bankroll:          in.Bankroll,
			CurrentPrice:      in.Confidence.CurrentPrice,
			EstimatedWinProb:  winProb,
			HistoricalWinRate: in.HistoricalWinRate,
			HistoricalSample:  in.HistoricalSampleSize,
			MaxPositionSize:   defaultSize.Mul(decimal.NewFromInt(2)),
			KellyFraction:     in.Config.KellyFraction,
		})
		if result.RecommendedContracts > 0 && result.AdjustedSize > 0 {
			kellySize := decimal.NewFromFloat(result.AdjustedSize)
			sizeCap := defaultSize.Mul(decimal.NewFromInt(2))
			if kellySize.LessThan(sizeCap) {
				size = kellySize
			} else {
				size = sizeCap
			}
		}
	}

	mult := in.LosingStreakMultiplier
	if mult > 0 && mult < 1.0 {
		size = size.Mul(decimal.NewFromFloat(mult))
	}
	return size
}

// EvaluateExit checks every exit condition in priority order and returns
// the first one that fires. Unlike EvaluateEntry this has no "blocked"
// return — the Trading loop calls it on every open position every tick and
// a nil result just means "keep holding".
func EvaluateExit(in ExitInput) *ExitSignal {
	if in.EmergencyStop {
		return &ExitSignal{Reason: ReasonEmergencyStop, Message: "emergency stop triggered", Price: in.CurrentPrice}
	}

	if in.EntryPrice.IsPositive() {
		pnlPct := in.CurrentPrice.Sub(in.EntryPrice).Div(in.EntryPrice)

		if pnlPct.GreaterThanOrEqual(decimal.NewFromFloat(in.Config.TakeProfitPct)) {
			return &ExitSignal{Reason: ReasonTakeProfit, Message: "take profit threshold reached", Price: in.CurrentPrice}
		}
		if pnlPct.LessThanOrEqual(decimal.NewFromFloat(-in.Config.StopLossPct)) {
			return &ExitSignal{Reason: ReasonStopLoss, Message: "stop loss threshold reached", Price: in.CurrentPrice}
		}
	}

	if in.IsFinished {
		return &ExitSignal{Reason: ReasonGameFinished, Message: "game has finished", Price: in.CurrentPrice}
	}

	if !in.Config.AllowsSegment(in.Segment) {
		return &ExitSignal{Reason: ReasonRestrictedSegment, Message: "segment no longer allowed", Price: in.CurrentPrice}
	}

	if in.TimeRemainingSeconds <= in.Config.LatestExitCutoffSec {
		return &ExitSignal{Reason: ReasonTimeExit, Message: "past latest_exit_cutoff", Price: in.CurrentPrice}
	}

	return nil
}
