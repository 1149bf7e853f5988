// Package decision evaluates entry and exit preconditions for tracked
// games and open positions. It never places an order or touches storage —
// it only emits signals that the Orchestrator's execution path acts on,
// mirroring the teacher's separation between TradingEngine.evaluate_* and
// TradingEngine.execute_* (execution lives in internal/orchestrator here).
package decision

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mercer-quant/sporttrader/internal/confidence"
	"github.com/mercer-quant/sporttrader/internal/config"
	"github.com/mercer-quant/sporttrader/internal/exchange"
)

// EntryInput bundles every fact the entry precondition chain needs. The
// caller (Orchestrator's Trading loop) is responsible for assembling this
// from the tracked game's snapshot, the risk gate, and the position store —
// the decision engine itself has no I/O and no knowledge of any of those
// subsystems.
type EntryInput struct {
	Config config.EffectiveConfig

	KillSwitchActive bool

	// IsLive comes from the scoreboard. When the scoreboard feed is stale,
	// GameStartTime lets the caller fall back to a market-time check
	// (spec.md 4.8 step 3: "live by scoreboard state OR by market's
	// game-start-time if scoreboard is stale").
	IsLive          bool
	ScoreboardStale bool
	GameStartTime   time.Time
	Now             time.Time

	Segment              string
	TimeRemainingSeconds int

	OpenPositionsForGame int

	DailyPnLUSDC     decimal.Decimal
	MaxDailyLossUSDC decimal.Decimal
	OpenExposureUSDC decimal.Decimal
	MaxExposureUSDC  decimal.Decimal

	Ticker      string
	HomeTeam    string
	AwayTeam    string
	BaselineYes decimal.Decimal
	CurrentYes  decimal.Decimal

	// HasOpenPositionForTeam reports whether the user already has an open
	// position on the named team, across any market — spec.md 4.8 step 10.
	HasOpenPositionForTeam func(team string) bool

	Confidence confidence.Inputs

	Bankroll             decimal.Decimal
	UseKellySizing       bool
	HistoricalWinRate    float64
	HistoricalSampleSize int

	// LosingStreakMultiplier scales the computed size down while on a
	// losing streak. 1.0 means no reduction; the risk gate/kill-switch
	// monitor is the one subsystem that knows the streak length.
	LosingStreakMultiplier float64
}

// EntrySignal is what the Decision Engine emits on a successful entry
// evaluation. SizeUSDC is a dollar amount, not a contract count — the
// Orchestrator's execution path converts it to contracts at fill time
// (position_size / price), same as the engine this was modeled on.
type EntrySignal struct {
	Side   exchange.OrderSide
	Ticker string
	Team   string

	Price    decimal.Decimal
	SizeUSDC decimal.Decimal

	Reason string

	ConfidenceScore     float64
	ConfidenceBreakdown confidence.Factors
	Recommendation      string
}

// ExitInput bundles what the exit precondition chain needs for one open
// position, re-evaluated on every Trading loop tick.
type ExitInput struct {
	Config config.EffectiveConfig

	EmergencyStop bool

	EntryPrice   decimal.Decimal
	CurrentPrice decimal.Decimal

	IsFinished bool
	Segment    string

	TimeRemainingSeconds int
}

// ExitSignal is what the Decision Engine emits when an open position
// should be closed.
type ExitSignal struct {
	Reason  string
	Message string
	Price   decimal.Decimal
}

// Exit reasons, in the priority order the chain checks them.
const (
	ReasonEmergencyStop     = "emergency_stop"
	ReasonTakeProfit        = "take_profit"
	ReasonStopLoss          = "stop_loss"
	ReasonGameFinished      = "game_finished"
	ReasonRestrictedSegment = "restricted_segment"
	ReasonTimeExit          = "time_exit"
)
