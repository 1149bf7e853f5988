// Package position is the durable Position Store: the one place position
// rows are created, closed, and queried. Partial unique indexes on open
// rows make two racing entry paths for the same (user, condition_id)
// produce exactly one open row, and a close only updates a row still open
// so a double close is a no-op — spec.md's P1/P7 invariants.
package position

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// ExitReason mirrors decision.ExitSignal's reasons plus kill_switch, which
// the Decision Engine never emits itself (the risk package does).
type ExitReason string

const (
	ExitTakeProfit        ExitReason = "take_profit"
	ExitStopLoss          ExitReason = "stop_loss"
	ExitGameFinished      ExitReason = "game_finished"
	ExitTimeExit          ExitReason = "time_exit"
	ExitSegmentExit       ExitReason = "segment_exit"
	ExitEmergencyStop     ExitReason = "emergency_stop"
	ExitKillSwitch        ExitReason = "kill_switch"
)

// Position is one entry/exit cycle on a market. Open rows have zero-value
// exit fields; closed rows are immutable once written.
type Position struct {
	ID          string
	UserID      string
	ConditionID string // exchange ticker
	Side        Side
	Status      Status
	Team        string

	EntryPrice           decimal.Decimal
	EntrySize             decimal.Decimal // contracts
	EntryCostUSDC        decimal.Decimal
	EntryReason          string
	EntryOrderID         string
	EntryConfidenceScore float64
	EntryAt              time.Time

	ExitPrice        decimal.Decimal
	ExitSize         decimal.Decimal
	ExitProceedsUSDC decimal.Decimal
	ExitReason       ExitReason
	ExitOrderID      string
	RealizedPnLUSDC  decimal.Decimal
	ClosedAt         time.Time
}

// TradeStats summarizes a user's closed-trade history, used by Kelly
// sizing's historical win-rate blend. (The kill-switch monitor's
// consecutive-loss check reads Store.RecentTradeResults instead.)
type TradeStats struct {
	TotalTrades int
	WinRate     float64
}
