package events

import "time"

// Sport identifies a top-level sport/league category. The set is open —
// new entries are added as the scoreboard registry grows, not as new
// hardcoded branches in the event types below.
type Sport string

const (
	SportBasketball Sport = "basketball"
	SportFootball   Sport = "football"
	SportHockey     Sport = "hockey"
	SportSoccer     Sport = "soccer"
	SportBaseball   Sport = "baseball"
)

// Event is the envelope that flows through the event bus. Every
// loop->orchestrator signal (game finished, price updated, kill switch
// fired, position opened/closed) is wrapped in one.
type Event struct {
	ID        string
	Type      EventType
	Sport     Sport
	League    string
	UserID    string
	GameID    string // scoreboard event id, or condition id before migration
	Timestamp time.Time
	Payload   any
}

type EventType string

const (
	// EventGameFinished is published by the Scoreboard Poll loop when a
	// tracked game's status transitions to "post".
	EventGameFinished EventType = "game_finished"
	// EventPriceUpdate is published by the Price Poll loop, and by the
	// exchange's optional push-price stream when connected.
	EventPriceUpdate EventType = "price_update"
	// EventKillSwitch is published by the Kill-Switch Monitor when a
	// trigger fires or is manually reset.
	EventKillSwitch EventType = "kill_switch"
	// EventPositionOpened/EventPositionClosed are published by the
	// execution path after a position row is committed.
	EventPositionOpened EventType = "position_opened"
	EventPositionClosed EventType = "position_closed"
)
