// Package gametracker holds the live map of games the Orchestrator is
// tracking, one actor goroutine per game — the same ownership idiom as the
// teacher's internal/core/state/game.GameContext: all state mutations are
// serialized through an inbox channel so no field needs its own mutex.
package gametracker

import (
	"github.com/shopspring/decimal"

	"github.com/mercer-quant/sporttrader/internal/discovery"
	"github.com/mercer-quant/sporttrader/internal/scoreboard"
	"github.com/mercer-quant/sporttrader/internal/telemetry"
)

// Selection is which side of the market the user has configured for a game.
type Selection string

const (
	SelectionHome Selection = "home"
	SelectionAway Selection = "away"
	SelectionBoth Selection = "both"
	SelectionAuto Selection = "auto"
)

// GameKey uniquely identifies a tracked game.
type GameKey struct {
	Sport   string
	EventID string
}

// TrackedGame is the single source of truth for one tracked game: identity,
// market binding, baseline and live price, and the open position link.
// Every mutable field is only ever touched from the actor's own goroutine
// (inside a closure sent via Send) — readers snapshot a copy via Snapshot.
type TrackedGame struct {
	EventID  string
	Sport    string // sport family, e.g. "basketball"
	SportKey string // scoreboard registry key, e.g. "basketball/nba"
	HomeTeam string
	AwayTeam string

	Market         discovery.DiscoveredMarket
	BaselineYesPrice decimal.Decimal

	CurrentYesPrice decimal.Decimal
	Status          string // "pre", "in", "post"
	Period          int
	Segment         string
	ClockDisplay    string
	TimeRemainingSeconds int
	HomeScore       int
	AwayScore       int
	LastUpdate      int64 // unix seconds, stamped by the caller

	Selection  Selection
	PositionID string // empty means no open position

	inbox chan func()
	stop  chan struct{}
}

// Snapshot is an immutable copy of a TrackedGame's fields, safe to read
// outside the actor goroutine.
type Snapshot struct {
	EventID          string
	Sport            string
	SportKey         string
	HomeTeam         string
	AwayTeam         string
	Market           discovery.DiscoveredMarket
	BaselineYesPrice decimal.Decimal
	CurrentYesPrice  decimal.Decimal
	Status           string
	Period           int
	Segment          string
	ClockDisplay     string
	TimeRemainingSeconds int
	HomeScore        int
	AwayScore        int
	LastUpdate       int64
	Selection        Selection
	PositionID       string
}

func newTrackedGame(sport, sportKey, eventID, homeTeam, awayTeam string, market discovery.DiscoveredMarket, baseline decimal.Decimal, selection Selection) *TrackedGame {
	tg := &TrackedGame{
		EventID:          eventID,
		Sport:            sport,
		SportKey:         sportKey,
		HomeTeam:         homeTeam,
		AwayTeam:         awayTeam,
		Market:           market,
		BaselineYesPrice: baseline,
		CurrentYesPrice:  baseline,
		Status:           "pre",
		Selection:        selection,
		inbox:            make(chan func(), 64),
		stop:             make(chan struct{}),
	}
	go tg.run()
	return tg
}

func (tg *TrackedGame) run() {
	defer close(tg.stop)
	for fn := range tg.inbox {
		fn()
	}
}

// Send enqueues a closure to run on this game's goroutine. Non-blocking:
// drops and logs a warning if the inbox is full rather than block the
// caller (discovery loop, scoreboard poll, or price poll).
func (tg *TrackedGame) Send(fn func()) {
	select {
	case tg.inbox <- fn:
	default:
		telemetry.Metrics.InboxOverflows.Inc()
		telemetry.Warnw("gametracker: inbox full, dropping update", "event_id", tg.EventID)
	}
}

// SendSync runs fn on the game's goroutine and blocks until it completes,
// for callers (UpdateAll, decision evaluation) that need the result before
// proceeding.
func (tg *TrackedGame) SendSync(fn func()) {
	done := make(chan struct{})
	tg.Send(func() {
		fn()
		close(done)
	})
	<-done
}

// Snapshot returns a copy of the current state, safe to read without
// racing the actor goroutine.
func (tg *TrackedGame) Snapshot() Snapshot {
	var snap Snapshot
	tg.SendSync(func() {
		snap = Snapshot{
			EventID:          tg.EventID,
			Sport:            tg.Sport,
			SportKey:         tg.SportKey,
			HomeTeam:         tg.HomeTeam,
			AwayTeam:         tg.AwayTeam,
			Market:           tg.Market,
			BaselineYesPrice: tg.BaselineYesPrice,
			CurrentYesPrice:  tg.CurrentYesPrice,
			Status:           tg.Status,
			Period:           tg.Period,
			Segment:          tg.Segment,
			ClockDisplay:     tg.ClockDisplay,
			TimeRemainingSeconds: tg.TimeRemainingSeconds,
			HomeScore:        tg.HomeScore,
			AwayScore:        tg.AwayScore,
			LastUpdate:       tg.LastUpdate,
			Selection:        tg.Selection,
			PositionID:       tg.PositionID,
		}
	})
	return snap
}

// applyGameState updates the mutable scoreboard-derived fields in place.
// Must run inside a Send/SendSync closure.
func (tg *TrackedGame) applyGameState(gs scoreboard.GameState, nowUnix int64) {
	tg.Status = stateLabel(gs)
	tg.Period = gs.Period
	tg.Segment = gs.Segment
	tg.ClockDisplay = gs.ClockDisplay
	tg.TimeRemainingSeconds = gs.TimeRemainingSeconds
	tg.HomeScore = gs.HomeScore
	tg.AwayScore = gs.AwayScore
	tg.LastUpdate = nowUnix
}

func stateLabel(gs scoreboard.GameState) string {
	switch {
	case gs.IsFinished:
		return "post"
	case gs.IsLive:
		return "in"
	default:
		return "pre"
	}
}

// SetCurrentPrice updates the live yes price. Must run inside a Send/SendSync closure.
func (tg *TrackedGame) SetCurrentPrice(price decimal.Decimal) {
	tg.CurrentYesPrice = price
}

// SetPosition links or clears the open position id. Must run inside a
// Send/SendSync closure.
func (tg *TrackedGame) SetPosition(positionID string) {
	tg.PositionID = positionID
}

// Close shuts down the actor goroutine and waits for it to drain.
func (tg *TrackedGame) Close() {
	close(tg.inbox)
	<-tg.stop
}
