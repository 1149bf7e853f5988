package gametracker

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mercer-quant/sporttrader/internal/discovery"
	"github.com/mercer-quant/sporttrader/internal/scoreboard"
	"github.com/mercer-quant/sporttrader/internal/telemetry"
)

// Store is a thread-safe map of all currently tracked games, keyed by
// (sport, event id). The RWMutex protects the map itself; it does not
// protect a TrackedGame's contents — each one serializes its own mutations
// through its inbox, mirroring the teacher's GameStateStore/GameContext split.
type Store struct {
	mu    sync.RWMutex
	games map[GameKey]*TrackedGame
}

func NewStore() *Store {
	return &Store{games: make(map[GameKey]*TrackedGame)}
}

// Add creates and registers a new tracked game. Returns the existing game
// unchanged if one is already tracked under the same key — discovery runs
// every 10s and must not recreate an actor it already has.
func (s *Store) Add(sport, sportKey, eventID, homeTeam, awayTeam string, market discovery.DiscoveredMarket, baseline decimal.Decimal, selection Selection) *TrackedGame {
	key := GameKey{Sport: sport, EventID: eventID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.games[key]; ok {
		return existing
	}
	tg := newTrackedGame(sport, sportKey, eventID, homeTeam, awayTeam, market, baseline, selection)
	s.games[key] = tg
	telemetry.Metrics.TrackedGames.Set(int64(len(s.games)))
	return tg
}

// Remove unregisters and shuts down a tracked game's actor.
func (s *Store) Remove(sport, eventID string) {
	key := GameKey{Sport: sport, EventID: eventID}

	s.mu.Lock()
	tg, ok := s.games[key]
	delete(s.games, key)
	telemetry.Metrics.TrackedGames.Set(int64(len(s.games)))
	s.mu.Unlock()

	if ok {
		tg.Close()
	}
}

// Rekey moves a tracked game from a temporary key (e.g. a condition id used
// before the scoreboard event id was known) to its real key, preserving the
// actor and every field on it — PositionID included. Returns false if
// oldEventID isn't tracked or newEventID is already claimed by a racing
// Discovery cycle, in which case the caller should leave the old key alone.
func (s *Store) Rekey(sport, oldEventID, newEventID string) (*TrackedGame, bool) {
	if oldEventID == newEventID {
		tg, ok := s.Get(sport, oldEventID)
		return tg, ok
	}

	oldKey := GameKey{Sport: sport, EventID: oldEventID}
	newKey := GameKey{Sport: sport, EventID: newEventID}

	s.mu.Lock()
	tg, ok := s.games[oldKey]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	if _, taken := s.games[newKey]; taken {
		s.mu.Unlock()
		return nil, false
	}
	delete(s.games, oldKey)
	s.games[newKey] = tg
	s.mu.Unlock()

	tg.SendSync(func() {
		tg.EventID = newEventID
	})
	return tg, true
}

func (s *Store) Get(sport, eventID string) (*TrackedGame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tg, ok := s.games[GameKey{Sport: sport, EventID: eventID}]
	return tg, ok
}

// All returns a snapshot slice of every tracked game's actor handle, safe
// to range over after the lock is released.
func (s *Store) All() []*TrackedGame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*TrackedGame, 0, len(s.games))
	for _, tg := range s.games {
		out = append(out, tg)
	}
	return out
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.games)
}

// UpdateAll refreshes every tracked game via the scoreboard client, applies
// the new state in place on each game's own goroutine, and returns the
// subset that transitioned to "post" this round (spec.md §4.5: update_all()
// -> [finished_games]).
func (s *Store) UpdateAll(ctx context.Context, client *scoreboard.Client) []*TrackedGame {
	var finished []*TrackedGame
	now := time.Now().Unix()

	for _, tg := range s.All() {
		snap := tg.Snapshot()

		raw, err := client.GetGameSummary(ctx, snap.SportKey, snap.EventID)
		if err != nil {
			telemetry.Warnw("gametracker: refresh failed", "event_id", snap.EventID, "sport_key", snap.SportKey, "err", err)
			continue
		}
		gs, err := scoreboard.ParseGameState(raw)
		if err != nil {
			telemetry.Warnw("gametracker: parse failed", "event_id", snap.EventID, "err", err)
			continue
		}

		wasPost := snap.Status == "post"
		tg.SendSync(func() {
			tg.applyGameState(gs, now)
		})

		if !wasPost && gs.IsFinished {
			finished = append(finished, tg)
		}
	}

	return finished
}
