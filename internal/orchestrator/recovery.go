package orchestrator

import (
	"context"
	"fmt"

	"github.com/mercer-quant/sporttrader/internal/discovery"
	"github.com/mercer-quant/sporttrader/internal/gametracker"
	"github.com/mercer-quant/sporttrader/internal/telemetry"
)

// Initialize runs spec.md 4.10's position-recovery sequence: load the
// user's selected games, load every open position, and rebuild an
// in-memory TrackedGame for each — keyed by its scoreboard event id if the
// persisted market record already has one, else by condition id as a
// temporary key that Discovery migrates later via migrateTrackedKey.
func (o *Orchestrator) Initialize(ctx context.Context, selected []SelectedGame) error {
	o.mu.Lock()
	o.selectedGames = append([]SelectedGame(nil), selected...)
	o.mu.Unlock()

	positions, err := o.deps.Positions.GetOpenForUser(ctx, o.deps.UserID)
	if err != nil {
		return fmt.Errorf("orchestrator: initialize: load open positions: %w", err)
	}

	recovered := 0
	for _, p := range positions {
		rec, ok, err := o.deps.Markets.GetByConditionID(ctx, o.deps.UserID, p.ConditionID)
		if err != nil {
			return fmt.Errorf("orchestrator: initialize: load market record for %s: %w", p.ConditionID, err)
		}
		if !ok {
			// No persisted market row (e.g. position predates this table).
			// Track it anyway, keyed by condition id, with whatever
			// identity we can recover from the position row itself.
			rec = gametracker.MarketRecord{
				UserID:      o.deps.UserID,
				ConditionID: p.ConditionID,
				Sport:       "",
				HomeTeam:    p.Team,
				AwayTeam:    "",
			}
		}

		key := rec.ESPNEventID
		if key == "" {
			key = p.ConditionID
		}

		tg := o.deps.Games.Add(rec.Sport, rec.SportKey, key, rec.HomeTeam, rec.AwayTeam,
			discovery.DiscoveredMarket{Ticker: p.ConditionID, Sport: rec.Sport, HomeTeam: rec.HomeTeam, AwayTeam: rec.AwayTeam},
			rec.BaselineYes, gametracker.SelectionAuto)
		tg.SendSync(func() {
			tg.SetPosition(p.ID)
			tg.SetCurrentPrice(p.EntryPrice)
		})
		recovered++
	}

	telemetry.Infow("orchestrator: initialize complete", "user_id", o.deps.UserID,
		"recovered_positions", recovered, "selected_games", len(o.selectedGames))
	return nil
}

// migrateTrackedKey is called by the Discovery loop once it resolves the
// real scoreboard event id for a condition id that was tracked under a
// temporary key (P6). It updates both the in-memory Store and the
// persisted tracked_markets row, preserving has_position/position_id.
func (o *Orchestrator) migrateTrackedKey(ctx context.Context, sport, conditionID, espnEventID string) {
	if conditionID == "" || espnEventID == "" || conditionID == espnEventID {
		return
	}
	if _, ok := o.deps.Games.Rekey(sport, conditionID, espnEventID); !ok {
		return
	}
	if err := o.deps.Markets.MigrateKey(ctx, o.deps.UserID, conditionID, espnEventID); err != nil {
		telemetry.Warnw("orchestrator: failed to persist key migration", "condition_id", conditionID, "espn_event_id", espnEventID, "err", err)
	}
}
