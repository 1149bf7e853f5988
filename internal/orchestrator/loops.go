package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mercer-quant/sporttrader/internal/config"
	"github.com/mercer-quant/sporttrader/internal/decision"
	"github.com/mercer-quant/sporttrader/internal/discovery"
	"github.com/mercer-quant/sporttrader/internal/events"
	"github.com/mercer-quant/sporttrader/internal/gametracker"
	"github.com/mercer-quant/sporttrader/internal/matcher"
	"github.com/mercer-quant/sporttrader/internal/position"
	"github.com/mercer-quant/sporttrader/internal/scoreboard"
	"github.com/mercer-quant/sporttrader/internal/telemetry"
)

// runDiscoveryOnce is the Discovery loop (10s): refresh discovered
// markets, match each selected game to one, and start tracking any new
// match. If a game is already tracked under a temporary condition-id key
// and a real scoreboard event id becomes resolvable, the key migrates in
// place (P6).
func (o *Orchestrator) runDiscoveryOnce(ctx context.Context) {
	telemetry.Metrics.DiscoveryRuns.Inc()

	markets, err := discovery.Discover(ctx, o.deps.Exchange, o.deps.Series)
	if err != nil {
		telemetry.Warnw("[DISCOVERY] discover failed", "err", err)
		return
	}

	scoreboardCache := make(map[string][]scoreboard.RawEvent)

	for _, sg := range o.selectedGamesSnapshot() {
		market, matched := matcher.Match(sg.Sport, sg.HomeTeam, sg.AwayTeam, sg.PinnedTicker, markets, o.deps.Aliases)
		if !matched {
			continue
		}
		telemetry.Metrics.DiscoveryMatches.Inc()

		sbEvents, ok := scoreboardCache[sg.SportKey]
		if !ok {
			sbEvents, err = o.deps.Scoreboard.GetScoreboard(ctx, sg.SportKey)
			if err != nil {
				telemetry.Warnw("[DISCOVERY] scoreboard fetch failed", "sport_key", sg.SportKey, "err", err)
				sbEvents = nil
			}
			scoreboardCache[sg.SportKey] = sbEvents
		}

		espnEventID := ""
		if ev, found := findScoreboardEvent(sbEvents, sg.HomeTeam, sg.AwayTeam); found {
			espnEventID = ev.ID
		}

		key := espnEventID
		if key == "" {
			key = market.Ticker
		}

		if _, tracked := o.deps.Games.Get(sg.Sport, key); !tracked {
			if espnEventID != "" {
				if _, trackedByTicker := o.deps.Games.Get(sg.Sport, market.Ticker); trackedByTicker {
					o.migrateTrackedKey(ctx, sg.Sport, market.Ticker, espnEventID)
					continue
				}
			}

			baseline := market.Market.YesBid
			o.deps.Games.Add(sg.Sport, sg.SportKey, key, sg.HomeTeam, sg.AwayTeam, *market, baseline, sg.Selection)
			if o.deps.PriceStream != nil {
				if err := o.deps.PriceStream.SubscribeTickers([]string{market.Ticker}); err != nil {
					telemetry.Warnw("[DISCOVERY] price stream subscribe failed", "ticker", market.Ticker, "err", err)
				}
			}
			if err := o.deps.Markets.Upsert(ctx, gametracker.MarketRecord{
				UserID: o.deps.UserID, ConditionID: market.Ticker, Sport: sg.Sport, SportKey: sg.SportKey,
				HomeTeam: sg.HomeTeam, AwayTeam: sg.AwayTeam, Question: market.Market.Title,
				BaselineYes: baseline, CurrentYes: baseline, ESPNEventID: espnEventID,
				IsUserSelected: true, LastUpdatedAt: time.Now(),
			}); err != nil {
				telemetry.Warnw("[DISCOVERY] persist tracked market failed", "ticker", market.Ticker, "err", err)
			}
		} else if espnEventID != "" {
			o.migrateTrackedKey(ctx, sg.Sport, market.Ticker, espnEventID)
		}
	}
}

func findScoreboardEvent(candidates []scoreboard.RawEvent, home, away string) (scoreboard.RawEvent, bool) {
	h := matcher.Normalize(home, nil)
	a := matcher.Normalize(away, nil)
	for _, ev := range candidates {
		if strings.Contains(matcher.Normalize(ev.HomeTeam, nil), h) && strings.Contains(matcher.Normalize(ev.AwayTeam, nil), a) {
			return ev, true
		}
	}
	return scoreboard.RawEvent{}, false
}

// runScoreboardPollOnce is the Scoreboard Poll loop (5s): refresh every
// tracked game's state and publish EventGameFinished for any that just
// transitioned to post.
func (o *Orchestrator) runScoreboardPollOnce(ctx context.Context) {
	telemetry.Metrics.ScoreboardPolls.Inc()
	start := time.Now()

	finished := o.deps.Games.UpdateAll(ctx, o.deps.Scoreboard)

	telemetry.Metrics.ScoreboardLatency.Record(time.Since(start))

	for _, tg := range finished {
		snap := tg.Snapshot()
		o.deps.Bus.Publish(events.Event{
			Type:      events.EventGameFinished,
			UserID:    o.deps.UserID,
			GameID:    snap.EventID,
			Timestamp: time.Now(),
			Payload: events.GameFinishedEvent{
				EID: snap.EventID, HomeScore: snap.HomeScore, AwayScore: snap.AwayScore,
			},
		})
	}
}

// runPricePollOnce is the Price Poll loop (10s): scatter-gather quote
// refreshes across every tracked game. One slow/failing market logs and
// is skipped; it never blocks the others (spec.md 5's return_exceptions
// semantics).
func (o *Orchestrator) runPricePollOnce(ctx context.Context) {
	telemetry.Metrics.PricePolls.Inc()

	games := o.deps.Games.All()
	results := make(chan struct{}, len(games))

	for _, tg := range games {
		go func(tg *gametracker.TrackedGame) {
			defer func() { results <- struct{}{} }()
			snap := tg.Snapshot()
			m, err := o.deps.Exchange.GetMarket(ctx, snap.Market.Ticker)
			if err != nil {
				telemetry.Warnw("[PRICE_POLL] quote refresh failed", "ticker", snap.Market.Ticker, "err", err)
				return
			}
			tg.SendSync(func() { tg.SetCurrentPrice(m.YesBid) })
			telemetry.Metrics.PricePollUpdates.Inc()
			o.deps.Bus.Publish(events.Event{
				Type:      events.EventPriceUpdate,
				UserID:    o.deps.UserID,
				GameID:    snap.EventID,
				Timestamp: time.Now(),
				Payload: events.PriceUpdateEvent{
					ConditionID: snap.Market.Ticker,
					YesBid:      mustFloat(m.YesBid),
					YesAsk:      mustFloat(m.YesAsk),
					Volume24h:   m.Volume24h,
				},
			})
		}(tg)
	}

	for range games {
		<-results
	}
}

// runTradingOnce is the Trading loop (1s): per tracked game, evaluate exit
// if it has an open position, else evaluate entry; execute whatever
// signal fires.
func (o *Orchestrator) runTradingOnce(ctx context.Context) {
	paused := o.State() == StatePaused
	killActive := o.deps.KillSwitch != nil && o.deps.KillSwitch.Active()

	for _, tg := range o.deps.Games.All() {
		snap := tg.Snapshot()
		cfg := o.effectiveConfig(snap.Sport)

		if snap.PositionID != "" {
			row, found, err := o.deps.Positions.GetByID(ctx, snap.PositionID)
			if err != nil || !found {
				continue
			}
			exitIn := decision.ExitInput{
				Config:               cfg,
				EmergencyStop:        o.emergencyStop.Load(),
				EntryPrice:           row.EntryPrice,
				CurrentPrice:         snap.CurrentYesPrice,
				IsFinished:           snap.Status == "post",
				Segment:              snap.Segment,
				TimeRemainingSeconds: timeRemaining(snap),
			}
			if signal := decision.EvaluateExit(exitIn); signal != nil {
				telemetry.Metrics.ExitSignals.Inc()
				o.executeExit(ctx, tg, snap.PositionID, signal)
			}
			continue
		}

		if paused || killActive {
			continue
		}

		openForGame, err := o.deps.Positions.CountOpenForMarket(ctx, o.deps.UserID, snap.Market.Ticker)
		if err != nil {
			telemetry.Warnw("[TRADING] count open positions failed", "ticker", snap.Market.Ticker, "err", err)
			continue
		}

		dailyPnL, exposure := o.accountStats(ctx)
		stats, _ := o.deps.Positions.TradeStats(ctx, o.deps.UserID)

		entryIn := decision.EntryInput{
			Config:               cfg,
			KillSwitchActive:     killActive,
			IsLive:               snap.Status == "in",
			ScoreboardStale:      staleScoreboard(snap),
			GameStartTime:        gameStartForFallback(snap.Sport, snap.Market.Ticker, snap.Market.GameStartTime, time.Now()),
			Now:                  time.Now(),
			Segment:              snap.Segment,
			TimeRemainingSeconds: timeRemaining(snap),
			OpenPositionsForGame: openForGame,
			DailyPnLUSDC:         dailyPnL,
			MaxDailyLossUSDC:     decimal.NewFromFloat(o.deps.Global.MaxDailyLossUSDC),
			OpenExposureUSDC:     exposure,
			MaxExposureUSDC:      decimal.NewFromFloat(o.deps.Global.MaxPortfolioExposureUSDC),
			Ticker:               snap.Market.Ticker,
			HomeTeam:             snap.HomeTeam,
			AwayTeam:             snap.AwayTeam,
			BaselineYes:          snap.BaselineYesPrice,
			CurrentYes:           snap.CurrentYesPrice,
			HasOpenPositionForTeam: func(team string) bool {
				return o.deps.Positions.HasOpenPositionForTeam(ctx, o.deps.UserID, team)
			},
			Bankroll:               o.deps.Bankroll,
			UseKellySizing:         cfg.UseKellySizing,
			HistoricalWinRate:      stats.WinRate,
			HistoricalSampleSize:   stats.TotalTrades,
			LosingStreakMultiplier: o.losingStreakMultiplier(ctx, cfg),
		}

		signal, blocked := decision.EvaluateEntry(entryIn)
		if blocked != "" {
			telemetry.Debugw("[TRADING] entry blocked", "ticker", snap.Market.Ticker, "reason", blocked)
			continue
		}
		telemetry.Metrics.EntrySignals.Inc()
		o.executeEntry(ctx, tg, signal)
	}
}

func timeRemaining(snap gametracker.Snapshot) int {
	return snap.TimeRemainingSeconds
}

func staleScoreboard(snap gametracker.Snapshot) bool {
	if snap.LastUpdate == 0 {
		return true
	}
	return time.Since(time.Unix(snap.LastUpdate, 0)) > 90*time.Second
}

// accountStats reads the account-wide daily PnL and open exposure fresh
// from the Position Store for one EvaluateEntry call — a computed view,
// never cached or persisted.
func (o *Orchestrator) accountStats(ctx context.Context) (dailyPnL, exposure decimal.Decimal) {
	dailyPnL, err := o.deps.Positions.DailyPnLUSDC(ctx, o.deps.UserID)
	if err != nil {
		telemetry.Warnw("[TRADING] daily pnl lookup failed", "err", err)
	}
	exposure, err = o.deps.Positions.OpenExposureUSDC(ctx, o.deps.UserID)
	if err != nil {
		telemetry.Warnw("[TRADING] open exposure lookup failed", "err", err)
	}
	return dailyPnL, exposure
}

// losingStreakMultiplier applies the configured size reduction once the
// last three closed trades were all losses. The kill switch has its own,
// stricter consecutive-loss trigger (4 of the last 5); this is a softer
// sizing response that kicks in first.
func (o *Orchestrator) losingStreakMultiplier(ctx context.Context, cfg config.EffectiveConfig) float64 {
	results, err := o.deps.Positions.RecentTradeResults(ctx, o.deps.UserID, 3)
	if err != nil || len(results) < 3 {
		return 1.0
	}
	for _, won := range results {
		if won {
			return 1.0
		}
	}
	return cfg.LosingStreakReductionMult
}

// runHealthOnce is the Health loop (60s): log overall state.
func (o *Orchestrator) runHealthOnce(ctx context.Context) {
	dailyPnL, _ := o.deps.Positions.DailyPnLUSDC(ctx, o.deps.UserID)
	telemetry.Infow("[HEALTH]", "user_id", o.deps.UserID, "state", o.State(),
		"tracked_games", o.deps.Games.Count(), "daily_pnl_usdc", dailyPnL.String())

	limit := o.deps.Global.MaxDailyLossUSDC
	if limit > 0 {
		loss, _ := dailyPnL.Float64()
		if -loss >= limit && o.State() == StateRunning {
			o.Pause("daily loss limit reached")
		}
	}
}

// runCleanupOnce is the Cleanup loop (120s): drop finished games with no
// open position, drop stale games (>6h no update, no position), and
// enforce the tracked-games cap by evicting the oldest no-position games.
func (o *Orchestrator) runCleanupOnce(ctx context.Context) {
	const staleAfter = 6 * time.Hour
	now := time.Now()

	all := o.deps.Games.All()
	var noPosition []*gametracker.TrackedGame

	for _, tg := range all {
		snap := tg.Snapshot()
		if snap.PositionID != "" {
			continue
		}
		noPosition = append(noPosition, tg)

		if snap.Status == "post" {
			o.deps.Games.Remove(snap.Sport, snap.EventID)
			continue
		}
		if snap.LastUpdate > 0 && now.Sub(time.Unix(snap.LastUpdate, 0)) > staleAfter {
			o.deps.Games.Remove(snap.Sport, snap.EventID)
		}
	}

	if over := o.deps.Games.Count() - o.deps.MaxTrackedGames; over > 0 {
		for i := 0; i < over && i < len(noPosition); i++ {
			snap := noPosition[i].Snapshot()
			o.deps.Games.Remove(snap.Sport, snap.EventID)
		}
	}
}

// emergencyShutdown implements spec.md 4.10's emergency_shutdown: stop
// accepting new work, optionally liquidate every open position 2% below
// last known price, then stop the loops and release resources.
func (o *Orchestrator) emergencyShutdown(ctx context.Context, closePositions bool) error {
	o.emergencyStop.Store(true)

	if closePositions {
		closer := &positionCloser{store: o.deps.Positions, exchange: o.deps.Exchange}
		closed, totalPnL, err := closer.closeAllAtMarket(ctx, o.deps.UserID, 0.02, position.ExitEmergencyStop)
		if err != nil {
			telemetry.Errorw("[SHUTDOWN] emergency liquidation failed", "err", err)
		} else {
			telemetry.Infow("[SHUTDOWN] emergency liquidation complete", "closed", closed, "total_pnl_usdc", totalPnL.String())
		}
	}

	return o.Stop(ctx)
}
