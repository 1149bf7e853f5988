package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mercer-quant/sporttrader/internal/config"
	"github.com/mercer-quant/sporttrader/internal/discovery"
	"github.com/mercer-quant/sporttrader/internal/events"
	"github.com/mercer-quant/sporttrader/internal/exchange"
	"github.com/mercer-quant/sporttrader/internal/fleet"
	"github.com/mercer-quant/sporttrader/internal/gametracker"
	"github.com/mercer-quant/sporttrader/internal/matcher"
	"github.com/mercer-quant/sporttrader/internal/orchestrator"
	"github.com/mercer-quant/sporttrader/internal/position"
	"github.com/mercer-quant/sporttrader/internal/risk"
	"github.com/mercer-quant/sporttrader/internal/scoreboard"
	"github.com/mercer-quant/sporttrader/internal/telemetry"

	"github.com/shopspring/decimal"
)

func main() {
	cfg := config.Load()
	telemetry.Init(parseLogLevel(cfg.LogLevel))
	telemetry.Infof("Starting sporttrader bot  user=%s  exchange_mode=%s", cfg.UserID, cfg.ExchangeMode)

	// ── Risk limits ─────────────────────────────────────────────
	riskLimits, err := config.LoadRiskLimits(cfg.RiskLimitsPath)
	if err != nil {
		telemetry.Errorf("Failed to load risk limits: %v", err)
		os.Exit(1)
	}
	globalLimits, err := config.LoadGlobalRiskLimits(cfg.GlobalRiskLimitsPath)
	if err != nil {
		telemetry.Errorf("Failed to load global risk limits: %v", err)
		os.Exit(1)
	}

	// ── Sport defaults ──────────────────────────────────────────
	sportConfigs := map[string]*config.SportDefault{}
	for _, sport := range []string{"basketball", "football", "hockey", "baseball", "soccer"} {
		sd, err := config.LoadSportDefault(cfg.SportConfigDir, sport)
		if err != nil {
			telemetry.Warnf("Sport config %s: %v (using defaults)", sport, err)
			continue
		}
		sportConfigs[sport] = sd
	}

	// ── Discovery / matching tables ─────────────────────────────
	seriesTable, err := discovery.LoadSeriesTable(cfg.SeriesTablePath)
	if err != nil {
		telemetry.Errorf("Failed to load series table: %v", err)
		os.Exit(1)
	}
	aliasTable, err := matcher.LoadAliasTable(cfg.AliasTablePath)
	if err != nil {
		telemetry.Errorf("Failed to load alias table: %v", err)
		os.Exit(1)
	}

	// ── Exchange client ─────────────────────────────────────────
	signer, err := exchange.NewRSASignerFromFile(cfg.ExchangeKeyID, cfg.ExchangeKeyFile)
	if err != nil {
		telemetry.Errorf("Exchange auth: %v", err)
		os.Exit(1)
	}
	var exClient exchange.Client
	if signer != nil && signer.Enabled() {
		exClient = exchange.NewHTTPClient(cfg.ExchangeBaseURL, signer, globalLimits.MaxSlippagePct)
		telemetry.Infof("Exchange connected  mode=%s  api=%s", cfg.ExchangeMode, cfg.ExchangeBaseURL)
	} else {
		exClient = exchange.NewHTTPClient(cfg.ExchangeBaseURL, nil, globalLimits.MaxSlippagePct)
		telemetry.Warnf("Exchange credentials missing — set EXCHANGE_KEYID and EXCHANGE_KEYFILE; running unauthenticated")
	}

	scoreboardClient := scoreboard.NewClient(cfg.ScoreboardBaseURL, cfg.ScoreboardAPIKey)

	bus := events.NewBus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var priceStream *exchange.Stream
	if cfg.ExchangeStreamEnabled {
		if signer != nil && signer.Enabled() {
			priceStream = exchange.NewStream(cfg.ExchangeWSURL, signer, bus)
		} else {
			priceStream = exchange.NewStream(cfg.ExchangeWSURL, nil, bus)
		}
		if err := priceStream.Connect(ctx); err != nil {
			telemetry.Warnf("Price stream connect failed, falling back to poll-only: %v", err)
			priceStream = nil
		} else {
			telemetry.Infof("Price stream connected  ws=%s", cfg.ExchangeWSURL)
		}
	}

	// ── Storage ─────────────────────────────────────────────────
	positions, err := position.Open(cfg.PositionDBPath)
	if err != nil {
		telemetry.Errorf("Open position store: %v", err)
		os.Exit(1)
	}
	defer positions.CloseStore()

	markets, err := gametracker.OpenMarketStore(cfg.MarketDBPath)
	if err != nil {
		telemetry.Errorf("Open market store: %v", err)
		os.Exit(1)
	}
	defer markets.Close()

	games := gametracker.NewStore()

	closer := orchestrator.NewPositionCloser(positions, exClient)
	killManager := risk.NewManager(cfg.UserID, bus, closer)
	stats := orchestrator.NewStatsProvider(positions, decimal.NewFromFloat(globalLimits.MaxDailyLossUSDC))
	killMonitor := risk.NewMonitor(killManager, stats)

	gate := risk.NewGate(riskLimits, globalLimits, killMonitor)

	deps := orchestrator.Deps{
		UserID:           cfg.UserID,
		Exchange:         exClient,
		Scoreboard:       scoreboardClient,
		Positions:        positions,
		Games:            games,
		Markets:          markets,
		Bus:              bus,
		Gate:             gate,
		KillSwitch:       killManager,
		Series:           seriesTable,
		Aliases:          aliasTable,
		PriceStream:      priceStream,
		SportConfigs:     sportConfigs,
		Global:           globalLimits,
		MaxTrackedGames:  cfg.MaxTrackedGames,
		OrderFillTimeout: cfg.OrderFillTimeout,
		Bankroll:         decimal.NewFromFloat(cfg.BankrollUSDC),
	}

	go killMonitor.Run(ctx)

	f := fleet.New()
	if _, err := f.Start(ctx, cfg.UserID, deps, nil); err != nil {
		telemetry.Errorf("Failed to start orchestrator for %s: %v", cfg.UserID, err)
		os.Exit(1)
	}
	telemetry.Infof("Orchestrator running for user %s", cfg.UserID)

	// ── Shutdown ────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	telemetry.Infof("Shutting down...")
	cancel()
	killMonitor.Stop()
	if priceStream != nil {
		priceStream.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := f.StopAll(shutdownCtx); err != nil {
		telemetry.Errorf("Shutdown: %v", err)
	}

	telemetry.Infof("Shutdown complete")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
