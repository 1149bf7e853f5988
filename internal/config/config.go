// Package config loads deployment configuration: .env-backed credentials
// and transport settings, YAML-backed risk limits and sport defaults, and
// the layered EffectiveConfig view consumed by the decision engine.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process-wide deployment settings loaded once at startup.
// Per-user credentials and per-sport thresholds live in their own loaders
// (RiskLimits, SportDefaults) so one process can host many independent
// user orchestrators.
type Config struct {
	// Exchange transport
	ExchangeMode          string // "demo" or "prod"
	ExchangeBaseURL       string
	ExchangeWSURL         string
	ExchangeStreamEnabled bool

	// Scoreboard source
	ScoreboardBaseURL string
	ScoreboardAPIKey  string

	// Config paths
	RiskLimitsPath       string
	GlobalRiskLimitsPath string
	SportConfigDir       string
	PositionDBPath       string
	MarketDBPath         string
	SeriesTablePath      string
	AliasTablePath       string

	// Exchange credentials
	ExchangeKeyID   string
	ExchangeKeyFile string

	// Timing
	ScoreDropConfirmSec int
	EntryLockTTL        time.Duration
	OrderFillTimeout    time.Duration

	// Tracked-game bounds (backpressure: Cleanup evicts past this cap)
	MaxTrackedGames int

	// UserID identifies the account this process trades for. One process
	// can host many orchestrators (internal/fleet); this is just the one
	// cmd/bot starts automatically at boot.
	UserID       string
	BankrollUSDC float64

	LogLevel string
}

func Load() *Config {
	_ = godotenv.Load()

	mode := envStr("EXCHANGE_MODE", "prod")

	var baseURL, wsURL string
	if mode == "prod" {
		baseURL = envStr("EXCHANGE_BASE_URL", "https://api.exchange.example.com")
		wsURL = envStr("EXCHANGE_WS_URL", "wss://api.exchange.example.com/ws/v2")
	} else {
		baseURL = envStr("EXCHANGE_BASE_URL", "https://demo-api.exchange.example.com")
		wsURL = envStr("EXCHANGE_WS_URL", "wss://demo-api.exchange.example.com/ws/v2")
	}

	return &Config{
		ExchangeMode:          mode,
		ExchangeBaseURL:       baseURL,
		ExchangeWSURL:         wsURL,
		ExchangeStreamEnabled: envBool("EXCHANGE_STREAM_ENABLED", true),

		ScoreboardBaseURL: envStr("SCOREBOARD_BASE_URL", "https://site.api.espn.com/apis/site/v2/sports"),
		ScoreboardAPIKey:  envStr("SCOREBOARD_API_KEY", ""),

		RiskLimitsPath:       envStr("RISK_LIMITS_PATH", "internal/config/risk_limits.yaml"),
		GlobalRiskLimitsPath: envStr("GLOBAL_RISK_LIMITS_PATH", "internal/config/global_risk_limits.yaml"),
		SportConfigDir:       envStr("SPORT_CONFIG_DIR", "internal/config/sports"),
		PositionDBPath:       envStr("POSITION_DB_PATH", "data/positions.db"),
		MarketDBPath:         envStr("MARKET_DB_PATH", "data/markets.db"),
		SeriesTablePath:      envStr("SERIES_TABLE_PATH", "internal/config/series.yaml"),
		AliasTablePath:       envStr("ALIAS_TABLE_PATH", "internal/config/aliases.yaml"),

		ExchangeKeyID:   envStr("EXCHANGE_KEYID", ""),
		ExchangeKeyFile: envStr("EXCHANGE_KEYFILE", ""),

		ScoreDropConfirmSec: envInt("SCORE_DROP_CONFIRM_SEC", 15),
		EntryLockTTL:        time.Duration(envInt("ENTRY_LOCK_TTL_SEC", 30)) * time.Second,
		OrderFillTimeout:    time.Duration(envInt("ORDER_FILL_TIMEOUT_SEC", 60)) * time.Second,

		MaxTrackedGames: envInt("MAX_TRACKED_GAMES", 100),

		UserID:       envStr("USER_ID", "primary"),
		BankrollUSDC: envFloat("BANKROLL_USDC", 1000),

		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
