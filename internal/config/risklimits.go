package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LeagueLimits bounds trading for one (sport, league) lane (internal/risk's
// Lane). The daily-loss and exposure caps the Risk Gate checks per sport
// and globally live on SportLimits (MaxDailyLossUSDC, MaxSportExposure) and
// GlobalRiskLimits (MaxDailyLossUSDC, MaxPortfolioExposureUSDC); ThrottleMs
// spaces consecutive order placements within the same lane.
type LeagueLimits struct {
	MaxOpenPositions int     `yaml:"max_open_positions"`
	MaxGameExposure  float64 `yaml:"max_game_exposure_usdc"`
	ThrottleMs       int64   `yaml:"throttle_ms"`
}

type SportLimits struct {
	MaxDailyLossUSDC float64                 `yaml:"max_daily_loss_usdc"`
	MaxSportExposure float64                 `yaml:"max_sport_exposure_usdc"`
	Leagues          map[string]LeagueLimits `yaml:"leagues"`
}

type RiskLimits map[string]SportLimits

// GlobalRiskLimits bounds the whole user account, independent of sport.
type GlobalRiskLimits struct {
	MaxDailyLossUSDC         float64 `yaml:"max_daily_loss_usdc"`
	MaxPortfolioExposureUSDC float64 `yaml:"max_portfolio_exposure_usdc"`
	MaxSlippagePct           float64 `yaml:"max_slippage_pct"`
}

// LoadRiskLimits reads the per-sport/per-league YAML limits file.
//
// All fractional fields anywhere in config are fractions in [0,1], never
// percentages; ThrottleMs/MaxGameExposure/MaxDailyLossUSDC are absolute
// units, not fractions, and are exempt from this check. Fields this loader
// treats as fractions (currently none directly on LeagueLimits/SportLimits
// — fractional thresholds live in the per-sport EffectiveConfig defaults)
// are validated by validateFraction, which rejects anything above 1 rather
// than silently treating it as a misplaced percentage.
func LoadRiskLimits(path string) (RiskLimits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read risk limits: %w", err)
	}

	var limits RiskLimits
	if err := yaml.Unmarshal(data, &limits); err != nil {
		return nil, fmt.Errorf("parse risk limits: %w", err)
	}

	return limits, nil
}

// LoadGlobalRiskLimits reads the account-wide limits file.
func LoadGlobalRiskLimits(path string) (GlobalRiskLimits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return GlobalRiskLimits{}, fmt.Errorf("read global risk limits: %w", err)
	}

	var g GlobalRiskLimits
	if err := yaml.Unmarshal(data, &g); err != nil {
		return GlobalRiskLimits{}, fmt.Errorf("parse global risk limits: %w", err)
	}
	if err := validateFraction("max_slippage_pct", g.MaxSlippagePct); err != nil {
		return GlobalRiskLimits{}, err
	}
	return g, nil
}

func (rl RiskLimits) SportLimit(sport string) (SportLimits, bool) {
	sl, ok := rl[sport]
	return sl, ok
}

func (rl RiskLimits) LeagueLimit(sport, league string) (LeagueLimits, bool) {
	sl, ok := rl[sport]
	if !ok {
		return LeagueLimits{}, false
	}
	ll, ok := sl.Leagues[league]
	return ll, ok
}

// validateFraction rejects any value that is unambiguously a percentage
// written in the wrong unit (e.g. 15 meant as 15%, not 1500%). Resolves the
// spec's open question: every threshold in this codebase is a fraction in
// [0,1]; the loader is the one place that unit gets enforced.
func validateFraction(field string, v float64) error {
	if v > 1 {
		return fmt.Errorf("config: %s = %v is out of range; fractional fields must be in [0,1], not a percentage", field, v)
	}
	return nil
}
