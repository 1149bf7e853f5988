package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EffectiveConfig is the layered view the Decision Engine evaluates against:
// market override > sport config > runtime override > built-in default.
// It is always computed fresh per evaluation (never persisted), so a
// changed sport config or runtime override takes effect on the very next
// tick without a staleness window.
type EffectiveConfig struct {
	IsEnabled      bool
	AutoTrade      bool

	EntryThresholdDropPct float64 // fraction, e.g. 0.15 = 15%
	AbsoluteEntryPrice    float64 // fraction in [0,1], 0 disables

	MinTimeRemainingSeconds int
	LatestEntryCutoffSec    int
	LatestExitCutoffSec     int

	AllowedEntrySegments map[string]bool

	TakeProfitPct float64
	StopLossPct   float64

	DefaultPositionSize  float64 // USDC
	MaxPositionsPerGame  int

	UseKellySizing    bool
	KellyFraction     float64
	MinPregameProb    float64 // 0 disables the floor

	MinEntryConfidenceScore float64

	LosingStreakReductionMult float64 // applied when on a losing streak; 1.0 = no reduction
}

// Default returns the built-in baseline, the lowest layer. Every field here
// is conservative; sport configs and overrides only tighten or loosen from
// this starting point.
func Default() EffectiveConfig {
	return EffectiveConfig{
		IsEnabled:               true,
		AutoTrade:               false,
		EntryThresholdDropPct:   0.15,
		AbsoluteEntryPrice:      0,
		MinTimeRemainingSeconds: 120,
		LatestEntryCutoffSec:    60,
		LatestExitCutoffSec:     15,
		AllowedEntrySegments:    nil, // nil = all segments allowed
		TakeProfitPct:           0.20,
		StopLossPct:             0.15,
		DefaultPositionSize:     25,
		MaxPositionsPerGame:     1,
		UseKellySizing:          false,
		KellyFraction:           0.25,
		MinPregameProb:          0,
		MinEntryConfidenceScore: 0.6,
		LosingStreakReductionMult: 1.0,
	}
}

// SportDefault is the per-sport YAML layer. Zero-value fields mean
// "inherit from the built-in default" — callers must not zero-initialize
// a SportDefault and treat it as complete; always start from Default()
// and apply non-zero overrides via Merge.
type SportDefault struct {
	Sport string `yaml:"sport"`

	IsEnabled             *bool    `yaml:"is_enabled"`
	AutoTrade             *bool    `yaml:"auto_trade"`
	EntryThresholdDropPct *float64 `yaml:"entry_threshold_drop_pct"`
	AbsoluteEntryPrice    *float64 `yaml:"absolute_entry_price"`
	MinTimeRemainingSec   *int     `yaml:"min_time_remaining_seconds"`
	LatestEntryCutoffSec  *int     `yaml:"latest_entry_cutoff_seconds"`
	LatestExitCutoffSec   *int     `yaml:"latest_exit_cutoff_seconds"`
	AllowedEntrySegments  []string `yaml:"allowed_entry_segments"`
	TakeProfitPct         *float64 `yaml:"take_profit_pct"`
	StopLossPct           *float64 `yaml:"stop_loss_pct"`
	DefaultPositionSize   *float64 `yaml:"default_position_size"`
	MaxPositionsPerGame   *int     `yaml:"max_positions_per_game"`
	UseKellySizing        *bool    `yaml:"use_kelly_sizing"`
	KellyFraction         *float64 `yaml:"kelly_fraction"`
	MinPregameProb        *float64 `yaml:"min_pregame_probability"`
	MinEntryConfidence    *float64 `yaml:"min_entry_confidence_score"`
}

// LoadSportDefault reads one sport's YAML override file from dir/<sport>.yaml.
// Missing file is not an error: it just means the sport has no override and
// the built-in default applies untouched.
func LoadSportDefault(dir, sport string) (*SportDefault, error) {
	path := fmt.Sprintf("%s/%s.yaml", dir, sport)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sport config %s: %w", sport, err)
	}

	var sd SportDefault
	if err := yaml.Unmarshal(data, &sd); err != nil {
		return nil, fmt.Errorf("parse sport config %s: %w", sport, err)
	}
	if err := sd.validate(); err != nil {
		return nil, fmt.Errorf("sport config %s: %w", sport, err)
	}
	return &sd, nil
}

func (sd *SportDefault) validate() error {
	fractions := map[string]*float64{
		"entry_threshold_drop_pct":   sd.EntryThresholdDropPct,
		"absolute_entry_price":       sd.AbsoluteEntryPrice,
		"take_profit_pct":            sd.TakeProfitPct,
		"stop_loss_pct":              sd.StopLossPct,
		"kelly_fraction":             sd.KellyFraction,
		"min_pregame_probability":    sd.MinPregameProb,
		"min_entry_confidence_score": sd.MinEntryConfidence,
	}
	for field, v := range fractions {
		if v != nil {
			if err := validateFraction(field, *v); err != nil {
				return err
			}
		}
	}
	return nil
}

// MarketOverride is the highest-precedence layer: per-(condition_id)
// operator overrides, typically set through the (out of scope) HTTP API
// and persisted alongside the tracked market row.
type MarketOverride = SportDefault

// RuntimeOverride is the third layer: account-wide operator adjustments
// (e.g. "pause all entries", "use Kelly sizing globally") that apply below
// sport config but above the built-in default and are not specific to one
// sport or market.
type RuntimeOverride = SportDefault

// Build composes the four layers into one EffectiveConfig, applying
// market override > sport config > runtime override > default, in that
// precedence order (each successive merge only overwrites fields the
// caller actually set).
func Build(sportCfg, runtimeCfg, marketCfg *SportDefault) EffectiveConfig {
	ec := Default()
	ec.merge(runtimeCfg)
	ec.merge(sportCfg)
	ec.merge(marketCfg)
	return ec
}

func (ec *EffectiveConfig) merge(o *SportDefault) {
	if o == nil {
		return
	}
	if o.IsEnabled != nil {
		ec.IsEnabled = *o.IsEnabled
	}
	if o.AutoTrade != nil {
		ec.AutoTrade = *o.AutoTrade
	}
	if o.EntryThresholdDropPct != nil {
		ec.EntryThresholdDropPct = *o.EntryThresholdDropPct
	}
	if o.AbsoluteEntryPrice != nil {
		ec.AbsoluteEntryPrice = *o.AbsoluteEntryPrice
	}
	if o.MinTimeRemainingSec != nil {
		ec.MinTimeRemainingSeconds = *o.MinTimeRemainingSec
	}
	if o.LatestEntryCutoffSec != nil {
		ec.LatestEntryCutoffSec = *o.LatestEntryCutoffSec
	}
	if o.LatestExitCutoffSec != nil {
		ec.LatestExitCutoffSec = *o.LatestExitCutoffSec
	}
	if len(o.AllowedEntrySegments) > 0 {
		set := make(map[string]bool, len(o.AllowedEntrySegments))
		for _, s := range o.AllowedEntrySegments {
			set[s] = true
		}
		ec.AllowedEntrySegments = set
	}
	if o.TakeProfitPct != nil {
		ec.TakeProfitPct = *o.TakeProfitPct
	}
	if o.StopLossPct != nil {
		ec.StopLossPct = *o.StopLossPct
	}
	if o.DefaultPositionSize != nil {
		ec.DefaultPositionSize = *o.DefaultPositionSize
	}
	if o.MaxPositionsPerGame != nil {
		ec.MaxPositionsPerGame = *o.MaxPositionsPerGame
	}
	if o.UseKellySizing != nil {
		ec.UseKellySizing = *o.UseKellySizing
	}
	if o.KellyFraction != nil {
		ec.KellyFraction = *o.KellyFraction
	}
	if o.MinPregameProb != nil {
		ec.MinPregameProb = *o.MinPregameProb
	}
	if o.MinEntryConfidence != nil {
		ec.MinEntryConfidenceScore = *o.MinEntryConfidence
	}
}

// AllowsSegment reports whether segment is a permitted entry segment. A nil
// set means all segments are allowed.
func (ec EffectiveConfig) AllowsSegment(segment string) bool {
	if ec.AllowedEntrySegments == nil {
		return true
	}
	return ec.AllowedEntrySegments[segment]
}
