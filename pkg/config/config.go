// Package config defines the engine configuration. All thresholds are
// consumed at construction; values outside their allowed ranges fail fast
// with a ConfigurationError before any bar is processed.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/marketstruct/wyckoff/pkg/types"
)

// Thresholds is one per-timeframe threshold bucket. Intraday buckets run
// tighter tolerances than daily ones.
type Thresholds struct {
	// LevelTolerancePct clusters pivots into creek/ice boundaries.
	LevelTolerancePct float64 `yaml:"level_tolerance_pct" default:"0.015" validate:"gt=0,lte=0.05"`
	// MaxPenetrationPct bounds spring/upthrust boundary breaks.
	MaxPenetrationPct float64 `yaml:"max_penetration_pct" default:"0.05" validate:"gt=0,lte=0.1"`
	// SpringMaxVolumeRatio is the non-negotiable spring volume ceiling.
	SpringMaxVolumeRatio float64 `yaml:"spring_max_volume_ratio" default:"0.7" validate:"gt=0,lt=1"`
	// SOSMinVolumeRatio is the non-negotiable SOS volume floor.
	SOSMinVolumeRatio float64 `yaml:"sos_min_volume_ratio" default:"1.5" validate:"gte=1"`
	SOSMinSpreadRatio float64 `yaml:"sos_min_spread_ratio" default:"1.2" validate:"gte=1"`
	// LPSMaxVolumeFactor caps LPS volume relative to the triggering SOS.
	LPSMaxVolumeFactor float64 `yaml:"lps_max_volume_factor" default:"0.8" validate:"gt=0,lt=1"`
}

// SessionConfig controls intraday session handling for asset classes that
// report tick volume instead of true volume. When Enabled, bars outside
// the [Open, Close] clock window are filtered before processing.
type SessionConfig struct {
	Enabled    bool   `yaml:"enabled"`
	TickVolume bool   `yaml:"tick_volume"`
	Open       string `yaml:"open" default:"09:30"`
	Close      string `yaml:"close" default:"16:00"`
}

// Bounds parses the session open/close clock times as offsets from
// midnight.
func (s SessionConfig) Bounds() (openAt, closeAt time.Duration, err error) {
	o, err := time.Parse("15:04", s.Open)
	if err != nil {
		return 0, 0, fmt.Errorf("session open %q: %w", s.Open, err)
	}
	c, err := time.Parse("15:04", s.Close)
	if err != nil {
		return 0, 0, fmt.Errorf("session close %q: %w", s.Close, err)
	}
	openAt = time.Duration(o.Hour())*time.Hour + time.Duration(o.Minute())*time.Minute
	closeAt = time.Duration(c.Hour())*time.Hour + time.Duration(c.Minute())*time.Minute
	if closeAt <= openAt {
		return 0, 0, fmt.Errorf("session close %s must be after open %s", s.Close, s.Open)
	}
	return openAt, closeAt, nil
}

// Config holds every tunable the engine consumes at construction.
type Config struct {
	VolumeWindow         int     `yaml:"volume_window" default:"20" validate:"gte=5,lte=200"`
	PivotLookback        int     `yaml:"pivot_lookback" default:"5" validate:"gte=2,lte=20"`
	MinRangeDuration     int     `yaml:"min_range_duration" default:"15" validate:"gte=15"`
	MinBoundaryTouches   int     `yaml:"min_boundary_touches" default:"2" validate:"gte=2"`
	MinQualityScore      float64 `yaml:"min_quality_score" default:"70" validate:"gte=0,lte=100"`
	MinPhaseConfidence   float64 `yaml:"min_phase_confidence" default:"70" validate:"gte=0,lte=100"`
	MinPatternConfidence float64 `yaml:"min_pattern_confidence" default:"65" validate:"gte=60,lte=70"`

	// Per-timeframe threshold buckets, keyed by timeframe label
	// (1m, 5m, 15m, 1h, 1d). Missing keys fall back to the 1d bucket.
	Timeframes map[string]Thresholds `yaml:"timeframes"`

	CampaignWindowHours    int     `yaml:"campaign_window_hours" default:"48" validate:"gt=0"`
	MaxPatternGapHours     int     `yaml:"max_pattern_gap_hours" default:"24" validate:"gt=0"`
	MinPatternsForActive   int     `yaml:"min_patterns_for_active" default:"2" validate:"gte=2"`
	ExpirationHours        int     `yaml:"expiration_hours" default:"72" validate:"gt=0"`
	MaxConcurrentCampaigns int     `yaml:"max_concurrent_campaigns" default:"5" validate:"gt=0"`
	MaxPortfolioHeatPct    float64 `yaml:"max_portfolio_heat_pct" default:"0.10" validate:"gt=0,lte=0.25"`

	Session SessionConfig `yaml:"session"`
}

// timeframeLabels enumerates the supported threshold buckets.
var timeframeLabels = []string{"1m", "5m", "15m", "1h", "1d"}

// Default returns a configuration with every field at its default and all
// five timeframe buckets populated.
func Default() *Config {
	c := &Config{}
	if err := defaults.Set(c); err != nil {
		// defaults on a fresh struct cannot fail; keep the invariant loud.
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	c.Timeframes = make(map[string]Thresholds, len(timeframeLabels))
	for _, tf := range timeframeLabels {
		var t Thresholds
		if err := defaults.Set(&t); err != nil {
			panic(fmt.Sprintf("threshold defaults: %v", err))
		}
		c.Timeframes[tf] = t
	}
	return c
}

// Load reads a YAML configuration file, applies defaults to unset fields,
// and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if c.Timeframes == nil {
		c.Timeframes = Default().Timeframes
	} else {
		for tf, t := range c.Timeframes {
			if err := defaults.Set(&t); err != nil {
				return nil, fmt.Errorf("apply defaults for timeframe %s: %w", tf, err)
			}
			c.Timeframes[tf] = t
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks all thresholds against their allowed ranges.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return &types.ConfigurationError{
				Field:  errs[0].Namespace(),
				Reason: fmt.Sprintf("failed %q constraint (value %v)", errs[0].Tag(), errs[0].Value()),
			}
		}
		return &types.ConfigurationError{Field: "config", Reason: err.Error()}
	}
	for tf, t := range c.Timeframes {
		if err := v.Struct(t); err != nil {
			if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
				return &types.ConfigurationError{
					Field:  fmt.Sprintf("timeframes.%s.%s", tf, errs[0].StructField()),
					Reason: fmt.Sprintf("failed %q constraint (value %v)", errs[0].Tag(), errs[0].Value()),
				}
			}
		}
	}
	if c.ExpirationHours < c.CampaignWindowHours {
		return &types.ConfigurationError{
			Field:  "expiration_hours",
			Reason: "must be >= campaign_window_hours",
		}
	}
	if c.MaxPatternGapHours > c.CampaignWindowHours {
		return &types.ConfigurationError{
			Field:  "max_pattern_gap_hours",
			Reason: "must be <= campaign_window_hours",
		}
	}
	if c.Session.Enabled {
		if _, _, err := c.Session.Bounds(); err != nil {
			return &types.ConfigurationError{Field: "session", Reason: err.Error()}
		}
	}
	return nil
}

// ThresholdsFor returns the threshold bucket for a timeframe label,
// falling back to the daily bucket for unknown labels.
func (c *Config) ThresholdsFor(timeframe string) Thresholds {
	if t, ok := c.Timeframes[timeframe]; ok {
		return t
	}
	if t, ok := c.Timeframes["1d"]; ok {
		return t
	}
	var t Thresholds
	_ = defaults.Set(&t)
	return t
}

// CampaignWindow returns the pairing window as a duration.
func (c *Config) CampaignWindow() time.Duration {
	return time.Duration(c.CampaignWindowHours) * time.Hour
}

// Expiration returns the campaign expiration horizon as a duration.
func (c *Config) Expiration() time.Duration {
	return time.Duration(c.ExpirationHours) * time.Hour
}

// MaxPatternGap returns the maximum allowed gap between successive
// patterns as a duration.
func (c *Config) MaxPatternGap() time.Duration {
	return time.Duration(c.MaxPatternGapHours) * time.Hour
}
