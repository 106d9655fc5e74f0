// Package patterns implements the Wyckoff pattern detectors: Spring,
// Upthrust, Sign-of-Strength breakout, and Last-Point-of-Support retest,
// plus the Selling Climax and Automatic Rally helper events that feed
// phase classification.
//
// Every detector shares the same contract: a pure function of the range,
// the bar series, and the volume cache, returning the detected event and
// whether one was found. Detectors never mutate state; campaign bookkeeping
// happens upstream.
package patterns

import (
	"log/slog"

	"github.com/marketstruct/wyckoff/pkg/config"
	"github.com/marketstruct/wyckoff/pkg/types"
	"github.com/marketstruct/wyckoff/pkg/volume"
)

// Recovery and dry-up windows, in bars.
const (
	minRecoveryBars = 1
	maxRecoveryBars = 5
)

// Detector evaluates the closed set of Wyckoff patterns against a range.
type Detector struct {
	cfg    *config.Config
	thr    config.Thresholds
	logger *slog.Logger
}

// NewDetector creates a pattern detector for one timeframe's thresholds.
func NewDetector(cfg *config.Config, timeframe string, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{cfg: cfg, thr: cfg.ThresholdsFor(timeframe), logger: logger}
}

// confidence component weights (sum 100)
const (
	weightVolume      = 30.0
	weightSpread      = 15.0
	weightRecovery    = 15.0
	weightTest        = 20.0
	weightQuality     = 10.0
	weightPenetration = 10.0
)

// qualityComponent scores the range quality contribution.
func qualityComponent(rng types.TradingRange) float64 {
	return clamp01(rng.QualityScore/100) * weightQuality
}

// BestSpring returns the best spring candidate in the range under the
// volume-first tie-break hierarchy: lower volume ratio wins, then deeper
// penetration, then faster recovery.
func (d *Detector) BestSpring(rng types.TradingRange, bars []types.Bar, cache *volume.Cache) (types.PatternEvent, bool) {
	candidates := d.springCandidates(rng, bars, cache)
	if len(candidates) == 0 {
		return types.PatternEvent{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if springBetter(c, best) {
			best = c
		}
	}
	return best, true
}

// springBetter implements the tie-break hierarchy.
func springBetter(a, b types.PatternEvent) bool {
	if a.VolumeRatio != b.VolumeRatio {
		return a.VolumeRatio < b.VolumeRatio
	}
	if a.PenetrationPct != b.PenetrationPct {
		return a.PenetrationPct > b.PenetrationPct
	}
	return a.RecoveryBars < b.RecoveryBars
}

// VolumeTrend classifies the volume trajectory across successive test
// events in chronological order.
type VolumeTrend string

const (
	TrendDeclining VolumeTrend = "declining"
	TrendStable    VolumeTrend = "stable"
	TrendRising    VolumeTrend = "rising"
)

// trend step tolerance: ratios within 5% of each other count as flat.
const trendTolerance = 0.05

// ClassifyVolumeTrend walks the test events in order and reports whether
// volume on tests is drying up, holding, or building.
func ClassifyVolumeTrend(events []types.PatternEvent) VolumeTrend {
	if len(events) < 2 {
		return TrendStable
	}
	down, up := 0, 0
	for i := 1; i < len(events); i++ {
		prev, curr := events[i-1].VolumeRatio, events[i].VolumeRatio
		switch {
		case curr < prev*(1-trendTolerance):
			down++
		case curr > prev*(1+trendTolerance):
			up++
		}
	}
	switch {
	case down > 0 && up == 0:
		return TrendDeclining
	case up > 0 && down == 0:
		return TrendRising
	default:
		return TrendStable
	}
}

// RiskLabelFor maps a volume trend to the aggregate campaign risk label.
// Drying-up supply is the low-risk accumulation signature.
func RiskLabelFor(trend VolumeTrend) types.RiskLabel {
	switch trend {
	case TrendDeclining:
		return types.RiskLow
	case TrendRising:
		return types.RiskHigh
	default:
		return types.RiskModerate
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
