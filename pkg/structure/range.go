package structure

import (
	"log/slog"

	"github.com/marketstruct/wyckoff/pkg/config"
	"github.com/marketstruct/wyckoff/pkg/types"
	"github.com/marketstruct/wyckoff/pkg/volume"
)

// Detector discovers trading ranges from pivot clusters.
type Detector struct {
	cfg    *config.Config
	thr    config.Thresholds
	logger *slog.Logger
}

// NewDetector creates a range detector for one timeframe's thresholds.
func NewDetector(cfg *config.Config, timeframe string, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{cfg: cfg, thr: cfg.ThresholdsFor(timeframe), logger: logger}
}

// Detect finds the dominant trading range in the bar series, or reports
// that none qualifies. The returned range carries no phase; classification
// is a separate pass.
func (d *Detector) Detect(bars []types.Bar, cache *volume.Cache) (types.TradingRange, bool) {
	lows := PivotLows(bars, d.cfg.PivotLookback)
	highs := PivotHighs(bars, d.cfg.PivotLookback)
	if len(lows) == 0 || len(highs) == 0 {
		return types.TradingRange{}, false
	}

	supportCluster, ok := bestCluster(ClusterPivots(lows, d.thr.LevelTolerancePct), d.cfg.MinBoundaryTouches)
	if !ok {
		return types.TradingRange{}, false
	}
	resistCluster, ok := bestClusterAbove(ClusterPivots(highs, d.thr.LevelTolerancePct), d.cfg.MinBoundaryTouches, supportCluster.Level)
	if !ok {
		return types.TradingRange{}, false
	}

	start := supportCluster.FirstIndex()
	if ri := resistCluster.FirstIndex(); ri < start {
		start = ri
	}
	rng := types.TradingRange{
		Support:        supportCluster.Level,
		Resistance:     resistCluster.Level,
		StartIndex:     start,
		EndIndex:       len(bars) - 1,
		TouchesSupport: supportCluster.Touches(),
		TouchesResist:  resistCluster.Touches(),
	}

	if rng.Duration() < d.cfg.MinRangeDuration {
		d.logger.Debug("Range rejected: too short",
			"duration", rng.Duration(),
			"min", d.cfg.MinRangeDuration,
		)
		return types.TradingRange{}, false
	}

	rng.QualityScore = d.qualityScore(rng, supportCluster, resistCluster, cache)
	return rng, true
}

// qualityScore blends tightness, duration, touch count, and volume-on-test
// into a 0-100 score. Each component contributes up to 25 points.
func (d *Detector) qualityScore(rng types.TradingRange, support, resist Cluster, cache *volume.Cache) float64 {
	// Tightness: a narrow range relative to price is a better cause.
	tightness := clamp01(1.0-rng.WidthPct()/0.15) * 25

	// Duration: longer cause, larger effect; saturates at 40 bars.
	duration := clamp01(float64(rng.Duration())/40.0) * 25

	// Touch count across both boundaries; saturates at 6.
	touches := clamp01(float64(rng.TouchesSupport+rng.TouchesResist)/6.0) * 25

	// Volume on test: declining volume into the boundaries signals
	// absorption. Neutral half-credit when history is insufficient.
	volScore := 12.5
	if cache != nil {
		var ratios []float64
		for _, p := range append(append([]Pivot{}, support.Pivots...), resist.Pivots...) {
			if snap := cache.At(p.Index); snap.Valid {
				ratios = append(ratios, snap.VolumeRatio)
			}
		}
		if len(ratios) > 0 {
			var sum float64
			for _, r := range ratios {
				sum += r
			}
			avg := sum / float64(len(ratios))
			volScore = clamp01((1.4-avg)/0.8) * 25
		}
	}

	return tightness + duration + touches + volScore
}

// bestCluster picks the qualifying cluster with the most touches.
func bestCluster(clusters []Cluster, minTouches int) (Cluster, bool) {
	var best Cluster
	found := false
	for _, c := range clusters {
		if c.Touches() < minTouches {
			continue
		}
		if !found || c.Touches() > best.Touches() {
			best = c
			found = true
		}
	}
	return best, found
}

// bestClusterAbove picks the qualifying cluster with the most touches
// strictly above the given floor level.
func bestClusterAbove(clusters []Cluster, minTouches int, floor float64) (Cluster, bool) {
	var best Cluster
	found := false
	for _, c := range clusters {
		if c.Touches() < minTouches || c.Level <= floor {
			continue
		}
		if !found || c.Touches() > best.Touches() {
			best = c
			found = true
		}
	}
	return best, found
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
