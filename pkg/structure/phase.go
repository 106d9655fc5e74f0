package structure

import (
	"log/slog"

	"github.com/marketstruct/wyckoff/pkg/config"
	"github.com/marketstruct/wyckoff/pkg/types"
	"github.com/marketstruct/wyckoff/pkg/volume"
)

// testWindow is how many recent bars count as "currently testing" a
// boundary for phase C purposes.
const testWindow = 10

// Classifier assigns Wyckoff phases A-E to a trading range by walking the
// detected event sequence (Selling Climax, Automatic Rally, tests,
// Spring/Upthrust, SOS) alongside the range structure itself.
//
// A classification below the configured confidence floor yields
// PhaseUnclassified, which blocks all pattern acceptance in the range.
type Classifier struct {
	cfg    *config.Config
	thr    config.Thresholds
	logger *slog.Logger
}

// NewClassifier creates a phase classifier for one timeframe's thresholds.
func NewClassifier(cfg *config.Config, timeframe string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{cfg: cfg, thr: cfg.ThresholdsFor(timeframe), logger: logger}
}

// Classify returns the phase and its confidence for the range given the
// events detected so far. Callers must treat a result below the confidence
// floor as unclassified; Classify already maps those to PhaseUnclassified.
func (c *Classifier) Classify(rng types.TradingRange, bars []types.Bar, cache *volume.Cache, events []types.PatternEvent) (types.Phase, float64) {
	var hasClimax, hasRally, hasSpring, hasUpthrust, hasSOS bool
	for _, ev := range events {
		switch ev.Kind {
		case types.KindSellingClimax:
			hasClimax = true
		case types.KindAutomaticRally:
			hasRally = true
		case types.KindSpring:
			hasSpring = true
		case types.KindUpthrust:
			hasUpthrust = true
		case types.KindSOSBreakout:
			hasSOS = true
		}
	}

	mature := rng.Duration() >= c.cfg.MinRangeDuration
	testing := c.testingSupport(rng, bars)

	phase, conf := types.PhaseUnclassified, 0.0
	switch {
	case hasSOS:
		phase, conf = types.PhaseD, 80
		if hasSpring {
			conf += 10
		}
		if hasClimax && hasRally {
			conf += 5
		}
	case hasSpring || hasUpthrust:
		phase, conf = types.PhaseC, 78
		if hasClimax && hasRally {
			conf += 10
		}
	case mature && testing:
		// A mature range with price pressing into support is the shakeout zone.
		phase, conf = types.PhaseC, 72
		if hasClimax && hasRally {
			conf += 8
		}
		if c.decliningTestVolume(rng, bars, cache) {
			conf += 5
		}
	case hasClimax && hasRally:
		phase, conf = types.PhaseB, 76
	case hasClimax:
		phase, conf = types.PhaseA, 72
	case mature && rng.TouchesSupport >= c.cfg.MinBoundaryTouches && rng.TouchesResist >= c.cfg.MinBoundaryTouches:
		phase, conf = types.PhaseB, 70
	}

	if conf > 100 {
		conf = 100
	}
	if conf < c.cfg.MinPhaseConfidence {
		c.logger.Debug("Phase ambiguous, defaulting to unclassified",
			"candidate", phase.String(),
			"confidence", conf,
		)
		return types.PhaseUnclassified, conf
	}
	return phase, conf
}

// testingSupport reports whether any of the last testWindow bars tested
// the support boundary (low within tolerance of, or below, support).
func (c *Classifier) testingSupport(rng types.TradingRange, bars []types.Bar) bool {
	start := len(bars) - testWindow
	if start < rng.StartIndex {
		start = rng.StartIndex
	}
	threshold := rng.Support * (1 + c.thr.LevelTolerancePct)
	for i := start; i < len(bars); i++ {
		if bars[i].Low <= threshold {
			return true
		}
	}
	return false
}

// decliningTestVolume reports whether volume on support tests has declined
// from the first half of the range to the second.
func (c *Classifier) decliningTestVolume(rng types.TradingRange, bars []types.Bar, cache *volume.Cache) bool {
	if cache == nil {
		return false
	}
	mid := rng.StartIndex + rng.Duration()/2
	threshold := rng.Support * (1 + c.thr.LevelTolerancePct)

	var earlySum, lateSum float64
	var earlyN, lateN int
	for i := rng.StartIndex; i <= rng.EndIndex && i < len(bars); i++ {
		if bars[i].Low > threshold {
			continue
		}
		snap := cache.At(i)
		if !snap.Valid {
			continue
		}
		if i < mid {
			earlySum += snap.VolumeRatio
			earlyN++
		} else {
			lateSum += snap.VolumeRatio
			lateN++
		}
	}
	if earlyN == 0 || lateN == 0 {
		return false
	}
	return lateSum/float64(lateN) < earlySum/float64(earlyN)
}
