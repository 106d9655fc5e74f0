package patterns

import (
	"github.com/marketstruct/wyckoff/pkg/types"
	"github.com/marketstruct/wyckoff/pkg/volume"
)

const (
	// sosMinBreakoutPct is the decisive-close margin above resistance.
	sosMinBreakoutPct = 0.01
	// sosMinClosePosition requires the close in the upper 30% of the bar.
	sosMinClosePosition = 0.7
	// sosMinPriorBars is the minimum accumulation behind the breakout.
	sosMinPriorBars = 20
)

// SOS detects a Sign-of-Strength breakout: a decisive close at least 1%
// above resistance on expanding volume and spread, closing in the upper
// third of its bar, with enough prior accumulation behind it.
func (d *Detector) SOS(rng types.TradingRange, bars []types.Bar, cache *volume.Cache) (types.PatternEvent, bool) {
	if rng.Phase != types.PhaseC && rng.Phase != types.PhaseD {
		return types.PatternEvent{}, false
	}

	for i := rng.StartIndex; i <= rng.EndIndex && i < len(bars); i++ {
		b := bars[i]
		margin := (b.Close - rng.Resistance) / rng.Resistance
		if margin < sosMinBreakoutPct {
			continue
		}
		// Breakouts need cause behind them.
		if i-rng.StartIndex < sosMinPriorBars {
			continue
		}

		snap := cache.At(i)
		if !snap.Valid {
			continue
		}
		// Non-negotiable: a breakout without volume is an upthrust waiting
		// to happen.
		if snap.VolumeRatio < d.thr.SOSMinVolumeRatio {
			continue
		}
		if snap.SpreadRatio < d.thr.SOSMinSpreadRatio {
			continue
		}
		if snap.ClosePosition < sosMinClosePosition {
			continue
		}

		conf := d.sosConfidence(rng, snap, margin)
		if conf < d.cfg.MinPatternConfidence {
			d.logger.Debug("SOS candidate below confidence floor",
				"bar", i,
				"confidence", conf,
			)
			continue
		}

		return types.PatternEvent{
			Kind:           types.KindSOSBreakout,
			BarIndex:       i,
			Timestamp:      b.Timestamp,
			Price:          b.Close,
			VolumeRatio:    snap.VolumeRatio,
			PenetrationPct: margin,
			Confidence:     conf,
		}, true
	}
	return types.PatternEvent{}, false
}

func (d *Detector) sosConfidence(rng types.TradingRange, snap types.VolumeSnapshot, margin float64) float64 {
	conf := clamp01((snap.VolumeRatio-d.thr.SOSMinVolumeRatio)/0.5) * weightVolume
	conf += clamp01((snap.SpreadRatio-d.thr.SOSMinSpreadRatio)/0.3) * weightSpread

	// Close strength stands in for recovery speed on a breakout bar.
	conf += clamp01((snap.ClosePosition-sosMinClosePosition)/(1-sosMinClosePosition)) * weightRecovery

	// A breakout from a twice-tested boundary is its own confirmation.
	if rng.TouchesResist >= d.cfg.MinBoundaryTouches {
		conf += weightTest
	} else {
		conf += weightTest / 2
	}

	conf += qualityComponent(rng)
	conf += clamp01(margin/0.03) * weightPenetration

	if conf > 100 {
		conf = 100
	}
	return conf
}
