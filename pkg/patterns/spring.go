package patterns

import (
	"github.com/marketstruct/wyckoff/pkg/types"
	"github.com/marketstruct/wyckoff/pkg/volume"
)

// springCandidates scans the range for every qualifying spring: a break
// below support with penetration in (0, max], volume ratio below the
// non-negotiable ceiling, and a close back above support within the
// recovery window. Valid only in phase C.
func (d *Detector) springCandidates(rng types.TradingRange, bars []types.Bar, cache *volume.Cache) []types.PatternEvent {
	if rng.Phase != types.PhaseC {
		return nil
	}

	var candidates []types.PatternEvent
	for i := rng.StartIndex; i <= rng.EndIndex && i < len(bars); i++ {
		b := bars[i]
		if b.Low >= rng.Support {
			continue
		}
		penetration := (rng.Support - b.Low) / rng.Support
		if penetration <= 0 || penetration > d.thr.MaxPenetrationPct {
			continue
		}

		snap := cache.At(i)
		if !snap.Valid {
			continue
		}
		// Non-negotiable: a spring on heavy volume is a breakdown.
		if snap.VolumeRatio >= d.thr.SpringMaxVolumeRatio {
			continue
		}

		recovery, ok := d.recoveryAboveSupport(rng, bars, i)
		if !ok {
			continue
		}

		tested := d.lowerVolumeRetest(rng, bars, cache, i+recovery, snap.VolumeRatio)
		conf := d.springConfidence(rng, snap, penetration, recovery, tested)
		if conf < d.cfg.MinPatternConfidence {
			d.logger.Debug("Spring candidate below confidence floor",
				"bar", i,
				"confidence", conf,
			)
			continue
		}

		candidates = append(candidates, types.PatternEvent{
			Kind:           types.KindSpring,
			BarIndex:       i,
			Timestamp:      b.Timestamp,
			Price:          b.Low,
			VolumeRatio:    snap.VolumeRatio,
			PenetrationPct: penetration,
			Confidence:     conf,
			RecoveryBars:   recovery,
		})
	}
	return candidates
}

// recoveryAboveSupport finds the first close back above support within the
// recovery window. A same-bar recovery counts as one bar.
func (d *Detector) recoveryAboveSupport(rng types.TradingRange, bars []types.Bar, breakIdx int) (int, bool) {
	if bars[breakIdx].Close > rng.Support {
		return minRecoveryBars, true
	}
	for k := 1; k <= maxRecoveryBars; k++ {
		j := breakIdx + k
		if j >= len(bars) || j > rng.EndIndex {
			break
		}
		if bars[j].Close > rng.Support {
			return k, true
		}
	}
	return 0, false
}

// lowerVolumeRetest looks for an optional secondary test after recovery:
// a dip back into the support zone on even lower volume.
func (d *Detector) lowerVolumeRetest(rng types.TradingRange, bars []types.Bar, cache *volume.Cache, from int, springVol float64) bool {
	zone := rng.Support * (1 + d.thr.LevelTolerancePct)
	for i := from + 1; i <= rng.EndIndex && i < len(bars); i++ {
		if bars[i].Low > zone {
			continue
		}
		snap := cache.At(i)
		if snap.Valid && snap.VolumeRatio < springVol && bars[i].Close > rng.Support {
			return true
		}
	}
	return false
}

// springConfidence applies the weighted component sum, capped at 100.
func (d *Detector) springConfidence(rng types.TradingRange, snap types.VolumeSnapshot, penetration float64, recovery int, tested bool) float64 {
	// Lower volume on the break is the heart of the pattern.
	conf := clamp01((d.thr.SpringMaxVolumeRatio-snap.VolumeRatio)/0.3) * weightVolume

	// Spread shows the shakeout actually travelled.
	conf += clamp01(snap.SpreadRatio/1.2) * weightSpread

	// Faster recovery is stronger absorption.
	conf += clamp01(float64(maxRecoveryBars+1-recovery)/float64(maxRecoveryBars)) * weightRecovery

	if tested {
		conf += weightTest
	} else {
		conf += weightTest / 2
	}

	conf += qualityComponent(rng)
	conf += clamp01(penetration/d.thr.MaxPenetrationPct) * weightPenetration

	if conf > 100 {
		conf = 100
	}
	return conf
}
