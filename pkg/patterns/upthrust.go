package patterns

import (
	"github.com/marketstruct/wyckoff/pkg/types"
	"github.com/marketstruct/wyckoff/pkg/volume"
)

// upthrust volume gates: the break arrives on high volume which then
// dries up inside the recovery window.
const (
	upthrustMinBreakVolume = 1.3
	upthrustDryUpVolume    = 0.8
	upthrustWeakClose      = 0.4
)

// Upthrust detects the distribution mirror of the spring: a break above
// resistance with bounded penetration, high volume that dries up within
// the recovery window, a weak close, and a failed re-test back below the
// boundary. Valid in phase C or D context.
func (d *Detector) Upthrust(rng types.TradingRange, bars []types.Bar, cache *volume.Cache) (types.PatternEvent, bool) {
	if rng.Phase != types.PhaseC && rng.Phase != types.PhaseD {
		return types.PatternEvent{}, false
	}

	for i := rng.StartIndex; i <= rng.EndIndex && i < len(bars); i++ {
		b := bars[i]
		if b.High <= rng.Resistance {
			continue
		}
		penetration := (b.High - rng.Resistance) / rng.Resistance
		if penetration <= 0 || penetration > d.thr.MaxPenetrationPct {
			continue
		}

		snap := cache.At(i)
		if !snap.Valid || snap.VolumeRatio < upthrustMinBreakVolume {
			continue
		}
		// The break must fail: weak close near the lows of the bar.
		if snap.ClosePosition > upthrustWeakClose {
			continue
		}

		dryUp, ok := d.volumeDryUp(rng, bars, cache, i)
		if !ok {
			continue
		}
		if !d.failedRetest(rng, bars, i, dryUp) {
			continue
		}

		conf := d.upthrustConfidence(rng, snap, penetration, dryUp)
		if conf < d.cfg.MinPatternConfidence {
			continue
		}

		return types.PatternEvent{
			Kind:           types.KindUpthrust,
			BarIndex:       i,
			Timestamp:      b.Timestamp,
			Price:          b.High,
			VolumeRatio:    snap.VolumeRatio,
			PenetrationPct: penetration,
			Confidence:     conf,
			RecoveryBars:   dryUp,
		}, true
	}
	return types.PatternEvent{}, false
}

// volumeDryUp finds the first bar inside the window where volume falls
// back under the dry-up threshold.
func (d *Detector) volumeDryUp(rng types.TradingRange, bars []types.Bar, cache *volume.Cache, breakIdx int) (int, bool) {
	for k := 1; k <= maxRecoveryBars; k++ {
		j := breakIdx + k
		if j >= len(bars) || j > rng.EndIndex {
			break
		}
		if snap := cache.At(j); snap.Valid && snap.VolumeRatio < upthrustDryUpVolume {
			return k, true
		}
	}
	return 0, false
}

// failedRetest confirms price falls back below resistance after the break.
func (d *Detector) failedRetest(rng types.TradingRange, bars []types.Bar, breakIdx, window int) bool {
	for k := 1; k <= window+maxRecoveryBars; k++ {
		j := breakIdx + k
		if j >= len(bars) || j > rng.EndIndex {
			break
		}
		if bars[j].Close < rng.Resistance {
			return true
		}
	}
	return false
}

func (d *Detector) upthrustConfidence(rng types.TradingRange, snap types.VolumeSnapshot, penetration float64, dryUp int) float64 {
	// High volume on the failed break marks distribution.
	conf := clamp01((snap.VolumeRatio-upthrustMinBreakVolume)/0.7) * weightVolume

	conf += clamp01(snap.SpreadRatio/1.2) * weightSpread

	// Faster dry-up, stronger signal.
	conf += clamp01(float64(maxRecoveryBars+1-dryUp)/float64(maxRecoveryBars)) * weightRecovery

	// The failed re-test already gates detection; weak close sharpens it.
	conf += weightTest * clamp01((upthrustWeakClose-snap.ClosePosition)/upthrustWeakClose+0.5)

	conf += qualityComponent(rng)
	conf += clamp01(penetration/d.thr.MaxPenetrationPct) * weightPenetration

	if conf > 100 {
		conf = 100
	}
	return conf
}
