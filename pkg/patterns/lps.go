package patterns

import (
	"github.com/marketstruct/wyckoff/pkg/types"
	"github.com/marketstruct/wyckoff/pkg/volume"
)

// lpsTolerancePct bounds how close the pullback must come to the former
// resistance (now support).
const lpsTolerancePct = 0.02

// LPS detects a Last-Point-of-Support retest after a Sign-of-Strength
// breakout: a pullback into the former resistance on volume below 0.8x
// the triggering SOS's volume, holding above the flipped boundary.
func (d *Detector) LPS(rng types.TradingRange, bars []types.Bar, cache *volume.Cache, sos types.PatternEvent) (types.PatternEvent, bool) {
	if sos.Kind != types.KindSOSBreakout {
		return types.PatternEvent{}, false
	}
	if rng.Phase != types.PhaseD {
		return types.PatternEvent{}, false
	}

	flipped := rng.Resistance
	zoneLow := flipped * (1 - lpsTolerancePct)
	zoneHigh := flipped * (1 + lpsTolerancePct)
	maxVol := sos.VolumeRatio * d.thr.LPSMaxVolumeFactor

	for i := sos.BarIndex + 1; i < len(bars); i++ {
		b := bars[i]
		if b.Low < zoneLow || b.Low > zoneHigh {
			continue
		}
		// The flipped boundary has to hold.
		if b.Close < flipped {
			continue
		}

		snap := cache.At(i)
		if !snap.Valid || snap.VolumeRatio >= maxVol {
			continue
		}

		distance := (b.Low - flipped) / flipped
		if distance < 0 {
			distance = -distance
		}
		conf := d.lpsConfidence(rng, snap, sos, distance)
		if conf < d.cfg.MinPatternConfidence {
			continue
		}

		return types.PatternEvent{
			Kind:           types.KindLPS,
			BarIndex:       i,
			Timestamp:      b.Timestamp,
			Price:          b.Low,
			VolumeRatio:    snap.VolumeRatio,
			PenetrationPct: distance,
			Confidence:     conf,
		}, true
	}
	return types.PatternEvent{}, false
}

func (d *Detector) lpsConfidence(rng types.TradingRange, snap types.VolumeSnapshot, sos types.PatternEvent, distance float64) float64 {
	// The quieter the pullback relative to its SOS, the better.
	maxVol := sos.VolumeRatio * d.thr.LPSMaxVolumeFactor
	conf := clamp01((maxVol-snap.VolumeRatio)/maxVol) * weightVolume

	// Narrow pullback bars show no supply.
	conf += clamp01(1.2-snap.SpreadRatio) * weightSpread

	// Strong close on the retest.
	conf += clamp01(snap.ClosePosition) * weightRecovery

	// The retest itself confirms the SOS.
	conf += weightTest

	conf += qualityComponent(rng)

	// A tighter touch of the flipped boundary is a cleaner LPS.
	conf += clamp01(1-distance/lpsTolerancePct) * weightPenetration

	if conf > 100 {
		conf = 100
	}
	return conf
}
