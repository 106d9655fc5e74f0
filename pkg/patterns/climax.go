package patterns

import (
	"github.com/marketstruct/wyckoff/pkg/types"
	"github.com/marketstruct/wyckoff/pkg/volume"
)

// Selling climax and automatic rally are helper events: they do not produce
// trade signals themselves but anchor the phase classifier's A/B reading.
const (
	climaxMinVolume   = 2.0
	climaxMinSpread   = 1.5
	climaxMinTailPos  = 0.25
	rallyWindowBars   = 10
	rallyMinRecovery  = 0.5 // fraction of the climax bar's range recovered
)

// SellingClimax detects panic liquidation: a down bar on at least twice
// average volume with a wide spread and a recovery tail off the lows.
func (d *Detector) SellingClimax(rng types.TradingRange, bars []types.Bar, cache *volume.Cache) (types.PatternEvent, bool) {
	for i := rng.StartIndex; i <= rng.EndIndex && i < len(bars); i++ {
		b := bars[i]
		if b.Close >= b.Open {
			continue
		}
		snap := cache.At(i)
		if !snap.Valid {
			continue
		}
		if snap.VolumeRatio < climaxMinVolume || snap.SpreadRatio < climaxMinSpread {
			continue
		}
		// A close pinned to the low is a breakdown, not a climax.
		if snap.ClosePosition < climaxMinTailPos {
			continue
		}

		return types.PatternEvent{
			Kind:        types.KindSellingClimax,
			BarIndex:    i,
			Timestamp:   b.Timestamp,
			Price:       b.Low,
			VolumeRatio: snap.VolumeRatio,
			Confidence:  70 + clamp01((snap.VolumeRatio-climaxMinVolume)/2)*30,
		}, true
	}
	return types.PatternEvent{}, false
}

// AutomaticRally detects the reflex bounce off a selling climax: within the
// rally window, a close recovering at least half of the climax bar's range.
func (d *Detector) AutomaticRally(rng types.TradingRange, bars []types.Bar, cache *volume.Cache, climax types.PatternEvent) (types.PatternEvent, bool) {
	if climax.Kind != types.KindSellingClimax {
		return types.PatternEvent{}, false
	}
	climaxBar := bars[climax.BarIndex]
	target := climaxBar.Low + climaxBar.Range()*rallyMinRecovery

	for k := 1; k <= rallyWindowBars; k++ {
		i := climax.BarIndex + k
		if i >= len(bars) || i > rng.EndIndex {
			break
		}
		b := bars[i]
		if b.Close < target {
			continue
		}
		snap := cache.At(i)
		ratio := 1.0
		if snap.Valid {
			ratio = snap.VolumeRatio
		}
		return types.PatternEvent{
			Kind:         types.KindAutomaticRally,
			BarIndex:     i,
			Timestamp:    b.Timestamp,
			Price:        b.Close,
			VolumeRatio:  ratio,
			Confidence:   70 + clamp01(float64(rallyWindowBars-k)/float64(rallyWindowBars))*20,
			RecoveryBars: k,
		}, true
	}
	return types.PatternEvent{}, false
}
