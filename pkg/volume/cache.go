// Package volume implements the per-bar volume analysis engine.
//
// Ratios are computed once per bar batch in O(n) and exposed via O(1)
// indexed lookup, so multi-candidate pattern scans never recompute rolling
// averages. The cache supports O(1) append and last-bar invalidation for
// incremental live-bar arrival.
package volume

import (
	"github.com/markcheno/go-talib"

	"github.com/marketstruct/wyckoff/pkg/types"
)

// Mode selects how bar volume is interpreted.
type Mode int

const (
	// TrueVolume treats bar volume as real traded volume.
	TrueVolume Mode = iota
	// TickVolume treats bar volume as a tick count. Zero-volume session
	// gaps carry the previous bar's volume forward so the rolling average
	// is not dragged toward zero.
	TickVolume
)

// effort/result classification cutoffs
const (
	effortHighVolume = 1.3
	effortFullSpread = 1.0
)

// Cache holds precomputed volume snapshots for one symbol+timeframe
// partition. The rolling averages cover the window ending at the previous
// bar, so the first `window` bars report insufficient history.
type Cache struct {
	window    int
	mode      Mode
	bars      int
	vols      []float64
	ranges    []float64
	snaps     []types.VolumeSnapshot
	volSum    float64 // sum of vols over the trailing window
	rangeSum  float64 // sum of ranges over the trailing window
}

// NewCache creates an empty cache for the given rolling window.
func NewCache(window int, mode Mode) *Cache {
	return &Cache{window: window, mode: mode}
}

// Build replaces the cache contents with snapshots for the full bar slice.
// Runs in O(n) using a single rolling-average pass.
func (c *Cache) Build(bars []types.Bar) {
	n := len(bars)
	c.bars = 0
	c.vols = make([]float64, 0, n)
	c.ranges = make([]float64, 0, n)
	c.snaps = make([]types.VolumeSnapshot, 0, n)
	c.volSum, c.rangeSum = 0, 0

	if n == 0 {
		return
	}

	vols := make([]float64, n)
	rngs := make([]float64, n)
	prevVol := 0.0
	for i, b := range bars {
		v := b.Volume
		if c.mode == TickVolume && v == 0 {
			v = prevVol
		}
		vols[i] = v
		rngs[i] = b.Range()
		prevVol = v
	}

	var volSMA, rangeSMA []float64
	if n >= c.window {
		volSMA = talib.Sma(vols, c.window)
		rangeSMA = talib.Sma(rngs, c.window)
	}

	for i, b := range bars {
		var snap types.VolumeSnapshot
		if i >= c.window {
			// The SMA at i-1 covers the full window ending there.
			snap = computeSnapshot(b, vols[i], volSMA[i-1], rangeSMA[i-1])
		}
		c.vols = append(c.vols, vols[i])
		c.ranges = append(c.ranges, rngs[i])
		c.snaps = append(c.snaps, snap)
	}
	c.bars = n
	c.resetSums()
}

// Append adds one new live bar in O(1) and computes its snapshot from the
// trailing-window sums.
func (c *Cache) Append(bar types.Bar) types.VolumeSnapshot {
	v := bar.Volume
	if c.mode == TickVolume && v == 0 && c.bars > 0 {
		v = c.vols[c.bars-1]
	}

	var snap types.VolumeSnapshot
	if c.bars >= c.window {
		avgVol := c.volSum / float64(c.window)
		avgRange := c.rangeSum / float64(c.window)
		snap = computeSnapshot(bar, v, avgVol, avgRange)
	}

	c.vols = append(c.vols, v)
	c.ranges = append(c.ranges, bar.Range())
	c.snaps = append(c.snaps, snap)
	c.bars++

	c.volSum += v
	c.rangeSum += bar.Range()
	if c.bars > c.window {
		c.volSum -= c.vols[c.bars-1-c.window]
		c.rangeSum -= c.ranges[c.bars-1-c.window]
	}
	return snap
}

// InvalidateLast replaces the most recent bar (a still-forming live candle)
// and recomputes only its snapshot. O(1).
func (c *Cache) InvalidateLast(bar types.Bar) types.VolumeSnapshot {
	if c.bars == 0 {
		return c.Append(bar)
	}
	// Roll the sums back to exclude the stale last bar.
	last := c.bars - 1
	c.volSum -= c.vols[last]
	c.rangeSum -= c.ranges[last]
	if c.bars > c.window {
		c.volSum += c.vols[last-c.window]
		c.rangeSum += c.ranges[last-c.window]
	}
	c.vols = c.vols[:last]
	c.ranges = c.ranges[:last]
	c.snaps = c.snaps[:last]
	c.bars = last
	return c.Append(bar)
}

// At returns the snapshot for bar index i. Out-of-range indices return the
// insufficient-history sentinel.
func (c *Cache) At(i int) types.VolumeSnapshot {
	if i < 0 || i >= c.bars {
		return types.VolumeSnapshot{}
	}
	return c.snaps[i]
}

// Len returns the number of bars in the cache.
func (c *Cache) Len() int {
	return c.bars
}

// Window returns the rolling window size.
func (c *Cache) Window() int {
	return c.window
}

// resetSums rebuilds the trailing-window sums from the stored series.
func (c *Cache) resetSums() {
	c.volSum, c.rangeSum = 0, 0
	start := c.bars - c.window
	if start < 0 {
		start = 0
	}
	for i := start; i < c.bars; i++ {
		c.volSum += c.vols[i]
		c.rangeSum += c.ranges[i]
	}
}

// computeSnapshot derives one snapshot from a bar and its rolling averages.
// A non-positive average volume yields the insufficient-history sentinel
// rather than a division by zero.
func computeSnapshot(bar types.Bar, vol, avgVol, avgRange float64) types.VolumeSnapshot {
	if avgVol <= 0 {
		return types.VolumeSnapshot{}
	}

	snap := types.VolumeSnapshot{
		VolumeRatio: vol / avgVol,
		Valid:       true,
	}
	if avgRange > 0 {
		snap.SpreadRatio = bar.Range() / avgRange
	}

	// Zero-range bars report the midpoint sentinel.
	if bar.Range() > 0 {
		snap.ClosePosition = (bar.Close - bar.Low) / bar.Range()
	} else {
		snap.ClosePosition = 0.5
	}

	switch {
	case snap.VolumeRatio >= effortHighVolume && snap.SpreadRatio >= effortFullSpread:
		snap.EffortResult = types.EffortHarmony
	case snap.VolumeRatio >= effortHighVolume:
		snap.EffortResult = types.EffortDivergence
	default:
		snap.EffortResult = types.EffortNeutral
	}
	return snap
}
