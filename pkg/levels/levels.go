// Package levels derives trade levels from a trading range: the Creek
// (support), the Ice (resistance), and the Jump (price target projected
// from the size of the cause).
package levels

import (
	"log/slog"

	"github.com/marketstruct/wyckoff/pkg/config"
	"github.com/marketstruct/wyckoff/pkg/types"
	"github.com/marketstruct/wyckoff/pkg/volume"
)

// Level is a validated support or resistance price with its strength.
type Level struct {
	Price    float64
	Touches  int
	Strength float64 // 0-100
}

// Calculator computes levels for one timeframe's thresholds.
type Calculator struct {
	cfg    *config.Config
	thr    config.Thresholds
	logger *slog.Logger
}

// NewCalculator creates a level calculator.
func NewCalculator(cfg *config.Config, timeframe string, logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{cfg: cfg, thr: cfg.ThresholdsFor(timeframe), logger: logger}
}

// Creek returns the support level of the range with its strength score.
func (c *Calculator) Creek(rng types.TradingRange, bars []types.Bar, cache *volume.Cache) Level {
	return c.boundaryLevel(rng, bars, cache, rng.Support, rng.TouchesSupport, false)
}

// Ice returns the resistance level of the range with its strength score.
func (c *Calculator) Ice(rng types.TradingRange, bars []types.Bar, cache *volume.Cache) Level {
	return c.boundaryLevel(rng, bars, cache, rng.Resistance, rng.TouchesResist, true)
}

// Jump projects the target above the Ice: resistance plus the range width
// scaled by the cause factor for the range duration.
func (c *Calculator) Jump(rng types.TradingRange) float64 {
	return rng.Resistance + CauseFactor(rng.Duration())*rng.Width()
}

// CauseFactor scales the target by duration tier. Ranges under 15 bars
// still get a factor for reporting but are excluded from trading upstream.
func CauseFactor(durationBars int) float64 {
	switch {
	case durationBars >= 40:
		return 3.0
	case durationBars >= 25:
		return 2.5
	case durationBars >= 15:
		return 2.0
	default:
		return 1.5
	}
}

// boundaryLevel scores one boundary. Strength blends touch count, declining
// volume on re-tests, rejection wicks, and hold duration, 25 points each.
func (c *Calculator) boundaryLevel(rng types.TradingRange, bars []types.Bar, cache *volume.Cache, price float64, touches int, upper bool) Level {
	lvl := Level{Price: price, Touches: touches}

	// Touch count saturates at 4.
	score := clamp01(float64(touches)/4.0) * 25

	touchIdx := c.touchIndices(rng, bars, price, upper)

	// Declining volume on successive re-tests.
	if declining(touchIdx, cache) {
		score += 25
	} else if len(touchIdx) < 2 {
		score += 12.5
	}

	// Rejection wicks: tails poking through the level and closing back
	// inside show the boundary being defended.
	score += clamp01(avgRejectionWick(touchIdx, bars, price, upper)/0.5) * 25

	// Hold duration: how much of the range the boundary has survived.
	if len(touchIdx) > 0 {
		held := touchIdx[len(touchIdx)-1] - touchIdx[0]
		score += clamp01(float64(held)/float64(rng.Duration())) * 25
	}

	lvl.Strength = score
	return lvl
}

// touchIndices returns the bar indices where the boundary was tested,
// in chronological order.
func (c *Calculator) touchIndices(rng types.TradingRange, bars []types.Bar, price float64, upper bool) []int {
	var idx []int
	lo := price * (1 - c.thr.LevelTolerancePct)
	hi := price * (1 + c.thr.LevelTolerancePct)
	for i := rng.StartIndex; i <= rng.EndIndex && i < len(bars); i++ {
		if upper {
			if bars[i].High >= lo {
				idx = append(idx, i)
			}
		} else {
			if bars[i].Low <= hi {
				idx = append(idx, i)
			}
		}
	}
	return idx
}

// declining reports whether volume ratios across the touches trend down.
func declining(touchIdx []int, cache *volume.Cache) bool {
	if cache == nil || len(touchIdx) < 2 {
		return false
	}
	var first, last float64
	var haveFirst, haveLast bool
	for _, i := range touchIdx {
		snap := cache.At(i)
		if !snap.Valid {
			continue
		}
		if !haveFirst {
			first, haveFirst = snap.VolumeRatio, true
		}
		last, haveLast = snap.VolumeRatio, true
	}
	return haveFirst && haveLast && last < first
}

// avgRejectionWick returns the mean wick-to-range ratio at the touches.
func avgRejectionWick(touchIdx []int, bars []types.Bar, price float64, upper bool) float64 {
	var sum float64
	var n int
	for _, i := range touchIdx {
		b := bars[i]
		r := b.Range()
		if r <= 0 {
			continue
		}
		var wick float64
		if upper {
			wick = b.High - max(b.Open, b.Close)
		} else {
			wick = min(b.Open, b.Close) - b.Low
		}
		sum += wick / r
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
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
