// Package structure implements trading-range discovery and Wyckoff phase
// classification: pivot detection, pivot clustering into support/resistance
// boundaries, range validation with a quality score, and the phase
// classifier that gates all pattern acceptance.
package structure

import "github.com/marketstruct/wyckoff/pkg/types"

// Pivot marks a local extreme in the bar series.
type Pivot struct {
	Index  int
	Price  float64
	Volume float64
	High   bool // true = pivot high, false = pivot low
}

// PivotHighs returns the pivots where High[i] is the extreme within a
// symmetric lookback/lookahead window.
func PivotHighs(bars []types.Bar, lookback int) []Pivot {
	var pivots []Pivot
	for i := lookback; i < len(bars)-lookback; i++ {
		high := bars[i].High
		isHigh := true
		for j := i - lookback; j <= i+lookback; j++ {
			if j != i && bars[j].High > high {
				isHigh = false
				break
			}
		}
		if isHigh {
			pivots = append(pivots, Pivot{Index: i, Price: high, Volume: bars[i].Volume, High: true})
		}
	}
	return pivots
}

// PivotLows is symmetric to PivotHighs.
func PivotLows(bars []types.Bar, lookback int) []Pivot {
	var pivots []Pivot
	for i := lookback; i < len(bars)-lookback; i++ {
		low := bars[i].Low
		isLow := true
		for j := i - lookback; j <= i+lookback; j++ {
			if j != i && bars[j].Low < low {
				isLow = false
				break
			}
		}
		if isLow {
			pivots = append(pivots, Pivot{Index: i, Price: low, Volume: bars[i].Volume})
		}
	}
	return pivots
}
