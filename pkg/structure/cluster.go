package structure

import "sort"

// Cluster groups pivots whose prices fall within the configured tolerance
// of each other; its Level is the volume-weighted average of the member
// prices and becomes a candidate support/resistance boundary.
type Cluster struct {
	Pivots []Pivot
	Level  float64
}

// Touches returns the number of pivots in the cluster.
func (c Cluster) Touches() int {
	return len(c.Pivots)
}

// FirstIndex returns the earliest bar index among the cluster's pivots.
func (c Cluster) FirstIndex() int {
	first := c.Pivots[0].Index
	for _, p := range c.Pivots[1:] {
		if p.Index < first {
			first = p.Index
		}
	}
	return first
}

// LastIndex returns the latest bar index among the cluster's pivots.
func (c Cluster) LastIndex() int {
	last := c.Pivots[0].Index
	for _, p := range c.Pivots[1:] {
		if p.Index > last {
			last = p.Index
		}
	}
	return last
}

// ClusterPivots greedily groups price-sorted pivots: a pivot joins the
// current cluster while it stays within tolerancePct of the cluster's
// running volume-weighted level, otherwise it opens a new cluster.
func ClusterPivots(pivots []Pivot, tolerancePct float64) []Cluster {
	if len(pivots) == 0 {
		return nil
	}

	sorted := make([]Pivot, len(pivots))
	copy(sorted, pivots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })

	var clusters []Cluster
	current := Cluster{Pivots: []Pivot{sorted[0]}, Level: sorted[0].Price}
	for _, p := range sorted[1:] {
		if current.Level > 0 && (p.Price-current.Level)/current.Level <= tolerancePct {
			current.Pivots = append(current.Pivots, p)
			current.Level = weightedLevel(current.Pivots)
		} else {
			clusters = append(clusters, current)
			current = Cluster{Pivots: []Pivot{p}, Level: p.Price}
		}
	}
	clusters = append(clusters, current)
	return clusters
}

// weightedLevel computes the volume-weighted average price of the pivots.
// Falls back to the arithmetic mean when no pivot carries volume.
func weightedLevel(pivots []Pivot) float64 {
	var priceVol, vol float64
	for _, p := range pivots {
		priceVol += p.Price * p.Volume
		vol += p.Volume
	}
	if vol > 0 {
		return priceVol / vol
	}
	var sum float64
	for _, p := range pivots {
		sum += p.Price
	}
	return sum / float64(len(pivots))
}
