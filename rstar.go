package rtree

import (
	"math"
	"sort"

	"github.com/Geomatys/geotoolkit-sub067/envelope"
	"github.com/Geomatys/geotoolkit-sub067/store"
)

// rstarSplit is the R*-tree topological split. For every axis the entries are
// sorted by lower then by upper bound and every distribution leaving at least
// minFill entries on each side is considered. The axis with the smallest sum
// of margins wins; on it, the distribution with the least overlap, then the
// least total volume, is taken.
type rstarSplit struct{}

func (rstarSplit) split(items []store.Entry, minFill int) ([]store.Entry, []store.Entry) {
	dim := items[0].Envelope.Dimension()

	bestAxis := 0
	bestMargin := math.Inf(1)
	for axis := 0; axis < dim; axis++ {
		var margin float64
		for _, sorted := range axisSortings(items, axis) {
			prefix, suffix := sweep(sorted)
			for k := minFill; k <= len(sorted)-minFill; k++ {
				margin += envelope.Margin(prefix[k-1]) + envelope.Margin(suffix[k])
			}
		}
		if margin < bestMargin {
			bestAxis, bestMargin = axis, margin
		}
	}

	var bestA, bestB []store.Entry
	bestOverlap, bestVolume := math.Inf(1), math.Inf(1)
	for _, sorted := range axisSortings(items, bestAxis) {
		prefix, suffix := sweep(sorted)
		for k := minFill; k <= len(sorted)-minFill; k++ {
			overlap := envelope.OverlapValue(prefix[k-1], suffix[k])
			volume := envelope.Volume(prefix[k-1]) + envelope.Volume(suffix[k])
			if overlap < bestOverlap || (overlap == bestOverlap && volume < bestVolume) {
				bestOverlap, bestVolume = overlap, volume
				bestA, bestB = sorted[:k:k], sorted[k:]
			}
		}
	}
	return bestA, bestB
}

// axisSortings returns copies of items sorted along axis by lower bound and by
// upper bound.
func axisSortings(items []store.Entry, axis int) [2][]store.Entry {
	var out [2][]store.Entry
	for s := range out {
		sorted := make([]store.Entry, len(items))
		copy(sorted, items)
		byUpper := s == 1
		sort.SliceStable(sorted, func(i, j int) bool {
			a, b := sorted[i].Envelope, sorted[j].Envelope
			if byUpper {
				if a.Upper[axis] != b.Upper[axis] {
					return a.Upper[axis] < b.Upper[axis]
				}
				return a.Lower[axis] < b.Lower[axis]
			}
			if a.Lower[axis] != b.Lower[axis] {
				return a.Lower[axis] < b.Lower[axis]
			}
			return a.Upper[axis] < b.Upper[axis]
		})
		out[s] = sorted
	}
	return out
}

// sweep returns the running unions of sorted: prefix[i] covers entries 0..i
// and suffix[i] covers entries i..n-1.
func sweep(sorted []store.Entry) (prefix, suffix []envelope.Envelope) {
	n := len(sorted)
	prefix = make([]envelope.Envelope, n)
	suffix = make([]envelope.Envelope, n)
	prefix[0] = sorted[0].Envelope.Clone()
	for i := 1; i < n; i++ {
		prefix[i] = envelope.Union(prefix[i-1], sorted[i].Envelope)
	}
	suffix[n-1] = sorted[n-1].Envelope.Clone()
	for i := n - 2; i >= 0; i-- {
		suffix[i] = envelope.Union(suffix[i+1], sorted[i].Envelope)
	}
	return prefix, suffix
}
