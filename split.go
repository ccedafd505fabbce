package rtree

import (
	"math"
	"sort"

	"github.com/Geomatys/geotoolkit-sub067/envelope"
	"github.com/Geomatys/geotoolkit-sub067/store"
)

// splitter divides the M+1 entries of an overflowing node into two groups,
// each holding at least minFill entries.
type splitter interface {
	split(items []store.Entry, minFill int) (a, b []store.Entry)
}

func newSplitter(v Variant) splitter {
	switch v {
	case Linear:
		return linearSplit{}
	case RStar:
		return rstarSplit{}
	case Hilbert:
		return hilbertSplit{}
	default:
		return quadraticSplit{}
	}
}

// quadraticSplit is Guttman's quadratic-cost split: the seeds are the pair
// wasting the most volume when grouped together, and each following entry is
// the one with the strongest preference for one group.
type quadraticSplit struct{}

func (quadraticSplit) split(items []store.Entry, minFill int) ([]store.Entry, []store.Entry) {
	s1, s2 := quadraticSeeds(items)
	return distribute(items, s1, s2, minFill, pickStrongestPreference)
}

func quadraticSeeds(items []store.Entry) (int, int) {
	s1, s2 := 0, 1
	worst := math.Inf(-1)
	for i := 0; i < len(items); i++ {
		vi := envelope.Volume(items[i].Envelope)
		for j := i + 1; j < len(items); j++ {
			d := envelope.Volume(envelope.Union(items[i].Envelope, items[j].Envelope)) -
				vi - envelope.Volume(items[j].Envelope)
			if d > worst {
				worst, s1, s2 = d, i, j
			}
		}
	}
	return s1, s2
}

// pickStrongestPreference returns the position in rest of the entry whose
// enlargement differs most between the two groups.
func pickStrongestPreference(items []store.Entry, rest []int, ba, bb envelope.Envelope) int {
	best := 0
	bestDiff := -1.0
	for pos, i := range rest {
		diff := math.Abs(envelope.Enlargement(ba, items[i].Envelope) - envelope.Enlargement(bb, items[i].Envelope))
		if diff > bestDiff {
			best, bestDiff = pos, diff
		}
	}
	return best
}

// linearSplit is Guttman's linear-cost split: seeds are the pair with the
// greatest normalized separation along any axis and the remaining entries
// are assigned in order.
type linearSplit struct{}

func (linearSplit) split(items []store.Entry, minFill int) ([]store.Entry, []store.Entry) {
	s1, s2 := linearSeeds(items)
	return distribute(items, s1, s2, minFill, pickFirst)
}

func pickFirst([]store.Entry, []int, envelope.Envelope, envelope.Envelope) int {
	return 0
}

func linearSeeds(items []store.Entry) (int, int) {
	s1, s2 := 0, 1
	bestSep := math.Inf(-1)
	dim := items[0].Envelope.Dimension()
	for axis := 0; axis < dim; axis++ {
		// Entry with the highest low side, then the entry with the lowest
		// high side among the others.
		hi := 0
		for i, e := range items {
			if e.Envelope.Lower[axis] > items[hi].Envelope.Lower[axis] {
				hi = i
			}
		}
		lo := -1
		minLower, maxUpper := math.Inf(1), math.Inf(-1)
		for i, e := range items {
			minLower = math.Min(minLower, e.Envelope.Lower[axis])
			maxUpper = math.Max(maxUpper, e.Envelope.Upper[axis])
			if i == hi {
				continue
			}
			if lo < 0 || e.Envelope.Upper[axis] < items[lo].Envelope.Upper[axis] {
				lo = i
			}
		}
		sep := items[hi].Envelope.Lower[axis] - items[lo].Envelope.Upper[axis]
		if width := maxUpper - minLower; width > 0 {
			sep /= width
		}
		if sep > bestSep {
			bestSep, s1, s2 = sep, lo, hi
		}
	}
	if s1 > s2 {
		s1, s2 = s2, s1
	}
	return s1, s2
}

// distribute grows two groups from the seeds s1 and s2. pick chooses the next
// entry among the unassigned ones, which goes to the group needing the least
// enlargement; ties go to the group with fewer entries, then to the group of
// smaller volume. Once a group can only reach minFill by taking every
// remaining entry, it takes them all.
func distribute(items []store.Entry, s1, s2, minFill int,
	pick func(items []store.Entry, rest []int, ba, bb envelope.Envelope) int) ([]store.Entry, []store.Entry) {

	a := []store.Entry{items[s1]}
	b := []store.Entry{items[s2]}
	ba := items[s1].Envelope.Clone()
	bb := items[s2].Envelope.Clone()

	rest := make([]int, 0, len(items)-2)
	for i := range items {
		if i != s1 && i != s2 {
			rest = append(rest, i)
		}
	}

	for len(rest) > 0 {
		if len(a)+len(rest) <= minFill {
			for _, i := range rest {
				a = append(a, items[i])
			}
			break
		}
		if len(b)+len(rest) <= minFill {
			for _, i := range rest {
				b = append(b, items[i])
			}
			break
		}

		pos := pick(items, rest, ba, bb)
		e := items[rest[pos]]
		rest = append(rest[:pos], rest[pos+1:]...)

		da := envelope.Enlargement(ba, e.Envelope)
		db := envelope.Enlargement(bb, e.Envelope)
		toA := da < db
		if da == db {
			switch {
			case len(a) != len(b):
				toA = len(a) < len(b)
			default:
				toA = envelope.Volume(ba) <= envelope.Volume(bb)
			}
		}
		if toA {
			a = append(a, e)
			ba = envelope.Union(ba, e.Envelope)
		} else {
			b = append(b, e)
			bb = envelope.Union(bb, e.Envelope)
		}
	}
	return a, b
}

// hilbertSplit cuts the entries, ordered by key, at their midpoint.
type hilbertSplit struct{}

func (hilbertSplit) split(items []store.Entry, minFill int) ([]store.Entry, []store.Entry) {
	sorted := make([]store.Entry, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	mid := len(sorted) / 2
	if mid < minFill {
		mid = minFill
	}
	return sorted[:mid:mid], sorted[mid:]
}
