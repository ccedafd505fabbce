package rtree

import (
	"github.com/Geomatys/geotoolkit-sub067/envelope"
	"github.com/Geomatys/geotoolkit-sub067/store"
)

// boundOf returns the smallest envelope covering every entry. entries must
// not be empty.
func boundOf(entries []store.Entry) envelope.Envelope {
	bb := entries[0].Envelope.Clone()
	for _, e := range entries[1:] {
		bb = envelope.Union(bb, e.Envelope)
	}
	return bb
}

// longestAxis returns the axis along which bb is widest, the lowest such
// axis on ties.
func longestAxis(bb envelope.Envelope) int {
	axis := 0
	for i := 1; i < bb.Dimension(); i++ {
		if bb.Span(i) > bb.Span(axis) {
			axis = i
		}
	}
	return axis
}
