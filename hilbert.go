package rtree

import (
	"github.com/Geomatys/geotoolkit-sub067/envelope"
)

// maxHilbertOrder returns the largest number of bits per axis for which a
// key over dim axes fits in 64 bits.
func maxHilbertOrder(dim int) int {
	if dim < 1 {
		return 31
	}
	order := 64 / dim
	if order > 31 {
		order = 31
	}
	return order
}

// hilbertCurve maps envelope centres onto an N-dimensional Hilbert curve laid
// over a domain. Centres outside the domain are clamped onto its border.
type hilbertCurve struct {
	domain envelope.Envelope
	order  int
	cells  float64 // 2^order - 1
}

func newHilbertCurve(domain envelope.Envelope, order int) *hilbertCurve {
	return &hilbertCurve{
		domain: domain.Clone(),
		order:  order,
		cells:  float64(uint64(1)<<uint(order) - 1),
	}
}

// key returns the Hilbert index of the centre of e.
func (h *hilbertCurve) key(e envelope.Envelope) uint64 {
	dim := h.domain.Dimension()
	x := make([]uint32, dim)
	for i := 0; i < dim; i++ {
		c := (e.Lower[i] + e.Upper[i]) / 2
		span := h.domain.Span(i)
		var v float64
		if span > 0 {
			v = (c - h.domain.Lower[i]) / span
		}
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		x[i] = uint32(v * h.cells)
	}
	return hilbertIndex(x, h.order)
}

// hilbertIndex converts grid coordinates of order bits each into their
// distance along the Hilbert curve, after J. Skilling, "Programming the
// Hilbert curve" (2004).
func hilbertIndex(x []uint32, order int) uint64 {
	n := len(x)
	m := uint32(1) << uint(order-1)

	// Inverse undo excess work.
	for q := m; q > 1; q >>= 1 {
		p := q - 1
		for i := 0; i < n; i++ {
			if x[i]&q != 0 {
				x[0] ^= p
			} else {
				t := (x[0] ^ x[i]) & p
				x[0] ^= t
				x[i] ^= t
			}
		}
	}

	// Gray encode.
	for i := 1; i < n; i++ {
		x[i] ^= x[i-1]
	}
	var t uint32
	for q := m; q > 1; q >>= 1 {
		if x[n-1]&q != 0 {
			t ^= q - 1
		}
	}
	for i := 0; i < n; i++ {
		x[i] ^= t
	}

	// Interleave the transposed bits, most significant first.
	var key uint64
	for b := order - 1; b >= 0; b-- {
		for i := 0; i < n; i++ {
			key = key<<1 | uint64(x[i]>>uint(b)&1)
		}
	}
	return key
}
