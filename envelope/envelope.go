// Package envelope provides the N-dimensional axis-aligned envelope algebra
// used by the spatial index: union, intersection, containment, touching,
// hyper-volume, overlap and distance.
//
// All functions are pure. Binary operations expect both envelopes to share
// the same dimension; callers validate dimensionality once at the boundary
// (see CRS.Check) rather than on every comparison.
package envelope

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Errors reported when building or validating envelopes.
var (
	ErrInvalidEnvelope   = errors.New("envelope: invalid envelope")
	ErrDimensionMismatch = errors.New("envelope: dimension mismatch")
)

// Envelope is an axis-aligned box given by its lower and upper corners.
// The zero value is the empty envelope.
type Envelope struct {
	Lower []float64
	Upper []float64
}

// New builds an envelope from copies of the given corners and validates it.
func New(lower, upper []float64) (Envelope, error) {
	if len(lower) != len(upper) {
		return Envelope{}, fmt.Errorf("%w: %d lower and %d upper coordinates", ErrDimensionMismatch, len(lower), len(upper))
	}
	e := Envelope{
		Lower: append([]float64(nil), lower...),
		Upper: append([]float64(nil), upper...),
	}
	return e, e.Validate()
}

// FromFlat builds an envelope from all lower coordinates followed by all upper
// coordinates, e.g. minX, minY, maxX, maxY for a 2D box.
func FromFlat(coords ...float64) (Envelope, error) {
	if len(coords) == 0 || len(coords)%2 != 0 {
		return Envelope{}, fmt.Errorf("%w: odd coordinate count %d", ErrInvalidEnvelope, len(coords))
	}
	d := len(coords) / 2
	return New(coords[:d], coords[d:])
}

// Point builds a degenerate envelope whose corners are both p.
func Point(p ...float64) (Envelope, error) {
	return New(p, p)
}

// Dimension returns the number of axes of the envelope.
func (e Envelope) Dimension() int {
	return len(e.Lower)
}

// IsEmpty reports whether the envelope has no axes.
func (e Envelope) IsEmpty() bool {
	return len(e.Lower) == 0
}

// Validate checks that every coordinate is finite and that lower <= upper on
// every axis.
func (e Envelope) Validate() error {
	if len(e.Lower) != len(e.Upper) {
		return fmt.Errorf("%w: %d lower and %d upper coordinates", ErrDimensionMismatch, len(e.Lower), len(e.Upper))
	}
	if len(e.Lower) == 0 {
		return fmt.Errorf("%w: no coordinates", ErrInvalidEnvelope)
	}
	for i := range e.Lower {
		lo, hi := e.Lower[i], e.Upper[i]
		if math.IsNaN(lo) || math.IsInf(lo, 0) || math.IsNaN(hi) || math.IsInf(hi, 0) {
			return fmt.Errorf("%w: non-finite coordinate on axis %d", ErrInvalidEnvelope, i)
		}
		if lo > hi {
			return fmt.Errorf("%w: lower %g greater than upper %g on axis %d", ErrInvalidEnvelope, lo, hi, i)
		}
	}
	return nil
}

// Clone returns a deep copy of e.
func (e Envelope) Clone() Envelope {
	if e.IsEmpty() {
		return Envelope{}
	}
	return Envelope{
		Lower: append([]float64(nil), e.Lower...),
		Upper: append([]float64(nil), e.Upper...),
	}
}

// Equal reports whether both envelopes have identical corners.
func (e Envelope) Equal(o Envelope) bool {
	if len(e.Lower) != len(o.Lower) || len(e.Upper) != len(o.Upper) {
		return false
	}
	for i := range e.Lower {
		if e.Lower[i] != o.Lower[i] || e.Upper[i] != o.Upper[i] {
			return false
		}
	}
	return true
}

// Span returns the extent of the envelope along axis i.
func (e Envelope) Span(i int) float64 {
	return e.Upper[i] - e.Lower[i]
}

// Center returns the middle point of the envelope.
func (e Envelope) Center() []float64 {
	c := make([]float64, len(e.Lower))
	for i := range c {
		c[i] = (e.Lower[i] + e.Upper[i]) / 2
	}
	return c
}

// Flat returns the lower coordinates followed by the upper coordinates.
func (e Envelope) Flat() []float64 {
	out := make([]float64, 0, 2*len(e.Lower))
	out = append(out, e.Lower...)
	return append(out, e.Upper...)
}

func (e Envelope) String() string {
	if e.IsEmpty() {
		return "[]"
	}
	parts := make([]string, 0, 2*len(e.Lower))
	for _, v := range e.Flat() {
		parts = append(parts, fmt.Sprintf("%g", v))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Union gives the smallest envelope containing both a and b. An empty operand
// is ignored.
func Union(a, b Envelope) Envelope {
	if a.IsEmpty() {
		return b.Clone()
	}
	if b.IsEmpty() {
		return a.Clone()
	}
	u := Envelope{
		Lower: make([]float64, len(a.Lower)),
		Upper: make([]float64, len(a.Upper)),
	}
	for i := range a.Lower {
		u.Lower[i] = math.Min(a.Lower[i], b.Lower[i])
		u.Upper[i] = math.Max(a.Upper[i], b.Upper[i])
	}
	return u
}

// Intersection returns the common part of a and b, and false when they are
// disjoint. Touching envelopes intersect in a degenerate envelope.
func Intersection(a, b Envelope) (Envelope, bool) {
	if !Intersects(a, b, false) {
		return Envelope{}, false
	}
	r := Envelope{
		Lower: make([]float64, len(a.Lower)),
		Upper: make([]float64, len(a.Upper)),
	}
	for i := range a.Lower {
		r.Lower[i] = math.Max(a.Lower[i], b.Lower[i])
		r.Upper[i] = math.Min(a.Upper[i], b.Upper[i])
	}
	return r, true
}

// Intersects tests whether a and b overlap. When strict is false, touching
// boundaries count as intersecting; when strict is true the overlap must have
// a positive width on every axis.
func Intersects(a, b Envelope, strict bool) bool {
	if a.IsEmpty() || b.IsEmpty() {
		return false
	}
	for i := range a.Lower {
		lo := math.Max(a.Lower[i], b.Lower[i])
		hi := math.Min(a.Upper[i], b.Upper[i])
		if hi < lo || (strict && hi == lo) {
			return false
		}
	}
	return true
}

// Contains tests whether b lies within a. When strict is true, b may not
// touch the boundary of a.
func Contains(a, b Envelope, strict bool) bool {
	if a.IsEmpty() || b.IsEmpty() {
		return false
	}
	for i := range a.Lower {
		if strict {
			if !(a.Lower[i] < b.Lower[i] && b.Upper[i] < a.Upper[i]) {
				return false
			}
		} else if !(a.Lower[i] <= b.Lower[i] && b.Upper[i] <= a.Upper[i]) {
			return false
		}
	}
	return true
}

// Touches reports boundary contact without interior overlap.
func Touches(a, b Envelope) bool {
	return Intersects(a, b, false) && !Intersects(a, b, true)
}

// Area returns the area of a 2D envelope.
func Area(e Envelope) (float64, error) {
	if e.Dimension() != 2 {
		return 0, fmt.Errorf("%w: area needs 2 axes, got %d", ErrDimensionMismatch, e.Dimension())
	}
	return e.Span(0) * e.Span(1), nil
}

// Bulk returns the hyper-volume of an envelope of three or more axes.
func Bulk(e Envelope) (float64, error) {
	if e.Dimension() < 3 {
		return 0, fmt.Errorf("%w: bulk needs at least 3 axes, got %d", ErrDimensionMismatch, e.Dimension())
	}
	return Volume(e), nil
}

// Volume returns the product of the spans of e, whatever its dimension. It is
// the measure every split heuristic works with.
func Volume(e Envelope) float64 {
	if e.IsEmpty() {
		return 0
	}
	v := 1.0
	for i := range e.Lower {
		v *= e.Span(i)
	}
	return v
}

// Margin returns the sum of the spans of e. For a 2D envelope it is half the
// perimeter.
func Margin(e Envelope) float64 {
	var m float64
	for i := range e.Lower {
		m += e.Span(i)
	}
	return m
}

// Perimeter returns the perimeter of a 2D envelope.
func Perimeter(e Envelope) (float64, error) {
	if e.Dimension() != 2 {
		return 0, fmt.Errorf("%w: perimeter needs 2 axes, got %d", ErrDimensionMismatch, e.Dimension())
	}
	return 2 * Margin(e), nil
}

// OverlapValue returns the hyper-volume of the intersection of a and b, zero
// when they are disjoint.
func OverlapValue(a, b Envelope) float64 {
	v := 1.0
	for i := range a.Lower {
		lo := math.Max(a.Lower[i], b.Lower[i])
		hi := math.Min(a.Upper[i], b.Upper[i])
		if hi <= lo {
			return 0
		}
		v *= hi - lo
	}
	return v
}

// Enlargement returns how much volume existing would gain to accommodate
// additional.
func Enlargement(existing, additional Envelope) float64 {
	return Volume(Union(existing, additional)) - Volume(existing)
}

// Distance returns the Euclidean distance between the nearest points of a and
// b, zero when they intersect.
func Distance(a, b Envelope) float64 {
	var sum float64
	for i := range a.Lower {
		var gap float64
		switch {
		case a.Upper[i] < b.Lower[i]:
			gap = b.Lower[i] - a.Upper[i]
		case b.Upper[i] < a.Lower[i]:
			gap = a.Lower[i] - b.Upper[i]
		}
		sum += gap * gap
	}
	return math.Sqrt(sum)
}

// CenterDistance returns the Euclidean distance between the centres of a and
// b.
func CenterDistance(a, b Envelope) float64 {
	var sum float64
	for i := range a.Lower {
		d := (a.Lower[i]+a.Upper[i])/2 - (b.Lower[i]+b.Upper[i])/2
		sum += d * d
	}
	return math.Sqrt(sum)
}
