package envelope

import (
	"errors"
	"fmt"
)

// MaxDimension bounds the number of axes a CRS may declare.
const MaxDimension = 16

// ErrInvalidCRS is returned for a CRS that cannot back a spatial index.
var ErrInvalidCRS = errors.New("envelope: invalid coordinate reference system")

// CRS describes the coordinate reference system shared by every envelope of a
// tree. Only its identity, axis count and optional domain of validity matter
// to the index; coordinate transforms are left to the caller.
type CRS struct {
	Identifier string
	Dimension  int
	// Domain is the area of validity, used to normalise coordinates onto a
	// space-filling curve. It may be empty.
	Domain Envelope
}

// Well known systems.
var (
	CRS84 = CRS{
		Identifier: "CRS:84",
		Dimension:  2,
		Domain:     Envelope{Lower: []float64{-180, -90}, Upper: []float64{180, 90}},
	}
	CRS84H = CRS{
		Identifier: "CRS:84h",
		Dimension:  3,
		Domain:     Envelope{Lower: []float64{-180, -90, -12000}, Upper: []float64{180, 90, 100000}},
	}
)

// Cartesian returns an engineering CRS of the given dimension. The domain may
// be the zero Envelope.
func Cartesian(dim int, domain Envelope) CRS {
	return CRS{
		Identifier: fmt.Sprintf("Cartesian:%dD", dim),
		Dimension:  dim,
		Domain:     domain.Clone(),
	}
}

// Validate checks the CRS itself.
func (c CRS) Validate() error {
	if c.Dimension < 2 || c.Dimension > MaxDimension {
		return fmt.Errorf("%w: dimension %d outside [2, %d]", ErrInvalidCRS, c.Dimension, MaxDimension)
	}
	if len(c.Identifier) > 255 {
		return fmt.Errorf("%w: identifier longer than 255 bytes", ErrInvalidCRS)
	}
	if !c.Domain.IsEmpty() {
		if c.Domain.Dimension() != c.Dimension {
			return fmt.Errorf("%w: domain has %d axes, want %d", ErrInvalidCRS, c.Domain.Dimension(), c.Dimension)
		}
		if err := c.Domain.Validate(); err != nil {
			return fmt.Errorf("%w: domain: %v", ErrInvalidCRS, err)
		}
	}
	return nil
}

// HasDomain reports whether a domain of validity is known.
func (c CRS) HasDomain() bool {
	return !c.Domain.IsEmpty()
}

// Check validates e and verifies it has the dimension of the CRS.
func (c CRS) Check(e Envelope) error {
	if e.Dimension() != c.Dimension {
		return fmt.Errorf("%w: envelope has %d axes, %s has %d", ErrDimensionMismatch, e.Dimension(), c.Identifier, c.Dimension)
	}
	return e.Validate()
}

func (c CRS) String() string {
	return fmt.Sprintf("%s(%dD)", c.Identifier, c.Dimension)
}
