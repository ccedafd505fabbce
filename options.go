package rtree

import (
	"fmt"
	"strings"

	"github.com/Geomatys/geotoolkit-sub067/envelope"
	"github.com/Geomatys/geotoolkit-sub067/logging"
	"github.com/Geomatys/geotoolkit-sub067/store"
)

// Variant selects how a tree chooses subtrees and handles overflowing nodes.
type Variant uint8

const (
	// Quadratic is Guttman's R-tree with the quadratic-cost split.
	Quadratic Variant = iota
	// Linear is Guttman's R-tree with the linear-cost split.
	Linear
	// RStar is the R*-tree: overlap-aware subtree choice, forced
	// reinsertion and margin-driven topological split.
	RStar
	// Hilbert orders entries by the Hilbert key of their centre.
	Hilbert
)

// String returns the name of the variant.
func (v Variant) String() string {
	switch v {
	case Quadratic:
		return "quadratic"
	case Linear:
		return "linear"
	case RStar:
		return "rstar"
	case Hilbert:
		return "hilbert"
	default:
		return fmt.Sprintf("variant(%d)", uint8(v))
	}
}

// ParseVariant parses a variant name as returned by Variant.String.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(s) {
	case "quadratic", "":
		return Quadratic, nil
	case "linear":
		return Linear, nil
	case "rstar", "r*":
		return RStar, nil
	case "hilbert":
		return Hilbert, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownVariant, s)
	}
}

// Options configures a Tree.
type Options struct {
	// MaxEntries is the node capacity M.
	// Default: 8.
	MaxEntries int

	// MinEntries is the minimum fill m of non-root nodes. It must not exceed
	// MaxEntries/2. Zero derives it from MaxEntries (40%, at least 1).
	MinEntries int

	// Variant selects the split strategy.
	// Default: Quadratic.
	Variant Variant

	// CRS fixes the dimension of the indexed envelopes. The Hilbert variant
	// needs its domain of validity.
	// Default: envelope.CRS84.
	CRS envelope.CRS

	// Store backs the nodes. When nil a memory store is created. A store
	// already holding a tree reopens it.
	Store store.Store

	// Logger receives debug traces of structural changes.
	// Default: a no-op logger.
	Logger logging.Logger

	// ReinsertFraction is the share of M+1 entries the R*-tree reinserts
	// before splitting a node for the first time on a level.
	// Default: 0.3.
	ReinsertFraction float64

	// HilbertOrder is the number of curve bits per axis. Zero picks the
	// largest order whose keys fit in 64 bits.
	HilbertOrder int
}

// DefaultOptions returns the default tree options.
func DefaultOptions() Options {
	return Options{
		MaxEntries:       8,
		Variant:          Quadratic,
		CRS:              envelope.CRS84,
		ReinsertFraction: 0.3,
	}
}

// Validate checks the options and fills in derived defaults.
func (o *Options) Validate() error {
	if o.MaxEntries < 2 || o.MaxEntries > store.MaxCapacity {
		return fmt.Errorf("%w: max entries %d outside [2, %d]", ErrInvalidCapacity, o.MaxEntries, store.MaxCapacity)
	}
	if o.MinEntries == 0 {
		o.MinEntries = defaultMinEntries(o.MaxEntries)
	}
	if o.MinEntries < 1 || o.MinEntries > o.MaxEntries/2 {
		return fmt.Errorf("%w: min entries %d outside [1, %d]", ErrInvalidCapacity, o.MinEntries, o.MaxEntries/2)
	}
	if o.Variant > Hilbert {
		return fmt.Errorf("%w: %v", ErrUnknownVariant, o.Variant)
	}
	if o.CRS.Dimension == 0 {
		o.CRS = envelope.CRS84
	}
	if err := o.CRS.Validate(); err != nil {
		return err
	}
	if o.Variant == Hilbert && !o.CRS.HasDomain() {
		return fmt.Errorf("%w: %s", ErrMissingDomain, o.CRS.Identifier)
	}
	if o.ReinsertFraction == 0 {
		o.ReinsertFraction = 0.3
	}
	if o.ReinsertFraction < 0 || o.ReinsertFraction >= 1 {
		return fmt.Errorf("%w: reinsert fraction %v outside (0, 1)", ErrInvalidOptions, o.ReinsertFraction)
	}
	maxOrder := maxHilbertOrder(o.CRS.Dimension)
	if o.HilbertOrder == 0 {
		o.HilbertOrder = maxOrder
	}
	if o.HilbertOrder < 1 || o.HilbertOrder > maxOrder {
		return fmt.Errorf("%w: hilbert order %d outside [1, %d]", ErrInvalidOptions, o.HilbertOrder, maxOrder)
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return nil
}

func defaultMinEntries(capacity int) int {
	m := capacity * 2 / 5
	if m < 1 {
		m = 1
	}
	if m > capacity/2 {
		m = capacity / 2
	}
	return m
}

// reinsertCount is the number of entries the R*-tree pulls out of an
// overflowing node, keeping at least MinEntries behind.
func (o *Options) reinsertCount() int {
	p := int(o.ReinsertFraction * float64(o.MaxEntries+1))
	if p < 1 {
		p = 1
	}
	if limit := o.MaxEntries + 1 - o.MinEntries; p > limit {
		p = limit
	}
	return p
}

// WithMaxEntries sets the node capacity M.
func (o Options) WithMaxEntries(n int) Options {
	o.MaxEntries = n
	return o
}

// WithMinEntries sets the minimum node fill m.
func (o Options) WithMinEntries(n int) Options {
	o.MinEntries = n
	return o
}

// WithVariant sets the split strategy.
func (o Options) WithVariant(v Variant) Options {
	o.Variant = v
	return o
}

// WithCRS sets the coordinate reference system.
func (o Options) WithCRS(crs envelope.CRS) Options {
	o.CRS = crs
	return o
}

// WithStore sets the node store.
func (o Options) WithStore(s store.Store) Options {
	o.Store = s
	return o
}

// WithLogger sets the logger.
func (o Options) WithLogger(l logging.Logger) Options {
	o.Logger = l
	return o
}

// WithReinsertFraction sets the R*-tree forced reinsertion share.
func (o Options) WithReinsertFraction(f float64) Options {
	o.ReinsertFraction = f
	return o
}

// WithHilbertOrder sets the number of Hilbert curve bits per axis.
func (o Options) WithHilbertOrder(order int) Options {
	o.HilbertOrder = order
	return o
}
