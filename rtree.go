// Package rtree provides an N-dimensional R-tree family spatial index over
// axis-aligned envelopes: Guttman's R-tree with quadratic or linear split,
// the R*-tree and the Hilbert R-tree, backed by a memory or file node store.
//
// A Tree is not safe for concurrent use. Callers sharing one must serialize
// access, e.g. with a sync.RWMutex around the whole tree.
package rtree

import (
	"errors"
	"fmt"

	"github.com/Geomatys/geotoolkit-sub067/envelope"
	"github.com/Geomatys/geotoolkit-sub067/logging"
	"github.com/Geomatys/geotoolkit-sub067/store"
)

// Errors returned by the tree.
var (
	ErrInvalidCapacity     = errors.New("rtree: invalid node capacity")
	ErrUnknownVariant      = errors.New("rtree: unknown variant")
	ErrMissingDomain       = errors.New("rtree: hilbert variant needs a CRS domain")
	ErrInvalidOptions      = errors.New("rtree: invalid options")
	ErrIncompatibleStore   = errors.New("rtree: store does not match options")
	ErrNilElement          = errors.New("rtree: nil element")
	ErrUncomparableElement = errors.New("rtree: element is not comparable")
	ErrUnknownElement      = errors.New("rtree: unknown element")
	ErrUnknownIdentifier   = errors.New("rtree: unknown identifier")
	ErrCorruptTree         = errors.New("rtree: invariant violated")
)

// Tree is an R-tree over the nodes of a store. Nodes reference their parent
// and children by store.NodeID; the tree never holds node pointers across
// operations.
type Tree struct {
	opts   Options
	store  store.Store
	mapper TreeElementMapper
	split  splitter
	curve  *hilbertCurve
	log    logging.Logger

	root   store.NodeID
	height int // levels below and including the root; 0 when empty
	count  int
	nextID int64

	// levels already handled by forced reinsertion during the current
	// insertion (R* only)
	reinserted map[int]bool
}

// New creates a tree over opts.Store, or over a new memory store when none is
// given. If the store already holds a tree it is reopened; its variant and
// CRS must match opts.
func New(mapper TreeElementMapper, opts Options) (*Tree, error) {
	if mapper == nil {
		return nil, fmt.Errorf("%w: nil mapper", ErrInvalidOptions)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	dim := opts.CRS.Dimension
	if opts.Store == nil {
		s, err := store.NewMemory(dim, opts.MaxEntries)
		if err != nil {
			return nil, err
		}
		opts.Store = s
	}
	if opts.Store.Dimension() != dim {
		return nil, fmt.Errorf("%w: store has %d axes, CRS %s has %d",
			ErrIncompatibleStore, opts.Store.Dimension(), opts.CRS.Identifier, dim)
	}
	if opts.Store.Capacity() != opts.MaxEntries {
		return nil, fmt.Errorf("%w: store capacity %d, max entries %d",
			ErrIncompatibleStore, opts.Store.Capacity(), opts.MaxEntries)
	}

	t := &Tree{
		opts:   opts,
		store:  opts.Store,
		mapper: mapper,
		split:  newSplitter(opts.Variant),
		log:    opts.Logger.WithFields("variant", opts.Variant.String()),
		nextID: 1,
	}
	if opts.Variant == Hilbert {
		t.curve = newHilbertCurve(opts.CRS.Domain, opts.HilbertOrder)
	}
	if err := t.restore(); err != nil {
		return nil, err
	}
	return t, nil
}

// restore picks up the tree recorded in the store metadata, if any.
func (t *Tree) restore() error {
	meta := t.store.Meta()
	if meta.Root == store.NoNode {
		if meta.NextIdentifier > 0 {
			t.nextID = meta.NextIdentifier
		}
		return nil
	}
	if Variant(meta.Variant) != t.opts.Variant {
		return fmt.Errorf("%w: store holds a %v tree, options ask for %v",
			ErrIncompatibleStore, Variant(meta.Variant), t.opts.Variant)
	}
	if meta.CRS != t.opts.CRS.Identifier {
		return fmt.Errorf("%w: store CRS %q, options CRS %q",
			ErrIncompatibleStore, meta.CRS, t.opts.CRS.Identifier)
	}
	if meta.MinEntries != t.opts.MinEntries {
		return fmt.Errorf("%w: store min entries %d, options %d",
			ErrIncompatibleStore, meta.MinEntries, t.opts.MinEntries)
	}
	if !meta.Domain.Equal(t.opts.CRS.Domain) {
		return fmt.Errorf("%w: store domain %v, options domain %v",
			ErrIncompatibleStore, meta.Domain, t.opts.CRS.Domain)
	}
	if order := t.hilbertOrder(); meta.HilbertOrder != order {
		return fmt.Errorf("%w: store keys at Hilbert order %d, options ask for %d",
			ErrIncompatibleStore, meta.HilbertOrder, order)
	}

	// The height is not recorded; walk down the first branch.
	height := 0
	for id := meta.Root; ; {
		n, err := t.store.Read(id)
		if err != nil {
			return err
		}
		height++
		if n.IsLeaf() || n.IsEmpty() {
			break
		}
		id = n.Entry(0).Child()
	}

	t.root = meta.Root
	t.height = height
	t.count = int(meta.Elements)
	t.nextID = meta.NextIdentifier
	t.log.Debug("tree restored", "root", t.root, "height", t.height, "elements", t.count)
	return nil
}

// saveMeta records the tree state in the store. Every mutating operation
// ends with it.
func (t *Tree) saveMeta() error {
	return t.store.SetMeta(store.Meta{
		Root:           t.root,
		Elements:       uint64(t.count),
		NextIdentifier: t.nextID,
		Variant:        uint8(t.opts.Variant),
		MinEntries:     t.opts.MinEntries,
		HilbertOrder:   t.hilbertOrder(),
		CRS:            t.opts.CRS.Identifier,
		Domain:         t.opts.CRS.Domain,
	})
}

// hilbertOrder is the curve order of the node keys, 0 without a curve.
func (t *Tree) hilbertOrder() int {
	if t.curve == nil {
		return 0
	}
	return t.curve.order
}

// Len returns the number of indexed elements.
func (t *Tree) Len() int { return t.count }

// Height returns the number of node levels, 0 for an empty tree.
func (t *Tree) Height() int { return t.height }

// Root returns the root node id, store.NoNode for an empty tree.
func (t *Tree) Root() store.NodeID { return t.root }

// CRS returns the coordinate reference system of the indexed envelopes.
func (t *Tree) CRS() envelope.CRS { return t.opts.CRS }

// Variant returns the split strategy of the tree.
func (t *Tree) Variant() Variant { return t.opts.Variant }

// MaxEntries returns the node capacity M.
func (t *Tree) MaxEntries() int { return t.opts.MaxEntries }

// MinEntries returns the minimum node fill m.
func (t *Tree) MinEntries() int { return t.opts.MinEntries }

// Store returns the node store backing the tree.
func (t *Tree) Store() store.Store { return t.store }

// Mapper returns the element mapper.
func (t *Tree) Mapper() TreeElementMapper { return t.mapper }

// Extent returns the boundary of the root, false for an empty tree.
func (t *Tree) Extent() (envelope.Envelope, bool, error) {
	if t.root == store.NoNode {
		return envelope.Envelope{}, false, nil
	}
	n, err := t.store.Read(t.root)
	if err != nil {
		return envelope.Envelope{}, false, err
	}
	b, ok := n.Boundary()
	return b, ok, nil
}

// Flush syncs the store. The tree state is handed to the store after every
// mutation; file stores write it out on Flush or Close.
func (t *Tree) Flush() error {
	return t.store.Sync()
}

// Close closes the store.
func (t *Tree) Close() error {
	return t.store.Close()
}

// entryFor builds the parent entry describing n.
func entryFor(n *store.Node) store.Entry {
	b, _ := n.Boundary()
	return store.Entry{Envelope: b, ID: int64(n.ID), Key: n.MaxKey()}
}

// levelOf returns the level of the node at depth in a root-first path.
// Leaves are level 0.
func (t *Tree) levelOf(depth int) int {
	return t.height - 1 - depth
}
