package rtree

import (
	"fmt"

	"github.com/Geomatys/geotoolkit-sub067/store"
)

// CheckInvariants walks the whole tree and returns an error wrapping
// ErrCorruptTree describing the first violated invariant:
//   - every parent entry equals the boundary of its child (and its largest
//     key for Hilbert trees);
//   - every non-root node holds between MinEntries and MaxEntries entries and
//     an internal root holds at least two;
//   - parent links match the structure and all leaves share one depth;
//   - the element count matches the leaves and every live store node is
//     reachable from the root.
func (t *Tree) CheckInvariants() error {
	if t.root == store.NoNode {
		if t.count != 0 {
			return fmt.Errorf("%w: empty tree counts %d elements", ErrCorruptTree, t.count)
		}
		if t.height != 0 {
			return fmt.Errorf("%w: empty tree has height %d", ErrCorruptTree, t.height)
		}
		if n := t.store.Count(); n != 0 {
			return fmt.Errorf("%w: empty tree leaves %d nodes in the store", ErrCorruptTree, n)
		}
		return nil
	}

	c := &checker{tree: t, visited: make(map[store.NodeID]bool)}
	root, err := t.store.Read(t.root)
	if err != nil {
		return err
	}
	if root.Parent != store.NoNode {
		return fmt.Errorf("%w: root %d has parent %d", ErrCorruptTree, root.ID, root.Parent)
	}
	if !root.IsLeaf() && root.Len() < 2 {
		return fmt.Errorf("%w: internal root %d has %d children", ErrCorruptTree, root.ID, root.Len())
	}
	if root.IsLeaf() && root.IsEmpty() {
		return fmt.Errorf("%w: empty root leaf %d", ErrCorruptTree, root.ID)
	}
	if err := c.check(root, 1); err != nil {
		return err
	}

	if c.leafDepth != t.height {
		return fmt.Errorf("%w: leaves at depth %d, height %d", ErrCorruptTree, c.leafDepth, t.height)
	}
	if c.elements != t.count {
		return fmt.Errorf("%w: %d elements in leaves, count %d", ErrCorruptTree, c.elements, t.count)
	}
	if n := t.store.Count(); n != len(c.visited) {
		return fmt.Errorf("%w: %d nodes reachable, %d in the store", ErrCorruptTree, len(c.visited), n)
	}
	return nil
}

type checker struct {
	tree      *Tree
	visited   map[store.NodeID]bool
	leafDepth int
	elements  int
}

func (c *checker) check(n *store.Node, depth int) error {
	if c.visited[n.ID] {
		return fmt.Errorf("%w: node %d reached twice", ErrCorruptTree, n.ID)
	}
	c.visited[n.ID] = true

	opts := c.tree.opts
	if n.Len() > opts.MaxEntries {
		return fmt.Errorf("%w: node %d holds %d entries, max %d", ErrCorruptTree, n.ID, n.Len(), opts.MaxEntries)
	}
	if n.ID != c.tree.root && n.Len() < opts.MinEntries {
		return fmt.Errorf("%w: node %d holds %d entries, min %d", ErrCorruptTree, n.ID, n.Len(), opts.MinEntries)
	}
	if c.tree.curve != nil {
		for i := 1; i < n.Len(); i++ {
			if n.Entry(i-1).Key > n.Entry(i).Key {
				return fmt.Errorf("%w: node %d entries out of key order", ErrCorruptTree, n.ID)
			}
		}
	}

	if n.IsLeaf() {
		if c.leafDepth == 0 {
			c.leafDepth = depth
		} else if c.leafDepth != depth {
			return fmt.Errorf("%w: leaf %d at depth %d, others at %d", ErrCorruptTree, n.ID, depth, c.leafDepth)
		}
		c.elements += n.Len()
		return nil
	}

	for i, e := range n.Entries() {
		child, err := c.tree.store.Read(e.Child())
		if err != nil {
			return err
		}
		if child.Parent != n.ID {
			return fmt.Errorf("%w: node %d has parent %d, found under %d", ErrCorruptTree, child.ID, child.Parent, n.ID)
		}
		b, ok := child.Boundary()
		if !ok {
			return fmt.Errorf("%w: empty node %d under %d", ErrCorruptTree, child.ID, n.ID)
		}
		if !b.Equal(e.Envelope) {
			return fmt.Errorf("%w: entry %d of node %d is %v, child boundary %v", ErrCorruptTree, i, n.ID, e.Envelope, b)
		}
		if c.tree.curve != nil && e.Key != child.MaxKey() {
			return fmt.Errorf("%w: entry %d of node %d has key %d, child max %d", ErrCorruptTree, i, n.ID, e.Key, child.MaxKey())
		}
		if err := c.check(child, depth+1); err != nil {
			return err
		}
	}
	return nil
}
