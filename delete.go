package rtree

import (
	"fmt"
	"sort"

	"github.com/Geomatys/geotoolkit-sub067/envelope"
	"github.com/Geomatys/geotoolkit-sub067/store"
)

// Remove deletes element from the tree. It reports false, with no error, when
// the element is unknown to the mapper or not found in the tree.
func (t *Tree) Remove(element interface{}) (bool, error) {
	id, err := t.mapper.TreeIdentifier(element)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	env, err := t.mapper.Envelope(element)
	if err != nil {
		return false, err
	}
	if err := t.opts.CRS.Check(env); err != nil {
		return false, err
	}
	return t.removeEntry(id, env)
}

// RemoveAll removes every element and returns how many were found.
func (t *Tree) RemoveAll(elements ...interface{}) (int, error) {
	var removed int
	for i, el := range elements {
		ok, err := t.Remove(el)
		if err != nil {
			return removed, fmt.Errorf("element %d: %w", i, err)
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (t *Tree) removeEntry(id int64, env envelope.Envelope) (bool, error) {
	if t.root == store.NoNode {
		return false, nil
	}
	path, idx, err := t.findLeaf(t.root, id, env, nil)
	if err != nil || path == nil {
		return false, err
	}
	leaf := path[len(path)-1]
	if _, err := leaf.RemoveElement(idx); err != nil {
		return false, err
	}
	t.count--
	if err := t.condense(path); err != nil {
		return false, err
	}
	return true, t.saveMeta()
}

// findLeaf looks for the leaf entry of element id below node. Every subtree
// whose boundary intersects env is visited, since several may. It returns the
// path from the root to the leaf and the entry index, or a nil path.
func (t *Tree) findLeaf(node store.NodeID, id int64, env envelope.Envelope, path []*store.Node) ([]*store.Node, int, error) {
	n, err := t.store.Read(node)
	if err != nil {
		return nil, 0, err
	}
	path = append(path, n)
	if n.IsLeaf() {
		for i := 0; i < n.Len(); i++ {
			e := n.Entry(i)
			if e.ID == id && e.Envelope.Equal(env) {
				return path, i, nil
			}
		}
		return nil, 0, nil
	}
	for i := 0; i < n.Len(); i++ {
		e := n.Entry(i)
		if !envelope.Intersects(e.Envelope, env, false) {
			continue
		}
		found, idx, err := t.findLeaf(e.Child(), id, env, path[:len(path):len(path)])
		if err != nil || found != nil {
			return found, idx, err
		}
	}
	return nil, 0, nil
}

// orphan is an entry taken out of a dissolved node, with the level it must be
// put back at.
type orphan struct {
	entry store.Entry
	level int
}

// condense walks path upwards after an entry was removed from its leaf.
// Nodes left with fewer than MinEntries entries are freed and their entries
// staged; the others get their parent entry refreshed. The root is then
// shortened while it is an internal node with a single child, and the staged
// entries are put back, highest level first.
func (t *Tree) condense(path []*store.Node) error {
	var orphans []orphan
	for depth := len(path) - 1; depth > 0; depth-- {
		n, parent := path[depth], path[depth-1]
		idx := parent.FindChild(n.ID)
		if idx < 0 {
			return fmt.Errorf("%w: node %d is not a child of %d", ErrCorruptTree, n.ID, parent.ID)
		}
		if n.Len() < t.opts.MinEntries {
			level := t.levelOf(depth)
			for _, e := range n.Entries() {
				orphans = append(orphans, orphan{entry: e, level: level})
			}
			if _, err := parent.RemoveChild(idx); err != nil {
				return err
			}
			if err := t.store.Free(n.ID); err != nil {
				return err
			}
			t.log.Debug("node dissolved", "node", n.ID, "level", level, "entries", n.Len())
			continue
		}
		if err := t.store.Write(n); err != nil {
			return err
		}
		if err := parent.SetEntry(idx, entryFor(n)); err != nil {
			return err
		}
		if t.curve != nil {
			if err := parent.SetEntries(t.order(parent.Entries())); err != nil {
				return err
			}
		}
	}

	if err := t.shrinkRoot(path[0]); err != nil {
		return err
	}

	sort.SliceStable(orphans, func(i, j int) bool { return orphans[i].level > orphans[j].level })
	t.reinserted = make(map[int]bool)
	for _, o := range orphans {
		if err := t.restoreOrphan(o); err != nil {
			return err
		}
	}
	return nil
}

// shrinkRoot writes back the root after a removal, dropping it when empty and
// replacing it by its only child while it has one.
func (t *Tree) shrinkRoot(root *store.Node) error {
	if root.IsEmpty() {
		if err := t.store.Free(root.ID); err != nil {
			return err
		}
		t.root = store.NoNode
		t.height = 0
		t.log.Debug("tree emptied")
		return nil
	}
	for !root.IsLeaf() && root.Len() == 1 {
		child, err := t.store.Read(root.Entry(0).Child())
		if err != nil {
			return err
		}
		if err := t.store.Free(root.ID); err != nil {
			return err
		}
		t.log.Debug("root collapsed", "old", root.ID, "new", child.ID)
		child.Parent = store.NoNode
		root = child
		t.root = root.ID
		t.height--
	}
	return t.store.Write(root)
}

// restoreOrphan puts a staged entry back into the tree. A subtree whose level
// no longer exists, because the tree got shorter, is dissolved into its
// elements.
func (t *Tree) restoreOrphan(o orphan) error {
	if o.level == 0 || o.level < t.height {
		return t.insertEntry(o.entry, o.level)
	}
	var elements []store.Entry
	if err := t.collect(o.entry.Child(), true, &elements); err != nil {
		return err
	}
	for _, e := range elements {
		if err := t.insertEntry(e, 0); err != nil {
			return err
		}
	}
	return nil
}

// collect appends the leaf entries found below node, freeing the visited
// nodes when release is set.
func (t *Tree) collect(node store.NodeID, release bool, out *[]store.Entry) error {
	n, err := t.store.Read(node)
	if err != nil {
		return err
	}
	if n.IsLeaf() {
		*out = append(*out, n.Entries()...)
	} else {
		for _, e := range n.Entries() {
			if err := t.collect(e.Child(), release, out); err != nil {
				return err
			}
		}
	}
	if release {
		return t.store.Free(n.ID)
	}
	return nil
}
