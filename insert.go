package rtree

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Geomatys/geotoolkit-sub067/envelope"
	"github.com/Geomatys/geotoolkit-sub067/store"
)

// Insert adds element to the tree. Its envelope comes from the mapper and
// must be finite and match the CRS dimension. An element the mapper already
// knows keeps its identifier; otherwise the next identifier is bound to it.
func (t *Tree) Insert(element interface{}) error {
	env, err := t.mapper.Envelope(element)
	if err != nil {
		return err
	}
	if err := t.opts.CRS.Check(env); err != nil {
		return err
	}
	id, err := t.mapper.TreeIdentifier(element)
	if err != nil {
		if !isNotFound(err) {
			return err
		}
		id = t.nextID
		if err := t.mapper.SetTreeIdentifier(element, id); err != nil {
			return err
		}
		t.nextID++
	} else if id >= t.nextID {
		t.nextID = id + 1
	}

	e := store.Entry{Envelope: env.Clone(), ID: id}
	if t.curve != nil {
		e.Key = t.curve.key(env)
	}
	t.reinserted = make(map[int]bool)
	if err := t.insertEntry(e, 0); err != nil {
		return err
	}
	t.count++
	return t.saveMeta()
}

// InsertAll inserts every element, stopping at the first failure.
func (t *Tree) InsertAll(elements ...interface{}) error {
	for i, el := range elements {
		if err := t.Insert(el); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// insertEntry places e in a node at the given level, leaves being level 0.
// Internal entries have their child re-parented to the receiving node.
func (t *Tree) insertEntry(e store.Entry, level int) error {
	if t.root == store.NoNode {
		root, err := t.store.Allocate(true)
		if err != nil {
			return err
		}
		t.root = root.ID
		t.height = 1
		t.log.Debug("root created", "root", root.ID)
	}

	path, err := t.choosePath(e, level)
	if err != nil {
		return err
	}
	target := path[len(path)-1]
	if level > 0 {
		child, err := t.store.Read(e.Child())
		if err != nil {
			return err
		}
		child.Parent = target.ID
		if err := t.store.Write(child); err != nil {
			return err
		}
	}
	return t.place(path, len(path)-1, append(target.Entries(), e))
}

// choosePath descends from the root to the node at level that should receive
// e, returning the nodes visited.
func (t *Tree) choosePath(e store.Entry, level int) ([]*store.Node, error) {
	var path []*store.Node
	id := t.root
	for depth := 0; ; depth++ {
		n, err := t.store.Read(id)
		if err != nil {
			return nil, err
		}
		path = append(path, n)
		if t.levelOf(depth) == level {
			return path, nil
		}
		if n.IsLeaf() || n.IsEmpty() {
			return nil, fmt.Errorf("%w: reached %v above level %d", ErrCorruptTree, n, level)
		}
		id = t.chooseSubtree(n, e, t.levelOf(depth)-1)
	}
}

// chooseSubtree picks the child of n that should receive e. childLevel is the
// level of the children of n.
func (t *Tree) chooseSubtree(n *store.Node, e store.Entry, childLevel int) store.NodeID {
	entries := n.Entries()
	switch {
	case t.opts.Variant == Hilbert:
		// Entries are kept ordered by key: take the first whose largest key
		// covers e, or the last one.
		for _, c := range entries {
			if c.Key >= e.Key {
				return c.Child()
			}
		}
		return entries[len(entries)-1].Child()
	case t.opts.Variant == RStar && childLevel == 0:
		return entries[leastOverlapEnlargement(entries, e.Envelope)].Child()
	default:
		return entries[leastEnlargement(entries, e.Envelope)].Child()
	}
}

// leastEnlargement returns the index of the entry needing the least volume
// enlargement to include env, ties going to the smaller volume.
func leastEnlargement(entries []store.Entry, env envelope.Envelope) int {
	best := 0
	bestDelta := envelope.Enlargement(entries[0].Envelope, env)
	bestVolume := envelope.Volume(entries[0].Envelope)
	for i := 1; i < len(entries); i++ {
		delta := envelope.Enlargement(entries[i].Envelope, env)
		volume := envelope.Volume(entries[i].Envelope)
		if delta < bestDelta || (delta == bestDelta && volume < bestVolume) {
			best, bestDelta, bestVolume = i, delta, volume
		}
	}
	return best
}

// leastOverlapEnlargement returns the index of the entry whose overlap with
// its siblings grows least when enlarged to include env. Ties fall back to
// leastEnlargement's criteria.
func leastOverlapEnlargement(entries []store.Entry, env envelope.Envelope) int {
	best := -1
	var bestOverlap, bestDelta, bestVolume float64
	for i, c := range entries {
		grown := envelope.Union(c.Envelope, env)
		var overlap float64
		for j, o := range entries {
			if j == i {
				continue
			}
			overlap += envelope.OverlapValue(grown, o.Envelope) - envelope.OverlapValue(c.Envelope, o.Envelope)
		}
		delta := envelope.Volume(grown) - envelope.Volume(c.Envelope)
		volume := envelope.Volume(c.Envelope)
		if best < 0 ||
			overlap < bestOverlap ||
			(overlap == bestOverlap && delta < bestDelta) ||
			(overlap == bestOverlap && delta == bestDelta && volume < bestVolume) {
			best, bestOverlap, bestDelta, bestVolume = i, overlap, delta, volume
		}
	}
	return best
}

// place stores items in path[depth], handling overflow, and brings the
// ancestors' entries up to date.
func (t *Tree) place(path []*store.Node, depth int, items []store.Entry) error {
	n := path[depth]
	if len(items) <= t.opts.MaxEntries {
		if err := n.SetEntries(t.order(items)); err != nil {
			return err
		}
		if err := t.store.Write(n); err != nil {
			return err
		}
		return t.adjust(path, depth)
	}

	level := t.levelOf(depth)
	if t.opts.Variant == RStar && depth > 0 && !t.reinserted[level] {
		t.reinserted[level] = true
		return t.reinsert(path, depth, items)
	}
	return t.splitNode(path, depth, items)
}

// order sorts entries by key when the tree is key ordered.
func (t *Tree) order(items []store.Entry) []store.Entry {
	if t.curve != nil {
		sort.SliceStable(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	}
	return items
}

// adjust refreshes the entries describing path[depth] and its ancestors,
// stopping as soon as an entry is already up to date.
func (t *Tree) adjust(path []*store.Node, depth int) error {
	for i := depth; i > 0; i-- {
		child, parent := path[i], path[i-1]
		idx := parent.FindChild(child.ID)
		if idx < 0 {
			return fmt.Errorf("%w: node %d is not a child of %d", ErrCorruptTree, child.ID, parent.ID)
		}
		want := entryFor(child)
		old := parent.Entry(idx)
		if old.Key == want.Key && old.Envelope.Equal(want.Envelope) {
			return nil
		}
		if err := parent.SetEntry(idx, want); err != nil {
			return err
		}
		if t.curve != nil {
			if err := parent.SetEntries(t.order(parent.Entries())); err != nil {
				return err
			}
		}
		if err := t.store.Write(parent); err != nil {
			return err
		}
	}
	return nil
}

// splitNode divides the M+1 items of path[depth] between that node and a new
// sibling, then hands the sibling's entry to the parent, growing a new root
// when the root itself splits.
func (t *Tree) splitNode(path []*store.Node, depth int, items []store.Entry) error {
	n := path[depth]
	a, b := t.split.split(items, t.opts.MinEntries)

	sibling, err := t.store.Allocate(n.IsLeaf())
	if err != nil {
		return err
	}
	var root *store.Node
	if depth == 0 {
		if root, err = t.store.Allocate(false); err != nil {
			return err
		}
		n.Parent = root.ID
	}
	sibling.Parent = n.Parent

	if err := n.SetEntries(t.order(a)); err != nil {
		return err
	}
	if err := sibling.SetEntries(t.order(b)); err != nil {
		return err
	}
	if err := t.store.Write(n); err != nil {
		return err
	}
	if err := t.store.Write(sibling); err != nil {
		return err
	}
	if !sibling.IsLeaf() {
		if err := t.reparent(sibling); err != nil {
			return err
		}
	}
	t.log.Debug("node split", "node", n.ID, "sibling", sibling.ID,
		"level", t.levelOf(depth), "sizes", fmt.Sprintf("%d/%d", len(a), len(b)))

	if root != nil {
		if err := root.SetEntries(t.order([]store.Entry{entryFor(n), entryFor(sibling)})); err != nil {
			return err
		}
		if err := t.store.Write(root); err != nil {
			return err
		}
		t.root = root.ID
		t.height++
		t.log.Debug("root grown", "root", root.ID, "height", t.height)
		return nil
	}

	parent := path[depth-1]
	idx := parent.FindChild(n.ID)
	if idx < 0 {
		return fmt.Errorf("%w: node %d is not a child of %d", ErrCorruptTree, n.ID, parent.ID)
	}
	pitems := parent.Entries()
	pitems[idx] = entryFor(n)
	pitems = append(pitems, entryFor(sibling))
	return t.place(path[:depth], depth-1, pitems)
}

// reparent points the children of n back at n.
func (t *Tree) reparent(n *store.Node) error {
	for _, e := range n.Entries() {
		child, err := t.store.Read(e.Child())
		if err != nil {
			return err
		}
		if child.Parent == n.ID {
			continue
		}
		child.Parent = n.ID
		if err := t.store.Write(child); err != nil {
			return err
		}
	}
	return nil
}

// reinsert is the R*-tree overflow treatment: the entries farthest from the
// centre of the node are taken out and inserted again from the root, closest
// first.
func (t *Tree) reinsert(path []*store.Node, depth int, items []store.Entry) error {
	n := path[depth]
	bounds := boundOf(items)
	dist := make([]float64, len(items))
	for i, e := range items {
		dist[i] = envelope.CenterDistance(bounds, e.Envelope)
	}
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return dist[idx[i]] > dist[idx[j]] })

	p := t.opts.reinsertCount()
	removed := make([]store.Entry, 0, p)
	keep := make([]store.Entry, 0, len(items)-p)
	for rank, i := range idx {
		if rank < p {
			removed = append(removed, items[i])
		} else {
			keep = append(keep, items[i])
		}
	}

	if err := n.SetEntries(t.order(keep)); err != nil {
		return err
	}
	if err := t.store.Write(n); err != nil {
		return err
	}
	if err := t.adjust(path, depth); err != nil {
		return err
	}

	level := t.levelOf(depth)
	t.log.Debug("forced reinsert", "node", n.ID, "level", level, "entries", len(removed))
	for i := len(removed) - 1; i >= 0; i-- {
		if err := t.insertEntry(removed[i], level); err != nil {
			return err
		}
	}
	return nil
}

// isNotFound reports whether err is a mapper lookup miss.
func isNotFound(err error) bool {
	return errors.Is(err, ErrUnknownElement) || errors.Is(err, ErrUnknownIdentifier)
}
