package rtree

import (
	"fmt"
	"sort"

	"github.com/Geomatys/geotoolkit-sub067/store"
)

// Load bulk loads elements into the tree. Elements already in the tree are
// taken out and packed together with the new ones, so the result is the same
// as loading everything into an empty tree. Packing gives nodes with little
// overlap, each holding between MinEntries and MaxEntries entries: a Hilbert
// tree orders the elements along its curve, the other variants recursively
// halve them along the longest axis of their extent.
func (t *Tree) Load(elements ...interface{}) error {
	fresh := make([]store.Entry, 0, len(elements))
	for i, el := range elements {
		env, err := t.mapper.Envelope(el)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		if err := t.opts.CRS.Check(env); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		id, err := t.mapper.TreeIdentifier(el)
		if err != nil {
			if !isNotFound(err) {
				return fmt.Errorf("element %d: %w", i, err)
			}
			id = t.nextID
			if err := t.mapper.SetTreeIdentifier(el, id); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
			t.nextID++
		} else if id >= t.nextID {
			t.nextID = id + 1
		}
		e := store.Entry{Envelope: env.Clone(), ID: id}
		if t.curve != nil {
			e.Key = t.curve.key(env)
		}
		fresh = append(fresh, e)
	}

	items := make([]store.Entry, 0, t.count+len(fresh))
	if t.root != store.NoNode {
		if err := t.collect(t.root, true, &items); err != nil {
			return err
		}
		t.root = store.NoNode
		t.height = 0
	}
	items = append(items, fresh...)
	if len(items) == 0 {
		t.count = 0
		return t.saveMeta()
	}

	if t.curve != nil {
		sort.SliceStable(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	} else {
		t.medianOrder(items)
	}
	if err := t.pack(items); err != nil {
		return err
	}
	t.count = len(items)
	t.log.Debug("bulk loaded", "elements", t.count, "height", t.height)
	return t.saveMeta()
}

// medianOrder sorts items so that runs of up to MaxEntries consecutive
// entries are spatially close: the set is sorted along the longest axis of
// its extent and each half is ordered the same way.
func (t *Tree) medianOrder(items []store.Entry) {
	if len(items) <= t.opts.MaxEntries {
		return
	}
	axis := longestAxis(boundOf(items))
	sort.SliceStable(items, func(i, j int) bool {
		bi, bj := items[i].Envelope, items[j].Envelope
		return bi.Lower[axis]+bi.Upper[axis] < bj.Lower[axis]+bj.Upper[axis]
	})

	split := len(items) / 2
	t.medianOrder(items[:split])
	t.medianOrder(items[split:])
}

// pack builds the tree bottom up from ordered leaf entries. Each level is cut
// into the fewest runs of at most MaxEntries entries, of as even a size as
// possible, which keeps every run at MinEntries or more.
func (t *Tree) pack(items []store.Entry) error {
	var below []*store.Node
	leaf := true
	for {
		var nodes []*store.Node
		for _, run := range evenRuns(len(items), t.opts.MaxEntries) {
			n, err := t.store.Allocate(leaf)
			if err != nil {
				return err
			}
			if err := n.SetEntries(items[run[0]:run[1]]); err != nil {
				return err
			}
			if below != nil {
				for _, child := range below[run[0]:run[1]] {
					child.Parent = n.ID
				}
			}
			nodes = append(nodes, n)
		}
		for _, child := range below {
			if err := t.store.Write(child); err != nil {
				return err
			}
		}
		t.height++

		if len(nodes) == 1 {
			root := nodes[0]
			if err := t.store.Write(root); err != nil {
				return err
			}
			t.root = root.ID
			return nil
		}
		items = make([]store.Entry, len(nodes))
		for i, n := range nodes {
			items[i] = entryFor(n)
		}
		below = nodes
		leaf = false
	}
}

// evenRuns cuts n items into the fewest [start, end) runs of at most size
// items, the run lengths differing by at most one.
func evenRuns(n, size int) [][2]int {
	count := (n + size - 1) / size
	runs := make([][2]int, 0, count)
	base, extra := n/count, n%count
	start := 0
	for i := 0; i < count; i++ {
		end := start + base
		if i < extra {
			end++
		}
		runs = append(runs, [2]int{start, end})
		start = end
	}
	return runs
}

// Clear removes every element, frees every node and drops the mapper
// bindings.
func (t *Tree) Clear() error {
	if err := t.store.Reset(); err != nil {
		return err
	}
	t.mapper.Clear()
	t.root = store.NoNode
	t.height = 0
	t.count = 0
	t.nextID = 1
	t.log.Debug("tree cleared")
	return t.saveMeta()
}
