package rtree

import (
	"container/heap"
	"errors"
	"fmt"

	"github.com/Geomatys/geotoolkit-sub067/envelope"
	"github.com/Geomatys/geotoolkit-sub067/store"
)

// Stop is returned by a visitor to end a search early. It is not reported as
// an error by Visit.
var Stop = errors.New("stop")

// Iterator walks the elements matching a query, one at a time and in no
// particular order. It reads nodes lazily, so the tree must not be modified
// while an iterator is in use.
//
//	it := tree.Query(env)
//	for it.Next() {
//		id := it.ID()
//	}
//	if err := it.Err(); err != nil {
//		...
//	}
type Iterator struct {
	tree    *Tree
	query   envelope.Envelope
	within  bool
	stack   []frame
	current store.Entry
	err     error
	done    bool
}

type frame struct {
	node *store.Node
	next int
}

// Query returns an iterator over the elements whose envelope intersects env,
// boundaries included.
func (t *Tree) Query(env envelope.Envelope) *Iterator {
	return t.newIterator(env, false)
}

// QueryWithin returns an iterator over the elements whose envelope lies
// within env.
func (t *Tree) QueryWithin(env envelope.Envelope) *Iterator {
	return t.newIterator(env, true)
}

func (t *Tree) newIterator(env envelope.Envelope, within bool) *Iterator {
	it := &Iterator{tree: t, query: env.Clone(), within: within}
	if err := t.opts.CRS.Check(env); err != nil {
		it.err = err
		it.done = true
		return it
	}
	if t.root == store.NoNode {
		it.done = true
		return it
	}
	root, err := t.store.Read(t.root)
	if err != nil {
		it.err = err
		it.done = true
		return it
	}
	it.stack = append(it.stack, frame{node: root})
	return it
}

// Next advances to the next matching element. It returns false once the
// search is exhausted or failed; check Err to tell both apart.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]
		if top.next >= top.node.Len() {
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}
		e := top.node.Entry(top.next)
		top.next++
		if !envelope.Intersects(e.Envelope, it.query, false) {
			continue
		}
		if top.node.IsLeaf() {
			if it.within && !envelope.Contains(it.query, e.Envelope, false) {
				continue
			}
			it.current = e
			return true
		}
		child, err := it.tree.store.Read(e.Child())
		if err != nil {
			it.err = err
			it.done = true
			return false
		}
		it.stack = append(it.stack, frame{node: child})
	}
	it.done = true
	return false
}

// ID returns the identifier of the current element.
func (it *Iterator) ID() int64 { return it.current.ID }

// Envelope returns the envelope indexed for the current element.
func (it *Iterator) Envelope() envelope.Envelope { return it.current.Envelope.Clone() }

// Element resolves the current element through the mapper.
func (it *Iterator) Element() (interface{}, error) {
	return it.tree.mapper.ObjectFromTreeIdentifier(it.current.ID)
}

// Err returns the error that ended the iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Visit calls fn with the identifier and envelope of every element
// intersecting env. If fn returns Stop the search ends without error; any
// other error ends it and is returned.
func (t *Tree) Visit(env envelope.Envelope, fn func(id int64, env envelope.Envelope) error) error {
	it := t.Query(env)
	for it.Next() {
		if err := fn(it.ID(), it.current.Envelope); err != nil {
			if err == Stop {
				return nil
			}
			return err
		}
	}
	return it.Err()
}

// SearchID returns the identifiers of the elements intersecting env. An
// empty tree or a query outside the tree yields an empty result.
func (t *Tree) SearchID(env envelope.Envelope) ([]int64, error) {
	return drainIDs(t.Query(env))
}

// Within returns the identifiers of the elements lying within env.
func (t *Tree) Within(env envelope.Envelope) ([]int64, error) {
	return drainIDs(t.QueryWithin(env))
}

func drainIDs(it *Iterator) ([]int64, error) {
	ids := []int64{}
	for it.Next() {
		ids = append(ids, it.ID())
	}
	return ids, it.Err()
}

// Search returns the elements intersecting env, resolved through the mapper.
func (t *Tree) Search(env envelope.Envelope) ([]interface{}, error) {
	it := t.Query(env)
	elements := []interface{}{}
	for it.Next() {
		el, err := it.Element()
		if err != nil {
			return nil, err
		}
		elements = append(elements, el)
	}
	return elements, it.Err()
}

// Nearest returns the identifiers of the k elements closest to point, by
// distance from the point to their envelope, nearest first. Equally distant
// elements are ordered by identifier.
func (t *Tree) Nearest(point []float64, k int) ([]int64, error) {
	p, err := envelope.Point(point...)
	if err != nil {
		return nil, err
	}
	if err := t.opts.CRS.Check(p); err != nil {
		return nil, err
	}
	if k < 0 {
		return nil, fmt.Errorf("%w: negative neighbour count %d", ErrInvalidOptions, k)
	}
	ids := []int64{}
	if k == 0 || t.root == store.NoNode {
		return ids, nil
	}

	q := &distanceQueue{}
	q.push(store.Entry{ID: int64(t.root)}, 0, false)
	for q.Len() > 0 && len(ids) < k {
		item := heap.Pop(q).(distanceItem)
		if item.element {
			ids = append(ids, item.entry.ID)
			continue
		}
		n, err := t.store.Read(item.entry.Child())
		if err != nil {
			return nil, err
		}
		for _, e := range n.Entries() {
			q.push(e, envelope.Distance(p, e.Envelope), n.IsLeaf())
		}
	}
	return ids, nil
}

type distanceItem struct {
	entry   store.Entry
	dist    float64
	element bool
}

// distanceQueue is a min-heap of entries by distance. At equal distance
// nodes come before elements so that no closer element is missed, and
// elements are ordered by identifier.
type distanceQueue []distanceItem

func (q distanceQueue) Len() int { return len(q) }

func (q distanceQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	if a.element != b.element {
		return !a.element
	}
	return a.entry.ID < b.entry.ID
}

func (q distanceQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *distanceQueue) Push(x interface{}) { *q = append(*q, x.(distanceItem)) }

func (q *distanceQueue) Pop() interface{} {
	old := *q
	item := old[len(old)-1]
	*q = old[:len(old)-1]
	return item
}

func (q *distanceQueue) push(e store.Entry, dist float64, element bool) {
	heap.Push(q, distanceItem{entry: e, dist: dist, element: element})
}
