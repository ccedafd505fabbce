package store

import "container/list"

// DefaultCacheSize is the number of nodes a Cached store keeps by default.
const DefaultCacheSize = 256

// Cached fronts another Store with an LRU cache of decoded nodes. Writes go
// through to the backing store before the cache is updated.
type Cached struct {
	Store
	size    int
	list    *list.List
	entries map[NodeID]*list.Element

	hits, misses int
}

// NewCached wraps backing with a cache of up to size nodes. A non-positive
// size selects DefaultCacheSize.
func NewCached(backing Store, size int) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cached{
		Store:   backing,
		size:    size,
		list:    list.New(),
		entries: make(map[NodeID]*list.Element),
	}
}

// Backing returns the wrapped store.
func (c *Cached) Backing() Store { return c.Store }

// Stats returns the number of cache hits and misses since creation.
func (c *Cached) Stats() (hits, misses int) { return c.hits, c.misses }

// Len returns the number of cached nodes.
func (c *Cached) Len() int { return c.list.Len() }

func (c *Cached) put(n *Node) {
	if elem, ok := c.entries[n.ID]; ok {
		elem.Value = n.Clone()
		c.list.MoveToFront(elem)
		return
	}
	c.entries[n.ID] = c.list.PushFront(n.Clone())
	for c.list.Len() > c.size {
		back := c.list.Back()
		c.list.Remove(back)
		delete(c.entries, back.Value.(*Node).ID)
	}
}

func (c *Cached) evict(id NodeID) {
	if elem, ok := c.entries[id]; ok {
		c.list.Remove(elem)
		delete(c.entries, id)
	}
}

func (c *Cached) clear() {
	c.list.Init()
	c.entries = make(map[NodeID]*list.Element)
}

// Allocate implements Store.
func (c *Cached) Allocate(leaf bool) (*Node, error) {
	n, err := c.Store.Allocate(leaf)
	if err != nil {
		return nil, err
	}
	c.put(n)
	return n, nil
}

// Read implements Store.
func (c *Cached) Read(id NodeID) (*Node, error) {
	if elem, ok := c.entries[id]; ok {
		c.hits++
		c.list.MoveToFront(elem)
		return elem.Value.(*Node).Clone(), nil
	}
	c.misses++
	n, err := c.Store.Read(id)
	if err != nil {
		return nil, err
	}
	c.put(n)
	return n, nil
}

// Write implements Store.
func (c *Cached) Write(n *Node) error {
	if err := c.Store.Write(n); err != nil {
		c.evict(n.ID)
		return err
	}
	c.put(n)
	return nil
}

// Free implements Store.
func (c *Cached) Free(id NodeID) error {
	c.evict(id)
	return c.Store.Free(id)
}

// Reset implements Store.
func (c *Cached) Reset() error {
	c.clear()
	return c.Store.Reset()
}

// Close implements Store.
func (c *Cached) Close() error {
	c.clear()
	return c.Store.Close()
}
