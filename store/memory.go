package store

import "fmt"

// Memory is a Store keeping node records in a map. Its zero value is not
// usable; create one with NewMemory.
type Memory struct {
	dim      int
	capacity int
	nodes    map[NodeID]*Node
	last     NodeID
	free     *FreeList
	meta     Meta
	closed   bool
}

// NewMemory creates an empty in-memory store for nodes of the given dimension
// and capacity.
func NewMemory(dim, capacity int) (*Memory, error) {
	if err := checkLayout(dim, capacity); err != nil {
		return nil, err
	}
	return &Memory{
		dim:      dim,
		capacity: capacity,
		nodes:    make(map[NodeID]*Node),
		free:     NewFreeList(),
	}, nil
}

func checkLayout(dim, capacity int) error {
	if dim < 2 || dim > MaxDimension {
		return fmt.Errorf("%w: dimension %d outside [2, %d]", ErrLayout, dim, MaxDimension)
	}
	if capacity < 2 || capacity > MaxCapacity {
		return fmt.Errorf("%w: capacity %d outside [2, %d]", ErrLayout, capacity, MaxCapacity)
	}
	return nil
}

// Allocate implements Store.
func (m *Memory) Allocate(leaf bool) (*Node, error) {
	if m.closed {
		return nil, opError("allocate", NoNode, ErrClosed)
	}
	id, ok := m.free.Pop()
	if !ok {
		m.last++
		id = m.last
	}
	n := NewNode(id, leaf, m.capacity)
	m.nodes[id] = n.Clone()
	return n, nil
}

// Read implements Store.
func (m *Memory) Read(id NodeID) (*Node, error) {
	if m.closed {
		return nil, opError("read", id, ErrClosed)
	}
	n, ok := m.nodes[id]
	if !ok {
		return nil, opError("read", id, ErrNoSuchNode)
	}
	return n.Clone(), nil
}

// Write implements Store.
func (m *Memory) Write(n *Node) error {
	if m.closed {
		return opError("write", n.ID, ErrClosed)
	}
	if _, ok := m.nodes[n.ID]; !ok {
		return opError("write", n.ID, ErrNoSuchNode)
	}
	if err := checkNode(n, m.dim, m.capacity); err != nil {
		return opError("write", n.ID, err)
	}
	m.nodes[n.ID] = n.Clone()
	return nil
}

// Free implements Store.
func (m *Memory) Free(id NodeID) error {
	if m.closed {
		return opError("free", id, ErrClosed)
	}
	if m.free.Contains(id) {
		return opError("free", id, ErrAlreadyFree)
	}
	if _, ok := m.nodes[id]; !ok {
		return opError("free", id, ErrNoSuchNode)
	}
	delete(m.nodes, id)
	m.free.Push(id)
	return nil
}

// Reset implements Store.
func (m *Memory) Reset() error {
	if m.closed {
		return opError("reset", NoNode, ErrClosed)
	}
	m.nodes = make(map[NodeID]*Node)
	m.last = 0
	m.free.Clear()
	m.meta = Meta{}
	return nil
}

// Meta implements Store.
func (m *Memory) Meta() Meta { return m.meta.Clone() }

// SetMeta implements Store.
func (m *Memory) SetMeta(meta Meta) error {
	if m.closed {
		return opError("set meta", NoNode, ErrClosed)
	}
	m.meta = meta.Clone()
	return nil
}

// Dimension implements Store.
func (m *Memory) Dimension() int { return m.dim }

// Capacity implements Store.
func (m *Memory) Capacity() int { return m.capacity }

// Count implements Store.
func (m *Memory) Count() int { return len(m.nodes) }

// Sync implements Store. Memory stores have nothing to flush.
func (m *Memory) Sync() error {
	if m.closed {
		return opError("sync", NoNode, ErrClosed)
	}
	return nil
}

// Close implements Store.
func (m *Memory) Close() error {
	if m.closed {
		return opError("close", NoNode, ErrClosed)
	}
	m.closed = true
	m.nodes = nil
	return nil
}
