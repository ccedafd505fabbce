package store

import (
	"fmt"

	"github.com/Geomatys/geotoolkit-sub067/envelope"
)

// NodeID addresses a node record. NoNode (0) stands for "no node" in parent,
// sibling and root links.
type NodeID uint32

// NoNode is the null node reference.
const NoNode NodeID = 0

// Entry is an entry under a node, leading either to a stored element (leaf)
// or to a child node (internal). For internal entries Envelope is the
// boundary of the child, duplicated here so a node can compute its own
// boundary without reading its children.
type Entry struct {
	Envelope envelope.Envelope
	// ID is the element identifier in a leaf, the child NodeID otherwise.
	ID int64
	// Key is the space-filling curve key of a leaf entry, or the largest key
	// found under a child. Zero when the tree does not order by key.
	Key uint64
}

// Child returns the node referenced by an internal entry.
func (e Entry) Child() NodeID {
	return NodeID(e.ID)
}

// Node is a page of the tree: either a leaf holding element entries or an
// internal node holding child entries, never both. Its kind is fixed when it
// is allocated.
type Node struct {
	ID     NodeID
	Parent NodeID
	// Sibling chains free records together in persisted stores. It is NoNode
	// for every live node.
	Sibling NodeID

	leaf     bool
	capacity int
	entries  []Entry
	boundary *envelope.Envelope
}

// NewNode creates an empty node able to hold up to capacity entries.
func NewNode(id NodeID, leaf bool, capacity int) *Node {
	return &Node{
		ID:       id,
		leaf:     leaf,
		capacity: capacity,
		entries:  make([]Entry, 0, capacity),
	}
}

// IsLeaf reports whether the node stores elements rather than children.
func (n *Node) IsLeaf() bool { return n.leaf }

// IsEmpty reports whether the node has no entries.
func (n *Node) IsEmpty() bool { return len(n.entries) == 0 }

// IsFull reports whether the node holds its maximum number of entries.
func (n *Node) IsFull() bool { return len(n.entries) >= n.capacity }

// Len returns the number of entries.
func (n *Node) Len() int { return len(n.entries) }

// Capacity returns the maximum number of entries.
func (n *Node) Capacity() int { return n.capacity }

// Entry returns the entry at index i.
func (n *Node) Entry(i int) Entry { return n.entries[i] }

// Entries returns a copy of the entries.
func (n *Node) Entries() []Entry {
	out := make([]Entry, len(n.entries))
	copy(out, n.entries)
	return out
}

// AddChild appends an entry pointing at a child node.
func (n *Node) AddChild(e Entry) error {
	if n.leaf {
		return fmt.Errorf("%w: adding child %d to leaf %d", ErrMixedContent, e.ID, n.ID)
	}
	return n.add(e)
}

// AddElement appends an element entry.
func (n *Node) AddElement(e Entry) error {
	if !n.leaf {
		return fmt.Errorf("%w: adding element %d to internal node %d", ErrMixedContent, e.ID, n.ID)
	}
	return n.add(e)
}

func (n *Node) add(e Entry) error {
	if n.IsFull() {
		return fmt.Errorf("%w: node %d holds %d entries", ErrNodeFull, n.ID, n.capacity)
	}
	n.entries = append(n.entries, e)
	n.boundary = nil
	return nil
}

// RemoveChild removes and returns the child entry at index i.
func (n *Node) RemoveChild(i int) (Entry, error) {
	if n.leaf {
		return Entry{}, fmt.Errorf("%w: removing child from leaf %d", ErrMixedContent, n.ID)
	}
	return n.remove(i)
}

// RemoveElement removes and returns the element entry at index i.
func (n *Node) RemoveElement(i int) (Entry, error) {
	if !n.leaf {
		return Entry{}, fmt.Errorf("%w: removing element from internal node %d", ErrMixedContent, n.ID)
	}
	return n.remove(i)
}

func (n *Node) remove(i int) (Entry, error) {
	if i < 0 || i >= len(n.entries) {
		return Entry{}, fmt.Errorf("%w: index %d, node %d has %d entries", ErrIndexOutOfRange, i, n.ID, len(n.entries))
	}
	e := n.entries[i]
	copy(n.entries[i:], n.entries[i+1:])
	n.entries[len(n.entries)-1] = Entry{}
	n.entries = n.entries[:len(n.entries)-1]
	n.boundary = nil
	return e, nil
}

// SetEntry replaces the entry at index i.
func (n *Node) SetEntry(i int, e Entry) error {
	if i < 0 || i >= len(n.entries) {
		return fmt.Errorf("%w: index %d, node %d has %d entries", ErrIndexOutOfRange, i, n.ID, len(n.entries))
	}
	n.entries[i] = e
	n.boundary = nil
	return nil
}

// SetEntries replaces every entry of the node.
func (n *Node) SetEntries(es []Entry) error {
	if len(es) > n.capacity {
		return fmt.Errorf("%w: %d entries for node %d of capacity %d", ErrNodeFull, len(es), n.ID, n.capacity)
	}
	n.entries = append(n.entries[:0], es...)
	n.boundary = nil
	return nil
}

// Clear removes every entry.
func (n *Node) Clear() {
	n.entries = n.entries[:0]
	n.boundary = nil
}

// Boundary returns the union of the entry envelopes, computing and caching it
// on first use after a mutation. It returns false for an empty node.
func (n *Node) Boundary() (envelope.Envelope, bool) {
	if len(n.entries) == 0 {
		return envelope.Envelope{}, false
	}
	if n.boundary == nil {
		b := n.entries[0].Envelope.Clone()
		for _, e := range n.entries[1:] {
			b = envelope.Union(b, e.Envelope)
		}
		n.boundary = &b
	}
	return n.boundary.Clone(), true
}

// MaxKey returns the largest entry key.
func (n *Node) MaxKey() uint64 {
	var k uint64
	for _, e := range n.entries {
		if e.Key > k {
			k = e.Key
		}
	}
	return k
}

// FindChild returns the index of the entry pointing at child, or -1.
func (n *Node) FindChild(child NodeID) int {
	if n.leaf {
		return -1
	}
	for i, e := range n.entries {
		if e.Child() == child {
			return i
		}
	}
	return -1
}

// FindElement returns the index of the first entry holding element id, or -1.
func (n *Node) FindElement(id int64) int {
	if !n.leaf {
		return -1
	}
	for i, e := range n.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	c := &Node{
		ID:       n.ID,
		Parent:   n.Parent,
		Sibling:  n.Sibling,
		leaf:     n.leaf,
		capacity: n.capacity,
		entries:  make([]Entry, len(n.entries), n.capacity),
	}
	for i, e := range n.entries {
		c.entries[i] = Entry{Envelope: e.Envelope.Clone(), ID: e.ID, Key: e.Key}
	}
	if n.boundary != nil {
		b := n.boundary.Clone()
		c.boundary = &b
	}
	return c
}

func (n *Node) String() string {
	kind := "internal"
	if n.leaf {
		kind = "leaf"
	}
	return fmt.Sprintf("%s node %d (parent %d, %d/%d entries)", kind, n.ID, n.Parent, len(n.entries), n.capacity)
}
