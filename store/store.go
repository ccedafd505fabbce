// Package store provides the node abstraction of the spatial index and the
// node stores backing it: an in-memory arena, a file of fixed-size binary
// records, and an LRU cache that can front either.
//
// Every store hands out copies: a *Node obtained from Read is private to the
// caller and only becomes visible to later readers once passed to Write. This
// keeps the memory and file backings behaviourally identical.
package store

import (
	"errors"
	"fmt"

	"github.com/Geomatys/geotoolkit-sub067/envelope"
)

// Errors for store operations.
var (
	ErrMixedContent    = errors.New("store: leaf and child entries cannot be mixed")
	ErrNodeFull        = errors.New("store: node is full")
	ErrIndexOutOfRange = errors.New("store: entry index out of range")
	ErrNoSuchNode      = errors.New("store: no such node")
	ErrClosed          = errors.New("store: closed")
	ErrReadOnly        = errors.New("store: read-only")
	ErrCorruptRecord   = errors.New("store: corrupted record")
	ErrChecksum        = errors.New("store: checksum mismatch")
	ErrBadMagic        = errors.New("store: not an index file")
	ErrVersion         = errors.New("store: unsupported file version")
	ErrLayout          = errors.New("store: layout does not match")
	ErrAlreadyFree     = errors.New("store: node already free")
)

// Error describes a failed store operation on a node.
type Error struct {
	Op   string
	Node NodeID
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Node != NoNode {
		return fmt.Sprintf("store: %s node %d: %v", e.Op, e.Node, e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func opError(op string, id NodeID, err error) error {
	return &Error{Op: op, Node: id, Err: err}
}

// Meta is the tree-level state a store persists next to its nodes.
type Meta struct {
	Root           NodeID
	Elements       uint64
	NextIdentifier int64
	Variant        uint8
	MinEntries     int
	// HilbertOrder is the curve order the node keys were computed at, 0 when
	// the tree keeps no keys.
	HilbertOrder int
	CRS          string
	Domain       envelope.Envelope
}

// Clone returns a deep copy of m.
func (m Meta) Clone() Meta {
	m.Domain = m.Domain.Clone()
	return m
}

// Store allocates, reads, writes and frees node records.
type Store interface {
	// Allocate reserves a node id, reusing freed ids first, and returns an
	// empty node already written under that id.
	Allocate(leaf bool) (*Node, error)
	Read(id NodeID) (*Node, error)
	Write(n *Node) error
	// Free releases a node id for reuse.
	Free(id NodeID) error
	// Reset frees every node and clears the metadata.
	Reset() error

	Meta() Meta
	SetMeta(m Meta) error

	// Dimension is the number of axes of every stored envelope.
	Dimension() int
	// Capacity is the maximum number of entries per node.
	Capacity() int
	// Count returns the number of live nodes.
	Count() int

	Sync() error
	Close() error
}
