package store

import (
	"errors"
	"testing"

	"github.com/Geomatys/geotoolkit-sub067/envelope"
)

func box(t *testing.T, coords ...float64) envelope.Envelope {
	t.Helper()
	e, err := envelope.FromFlat(coords...)
	if err != nil {
		t.Fatalf("FromFlat(%v): %v", coords, err)
	}
	return e
}

func TestNodeKindIsEnforced(t *testing.T) {
	leaf := NewNode(1, true, 4)
	if err := leaf.AddChild(Entry{Envelope: box(t, 0, 0, 1, 1), ID: 2}); !errors.Is(err, ErrMixedContent) {
		t.Fatalf("expected ErrMixedContent adding a child to a leaf, got %v", err)
	}
	if _, err := leaf.RemoveChild(0); !errors.Is(err, ErrMixedContent) {
		t.Fatalf("expected ErrMixedContent removing a child from a leaf, got %v", err)
	}

	internal := NewNode(2, false, 4)
	if err := internal.AddElement(Entry{Envelope: box(t, 0, 0, 1, 1), ID: 7}); !errors.Is(err, ErrMixedContent) {
		t.Fatalf("expected ErrMixedContent adding an element to an internal node, got %v", err)
	}
	if _, err := internal.RemoveElement(0); !errors.Is(err, ErrMixedContent) {
		t.Fatalf("expected ErrMixedContent removing an element from an internal node, got %v", err)
	}
}

func TestNodeCapacity(t *testing.T) {
	n := NewNode(1, true, 2)
	for i := 0; i < 2; i++ {
		if err := n.AddElement(Entry{Envelope: box(t, 0, 0, 1, 1), ID: int64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if !n.IsFull() {
		t.Fatal("expected node to be full")
	}
	if err := n.AddElement(Entry{Envelope: box(t, 0, 0, 1, 1), ID: 3}); !errors.Is(err, ErrNodeFull) {
		t.Fatalf("expected ErrNodeFull, got %v", err)
	}
	if err := n.SetEntries(make([]Entry, 3)); !errors.Is(err, ErrNodeFull) {
		t.Fatalf("expected ErrNodeFull from SetEntries, got %v", err)
	}
}

func TestNodeRemoveKeepsEntriesDense(t *testing.T) {
	n := NewNode(1, true, 4)
	for i := 0; i < 4; i++ {
		f := float64(i)
		if err := n.AddElement(Entry{Envelope: box(t, f, f, f+1, f+1), ID: int64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	e, err := n.RemoveElement(1)
	if err != nil {
		t.Fatal(err)
	}
	if e.ID != 1 {
		t.Fatalf("removed entry %d, want 1", e.ID)
	}
	var got []int64
	for _, e := range n.Entries() {
		got = append(got, e.ID)
	}
	want := []int64{0, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
	if _, err := n.RemoveElement(3); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	if _, err := n.RemoveElement(-1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestNodeBoundary(t *testing.T) {
	n := NewNode(1, true, 4)
	if _, ok := n.Boundary(); ok {
		t.Fatal("empty node should have no boundary")
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(n.AddElement(Entry{Envelope: box(t, 0, 0, 1, 1), ID: 1}))
	must(n.AddElement(Entry{Envelope: box(t, 2, -1, 3, 0), ID: 2}))
	b, _ := n.Boundary()
	if want := box(t, 0, -1, 3, 1); !b.Equal(want) {
		t.Fatalf("boundary %v, want %v", b, want)
	}

	// The cached boundary must follow mutations.
	_, err := n.RemoveElement(1)
	must(err)
	b, _ = n.Boundary()
	if want := box(t, 0, 0, 1, 1); !b.Equal(want) {
		t.Fatalf("boundary after removal %v, want %v", b, want)
	}
	must(n.SetEntry(0, Entry{Envelope: box(t, 5, 5, 6, 6), ID: 1}))
	b, _ = n.Boundary()
	if want := box(t, 5, 5, 6, 6); !b.Equal(want) {
		t.Fatalf("boundary after SetEntry %v, want %v", b, want)
	}
	n.Clear()
	if _, ok := n.Boundary(); ok {
		t.Fatal("cleared node should have no boundary")
	}
}

func TestNodeCloneIsDeep(t *testing.T) {
	n := NewNode(1, false, 3)
	if err := n.AddChild(Entry{Envelope: box(t, 0, 0, 1, 1), ID: 9, Key: 4}); err != nil {
		t.Fatal(err)
	}
	c := n.Clone()
	c.entries[0].Envelope.Lower[0] = -10
	if n.Entry(0).Envelope.Lower[0] != 0 {
		t.Fatal("clone shares envelope storage with the original")
	}
	if c.FindChild(9) != 0 || c.FindElement(9) != -1 {
		t.Fatal("clone lost its child entry")
	}
	if c.MaxKey() != 4 {
		t.Fatalf("max key %d, want 4", c.MaxKey())
	}
}
