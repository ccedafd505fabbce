package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/Geomatys/geotoolkit-sub067/envelope"
)

type storeFactory struct {
	name string
	open func(t *testing.T) Store
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{"memory", func(t *testing.T) Store {
			s, err := NewMemory(2, 4)
			if err != nil {
				t.Fatal(err)
			}
			return s
		}},
		{"file", func(t *testing.T) Store {
			s, err := OpenFile(filepath.Join(t.TempDir(), "index.gtk"), FileOptions{
				Dimension:   2,
				Capacity:    4,
				CreateIfNew: true,
			})
			if err != nil {
				t.Fatal(err)
			}
			return s
		}},
		{"cached_memory", func(t *testing.T) Store {
			s, err := NewMemory(2, 4)
			if err != nil {
				t.Fatal(err)
			}
			return NewCached(s, 2)
		}},
		{"cached_file", func(t *testing.T) Store {
			s, err := OpenFile(filepath.Join(t.TempDir(), "index.gtk"), FileOptions{
				Dimension:   2,
				Capacity:    4,
				CreateIfNew: true,
			})
			if err != nil {
				t.Fatal(err)
			}
			return NewCached(s, 2)
		}},
	}
}

func TestStoreLifecycle(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.open(t)
			defer s.Close()

			if s.Dimension() != 2 || s.Capacity() != 4 {
				t.Fatalf("layout %dD/%d, want 2D/4", s.Dimension(), s.Capacity())
			}

			leaf, err := s.Allocate(true)
			if err != nil {
				t.Fatal(err)
			}
			internal, err := s.Allocate(false)
			if err != nil {
				t.Fatal(err)
			}
			if leaf.ID == NoNode || internal.ID == NoNode || leaf.ID == internal.ID {
				t.Fatalf("bad ids %d and %d", leaf.ID, internal.ID)
			}
			if s.Count() != 2 {
				t.Fatalf("count %d, want 2", s.Count())
			}

			// A freshly allocated node is readable and empty.
			got, err := s.Read(leaf.ID)
			if err != nil {
				t.Fatal(err)
			}
			if !got.IsLeaf() || !got.IsEmpty() {
				t.Fatalf("read back %v, want empty leaf", got)
			}

			if err := leaf.AddElement(Entry{Envelope: box(t, 0, 0, 1, 1), ID: 42, Key: 3}); err != nil {
				t.Fatal(err)
			}
			leaf.Parent = internal.ID
			if err := s.Write(leaf); err != nil {
				t.Fatal(err)
			}
			if err := internal.AddChild(Entry{Envelope: box(t, 0, 0, 1, 1), ID: int64(leaf.ID)}); err != nil {
				t.Fatal(err)
			}
			if err := s.Write(internal); err != nil {
				t.Fatal(err)
			}

			got, err = s.Read(leaf.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Len() != 1 || got.Entry(0).ID != 42 || got.Entry(0).Key != 3 || got.Parent != internal.ID {
				t.Fatalf("read back %v with entries %v", got, got.Entries())
			}
			b, ok := got.Boundary()
			if !ok || !b.Equal(box(t, 0, 0, 1, 1)) {
				t.Fatalf("boundary %v", b)
			}

			// Mutating a read node does not leak into the store.
			got.Clear()
			again, err := s.Read(leaf.ID)
			if err != nil {
				t.Fatal(err)
			}
			if again.Len() != 1 {
				t.Fatal("store returned a shared node")
			}

			if err := s.Free(leaf.ID); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Read(leaf.ID); !errors.Is(err, ErrNoSuchNode) {
				t.Fatalf("expected ErrNoSuchNode reading a freed node, got %v", err)
			}
			if err := s.Free(leaf.ID); !errors.Is(err, ErrAlreadyFree) {
				t.Fatalf("expected ErrAlreadyFree, got %v", err)
			}
			if err := s.Write(leaf); !errors.Is(err, ErrNoSuchNode) {
				t.Fatalf("expected ErrNoSuchNode writing a freed node, got %v", err)
			}
			if s.Count() != 1 {
				t.Fatalf("count %d, want 1", s.Count())
			}

			reused, err := s.Allocate(false)
			if err != nil {
				t.Fatal(err)
			}
			if reused.ID != leaf.ID {
				t.Fatalf("allocated %d, want freed id %d to be reused", reused.ID, leaf.ID)
			}
			if reused.IsLeaf() {
				t.Fatal("reused node kept its old kind")
			}
		})
	}
}

func TestStoreMetaAndReset(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.open(t)
			defer s.Close()

			n, err := s.Allocate(true)
			if err != nil {
				t.Fatal(err)
			}
			meta := Meta{
				Root:           n.ID,
				Elements:       12,
				NextIdentifier: 13,
				Variant:        2,
				MinEntries:     2,
				CRS:            "CRS:84",
				Domain:         box(t, -180, -90, 180, 90),
			}
			if err := s.SetMeta(meta); err != nil {
				t.Fatal(err)
			}
			meta.Domain.Lower[0] = 0
			got := s.Meta()
			if got.Root != n.ID || got.Elements != 12 || got.NextIdentifier != 13 || got.CRS != "CRS:84" {
				t.Fatalf("meta %+v", got)
			}
			if got.Domain.Lower[0] != -180 {
				t.Fatal("SetMeta kept a reference to the caller's domain")
			}

			if err := s.Reset(); err != nil {
				t.Fatal(err)
			}
			if s.Count() != 0 || s.Meta().Root != NoNode {
				t.Fatalf("reset left count=%d root=%d", s.Count(), s.Meta().Root)
			}
			if _, err := s.Read(n.ID); !errors.Is(err, ErrNoSuchNode) {
				t.Fatalf("expected ErrNoSuchNode after reset, got %v", err)
			}
			n, err = s.Allocate(true)
			if err != nil {
				t.Fatal(err)
			}
			if n.ID != 1 {
				t.Fatalf("first id after reset %d, want 1", n.ID)
			}
		})
	}
}

func TestStoreRejectsBadNodes(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.open(t)
			defer s.Close()

			n, err := s.Allocate(true)
			if err != nil {
				t.Fatal(err)
			}
			if err := n.AddElement(Entry{Envelope: box(t, 0, 0, 0, 1, 1, 1), ID: 1}); err != nil {
				t.Fatal(err)
			}
			err = s.Write(n)
			if !errors.Is(err, envelope.ErrDimensionMismatch) {
				t.Fatalf("expected ErrDimensionMismatch, got %v", err)
			}
			var serr *Error
			if !errors.As(err, &serr) || serr.Op != "write" || serr.Node != n.ID {
				t.Fatalf("expected *Error for write of node %d, got %#v", n.ID, err)
			}

			if _, err := s.Read(99); !errors.Is(err, ErrNoSuchNode) {
				t.Fatalf("expected ErrNoSuchNode, got %v", err)
			}
		})
	}
}

func TestStoreClosed(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.open(t)
			n, err := s.Allocate(true)
			if err != nil {
				t.Fatal(err)
			}
			if err := s.Close(); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Read(n.ID); !errors.Is(err, ErrClosed) {
				t.Fatalf("expected ErrClosed from Read, got %v", err)
			}
			if _, err := s.Allocate(true); !errors.Is(err, ErrClosed) {
				t.Fatalf("expected ErrClosed from Allocate, got %v", err)
			}
			if err := s.Close(); !errors.Is(err, ErrClosed) {
				t.Fatalf("expected ErrClosed from second Close, got %v", err)
			}
		})
	}
}

func TestNewMemoryLayout(t *testing.T) {
	tests := []struct {
		dim, capacity int
		ok            bool
	}{
		{2, 2, true},
		{3, 16, true},
		{MaxDimension, MaxCapacity, true},
		{1, 8, false},
		{MaxDimension + 1, 8, false},
		{2, 1, false},
		{2, MaxCapacity + 1, false},
	}
	for _, tt := range tests {
		_, err := NewMemory(tt.dim, tt.capacity)
		if tt.ok && err != nil {
			t.Errorf("NewMemory(%d, %d): unexpected error %v", tt.dim, tt.capacity, err)
		}
		if !tt.ok && !errors.Is(err, ErrLayout) {
			t.Errorf("NewMemory(%d, %d): expected ErrLayout, got %v", tt.dim, tt.capacity, err)
		}
	}
}
