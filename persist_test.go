package rtree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"math/rand"
	"reflect"
	"testing"

	"github.com/Geomatys/geotoolkit-sub067/envelope"
	"github.com/Geomatys/geotoolkit-sub067/store"
)

// queryBattery returns queries inside, outside, on the border of and around
// the unit square the test trees are filled in.
func queryBattery(t *testing.T) []envelope.Envelope {
	return []envelope.Envelope{
		box(t, 0.2, 0.2, 0.4, 0.4),
		box(t, 0.5, 0.1, 0.55, 0.9),
		box(t, 5, 5, 6, 6),
		box(t, -1, -1, 0, 0),
		box(t, 1, 0, 1, 1),
		box(t, -10, -10, 10, 10),
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	for _, variant := range variants {
		t.Run(variant.String(), func(t *testing.T) {
			tr, _ := populated(t, variant, 90, 8)
			var buf bytes.Buffer
			if err := NewTreeWriter(&buf).Write(tr); err != nil {
				t.Fatal(err)
			}

			got, err := NewTreeReader(&buf).Read(tr.Mapper(), Options{})
			if err != nil {
				t.Fatal(err)
			}
			checkInvariants(t, got)
			if got.Variant() != variant || got.MaxEntries() != 5 || got.MinEntries() != tr.MinEntries() {
				t.Fatalf("read tree is %v M=%d m=%d", got.Variant(), got.MaxEntries(), got.MinEntries())
			}
			if got.CRS().Identifier != tr.CRS().Identifier || !got.CRS().Domain.Equal(tr.CRS().Domain) {
				t.Fatalf("read CRS %v, want %v", got.CRS(), tr.CRS())
			}
			if got.Len() != tr.Len() || got.Height() != tr.Height() {
				t.Fatalf("read tree has %d elements and height %d, want %d and %d",
					got.Len(), got.Height(), tr.Len(), tr.Height())
			}
			for _, q := range queryBattery(t) {
				if a, b := searchSorted(t, tr, q), searchSorted(t, got, q); !reflect.DeepEqual(a, b) {
					t.Fatalf("query %v: original %v, read %v", q, a, b)
				}
			}
			if buf.Len() != 0 {
				t.Fatalf("%d bytes left unread", buf.Len())
			}

			// The read tree keeps working.
			extra := &item{env: box(t, 0.3, 0.3, 0.31, 0.31)}
			if err := got.Insert(extra); err != nil {
				t.Fatal(err)
			}
			if id := idOf(t, got, extra); id != 91 {
				t.Fatalf("next identifier %d, want 91", id)
			}
			checkInvariants(t, got)
		})
	}
}

func TestWriteReadEmptyTree(t *testing.T) {
	tr := newTree(t, DefaultOptions().WithCRS(envelope.Cartesian(3, envelope.Envelope{})))
	var buf bytes.Buffer
	if err := NewTreeWriter(&buf).Write(tr); err != nil {
		t.Fatal(err)
	}
	got, err := NewTreeReader(&buf).Read(NewMapper(nil), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 0 || got.Root() != store.NoNode || got.CRS().Dimension != 3 {
		t.Fatalf("read empty tree: %d elements, root %d, %d axes", got.Len(), got.Root(), got.CRS().Dimension)
	}
	if got.CRS().HasDomain() {
		t.Fatal("read CRS gained a domain")
	}
	checkInvariants(t, got)
}

func TestReadSeveralTrees(t *testing.T) {
	first, _ := populated(t, Quadratic, 30, 1)
	second, _ := populated(t, Hilbert, 45, 2)

	var buf bytes.Buffer
	w := NewTreeWriter(&buf)
	if err := w.Write(first); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(second); err != nil {
		t.Fatal(err)
	}

	r := NewTreeReader(&buf)
	a, err := r.Read(first.Mapper(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Read(second.Mapper(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if a.Len() != 30 || a.Variant() != Quadratic || b.Len() != 45 || b.Variant() != Hilbert {
		t.Fatalf("read %v/%d and %v/%d", a.Variant(), a.Len(), b.Variant(), b.Len())
	}
	if _, err := r.Read(NewMapper(nil), Options{}); err != io.EOF {
		t.Fatalf("read past the last tree: got %v, want io.EOF", err)
	}
}

func TestWriterReaderReset(t *testing.T) {
	tr, _ := populated(t, RStar, 25, 6)

	var one, two bytes.Buffer
	w := NewTreeWriter(&one)
	if err := w.Write(tr); err != nil {
		t.Fatal(err)
	}
	w.Reset(&two)
	if err := w.Write(tr); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(one.Bytes(), two.Bytes()) {
		t.Fatal("writing the same tree twice gave different streams")
	}

	r := NewTreeReader(&one)
	if _, err := r.Read(tr.Mapper(), Options{}); err != nil {
		t.Fatal(err)
	}
	r.Reset(&two)
	got, err := r.Read(tr.Mapper(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	checkInvariants(t, got)
	query := box(t, 0, 0, 1, 1)
	if a, b := searchSorted(t, tr, query), searchSorted(t, got, query); !reflect.DeepEqual(a, b) {
		t.Fatalf("original %v, read %v", a, b)
	}
}

func TestReadIntoFileStore(t *testing.T) {
	tr, _ := populated(t, Linear, 70, 10)
	var buf bytes.Buffer
	if err := NewTreeWriter(&buf).Write(tr); err != nil {
		t.Fatal(err)
	}

	s, err := store.OpenFile(t.TempDir()+"/read.gtk", store.FileOptions{Dimension: 2, Capacity: 5, CreateIfNew: true})
	if err != nil {
		t.Fatal(err)
	}
	got, err := NewTreeReader(&buf).Read(tr.Mapper(), Options{Store: s})
	if err != nil {
		t.Fatal(err)
	}
	defer got.Close()
	checkInvariants(t, got)
	for _, q := range queryBattery(t) {
		if a, b := searchSorted(t, tr, q), searchSorted(t, got, q); !reflect.DeepEqual(a, b) {
			t.Fatalf("query %v: original %v, read %v", q, a, b)
		}
	}
}

func TestReadRejectsBadStreams(t *testing.T) {
	tr, _ := populated(t, Quadratic, 20, 1)
	var buf bytes.Buffer
	if err := NewTreeWriter(&buf).Write(tr); err != nil {
		t.Fatal(err)
	}
	stream := buf.Bytes()

	corrupt := func(mutate func(b []byte) []byte) error {
		b := mutate(append([]byte(nil), stream...))
		_, err := NewTreeReader(bytes.NewReader(b)).Read(tr.Mapper(), Options{})
		return err
	}

	if err := corrupt(func(b []byte) []byte { b[0] = 'X'; return b }); !errors.Is(err, ErrBadStream) {
		t.Fatalf("bad magic: got %v", err)
	}
	if err := corrupt(func(b []byte) []byte { b[4] = 9; return b }); !errors.Is(err, ErrStreamVersion) {
		t.Fatalf("bad version: got %v", err)
	}
	if err := corrupt(func(b []byte) []byte { b[len(b)-10] ^= 0xff; return b }); !errors.Is(err, ErrStreamCorrupt) {
		t.Fatalf("flipped byte: got %v", err)
	}
	if err := corrupt(func(b []byte) []byte { return b[:len(b)/2] }); !errors.Is(err, ErrStreamCorrupt) {
		t.Fatalf("truncated stream: got %v", err)
	}
	if err := corrupt(func(b []byte) []byte { return b[:10] }); !errors.Is(err, ErrStreamCorrupt) {
		t.Fatalf("truncated header: got %v", err)
	}
}

func TestReadNeedsEmptyStore(t *testing.T) {
	tr, _ := populated(t, Quadratic, 20, 1)
	var buf bytes.Buffer
	if err := NewTreeWriter(&buf).Write(tr); err != nil {
		t.Fatal(err)
	}
	_, err := NewTreeReader(&buf).Read(tr.Mapper(), Options{Store: tr.Store()})
	if !errors.Is(err, ErrIncompatibleStore) {
		t.Fatalf("reading into a used store: got %v", err)
	}
}

func TestReadSmallRandomTrees(t *testing.T) {
	rnd := rand.New(rand.NewSource(12))
	for n := 0; n < 20; n++ {
		tr := newTree(t, DefaultOptions().WithMaxEntries(3))
		for i := 0; i < n; i++ {
			if err := tr.Insert(&item{env: randomBox(rnd, 0.9, 0.1)}); err != nil {
				t.Fatal(err)
			}
		}
		var buf bytes.Buffer
		if err := NewTreeWriter(&buf).Write(tr); err != nil {
			t.Fatal(err)
		}
		got, err := NewTreeReader(&buf).Read(tr.Mapper(), Options{})
		if err != nil {
			t.Fatal(err)
		}
		checkInvariants(t, got)
		if got.Len() != n {
			t.Fatalf("read %d elements, want %d", got.Len(), n)
		}
	}
}

func TestReadTreeKeepsChanging(t *testing.T) {
	for _, variant := range variants {
		t.Run(variant.String(), func(t *testing.T) {
			tr := newTree(t, DefaultOptions().WithVariant(variant).WithMaxEntries(4))
			rnd := rand.New(rand.NewSource(31))
			var items []*item
			for i := 0; i < 300; i++ {
				it := &item{env: randomBox(rnd, 0.9, 0.1)}
				items = append(items, it)
				if err := tr.Insert(it); err != nil {
					t.Fatal(err)
				}
			}
			// Splits and removals leave node ids out of breadth-first order.
			for _, it := range items[:60] {
				if _, err := tr.Remove(it); err != nil {
					t.Fatal(err)
				}
			}
			items = items[60:]
			if tr.Height() < 3 {
				t.Fatalf("height %d, want at least 3", tr.Height())
			}

			var buf bytes.Buffer
			if err := NewTreeWriter(&buf).Write(tr); err != nil {
				t.Fatal(err)
			}
			got, err := NewTreeReader(&buf).Read(tr.Mapper(), Options{})
			if err != nil {
				t.Fatal(err)
			}
			checkInvariants(t, got)
			if got.Height() != tr.Height() {
				t.Fatalf("read height %d, want %d", got.Height(), tr.Height())
			}

			for i := 0; i < 100; i++ {
				it := &item{env: randomBox(rnd, 0.9, 0.1)}
				items = append(items, it)
				if err := got.Insert(it); err != nil {
					t.Fatalf("insert %d: %v", i, err)
				}
				checkInvariants(t, got)
			}
			rnd.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
			for i, it := range items[:150] {
				ok, err := got.Remove(it)
				if err != nil || !ok {
					t.Fatalf("remove %d = %v, %v", i, ok, err)
				}
				checkInvariants(t, got)
			}
			items = items[150:]
			if got.Len() != len(items) {
				t.Fatalf("read tree has %d elements, want %d", got.Len(), len(items))
			}
			for _, q := range queryBattery(t) {
				if want, have := bruteForce(t, got, items, q), searchSorted(t, got, q); !reflect.DeepEqual(want, have) {
					t.Fatalf("query %v: got %v, want %v", q, have, want)
				}
			}
		})
	}
}

func TestFailedReadLeavesStoreEmpty(t *testing.T) {
	tr, _ := populated(t, Quadratic, 40, 3)
	var buf bytes.Buffer
	if err := NewTreeWriter(&buf).Write(tr); err != nil {
		t.Fatal(err)
	}
	stream := buf.Bytes()

	// Rename the second node so that the root points at a missing child,
	// then fix up the checksum.
	bad := append([]byte(nil), stream...)
	first := streamHeaderSize + len(tr.CRS().Identifier) + 1 + 16*2
	second := first + 4 + store.RecordSize(2, 5)
	binary.LittleEndian.PutUint32(bad[second:], 9999)
	binary.LittleEndian.PutUint32(bad[len(bad)-4:], crc32.ChecksumIEEE(bad[:len(bad)-4]))

	s, err := store.NewMemory(2, 5)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewTreeReader(bytes.NewReader(bad)).Read(tr.Mapper(), Options{Store: s}); !errors.Is(err, ErrStreamCorrupt) {
		t.Fatalf("stream with a dangling child: got %v", err)
	}
	if s.Count() != 0 || s.Meta().Root != store.NoNode {
		t.Fatalf("failed read left %d nodes and root %d", s.Count(), s.Meta().Root)
	}

	got, err := NewTreeReader(bytes.NewReader(stream)).Read(tr.Mapper(), Options{Store: s})
	if err != nil {
		t.Fatal(err)
	}
	checkInvariants(t, got)
	if got.Len() != tr.Len() {
		t.Fatalf("read %d elements, want %d", got.Len(), tr.Len())
	}
}
