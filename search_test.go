package rtree

import (
	"errors"
	"math/rand"
	"reflect"
	"sort"
	"testing"

	"github.com/Geomatys/geotoolkit-sub067/envelope"
)

func populated(t *testing.T, variant Variant, n int, seed int64) (*Tree, []*item) {
	t.Helper()
	tr := newTree(t, DefaultOptions().WithVariant(variant).WithMaxEntries(5))
	rnd := rand.New(rand.NewSource(seed))
	items := make([]*item, n)
	for i := range items {
		items[i] = &item{env: randomBox(rnd, 0.9, 0.1)}
		if err := tr.Insert(items[i]); err != nil {
			t.Fatal(err)
		}
	}
	return tr, items
}

func TestIteratorMatchesSearch(t *testing.T) {
	for _, variant := range variants {
		t.Run(variant.String(), func(t *testing.T) {
			tr, items := populated(t, variant, 100, 1)
			query := box(t, 0.1, 0.1, 0.5, 0.5)

			it := tr.Query(query)
			got := []int64{}
			for it.Next() {
				if !envelope.Intersects(it.Envelope(), query, false) {
					t.Fatalf("iterator yielded %v outside %v", it.Envelope(), query)
				}
				el, err := it.Element()
				if err != nil {
					t.Fatal(err)
				}
				if !el.(*item).env.Equal(it.Envelope()) {
					t.Fatalf("element %d resolves to %v, indexed as %v", it.ID(), el.(*item).env, it.Envelope())
				}
				got = append(got, it.ID())
			}
			if err := it.Err(); err != nil {
				t.Fatal(err)
			}
			if it.Next() {
				t.Fatal("exhausted iterator advanced again")
			}
			sortIDs(got)
			if want := bruteForce(t, tr, items, query); !reflect.DeepEqual(got, want) {
				t.Fatalf("got %v want %v", got, want)
			}
		})
	}
}

func TestQueryRejectsBadEnvelope(t *testing.T) {
	tr, _ := populated(t, Quadratic, 10, 1)
	it := tr.Query(envelope.Envelope{Lower: []float64{0}, Upper: []float64{1}})
	if it.Next() {
		t.Fatal("Next() on an invalid query returned true")
	}
	if !errors.Is(it.Err(), envelope.ErrDimensionMismatch) {
		t.Fatalf("Err() = %v, want ErrDimensionMismatch", it.Err())
	}
	if _, err := tr.SearchID(envelope.Envelope{}); err == nil {
		t.Fatal("SearchID with an empty envelope succeeded")
	}
}

func TestSearchBoundaryContact(t *testing.T) {
	tr := newTree(t, DefaultOptions())
	a := &item{env: box(t, 0, 0, 1, 1)}
	b := &item{env: box(t, 2, 2, 3, 3)}
	if err := tr.InsertAll(a, b); err != nil {
		t.Fatal(err)
	}
	// Touching counts as intersecting.
	got := searchSorted(t, tr, box(t, 1, 1, 2, 2))
	if want := []int64{idOf(t, tr, a), idOf(t, tr, b)}; !reflect.DeepEqual(got, want) {
		t.Fatalf("touching query: got %v want %v", got, want)
	}
	// Degenerate point query on a corner.
	p, err := envelope.Point(3, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got := searchSorted(t, tr, p); !reflect.DeepEqual(got, []int64{idOf(t, tr, b)}) {
		t.Fatalf("point query: got %v", got)
	}
}

func TestSearchReturnsElements(t *testing.T) {
	tr, items := populated(t, RStar, 60, 4)
	query := box(t, 0.3, 0.3, 0.7, 0.7)
	got, err := tr.Search(query)
	if err != nil {
		t.Fatal(err)
	}
	want := 0
	for _, it := range items {
		if envelope.Intersects(it.env, query, false) {
			want++
		}
	}
	if len(got) != want {
		t.Fatalf("Search returned %d elements, want %d", len(got), want)
	}
	for _, el := range got {
		if !envelope.Intersects(el.(*item).env, query, false) {
			t.Fatalf("element %v outside the query", el.(*item).env)
		}
	}
}

func TestWithin(t *testing.T) {
	for _, variant := range variants {
		t.Run(variant.String(), func(t *testing.T) {
			tr, items := populated(t, variant, 120, 2)
			query := box(t, 0.2, 0.2, 0.6, 0.6)
			got, err := tr.Within(query)
			if err != nil {
				t.Fatal(err)
			}
			sortIDs(got)
			want := []int64{}
			for _, it := range items {
				if envelope.Contains(query, it.env, false) {
					want = append(want, idOf(t, tr, it))
				}
			}
			sortIDs(want)
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("got %v want %v", got, want)
			}
		})
	}
}

func TestVisitStop(t *testing.T) {
	tr, _ := populated(t, Quadratic, 50, 3)
	all := box(t, -1, -1, 2, 2)

	var seen int
	err := tr.Visit(all, func(id int64, env envelope.Envelope) error {
		seen++
		if seen == 5 {
			return Stop
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Visit stopped with %v", err)
	}
	if seen != 5 {
		t.Fatalf("visitor called %d times after Stop, want 5", seen)
	}

	boom := errors.New("boom")
	err = tr.Visit(all, func(int64, envelope.Envelope) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Visit() = %v, want the visitor error", err)
	}

	seen = 0
	if err := tr.Visit(all, func(int64, envelope.Envelope) error { seen++; return nil }); err != nil {
		t.Fatal(err)
	}
	if seen != 50 {
		t.Fatalf("visited %d elements, want 50", seen)
	}
}

func TestNearest(t *testing.T) {
	for _, variant := range variants {
		t.Run(variant.String(), func(t *testing.T) {
			tr, items := populated(t, variant, 150, 5)
			point := []float64{0.45, 0.55}
			p, err := envelope.Point(point...)
			if err != nil {
				t.Fatal(err)
			}

			type ranked struct {
				id   int64
				dist float64
			}
			all := make([]ranked, len(items))
			for i, it := range items {
				all[i] = ranked{idOf(t, tr, it), envelope.Distance(p, it.env)}
			}
			sort.Slice(all, func(i, j int) bool {
				if all[i].dist != all[j].dist {
					return all[i].dist < all[j].dist
				}
				return all[i].id < all[j].id
			})

			for _, k := range []int{0, 1, 7, 150, 500} {
				got, err := tr.Nearest(point, k)
				if err != nil {
					t.Fatal(err)
				}
				n := k
				if n > len(all) {
					n = len(all)
				}
				want := make([]int64, n)
				for i := range want {
					want[i] = all[i].id
				}
				if !reflect.DeepEqual(got, want) {
					t.Fatalf("Nearest(k=%d) = %v, want %v", k, got, want)
				}
			}
		})
	}
}

func TestNearestErrors(t *testing.T) {
	tr := newTree(t, DefaultOptions())
	got, err := tr.Nearest([]float64{0, 0}, 3)
	if err != nil || len(got) != 0 {
		t.Fatalf("Nearest on an empty tree = %v, %v", got, err)
	}
	if _, err := tr.Nearest([]float64{0, 0}, -1); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("negative k: got %v", err)
	}
	if _, err := tr.Nearest([]float64{0, 0, 0}, 1); !errors.Is(err, envelope.ErrDimensionMismatch) {
		t.Fatalf("3D point in a 2D tree: got %v", err)
	}
}
