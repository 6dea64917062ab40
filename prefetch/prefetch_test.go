package prefetch

import (
	"context"
	"testing"

	"github.com/annidx/vann"
	"github.com/annidx/vann/store/memstore"
)

func buildStoreWithPages(t *testing.T, n int) (*memstore.Store, []vann.PageID) {
	t.Helper()
	s := memstore.New()
	ids := make([]vann.PageID, n)
	for i := 0; i < n; i++ {
		wg, err := s.Extend(false, func(p *vann.Page) { p.Init(0) })
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := wg.Page().Alloc([]byte{byte(i)}); !ok {
			t.Fatal("alloc failed")
		}
		ids[i] = wg.(interface{ ID() vann.PageID }).ID()
		wg.Release()
	}
	return s, ids
}

func candidatesFor(ids []vann.PageID) []Candidate {
	cs := make([]Candidate, len(ids))
	for i, id := range ids {
		cs[i] = Candidate{Lowerbound: float32(i), Pages: []vann.PageID{id}}
	}
	return cs
}

func TestPlainPrefetcherDeliversInOrder(t *testing.T) {
	s, ids := buildStoreWithPages(t, 5)
	pf := NewPlain(s, NewSliceSequence(candidatesFor(ids)))
	for i := 0; i < 5; i++ {
		c, guards, ok := pf.Next()
		if !ok {
			t.Fatalf("Next() failed at %d", i)
		}
		if c.Lowerbound != float32(i) {
			t.Fatalf("got lowerbound %v, want %v", c.Lowerbound, i)
		}
		for _, g := range guards {
			g.Release()
		}
	}
	if _, _, ok := pf.Next(); ok {
		t.Fatal("expected exhaustion")
	}
}

func TestWindowedPrefetcherDeliversInOrder(t *testing.T) {
	s, ids := buildStoreWithPages(t, 50)
	pf := NewWindowed(s, NewSliceSequence(candidatesFor(ids)))
	for i := 0; i < 50; i++ {
		c, guards, ok := pf.Next()
		if !ok {
			t.Fatalf("Next() failed at %d", i)
		}
		if c.Lowerbound != float32(i) {
			t.Fatalf("got lowerbound %v, want %v", c.Lowerbound, i)
		}
		for _, g := range guards {
			g.Release()
		}
	}
}

func TestStreamPrefetcherDeliversAll(t *testing.T) {
	s, ids := buildStoreWithPages(t, 10)
	pf := NewStream(context.Background(), s, NewSliceSequence(candidatesFor(ids)))
	count := 0
	for {
		_, guards, ok := pf.Next()
		if !ok {
			break
		}
		for _, g := range guards {
			g.Release()
		}
		count++
	}
	if count != 10 {
		t.Fatalf("delivered %d candidates, want 10", count)
	}
}

func TestRerankerKeepsTopK(t *testing.T) {
	s, ids := buildStoreWithPages(t, 5)
	// distances intentionally not monotone with lowerbound order
	dists := []float32{5, 1, 4, 2, 3}
	cs := make([]Candidate, len(ids))
	for i, id := range ids {
		cs[i] = Candidate{Lowerbound: 0, Pages: []vann.PageID{id}}
	}
	pf := NewPlain(s, NewSliceSequence(cs))

	i := 0
	fetch := func(_ Candidate, guards []vann.ReadGuard) (uint64, float32, bool) {
		d := dists[i]
		p := uint64(i + 1)
		i++
		return p, d, true
	}
	r := NewReranker(2, fetch)
	results, err := r.Run(pf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Distance != 1 || results[1].Distance != 2 {
		t.Fatalf("unexpected results: %+v", results)
	}
}
