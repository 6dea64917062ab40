package ivf

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/annidx/vann/kmeans"
	"github.com/annidx/vann/store/memstore"
	"github.com/annidx/vann/vector"
)

func randVectors(n, dim int, seed int64) [][]float32 {
	r := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		out[i] = v
	}
	return out
}

func TestBuildAndSearchRoundTrip(t *testing.T) {
	const n, dim = 400, 16
	vecs := randVectors(n, dim, 1)
	payloads := make([]uint64, n)
	for i := range payloads {
		payloads[i] = uint64(i + 1)
	}

	store := memstore.New()
	ix, err := Build(store, vecs, payloads, BuildOptions{
		Dim:           dim,
		Distance:      vector.L2,
		Lists:         []int{8, 8},
		KmeansAlgo:    kmeans.Flat,
		KmeansIters:   10,
		KmeansThreads: 1,
		KmeansSeed:    7,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(n), ix.Meta.Tuples)

	// §8 invariant 1 / scenario S1: querying with a vector already in the
	// index must return that vector's own payload first, at distance 0.
	// Probes equal to Lists makes every level's beam exhaustive, so the
	// leaf holding vecs[q] is always reached.
	for q := 0; q < 20; q++ {
		query := vecs[q]
		results, err := ix.Search(context.Background(), query, SearchOptions{
			K:      5,
			Probes: []int{8, 8},
		}, nil)
		require.NoErrorf(t, err, "query %d", q)
		require.NotEmptyf(t, results, "query %d: no results", q)
		require.Equalf(t, payloads[q], results[0].Payload, "query %d: first result payload (results: %+v)", q, results)
		require.LessOrEqualf(t, results[0].Distance, float32(1e-4), "query %d: own-vector distance, want ~0", q)
	}
}

func TestInsertAfterBuild(t *testing.T) {
	const n, dim = 200, 8
	vecs := randVectors(n, dim, 2)
	payloads := make([]uint64, n)
	for i := range payloads {
		payloads[i] = uint64(i + 1)
	}
	store := memstore.New()
	ix, err := Build(store, vecs, payloads, BuildOptions{
		Dim:           dim,
		Distance:      vector.L2,
		Lists:         []int{4, 4},
		KmeansAlgo:    kmeans.Flat,
		KmeansIters:   8,
		KmeansThreads: 1,
		KmeansSeed:    3,
	})
	require.NoError(t, err)

	newVec := randVectors(1, dim, 99)[0]
	require.NoError(t, ix.Insert(newVec, 99999))
	require.Equal(t, uint64(n+1), ix.Meta.Tuples)

	// §8 invariant 4: querying with the just-inserted vector must return
	// its own payload first, at distance 0.
	results, err := ix.Search(context.Background(), newVec, SearchOptions{K: 3, Probes: []int{4, 4}}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equalf(t, uint64(99999), results[0].Payload, "results: %+v", results)
	require.LessOrEqual(t, results[0].Distance, float32(1e-4))
}

func TestBulkDeleteThenMaintain(t *testing.T) {
	const n, dim = 150, 8
	vecs := randVectors(n, dim, 5)
	payloads := make([]uint64, n)
	for i := range payloads {
		payloads[i] = uint64(i + 1)
	}
	store := memstore.New()
	ix, err := Build(store, vecs, payloads, BuildOptions{
		Dim:           dim,
		Distance:      vector.L2,
		Lists:         []int{4, 4},
		KmeansAlgo:    kmeans.Flat,
		KmeansIters:   8,
		KmeansThreads: 1,
		KmeansSeed:    11,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	deleted := map[uint64]bool{1: true, 2: true, 3: true}
	if err := ix.BulkDelete(func(p uint64) bool { return deleted[p] }, nil); err != nil {
		t.Fatalf("BulkDelete: %v", err)
	}
	if err := ix.Maintain(nil); err != nil {
		t.Fatalf("Maintain: %v", err)
	}

	results, err := ix.Search(context.Background(), vecs[0], SearchOptions{K: n, Probes: []int{4, 4}}, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if deleted[r.Payload] {
			t.Fatalf("deleted payload %d still returned after maintain", r.Payload)
		}
	}
}

// TestRerankInTableMode checks §4.8's rerank_in_table knob actually
// changes Search's behavior: with Meta.RerankInTable set, the vectors tape
// is never consulted (leafCandidates hands back Pages-less Candidates), yet
// the own-vector-in query still surfaces its own payload near the top,
// since tableDistance reconstructs a real (if RaBitQ-quantized) distance
// rather than a fixed placeholder.
func TestRerankInTableMode(t *testing.T) {
	const n, dim = 300, 16
	vecs := randVectors(n, dim, 13)
	payloads := make([]uint64, n)
	for i := range payloads {
		payloads[i] = uint64(i + 1)
	}
	store := memstore.New()
	ix, err := Build(store, vecs, payloads, BuildOptions{
		Dim:           dim,
		Distance:      vector.L2,
		RerankInTable: true,
		Lists:         []int{8, 8},
		KmeansAlgo:    kmeans.Flat,
		KmeansIters:   10,
		KmeansThreads: 1,
		KmeansSeed:    17,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if ix.Meta.ModeOf() != RerankTable {
		t.Fatalf("ModeOf() = %v, want RerankTable", ix.Meta.ModeOf())
	}

	hits := 0
	for q := 0; q < 20; q++ {
		results, err := ix.Search(context.Background(), vecs[q], SearchOptions{K: 10, Probes: []int{8, 8}}, nil)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		for _, r := range results {
			if r.Payload == payloads[q] {
				hits++
				break
			}
		}
	}
	if hits < 18 {
		t.Fatalf("own vector found in top-10 under RerankTable only %d/20 times", hits)
	}
}
