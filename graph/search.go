package graph

import (
	"context"

	"github.com/annidx/vann"
	"github.com/annidx/vann/internal/fastmap"
	"github.com/annidx/vann/prefetch"
	"github.com/annidx/vann/vector"
)

// SearchOptions configures one top-k search (§6.3).
type SearchOptions struct {
	K         int
	EfSearch  int
	BeamSearch int
}

// greedySearch performs the shared DiskANN-style greedy walk from start
// until ef candidates are collected. Every neighbor it expands is scored by
// its exact distance, read from the neighbor's vector tuple; no RaBitQ code
// or block lowerbound is consulted. It
// returns up to ef visited candidates in increasing exact-distance order,
// using a fastmap-backed visited set keyed by page id (PageID's ~uint32
// underlying type satisfies fastmap.Map's key constraint directly).
func (ix *Index) greedySearch(rq []float32, ef, beam int, check vann.CheckFunc) ([]pruneCandidate, error) {
	if check == nil {
		check = vann.NoCheck
	}
	if ix.Meta.Start == vann.NullPageID {
		return nil, nil
	}

	visited := fastmap.Map[vann.PageID, struct{}]{}
	frontier := []pruneCandidate{}
	startDist, ok, err := ix.exactDistance(ix.Meta.Start, rq)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	frontier = append(frontier, pruneCandidate{page: ix.Meta.Start, dist: startDist})
	visited.Set(ix.Meta.Start, struct{}{})

	var results []pruneCandidate
	for len(frontier) > 0 {
		if err := check(); err != nil {
			return nil, err
		}
		best := popClosest(&frontier)
		results = append(results, best)
		if len(results) >= ef {
			break
		}

		v, err := ix.readVertex(best.page)
		if err != nil {
			continue
		}
		var next []pruneCandidate
		for _, nb := range v.Neighbors {
			if !nb.Valid {
				continue
			}
			if _, seen := visited.Get(nb.Neighbor); seen {
				continue
			}
			visited.Set(nb.Neighbor, struct{}{})
			d, ok, err := ix.exactDistance(nb.Neighbor, rq)
			if err != nil || !ok {
				continue // link broken: skip, don't abort (§7)
			}
			next = append(next, pruneCandidate{page: nb.Neighbor, dist: d})
		}
		keepN := beam
		if keepN <= 0 || keepN > len(next) {
			keepN = len(next)
		}
		sortPruneCandidates(next)
		for i := 0; i < keepN; i++ {
			frontier = append(frontier, next[i])
		}
	}
	sortPruneCandidates(results)
	return results, nil
}

func popClosest(frontier *[]pruneCandidate) pruneCandidate {
	f := *frontier
	best := 0
	for i := 1; i < len(f); i++ {
		if f[i].dist < f[best].dist {
			best = i
		}
	}
	c := f[best]
	f[best] = f[len(f)-1]
	*frontier = f[:len(f)-1]
	return c
}

func sortPruneCandidates(cs []pruneCandidate) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j].dist < cs[j-1].dist; j-- {
			cs[j], cs[j-1] = cs[j-1], cs[j]
		}
	}
}

// exactDistance reads the vertex at page and computes its exact distance to
// the (rotated) query, using the vector tuple stored alongside the vertex.
// Returns ok=false if the vertex is missing or tombstoned ("link broken",
// §7 — the caller treats this as a local skip).
func (ix *Index) exactDistance(page vann.PageID, rq []float32) (float32, bool, error) {
	v, err := ix.readVertex(page)
	if err != nil {
		return 0, false, nil
	}
	if v.Payload == 0 {
		return 0, false, nil
	}
	vecRaw, err := ix.readVectorTuple(v.VectorPtr)
	if err != nil {
		return 0, false, nil
	}
	d := vector.Distance(ix.Meta.Distance, vector.Vector(rq), vector.Vector(vecRaw.Vector))
	return d, true, nil
}

func (ix *Index) readVertex(page vann.PageID) (Vertex, error) {
	rg, err := ix.Store.Read(page)
	if err != nil {
		return Vertex{}, err
	}
	defer rg.Release()
	data := rg.Page().Get(1)
	if data == nil {
		return Vertex{}, vann.NewError(vann.ErrDataCorruption, "graph: missing vertex tuple")
	}
	return DecodeVertex(data, ix.Meta.Dim), nil
}

func (ix *Index) readVectorTuple(page vann.PageID) (VectorTuple, error) {
	rg, err := ix.Store.Read(page)
	if err != nil {
		return VectorTuple{}, err
	}
	defer rg.Release()
	data := rg.Page().Get(2)
	if data == nil {
		return VectorTuple{}, vann.NewError(vann.ErrDataCorruption, "graph: missing vector tuple")
	}
	return DecodeVectorTuple(data, ix.Meta.Dim), nil
}

// Search runs a top-k query: greedySearch supplies exact-distance candidates
// directly, and Search keeps the first k live ones in increasing distance
// order. There is no lowerbound stage (neither FastScan blocks nor
// per-vertex RaBitQ codes are scored), and the shared prefetch.Reranker is
// not used.
func (ix *Index) Search(ctx context.Context, query []float32, opts SearchOptions, check vann.CheckFunc) ([]prefetch.Result, error) {
	if len(query) != ix.Meta.Dim {
		return nil, vann.NewError(vann.ErrDimensionMismatch, "graph: query dim mismatch")
	}
	rq := ix.Rotator.Rotate(query)
	ef := opts.EfSearch
	if ef <= 0 {
		ef = opts.K * 4
	}
	visited, err := ix.greedySearch(rq, ef, opts.BeamSearch, check)
	if err != nil {
		return nil, err
	}
	sortPruneCandidates(visited)
	k := opts.K
	if k > len(visited) {
		k = len(visited)
	}
	out := make([]prefetch.Result, 0, k)
	for i := 0; i < len(visited) && len(out) < k; i++ {
		v, err := ix.readVertex(visited[i].page)
		if err != nil || v.Payload == 0 {
			continue
		}
		out = append(out, prefetch.Result{Distance: visited[i].dist, Payload: v.Payload})
	}
	return out, nil
}
