package graph

import (
	"github.com/annidx/vann"
	"github.com/annidx/vann/rabitq"
	"github.com/annidx/vann/vector"
)

// Insert adds one vector/payload pair to the graph (§4.5 "Insert"). The new
// vertex and its vector tuple share one fresh page (slot 1 / slot 2, see
// types.go). If the graph is empty the new vertex becomes Start with no
// neighbors. Otherwise it greedy-searches from Start for efConstruction
// candidates, robust-prunes them down to at most M out-edges, and then
// back-patches each accepted neighbor's own neighbor list with an edge to the
// new vertex, re-pruning that list if it would exceed M (§4.5, §9).
func (ix *Index) Insert(v []float32, payload uint64, efConstruction, beamConstruction int) error {
	if len(v) != ix.Meta.Dim {
		return vann.NewError(vann.ErrDimensionMismatch, "graph: insert vector dim mismatch")
	}
	rv := ix.Rotator.Rotate(v)
	code := rabitq.EncodeCode1(rv)

	if ix.Meta.Start == vann.NullPageID {
		page, err := ix.allocVertexPage(Vertex{Code: code, Neighbors: nil, Version: 1, Payload: payload, VectorPtr: 0}, VectorTuple{Vector: rv})
		if err != nil {
			return err
		}
		ix.Meta.Start = page
		ix.Meta.Tuples++
		ix.logger().Debug().Uint64("payload", payload).Msg("graph: insert (start vertex)")
		return vann.WriteMetaTuple(ix.Store, ix.Meta.EncodeMeta())
	}

	candidates, err := ix.greedySearch(rv, efConstruction, beamConstruction, vann.NoCheck)
	if err != nil {
		return err
	}
	neighbors := robustPrune(candidates, ix.Meta.M, ix.Meta.Alpha, ix.vertexDistance)

	newPage, err := ix.allocVertexPage(Vertex{
		Code:      code,
		Neighbors: optionNeighborsOf(neighbors),
		Version:   1,
		Payload:   payload,
		VectorPtr: 0,
	}, VectorTuple{Vector: rv})
	if err != nil {
		return err
	}

	for _, nb := range neighbors {
		if err := ix.addBackEdge(nb.page, newPage, nb.dist); err != nil {
			return err // link broken cases are swallowed inside addBackEdge; real errors propagate
		}
	}

	ix.Meta.Tuples++
	ix.logger().Debug().Uint64("payload", payload).Int("neighbors", len(neighbors)).Msg("graph: insert")
	return vann.WriteMetaTuple(ix.Store, ix.Meta.EncodeMeta())
}

// allocVertexPage extends the store with one fresh page holding v (slot 1)
// and vec (slot 2), setting v.VectorPtr to that page's own id before
// encoding (§4.5 "one vertex, one vector tuple, one page").
func (ix *Index) allocVertexPage(v Vertex, vec VectorTuple) (vann.PageID, error) {
	wg, err := ix.Store.Extend(false, func(p *vann.Page) { p.Init(0) })
	if err != nil {
		return vann.NullPageID, err
	}
	page := wg.(vann.IdentifiedGuard).ID()
	v.VectorPtr = page
	if _, ok := wg.Page().Alloc(EncodeVertex(v, ix.Meta.Dim)); !ok {
		wg.Release()
		return vann.NullPageID, vann.NewError(vann.ErrDataCorruption, "graph: vertex tuple does not fit")
	}
	if _, ok := wg.Page().Alloc(EncodeVectorTuple(vec)); !ok {
		wg.Release()
		return vann.NullPageID, vann.NewError(vann.ErrDataCorruption, "graph: vector tuple does not fit")
	}
	wg.Release()
	return page, nil
}

// vertexDistance computes the exact distance between two already-placed
// vertices' vectors, used by robustPrune's d(v,w) term (both when picking the
// new vertex's own neighbors and when re-pruning a neighbor's back-edge
// list).
func (ix *Index) vertexDistance(a, b vann.PageID) float32 {
	va, errA := ix.readVectorTuple(a)
	vb, errB := ix.readVectorTuple(b)
	if errA != nil || errB != nil {
		return posInfGraph
	}
	return vector.Distance(ix.Meta.Distance, vector.Vector(va.Vector), vector.Vector(vb.Vector))
}

const posInfGraph = float32(1) << 30

// addBackEdge adds an edge from the new vertex (newPage, at distance dist
// from u) into u's neighbor list, re-pruning down to M if that would grow the
// list past capacity (§4.5). It uses an optimistic read-prune-CAS cycle keyed
// on Vertex.Version (§5, §9): the Store's WriteGuard already excludes
// concurrent writers of the same page, so the version check here can never
// actually observe a conflict under this Store's locking model, but the
// field and the compare are kept so the on-disk protocol matches a host that
// relaxes page-level exclusion to something more permissive. A missing or
// tombstoned u ("link broken", §7) is silently skipped rather than treated
// as an error.
func (ix *Index) addBackEdge(u, newPage vann.PageID, dist float32) error {
	for {
		rg, err := ix.Store.Read(u)
		if err != nil {
			return nil
		}
		data := rg.Page().Get(1)
		if data == nil {
			rg.Release()
			return nil
		}
		vecData := rg.Page().Get(2)
		cur := DecodeVertex(data, ix.Meta.Dim)
		rg.Release()
		if cur.Payload == 0 {
			return nil
		}

		candidates := make([]pruneCandidate, 0, len(cur.Neighbors)+1)
		for _, nb := range cur.Neighbors {
			if nb.Valid {
				candidates = append(candidates, pruneCandidate{page: nb.Neighbor, dist: nb.Distance})
			}
		}
		candidates = append(candidates, pruneCandidate{page: newPage, dist: dist})

		var pruned []pruneCandidate
		if len(candidates) <= ix.Meta.M {
			pruned = candidates
		} else {
			pruned = robustPrune(candidates, ix.Meta.M, ix.Meta.Alpha, ix.vertexDistance)
		}

		wg, err := ix.Store.Write(u, false)
		if err != nil {
			return err
		}
		freshData := wg.Page().Get(1)
		if freshData == nil {
			wg.Release()
			return nil
		}
		fresh := DecodeVertex(freshData, ix.Meta.Dim)
		if fresh.Version != cur.Version {
			wg.Release()
			continue // lost the race: reread and retry with the new list
		}
		fresh.Neighbors = optionNeighborsOf(pruned)
		fresh.Version++

		wg.Page().Clear()
		wg.Page().Init(0)
		if _, ok := wg.Page().Alloc(EncodeVertex(fresh, ix.Meta.Dim)); !ok {
			wg.Release()
			return vann.NewError(vann.ErrDataCorruption, "graph: vertex tuple does not fit on rewrite")
		}
		if _, ok := wg.Page().Alloc(vecData); !ok {
			wg.Release()
			return vann.NewError(vann.ErrDataCorruption, "graph: vector tuple does not fit on rewrite")
		}
		wg.Release()
		return nil
	}
}

func optionNeighborsOf(cs []pruneCandidate) []OptionNeighbour {
	out := make([]OptionNeighbour, len(cs))
	for i, c := range cs {
		out[i] = OptionNeighbour{Valid: true, Neighbor: c.page, Distance: c.dist}
	}
	return out
}
