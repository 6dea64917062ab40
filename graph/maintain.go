package graph

import (
	"github.com/annidx/vann"
	"github.com/annidx/vann/internal/fastmap"
)

// Maintain recompacts the graph: it walks every vertex reachable from Start
// (live or tombstoned), re-prunes each live vertex's neighbor list so that
// any tombstoned neighbor is replaced by that neighbor's own neighbors
// ("stitching" across the hole per §4.5's discussion of tombstone handling),
// then frees every tombstoned vertex's page. If Start itself is tombstoned,
// the first live vertex discovered becomes the new Start.
func (ix *Index) Maintain(check vann.CheckFunc) error {
	if check == nil {
		check = vann.NoCheck
	}
	if ix.Meta.Start == vann.NullPageID {
		return nil
	}
	ix.logger().Info().Msg("graph: maintain starting")

	vertices, order, err := ix.collectReachable(check)
	if err != nil {
		return err
	}

	if v, ok := vertices[ix.Meta.Start]; !ok || v.Payload == 0 {
		for _, p := range order {
			if vertices[p].Payload != 0 {
				ix.Meta.Start = p
				break
			}
		}
	}

	for _, page := range order {
		if err := check(); err != nil {
			return err
		}
		v := vertices[page]
		if v.Payload == 0 {
			continue
		}
		stitched := ix.stitchNeighbors(v, vertices)
		if len(stitched) > ix.Meta.M {
			stitched = robustPrune(stitched, ix.Meta.M, ix.Meta.Alpha, ix.vertexDistance)
		}
		if err := ix.rewriteNeighbors(page, optionNeighborsOf(stitched)); err != nil {
			return err
		}
	}

	for _, page := range order {
		if vertices[page].Payload == 0 {
			if err := ix.Free.Push(page, vann.PageSize); err != nil {
				return err
			}
		}
	}

	err = vann.WriteMetaTuple(ix.Store, ix.Meta.EncodeMeta())
	if err != nil {
		ix.logger().Error().Err(err).Msg("graph: maintain failed")
	} else {
		ix.logger().Info().Int("vertices", len(order)).Msg("graph: maintain complete")
	}
	return err
}

// collectReachable BFS-walks the neighbor graph from Start, returning every
// visited vertex keyed by page id plus a stable visitation order (graphs
// have no separate page-chain index the way ivf's tree does, so reachability
// from Start is the only enumeration available).
func (ix *Index) collectReachable(check vann.CheckFunc) (map[vann.PageID]Vertex, []vann.PageID, error) {
	vertices := make(map[vann.PageID]Vertex)
	visited := fastmap.Map[vann.PageID, struct{}]{}
	queue := []vann.PageID{ix.Meta.Start}
	visited.Set(ix.Meta.Start, struct{}{})
	var order []vann.PageID

	for len(queue) > 0 {
		if err := check(); err != nil {
			return nil, nil, err
		}
		page := queue[0]
		queue = queue[1:]
		v, err := ix.readVertex(page)
		if err != nil {
			continue
		}
		vertices[page] = v
		order = append(order, page)
		for _, nb := range v.Neighbors {
			if !nb.Valid {
				continue
			}
			if _, seen := visited.Get(nb.Neighbor); seen {
				continue
			}
			visited.Set(nb.Neighbor, struct{}{})
			queue = append(queue, nb.Neighbor)
		}
	}
	return vertices, order, nil
}

// stitchNeighbors expands v's neighbor list, replacing any tombstoned
// neighbor with that neighbor's own (live) neighbors so the graph stays
// navigable after the tombstoned page is freed. Distances for stitched-in
// neighbors are recomputed against v directly. One level of stitching is
// applied; a neighbor-of-a-dead-neighbor that is itself dead is simply
// dropped rather than followed further.
func (ix *Index) stitchNeighbors(v Vertex, vertices map[vann.PageID]Vertex) []pruneCandidate {
	seen := map[vann.PageID]bool{}
	var out []pruneCandidate
	for _, nb := range v.Neighbors {
		if !nb.Valid {
			continue
		}
		target, ok := vertices[nb.Neighbor]
		if !ok {
			continue // link broken entirely: drop (§7)
		}
		if target.Payload != 0 {
			if !seen[nb.Neighbor] {
				seen[nb.Neighbor] = true
				out = append(out, pruneCandidate{page: nb.Neighbor, dist: nb.Distance})
			}
			continue
		}
		for _, inner := range target.Neighbors {
			if !inner.Valid || seen[inner.Neighbor] {
				continue
			}
			innerV, ok := vertices[inner.Neighbor]
			if !ok || innerV.Payload == 0 {
				continue
			}
			seen[inner.Neighbor] = true
			out = append(out, pruneCandidate{page: inner.Neighbor, dist: ix.vertexDistance(innerV.VectorPtr, v.VectorPtr)})
		}
	}
	return out
}

// rewriteNeighbors rewrites page's Vertex tuple in place with a new neighbor
// list, preserving its vector tuple (slot 2) and bumping Version.
func (ix *Index) rewriteNeighbors(page vann.PageID, neighbors []OptionNeighbour) error {
	wg, err := ix.Store.Write(page, false)
	if err != nil {
		return err
	}
	defer wg.Release()
	data := wg.Page().Get(1)
	vecData := wg.Page().Get(2)
	if data == nil || vecData == nil {
		return vann.NewError(vann.ErrDataCorruption, "graph: vertex page missing tuples during maintain")
	}
	cur := DecodeVertex(data, ix.Meta.Dim)
	cur.Neighbors = neighbors
	cur.Version++

	wg.Page().Clear()
	wg.Page().Init(0)
	if _, ok := wg.Page().Alloc(EncodeVertex(cur, ix.Meta.Dim)); !ok {
		return vann.NewError(vann.ErrDataCorruption, "graph: vertex tuple does not fit on maintain rewrite")
	}
	if _, ok := wg.Page().Alloc(vecData); !ok {
		return vann.NewError(vann.ErrDataCorruption, "graph: vector tuple does not fit on maintain rewrite")
	}
	return nil
}
