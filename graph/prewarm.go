package graph

import (
	"github.com/annidx/vann"
	"github.com/annidx/vann/internal/fastmap"
)

// Prewarm issues prefetch hints for every vertex within maxHops of Start
// (§4.6's prewarm idea applied to a graph: there is no level structure to
// walk, so "height" becomes a hop-count bound on the BFS frontier instead).
func (ix *Index) Prewarm(maxHops int, check vann.CheckFunc) error {
	if check == nil {
		check = vann.NoCheck
	}
	if ix.Meta.Start == vann.NullPageID {
		return nil
	}
	ix.logger().Debug().Int("maxHops", maxHops).Msg("graph: prewarm")

	visited := fastmap.Map[vann.PageID, struct{}]{}
	frontier := []vann.PageID{ix.Meta.Start}
	visited.Set(ix.Meta.Start, struct{}{})

	for hop := 0; hop <= maxHops && len(frontier) > 0; hop++ {
		if err := check(); err != nil {
			return err
		}
		var next []vann.PageID
		for _, page := range frontier {
			ix.Store.Prefetch(page)
			v, err := ix.readVertex(page)
			if err != nil {
				continue
			}
			for _, nb := range v.Neighbors {
				if !nb.Valid {
					continue
				}
				if _, seen := visited.Get(nb.Neighbor); seen {
					continue
				}
				visited.Set(nb.Neighbor, struct{}{})
				next = append(next, nb.Neighbor)
			}
		}
		frontier = next
	}
	return nil
}
