package graph

import "github.com/annidx/vann"

// BulkDelete tombstones every reachable vertex whose payload matches pred, by
// zeroing its payload field in place (§4.5's maintain paragraph: "free dead
// Vertex tuples ... in a second pass" implies deletion itself is just the
// tombstone write; the neighbor-list stitching and page reclamation happen
// later in Maintain). Neighbor lists are left untouched here on purpose —
// Maintain is what re-prunes around the hole.
func (ix *Index) BulkDelete(pred func(payload uint64) bool, check vann.CheckFunc) error {
	if check == nil {
		check = vann.NoCheck
	}
	vertices, order, err := ix.collectReachable(check)
	if err != nil {
		return err
	}
	deleted := 0
	for _, page := range order {
		if err := check(); err != nil {
			return err
		}
		v := vertices[page]
		if v.Payload == 0 || !pred(v.Payload) {
			continue
		}
		if err := ix.tombstone(page); err != nil {
			return err
		}
		deleted++
	}
	ix.logger().Info().Int("deleted", deleted).Msg("graph: bulk delete complete")
	return nil
}

func (ix *Index) tombstone(page vann.PageID) error {
	wg, err := ix.Store.Write(page, false)
	if err != nil {
		return err
	}
	defer wg.Release()
	data := wg.Page().Get(1)
	vecData := wg.Page().Get(2)
	if data == nil || vecData == nil {
		return vann.NewError(vann.ErrDataCorruption, "graph: vertex page missing tuples during bulk delete")
	}
	v := DecodeVertex(data, ix.Meta.Dim)
	v.Payload = 0
	v.Version++

	wg.Page().Clear()
	wg.Page().Init(0)
	if _, ok := wg.Page().Alloc(EncodeVertex(v, ix.Meta.Dim)); !ok {
		return vann.NewError(vann.ErrDataCorruption, "graph: vertex tuple does not fit on tombstone rewrite")
	}
	if _, ok := wg.Page().Alloc(vecData); !ok {
		return vann.NewError(vann.ErrDataCorruption, "graph: vector tuple does not fit on tombstone rewrite")
	}
	return nil
}
