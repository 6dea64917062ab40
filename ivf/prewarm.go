package ivf

import "github.com/annidx/vann"

// Prewarm touches every page in the top height levels of the tree (root
// inclusive), warming the substrate's page cache ahead of query traffic
// (§4.4 "Prewarm", §6.3 "prewarm height"). height 0 touches only the root's
// own H1 tape; height >= Meta.HeightOfRoot touches every interior level
// (never the leaf postings themselves, which Prewarm leaves cold).
func (ix *Index) Prewarm(height int, check vann.CheckFunc) error {
	if check == nil {
		check = vann.NoCheck
	}
	if height > ix.Meta.HeightOfRoot {
		height = ix.Meta.HeightOfRoot
	}
	ix.logger().Debug().Int("height", height).Msg("ivf: prewarm")
	return ix.prewarmLevel(ix.Meta.Root, 0, height, check)
}

func (ix *Index) prewarmLevel(page vann.PageID, level, maxLevel int, check vann.CheckFunc) error {
	if err := check(); err != nil {
		return err
	}
	tape := vann.NewTape(ix.Store, 0)
	var children []ChildEntry
	if err := tape.Scan(page, func(_ vann.ItemPtr, data []byte) bool {
		children = append(children, DecodeH1Tuple(data, ix.Meta.Dim)...)
		return true
	}); err != nil {
		return err
	}
	if level >= maxLevel {
		return nil
	}
	for _, c := range children {
		if err := check(); err != nil {
			return err
		}
		if level == ix.Meta.HeightOfRoot-1 {
			ix.Store.Prefetch(c.Child)
			continue
		}
		if err := ix.prewarmLevel(c.Child, level+1, maxLevel, check); err != nil {
			return err
		}
	}
	return nil
}
