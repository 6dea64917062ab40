package ivf

import (
	"github.com/annidx/vann"
	"github.com/annidx/vann/rabitq"
)

// Maintain recompacts every leaf cell reachable from the tree: it scans each
// cell's frozen and appendable postings together, drops tombstoned entries
// (payload == 0), re-packs the survivors into full 32-entry frozen blocks
// plus a short appendable remainder, and swaps the cell's Jump tuple to
// point at the fresh tapes in one atomic write (§4.4 "Maintain", §5
// "Jump-tuple swaps ... are a single atomic write guarded by the Jump
// page's write lock"). The old frozen/appendable pages are returned to the
// FreeList.
func (ix *Index) Maintain(check vann.CheckFunc) error {
	if check == nil {
		check = vann.NoCheck
	}
	ix.logger().Info().Msg("ivf: maintain starting")
	err := ix.walkLeaves(ix.Meta.Root, 0, check, ix.maintainLeaf)
	if err != nil {
		ix.logger().Error().Err(err).Msg("ivf: maintain failed")
	} else {
		ix.logger().Info().Msg("ivf: maintain complete")
	}
	return err
}

// walkLeaves descends every cell reachable from page, invoking leafFn on
// each Jump-tuple page found at the leaf level.
func (ix *Index) walkLeaves(page vann.PageID, level int, check vann.CheckFunc, leafFn func(vann.PageID) error) error {
	if err := check(); err != nil {
		return err
	}
	children, err := ix.readChildren(page)
	if err != nil {
		return err
	}
	for _, c := range children {
		if level == ix.Meta.HeightOfRoot-1 {
			if err := leafFn(c.Child); err != nil {
				return err
			}
		} else if err := ix.walkLeaves(c.Child, level+1, check, leafFn); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Index) maintainLeaf(jumpPage vann.PageID) error {
	jump, err := ix.readJump(jumpPage)
	if err != nil {
		return err
	}

	var live []PostingEntry
	oldPages := []vann.PageID{}
	tape := vann.NewTape(ix.Store, 0)

	collect := func(first vann.PageID) error {
		return tape.Scan(first, func(ptr vann.ItemPtr, data []byte) bool {
			if !seenPage(oldPages, ptr.Page) {
				oldPages = append(oldPages, ptr.Page)
			}
			for _, e := range DecodePostingEntries(data, ix.Meta.Dim) {
				if e.Payload != 0 {
					live = append(live, e)
				}
			}
			return true
		})
	}
	if err := collect(jump.FrozenFirst); err != nil {
		return err
	}
	if err := collect(jump.AppendableFirst); err != nil {
		return err
	}

	frozenTape := vann.NewTape(ix.Store, 0)
	appendableTape := vann.NewTape(ix.Store, 0)
	newFrozen := vann.NullPageID
	newAppendable := vann.NullPageID

	full := 0
	for ; full+rabitq.BlockSize <= len(live); full += rabitq.BlockSize {
		if newFrozen == vann.NullPageID {
			h, err := frozenTape.Create(jumpPage)
			if err != nil {
				return err
			}
			newFrozen = h
		}
		if _, err := frozenTape.Append(newFrozen, EncodePostingEntries(live[full:full+rabitq.BlockSize], ix.Meta.Dim), false, nil); err != nil {
			return err
		}
	}
	if rem := live[full:]; len(rem) > 0 {
		h, err := appendableTape.Create(jumpPage)
		if err != nil {
			return err
		}
		newAppendable = h
		for _, e := range rem {
			if _, err := appendableTape.Append(newAppendable, EncodePostingEntries([]PostingEntry{e}, ix.Meta.Dim), true, ix.Free); err != nil {
				return err
			}
		}
	}

	if err := ix.writeJump(jumpPage, JumpTuple{FrozenFirst: newFrozen, AppendableFirst: newAppendable}); err != nil {
		return err
	}

	for _, p := range oldPages {
		if err := ix.Free.Push(p, vann.PageSize); err != nil {
			return err
		}
	}
	return nil
}

func seenPage(pages []vann.PageID, p vann.PageID) bool {
	for _, x := range pages {
		if x == p {
			return true
		}
	}
	return false
}
