package ivf

import (
	"github.com/annidx/vann"
)

// BulkDelete tombstones every live posting whose payload pred accepts (§4.4
// "Bulkdelete"): it walks the tree to every leaf cell, rewrites frozen and
// appendable postings in place with matching payloads zeroed, and separately
// tombstones the corresponding vectors-tape entries. It does not compact —
// a subsequent Maintain reclaims the freed space.
func (ix *Index) BulkDelete(pred func(payload uint64) bool, check vann.CheckFunc) error {
	if check == nil {
		check = vann.NoCheck
	}
	ix.logger().Info().Msg("ivf: bulk delete starting")
	if err := ix.walkLeaves(ix.Meta.Root, 0, check, func(jumpPage vann.PageID) error {
		return ix.bulkDeleteLeaf(jumpPage, pred)
	}); err != nil {
		return err
	}
	err := ix.bulkDeleteVectors(pred, check)
	if err != nil {
		ix.logger().Error().Err(err).Msg("ivf: bulk delete failed")
	} else {
		ix.logger().Info().Msg("ivf: bulk delete complete")
	}
	return err
}

func (ix *Index) bulkDeleteLeaf(jumpPage vann.PageID, pred func(uint64) bool) error {
	jump, err := ix.readJump(jumpPage)
	if err != nil {
		return err
	}
	for _, head := range []vann.PageID{jump.FrozenFirst, jump.AppendableFirst} {
		if head == vann.NullPageID {
			continue
		}
		id := head
		for id != vann.NullPageID {
			wg, err := ix.Store.Write(id, false)
			if err != nil {
				return err
			}
			p := wg.Page()
			footer := readTapeFooterCompat(p)
			n := p.Len()
			for s := vann.Slot(1); int(s) <= n; s++ {
				data := p.Get(s)
				if data == nil {
					continue
				}
				entries := DecodePostingEntries(data, ix.Meta.Dim)
				changed := false
				for i := range entries {
					if entries[i].Payload != 0 && pred(entries[i].Payload) {
						entries[i].Payload = 0
						changed = true
					}
				}
				if changed {
					// Same entry count, so the re-encoded tuple has the same
					// length and overwrites the old bytes in place.
					copy(data, EncodePostingEntries(entries, ix.Meta.Dim))
				}
			}
			wg.Release()
			id = footer
		}
	}
	return nil
}

// readTapeFooterCompat reads just the Next pointer of a tape page's footer,
// used here since bulkdelete only needs to walk the chain, not the head's
// Skip pointer.
func readTapeFooterCompat(p *vann.Page) vann.PageID {
	return vann.ReadTapeFooter(p).Next
}

// bulkDeleteVectors tombstones vectors-tape entries whose payload pred
// accepts, by zeroing the payload field in place (the vector bytes are left
// untouched — only the first 8 bytes, the payload, are rewritten).
func (ix *Index) bulkDeleteVectors(pred func(uint64) bool, check vann.CheckFunc) error {
	id := ix.Meta.VectorsFirst
	for id != vann.NullPageID {
		if err := check(); err != nil {
			return err
		}
		wg, err := ix.Store.Write(id, true)
		if err != nil {
			return err
		}
		p := wg.Page()
		n := p.Len()
		for s := vann.Slot(1); int(s) <= n; s++ {
			data := p.Get(s)
			if data == nil || len(data) < 8 {
				continue
			}
			t := DecodeVectorTuple(data, ix.Meta.Dim)
			if t.Payload != 0 && pred(t.Payload) {
				copy(data, EncodeVectorTuple(VectorTuple{Payload: 0, Vector: t.Vector}))
			}
		}
		next := vann.ReadTapeFooter(p).Next
		wg.Release()
		id = next
	}
	return nil
}
