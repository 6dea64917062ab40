package ivf

import (
	"github.com/annidx/vann"
	"github.com/annidx/vann/rabitq"
)

// Insert adds one vector/payload pair to the index (§4.4 "Insert"). It
// rotates the vector, descends the tree via a greedy top-1 beam at each
// level (cheaper than Search's configurable beam since insert only needs a
// single placement, not a ranked candidate set), residualizes against the
// chosen leaf's centroid, and appends an Appendable posting.
func (ix *Index) Insert(v []float32, payload uint64) error {
	if len(v) != ix.Meta.Dim {
		return vann.NewError(vann.ErrDimensionMismatch, "ivf: insert vector dim mismatch")
	}
	rv := ix.Rotator.Rotate(v)

	page := ix.Meta.Root
	var cellCentroid []float32
	for level := 0; level < ix.Meta.HeightOfRoot; level++ {
		children, err := ix.readChildren(page)
		if err != nil {
			return err
		}
		if len(children) == 0 {
			return vann.NewError(vann.ErrDataCorruption, "ivf: empty cell during insert descent")
		}
		residQuery := rv
		if ix.Meta.IsResidual && cellCentroid != nil {
			residQuery = sub(rv, cellCentroid)
		}
		scored := ix.scoreChildren(children, residQuery)
		best := topNChildren(scored, 1)[0]
		page = best.child
		cellCentroid = best.centroid
	}

	vptr, err := ix.VectorsTape.Append(ix.Meta.VectorsFirst, EncodeVectorTuple(VectorTuple{Payload: payload, Vector: rv}), true, ix.Free)
	if err != nil {
		return err
	}

	codeVec := rv
	if ix.Meta.IsResidual && cellCentroid != nil {
		codeVec = sub(rv, cellCentroid)
	}
	code := rabitq.EncodeCode1(codeVec)

	jump, err := ix.readJump(page)
	if err != nil {
		return err
	}
	appendableTape := vann.NewTape(ix.Store, 0)
	if jump.AppendableFirst == vann.NullPageID {
		head, err := appendableTape.Create(page)
		if err != nil {
			return err
		}
		jump.AppendableFirst = head
		if err := ix.writeJump(page, jump); err != nil {
			return err
		}
	}
	_, err = appendableTape.Append(jump.AppendableFirst, EncodePostingEntries([]PostingEntry{{Code: code, Payload: payload, VectorPtr: vptr}}, ix.Meta.Dim), true, ix.Free)
	if err != nil {
		return err
	}

	ix.Meta.Tuples++
	ix.logger().Debug().Uint64("payload", payload).Uint64("tuples", ix.Meta.Tuples).Msg("ivf: insert")
	return vann.WriteMetaTuple(ix.Store, ix.Meta.EncodeMeta())
}

// writeJump overwrites the Jump tuple at page (§5 "Jump-tuple swaps ... are
// a single atomic write guarded by the Jump page's write lock").
func (ix *Index) writeJump(page vann.PageID, jump JumpTuple) error {
	wg, err := ix.Store.Write(page, false)
	if err != nil {
		return err
	}
	defer wg.Release()
	p := wg.Page()
	p.Clear()
	p.Init(0)
	if _, ok := p.Alloc(EncodeJumpTuple(jump)); !ok {
		return vann.NewError(vann.ErrDataCorruption, "ivf: jump tuple does not fit on rewrite")
	}
	return nil
}
