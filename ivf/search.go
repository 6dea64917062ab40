package ivf

import (
	"context"
	"sort"

	"github.com/annidx/vann"
	"github.com/annidx/vann/prefetch"
	"github.com/annidx/vann/rabitq"
	"github.com/annidx/vann/vector"
)

// SearchOptions configures one top-k search (§6.3 search-time knobs).
type SearchOptions struct {
	K       int
	Probes  []int   // beam width per level, root-first, len must equal Meta.HeightOfRoot
	Epsilon float32 // rerank-bound multiplier; 0 means the spec default 1.9
}

// beamEntry is one surviving candidate cell during descent: its own
// (possibly residualized) centroid, page id, and exact distance-to-query
// used to order the beam.
type beamEntry struct {
	centroid []float32
	page     vann.PageID
	dist     float32
}

// Search runs a top-k nearest-neighbor query (§4.4 "Search"). query is
// raw (unrotated) caller space; Search rotates it internally.
func (ix *Index) Search(ctx context.Context, query []float32, opts SearchOptions, check vann.CheckFunc) ([]prefetch.Result, error) {
	if check == nil {
		check = vann.NoCheck
	}
	if len(query) != ix.Meta.Dim {
		return nil, vann.NewError(vann.ErrDimensionMismatch, "ivf: query dim does not match index")
	}
	eps := opts.Epsilon
	if eps <= 0 {
		eps = 1.9
	}
	probes := opts.Probes
	if len(probes) < ix.Meta.HeightOfRoot {
		padded := make([]int, ix.Meta.HeightOfRoot)
		for i := range padded {
			if i < len(probes) {
				padded[i] = probes[i]
			} else {
				padded[i] = 1
			}
		}
		probes = padded
	}

	rq := ix.Rotator.Rotate(query)

	beam := []beamEntry{{centroid: nil, page: ix.Meta.Root, dist: 0}}
	for level := 0; level < ix.Meta.HeightOfRoot; level++ {
		if err := check(); err != nil {
			return nil, err
		}
		var next []beamEntry
		for _, cell := range beam {
			children, err := ix.readChildren(cell.page)
			if err != nil {
				return nil, err
			}
			residQuery := rq
			if ix.Meta.IsResidual && cell.centroid != nil {
				residQuery = sub(rq, cell.centroid)
			}
			scored := ix.scoreChildren(children, residQuery)
			top := topNChildren(scored, probes[level])
			for _, s := range top {
				next = append(next, beamEntry{centroid: s.centroid, page: s.child, dist: s.exact})
			}
		}
		beam = next
		if len(beam) == 0 {
			break
		}
	}

	seq := prefetch.NewSliceSequence(ix.leafCandidates(beam, rq, eps))
	pf := prefetch.NewPlain(ix.Store, seq)
	rr := prefetch.NewReranker(opts.K, ix.fetchExact(rq))
	return rr.Run(pf, check)
}

// scoredChild is one child cell after FastScan scoring against a residual
// query, paired with its decoded centroid (needed both to recurse and to
// compute the next level's residual).
type scoredChild struct {
	child    vann.PageID
	centroid []float32
	rough    float32
	err      float32
	exact    float32
}

// readChildren decodes every ChildEntry chained off an H1 tape head.
func (ix *Index) readChildren(head vann.PageID) ([]ChildEntry, error) {
	tape := vann.NewTape(ix.Store, 0)
	var entries []ChildEntry
	err := tape.Scan(head, func(_ vann.ItemPtr, data []byte) bool {
		entries = append(entries, DecodeH1Tuple(data, ix.Meta.Dim)...)
		return true
	})
	return entries, err
}

// scoreChildren FastScan-scores entries in blocks of 32 against residQuery,
// then computes an exact centroid distance for ranking (cheap relative to
// posting-level work since only cell centroids, not full postings, are
// involved at this stage).
func (ix *Index) scoreChildren(entries []ChildEntry, residQuery []float32) []scoredChild {
	lut := rabitq.BuildLUT(residQuery)
	out := make([]scoredChild, 0, len(entries))
	for start := 0; start < len(entries); start += rabitq.BlockSize {
		end := start + rabitq.BlockSize
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[start:end]
		block := BuildH1Block(ix.Meta.Dim, chunk)
		res := block.Accumulate(lut)
		for i, e := range chunk {
			// The on-disk H1 tuple only carries the quantized code, not the
			// raw centroid (those live on the separate centroids tape with
			// no back-pointer from here); reconstructApprox's binary
			// approximation stands in as "the centroid" for scoring and for
			// the next level's residual. (Posting-level rerank in fetchExact
			// does not use it; it reads the true vector.)
			approx := reconstructApprox(e.Code, ix.Meta.Dim)
			out = append(out, scoredChild{
				child:    e.Child,
				centroid: approx,
				rough:    res[i].Rough,
				err:      res[i].Err,
				exact:    vector.Distance(ix.Meta.Distance, vector.Vector(residQuery), vector.Vector(approx)),
			})
		}
	}
	return out
}

// topNChildren picks the n children with the smallest exact centroid
// distance.
func topNChildren(scored []scoredChild, n int) []scoredChild {
	if n > len(scored) || n <= 0 {
		n = len(scored)
	}
	// simple selection: sort ascending by exact distance, take top n.
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].exact < scored[j-1].exact; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
	return scored[:n]
}

// leafCandidates walks every surviving leaf cell's frozen+appendable
// postings and produces prefetch.Candidate entries ordered by lowerbound
// rough distance (Lowerbound is an IP-domain bound; for L2 the caller's
// FetchVector recomputes the exact metric so ordering only needs to be
// monotone enough to drive pruning, which rough-err already is).
func (ix *Index) leafCandidates(beam []beamEntry, rq []float32, eps float32) []prefetch.Candidate {
	var cands []prefetch.Candidate
	for _, cell := range beam {
		residQuery := rq
		if ix.Meta.IsResidual && cell.centroid != nil {
			residQuery = sub(rq, cell.centroid)
		}
		jumpRaw, err := ix.readJump(cell.page)
		if err != nil {
			continue
		}
		lut := rabitq.BuildLUT(residQuery)
		qNormSq := normSq(residQuery)
		mode := ix.Meta.ModeOf()

		tape := vann.NewTape(ix.Store, 0)
		_ = tape.Scan(jumpRaw.FrozenFirst, func(_ vann.ItemPtr, data []byte) bool {
			entries := DecodePostingEntries(data, ix.Meta.Dim)
			block := rabitq.BuildBlock(ix.Meta.Dim, codesOf(entries))
			res := block.Accumulate(lut)
			for i, e := range entries {
				lb := res[i].Rough - eps*res[i].Err
				cands = append(cands, ix.postingCandidate(mode, lb, res[i].Rough, qNormSq, e))
			}
			return true
		})
		_ = tape.Scan(jumpRaw.AppendableFirst, func(_ vann.ItemPtr, data []byte) bool {
			entries := DecodePostingEntries(data, ix.Meta.Dim)
			for _, e := range entries {
				rough, errb := e.Code.Lowerbound(residQuery, ix.Meta.Dim)
				lb := rough - eps*errb
				cands = append(cands, ix.postingCandidate(mode, lb, rough, qNormSq, e))
			}
			return true
		})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Lowerbound < cands[j].Lowerbound })
	return cands
}

// postingCandidate builds the prefetch.Candidate for one posting. Under
// RerankFull (the default) it points straight at the posting's VectorTuple
// on the vectors tape, so fetchExact can fetch the true vector. Under
// RerankTable (§4.8 "rerank_in_table") it instead reconstructs a distance
// directly from the code's own factors and the query's FastScan LUT score,
// carries that plus the payload already known from the posting, and leaves
// Pages empty so the Reranker never touches the vectors tape for it.
func (ix *Index) postingCandidate(mode RerankMode, lowerbound, rough, qNormSq float32, e PostingEntry) prefetch.Candidate {
	if mode == RerankTable {
		return prefetch.Candidate{
			Lowerbound: -lowerbound,
			Payload:    e.Payload,
			Distance:   tableDistance(ix.Meta.Distance, e.Code, rough, qNormSq),
		}
	}
	return prefetch.Candidate{Lowerbound: -lowerbound, Pages: []vann.PageID{e.VectorPtr.Page}, Slot: e.VectorPtr.Slot}
}

// tableDistance reconstructs an exact-enough distance from a RaBitQ code's
// own norm factor and a FastScan rough inner-product estimate, without
// ever reading the vectors tape: for L2, ‖x-q‖² = ‖x‖²+‖q‖²-2<x,q>, and
// ‖x‖² = c.DisU2 is already carried on the code; for IP the engine's
// distance is just the negated inner product (see vector.DistanceIP).
func tableDistance(kind vector.DistanceKind, c rabitq.Code1, rough, qNormSq float32) float32 {
	if kind == vector.IP {
		return -rough
	}
	return c.DisU2 + qNormSq - 2*rough
}

// normSq returns Σv_i².
func normSq(v []float32) float32 {
	var s float32
	for _, x := range v {
		s += x * x
	}
	return s
}

func (ix *Index) readJump(page vann.PageID) (JumpTuple, error) {
	rg, err := ix.Store.Read(page)
	if err != nil {
		return JumpTuple{}, err
	}
	defer rg.Release()
	data := rg.Page().Get(1)
	if data == nil {
		return JumpTuple{}, vann.NewError(vann.ErrDataCorruption, "ivf: missing jump tuple")
	}
	return DecodeJumpTuple(data), nil
}

func codesOf(entries []PostingEntry) []rabitq.Code1 {
	out := make([]rabitq.Code1, len(entries))
	for i, e := range entries {
		out[i] = e.Code
	}
	return out
}

// fetchExact returns a prefetch.FetchVector that decodes the true,
// full-precision VectorTuple a posting's VectorPtr names and computes its
// exact distance to the query (§4.4 "a two-heap rerank loop then fetches
// full vectors from the vectors-tape, computes exact distance"). rq is the
// rotated, non-residualized query: VectorTuple.Vector is always the full
// rotated vector regardless of Meta.IsResidual (see buildLeaf/Insert), so
// no re-residualization is needed here.
func (ix *Index) fetchExact(rq []float32) prefetch.FetchVector {
	return func(cand prefetch.Candidate, guards []vann.ReadGuard) (uint64, float32, bool) {
		if len(cand.Pages) == 0 {
			// RerankTable: the candidate already carries its reconstructed
			// distance and payload, no vectors-tape read needed.
			return cand.Payload, cand.Distance, true
		}
		if len(guards) == 0 {
			return 0, 0, false
		}
		data := guards[0].Page().Get(cand.Slot)
		if data == nil {
			return 0, 0, false
		}
		vt := DecodeVectorTuple(data, ix.Meta.Dim)
		d := vector.Distance(ix.Meta.Distance, vector.Vector(rq), vector.Vector(vt.Vector))
		return vt.Payload, d, true
	}
}

// reconstructApprox returns the RaBitQ binary-approximation reconstruction
// x̂ = (‖x‖/√d)·sign(x) of a code. Used only as a cheap stand-in centroid by
// scoreChildren above, to rank and residualize against interior cells whose
// raw centroid coordinates aren't reachable from an H1 tuple; the final
// posting-level rerank in fetchExact always uses the true vector from the
// vectors tape instead.
func reconstructApprox(c rabitq.Code1, dim int) []float32 {
	out := make([]float32, dim)
	scale := float32(0)
	if dim > 0 {
		scale = sqrt32(c.DisU2) / sqrt32(float32(dim))
	}
	for i := range out {
		if c.Signs[i/8]&(1<<uint(i%8)) != 0 {
			out[i] = scale
		} else {
			out[i] = -scale
		}
	}
	return out
}

func sqrt32(v float32) float32 {
	if v <= 0 {
		return 0
	}
	r := v
	for i := 0; i < 20; i++ {
		r = 0.5 * (r + v/r)
	}
	return r
}
