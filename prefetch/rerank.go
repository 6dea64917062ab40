package prefetch

import (
	"container/heap"
	"sort"

	"github.com/annidx/vann"
)

// Result is one reranked, exact-distance result.
type Result struct {
	Distance float32
	Payload  uint64
}

// resultHeap is a bounded max-heap on Distance: the root is always the
// worst (largest-distance) of the currently-kept top-k, so a new candidate
// only needs to beat the root to earn a place (§4.6 "Reranker ... pushes
// the result into a second heap"). Grounded on the bounded top-k
// inverted-index scoring heap in LemonLoser-SearchEngine.
type resultHeap []Result

func (h resultHeap) Len() int            { return len(h) }
func (h resultHeap) Less(i, j int) bool  { return h[i].Distance > h[j].Distance }
func (h resultHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x any)         { *h = append(*h, x.(Result)) }
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// FetchVector loads the exact vector a candidate's guards point at and
// computes its distance to the query. Callers supply this since the vector
// tuple's decode (and which distance kind to use) is core-specific (ivf vs
// graph, L2 vs IP); cand is passed alongside the guards since a core may
// need more than just page contents to locate its tuple (e.g. ivf's Slot
// into a multi-tuple vectors-tape page).
type FetchVector func(cand Candidate, guards []vann.ReadGuard) (payload uint64, distance float32, ok bool)

// Reranker consumes a Prefetcher of lowerbound candidates and produces
// exact top-k results, short-circuiting via NextIf once no remaining
// lowerbound can beat the current k-th best (§4.6).
type Reranker struct {
	k      int
	fetch  FetchVector
	h      resultHeap
}

// NewReranker returns a Reranker that will keep at most k results.
func NewReranker(k int, fetch FetchVector) *Reranker {
	r := &Reranker{k: k, fetch: fetch}
	heap.Init(&r.h)
	return r
}

// worstKept returns the current k-th best distance, or +Inf if fewer than k
// results have been kept so far (nothing can be pruned yet).
func (r *Reranker) worstKept() float32 {
	if len(r.h) < r.k {
		return posInf
	}
	return r.h[0].Distance
}

const posInf = float32(1) << 30

// Run drains pf, applying the termination short-circuit, and returns the
// final results in increasing-distance order. check is polled between
// candidates for cooperative cancellation (§5).
func (r *Reranker) Run(pf Prefetcher, check vann.CheckFunc) ([]Result, error) {
	if check == nil {
		check = vann.NoCheck
	}
	for {
		if err := check(); err != nil {
			return nil, err
		}
		worst := r.worstKept()
		cand, guards, ok := pf.NextIf(func(c Candidate) bool {
			return c.Lowerbound < worst
		})
		if !ok {
			break
		}
		payload, dist, ok := r.fetch(cand, guards)
		for _, g := range guards {
			g.Release()
		}
		if !ok {
			continue
		}
		if len(r.h) < r.k {
			heap.Push(&r.h, Result{Distance: dist, Payload: payload})
		} else if dist < r.h[0].Distance {
			heap.Pop(&r.h)
			heap.Push(&r.h, Result{Distance: dist, Payload: payload})
		}
	}

	out := make([]Result, len(r.h))
	copy(out, r.h)
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}
