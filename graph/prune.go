package graph

import (
	"sort"

	"github.com/annidx/vann"
)

// pruneCandidate is one candidate neighbor under consideration by
// robustPrune: its page and its exact distance to the anchor (the new
// vertex being inserted, or the vertex being re-pruned during maintain).
type pruneCandidate struct {
	page vann.PageID
	dist float32
}

// robustPrune implements the α-ladder acceptance rule (§4.5 "Insert",
// §8 invariant/S4): candidates are visited in increasing distance order;
// v is accepted if, for every already-accepted w, α·d(v,w) > d(v,anchor)
// holds for some α in the configured ladder. Returns at most m accepted
// candidates, in acceptance order. distFn computes the exact distance
// between two non-anchor candidates (needed for the d(v,w) term), which the
// caller supplies since it requires a page read this package leaves
// unopinionated about (vertex code reconstruction vs. raw vector fetch).
func robustPrune(candidates []pruneCandidate, m int, alphas []float32, distFn func(a, b vann.PageID) float32) []pruneCandidate {
	sorted := append([]pruneCandidate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].dist < sorted[j].dist })

	var accepted []pruneCandidate
	for _, alpha := range alphas {
		if len(accepted) >= m {
			break
		}
		for _, cand := range sorted {
			if len(accepted) >= m {
				break
			}
			if containsPage(accepted, cand.page) {
				continue
			}
			ok := true
			for _, acc := range accepted {
				if alpha*distFn(cand.page, acc.page) <= cand.dist {
					ok = false
					break
				}
			}
			if ok {
				accepted = append(accepted, cand)
			}
		}
	}
	return accepted
}

func containsPage(cs []pruneCandidate, p vann.PageID) bool {
	for _, c := range cs {
		if c.page == p {
			return true
		}
	}
	return false
}
