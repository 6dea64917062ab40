// Package kmeans implements the clustering pass IVF build uses to produce
// per-level centroids (§4.7). Two algorithms are selectable: flat Lloyd, and
// hierarchical (coarse k-means to √c cells, then per-cell Lloyd).
package kmeans

import (
	"math"
	"sync"

	"github.com/annidx/vann/feistel"
	"github.com/annidx/vann/rabitq"
)

// Algorithm selects the clustering strategy (§4.7).
type Algorithm int

const (
	Flat Algorithm = iota
	Hierarchical
)

// Config carries every build-time knob §4.7 names.
type Config struct {
	Algorithm  Algorithm
	Clusters   int  // target c
	Iterations int  // Lloyd iteration bound (kmeans_iterations)
	Spherical  bool // unit-norm projection after each update
	Seed       uint64
	Threads    int // 0 means 8 workers
}

// emptyClusterDelta is δ = 2⁻¹⁰, the perturbation magnitude used to repair
// an empty cluster by splitting the largest one (§4.7).
const emptyClusterDelta = 1.0 / 1024.0

// Result is the outcome of a clustering run.
type Result struct {
	Centroids  [][]float32
	Assignment []int // Assignment[i] is the cluster index of points[i]
}

// Run clusters points into cfg.Clusters centroids.
func Run(points [][]float32, cfg Config) Result {
	if cfg.Clusters <= 0 {
		return Result{}
	}
	if cfg.Algorithm == Hierarchical && cfg.Clusters >= 1024 {
		return runHierarchical(points, cfg)
	}
	return runFlat(points, cfg)
}

// initialCenters picks min(c, n) points by reservoir sample, ordered by a
// Feistel permutation so the sample is deterministic given cfg.Seed (§4.7,
// §4.8 "Feistel-based sample ordering").
func initialCenters(points [][]float32, c int, seed uint64) [][]float32 {
	n := len(points)
	if c > n {
		c = n
	}
	order := feistel.SampleOrder(seed, n)
	centers := make([][]float32, c)
	for i := 0; i < c; i++ {
		centers[i] = cloneVec(points[order(i)])
	}
	return centers
}

func cloneVec(v []float32) []float32 {
	cp := make([]float32, len(v))
	copy(cp, v)
	return cp
}

func runFlat(points [][]float32, cfg Config) Result {
	centers := initialCenters(points, cfg.Clusters, cfg.Seed)
	return lloyd(points, centers, cfg)
}

// runHierarchical performs coarse k-means to √c cells, then per-cell Lloyd,
// concatenating the resulting sub-centroids back into one flat result
// (§4.4 "hierarchical coarse-then-fine partitioning when the target c
// exceeds ~1024", §4.7).
func runHierarchical(points [][]float32, cfg Config) Result {
	coarseC := int(math.Sqrt(float64(cfg.Clusters)))
	if coarseC < 1 {
		coarseC = 1
	}
	coarse := lloyd(points, initialCenters(points, coarseC, cfg.Seed), Config{
		Iterations: cfg.Iterations, Spherical: cfg.Spherical, Seed: cfg.Seed, Threads: cfg.Threads,
	})

	buckets := make([][][]float32, coarseC)
	bucketIdx := make([][]int, coarseC)
	for i, a := range coarse.Assignment {
		buckets[a] = append(buckets[a], points[i])
		bucketIdx[a] = append(bucketIdx[a], i)
	}

	totalAssigned := 0
	for _, b := range buckets {
		totalAssigned += len(b)
	}
	remaining := cfg.Clusters
	centroids := make([][]float32, 0, cfg.Clusters)
	assignment := make([]int, len(points))

	for bi, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		share := cfg.Clusters * len(bucket) / max1(totalAssigned)
		if share < 1 {
			share = 1
		}
		if share > remaining && remaining > 0 {
			share = remaining
		}
		remaining -= share

		sub := lloyd(bucket, initialCenters(bucket, share, cfg.Seed+uint64(bi)+1), Config{
			Iterations: cfg.Iterations, Spherical: cfg.Spherical, Seed: cfg.Seed + uint64(bi) + 1, Threads: cfg.Threads,
		})
		base := len(centroids)
		centroids = append(centroids, sub.Centroids...)
		for j, origIdx := range bucketIdx[bi] {
			assignment[origIdx] = base + sub.Assignment[j]
		}
	}
	return Result{Centroids: centroids, Assignment: assignment}
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// lloyd runs bounded Lloyd iterations from the given initial centers,
// parallelizing the assignment pass over a worker pool scoped to this call
// (§5 "k-means thread pool is scoped to a single build call; torn down on
// exit"), with empty-cluster repair and optional spherical projection after
// each update (§4.7).
func lloyd(points [][]float32, centers [][]float32, cfg Config) Result {
	n := len(points)
	c := len(centers)
	if n == 0 || c == 0 {
		return Result{Centroids: centers, Assignment: make([]int, n)}
	}
	assignment := make([]int, n)
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 25
	}

	for iter := 0; iter < iterations; iter++ {
		newAssignment := assignPoints(points, centers, cfg)
		sums := make([][]float32, c)
		counts := make([]int, c)
		for i := range sums {
			sums[i] = make([]float32, len(points[0]))
		}
		for i, a := range newAssignment {
			counts[a]++
			addInto(sums[a], points[i])
		}

		repairEmptyClusters(centers, sums, counts, cfg.Seed+uint64(iter))

		stable := true
		for i := range newAssignment {
			if newAssignment[i] != assignment[i] {
				stable = false
				break
			}
		}
		assignment = newAssignment

		for k := range centers {
			if counts[k] == 0 {
				continue
			}
			for d := range centers[k] {
				centers[k][d] = sums[k][d] / float32(counts[k])
			}
			if cfg.Spherical {
				normalize(centers[k])
			}
		}

		if stable {
			break
		}
	}
	return Result{Centroids: centers, Assignment: assignment}
}

// repairEmptyClusters splits the largest nonempty cluster by a ±δ
// perturbation of its centroid and halves its count, for every empty
// cluster found (§4.7).
func repairEmptyClusters(centers [][]float32, sums [][]float32, counts []int, seed uint64) {
	for k, cnt := range counts {
		if cnt != 0 {
			continue
		}
		biggest := 0
		for j := 1; j < len(counts); j++ {
			if counts[j] > counts[biggest] {
				biggest = j
			}
		}
		if counts[biggest] < 2 {
			continue
		}
		half := counts[biggest] / 2
		counts[biggest] -= half
		counts[k] = half

		perturb := make([]float32, len(centers[k]))
		for d := range perturb {
			sign := float32(1)
			if (seed>>uint(d%64))&1 == 0 {
				sign = -1
			}
			perturb[d] = sign * emptyClusterDelta * (abs32(sums[biggest][d]/float32(counts[biggest]+half)) + 1e-6)
		}
		for d := range sums[k] {
			base := sums[biggest][d] / float32(counts[biggest]+half)
			sums[k][d] = (base + perturb[d]) * float32(half)
			sums[biggest][d] = (base - perturb[d]) * float32(counts[biggest])
		}
	}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func addInto(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

func normalize(v []float32) {
	var s float32
	for _, x := range v {
		s += x * x
	}
	if s <= 0 {
		return
	}
	n := float32(math.Sqrt(float64(s)))
	for i := range v {
		v[i] /= n
	}
}

// assignPoints computes the nearest-centroid assignment for every point,
// parallelized across cfg.Threads workers with partial results reduced by
// plain slice indexing (no shared mutable state between workers, so no
// lock is needed for the reduction itself — §4.7 "parallel assignment via a
// thread-pool; partial sums reduced across threads").
func assignPoints(points [][]float32, centers [][]float32, cfg Config) []int {
	n := len(points)
	assignment := make([]int, n)
	workers := cfg.Threads
	if workers <= 0 {
		workers = 8
	}
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i, p := range points {
			assignment[i] = nearest(p, centers, cfg, n)
		}
		return assignment
	}

	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				assignment[i] = nearest(points[i], centers, cfg, n)
			}
		}(lo, hi)
	}
	wg.Wait()
	return assignment
}

// largeAssignmentThreshold is the n/c size above which the block-lowerbound
// pruner (§4.7 "for large (n≥1024, c≥1024) assignments ...") is used instead
// of an exhaustive exact-distance scan over every centroid.
const largeAssignmentThreshold = 1024

func nearest(p []float32, centers [][]float32, cfg Config, n int) int {
	if n >= largeAssignmentThreshold && len(centers) >= largeAssignmentThreshold {
		return nearestPruned(p, centers)
	}
	best, bestDist := 0, float32(math.MaxFloat32)
	for k, c := range centers {
		d := l2(p, c)
		if d < bestDist {
			bestDist, best = d, k
		}
	}
	return best
}

func l2(a, b []float32) float32 {
	var s float32
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

// nearestPruned uses RaBitQ block lowerbounds over the centroids (encoded
// fresh for this call) to skip the exact-distance computation for centroids
// that cannot possibly beat the current best, falling back to an exact
// check only for survivors (§4.7).
func nearestPruned(p []float32, centers [][]float32) int {
	dim := len(p)
	codes := make([]rabitq.Code1, len(centers))
	pNormSq := dotf32(p, p)
	centerNormSq := make([]float32, len(centers))
	for i, c := range centers {
		codes[i] = rabitq.EncodeCode1(c)
		centerNormSq[i] = dotf32(c, c)
	}

	lut := rabitq.BuildLUT(p)
	best, bestDist := 0, float32(math.MaxFloat32)
	for start := 0; start < len(centers); start += rabitq.BlockSize {
		end := start + rabitq.BlockSize
		if end > len(centers) {
			end = len(centers)
		}
		block := rabitq.BuildBlock(dim, codes[start:end])
		results := block.Accumulate(lut)
		for i := 0; i < end-start; i++ {
			idx := start + i
			// L2 = |p|^2 + |c|^2 - 2<p,c>; rough+err is an upper bound on
			// <p,c>, which gives a lower bound on L2.
			lbDist := pNormSq + centerNormSq[idx] - 2*(results[i].Rough+results[i].Err)
			if lbDist >= bestDist {
				continue // pruned: cannot beat current best
			}
			exact := l2(p, centers[idx])
			if exact < bestDist {
				bestDist, best = exact, idx
			}
		}
	}
	return best
}

func dotf32(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
