package rabitq

import (
	"math/rand"
	"testing"

	"github.com/annidx/vann/vector"
)

// TestRotationPreservesL2Distance checks §8's rotation-invariance scenario:
// a fixed orthogonal rotation must leave pairwise L2 distances unchanged (up
// to floating-point error), since the whole point of rotating before
// quantizing is that it changes the basis RaBitQ's sign bits fall on without
// changing what "nearest" means.
func TestRotationPreservesL2Distance(t *testing.T) {
	const dim = 128
	r := NewRotator(0xC0FFEE, dim)
	rnd := rand.New(rand.NewSource(42))

	randVec := func() []float32 {
		v := make([]float32, dim)
		for i := range v {
			v[i] = float32(rnd.NormFloat64())
		}
		return v
	}

	const trials = 1000
	const tol = 1e-4 * float32(dim)
	for i := 0; i < trials; i++ {
		a, b := randVec(), randVec()
		before := vector.DistanceL2(a, b)
		ra, rb := r.Rotate(a), r.Rotate(b)
		after := vector.DistanceL2(ra, rb)
		diff := before - after
		if diff < 0 {
			diff = -diff
		}
		if diff > tol {
			t.Fatalf("trial %d: L2 distance changed by %v (before=%v after=%v, tol=%v)", i, diff, before, after, tol)
		}
	}
}

// TestRotateIntoMatchesRotate checks the in-place variant agrees with the
// allocating one.
func TestRotateIntoMatchesRotate(t *testing.T) {
	const dim = 32
	r := NewRotator(7, dim)
	rnd := rand.New(rand.NewSource(1))
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rnd.NormFloat64())
	}
	want := r.Rotate(v)
	got := make([]float32, dim)
	r.RotateInto(v, got)
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("RotateInto disagrees with Rotate at %d: %v vs %v", i, got[i], want[i])
		}
	}
}
