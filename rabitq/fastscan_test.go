package rabitq

import (
	"math/rand"
	"testing"
)

// TestFastScanLowerbound checks §8's FastScan lowerbound-correctness
// scenario: for a fixed block of 32 codes and many random queries, the
// block-accumulated rough/err must bracket the exact inner product
// (rough-1.9*err <= exact <= rough+1.9*err) for at least 99% of
// (code, query) pairs. Code1.Lowerbound already proves this holds for
// epsilon=1 by construction (Cauchy-Schwarz on the exact residual norm);
// this test exercises the actual FastScan-packed block path instead of the
// scalar Code1.Lowerbound reference, since packing/unpacking through
// nibbles is where a real implementation bug would show up.
func TestFastScanLowerbound(t *testing.T) {
	const dim = 64
	const n = BlockSize
	const queries = 100
	const epsilon = 1.9

	rnd := rand.New(rand.NewSource(9))
	randVec := func() []float32 {
		v := make([]float32, dim)
		for i := range v {
			v[i] = float32(rnd.NormFloat64())
		}
		return v
	}

	vecs := make([][]float32, n)
	codes := make([]Code1, n)
	for i := range vecs {
		vecs[i] = randVec()
		codes[i] = EncodeCode1(vecs[i])
	}
	block := BuildBlock(dim, codes)

	total := 0
	ok := 0
	for q := 0; q < queries; q++ {
		query := randVec()
		lut := BuildLUT(query)
		results := block.Accumulate(lut)
		for i := 0; i < n; i++ {
			exact := dotf32(vecs[i], query)
			lo := results[i].Rough - epsilon*results[i].Err
			hi := results[i].Rough + epsilon*results[i].Err
			total++
			if exact >= lo && exact <= hi {
				ok++
			}
		}
	}

	if float64(ok)/float64(total) < 0.99 {
		t.Fatalf("FastScan lowerbound held for only %d/%d pairs (%.4f%%), want >= 99%%", ok, total, 100*float64(ok)/float64(total))
	}
}

// TestBuildBlockPaddingScoresAsInfinity checks that codes beyond Len are
// always dominated (+inf rough, zero err) so a partially-filled block never
// lets padding win a top-k comparison.
func TestBuildBlockPaddingScoresAsInfinity(t *testing.T) {
	const dim = 16
	rnd := rand.New(rand.NewSource(3))
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rnd.NormFloat64())
	}
	codes := []Code1{EncodeCode1(v)}
	block := BuildBlock(dim, codes)
	lut := BuildLUT(v)
	results := block.Accumulate(lut)
	for i := 1; i < BlockSize; i++ {
		if results[i].Rough != posInf || results[i].Err != 0 {
			t.Fatalf("padding slot %d = %+v, want {posInf, 0}", i, results[i])
		}
	}
}
