package rabitq

// AccumulateBlocks scores every block in blocks against lut, dispatching to
// whichever accumulate implementation this process picked at init (§9 "SIMD
// multiversioning ... expose a single entry point and hide the dispatcher").
// The dispatch variable is set in simd_amd64.go/simd_generic.go.
func AccumulateBlocks(blocks []*Block, lut *LUT) [][BlockSize]Result {
	out := make([][BlockSize]Result, len(blocks))
	for i, b := range blocks {
		out[i] = accumulateImpl(b, lut)
	}
	return out
}

// accumulateImpl is the active per-block accumulator, chosen once at package
// init based on host CPU features.
var accumulateImpl = (*Block).Accumulate
