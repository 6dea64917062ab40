package rabitq

import "math"

// CodeB is the multi-bit RaBitQ code (b ∈ {1,2,4,8}, §3.1): each coordinate
// is quantized to one of 2^b lattice levels instead of a single sign bit,
// trading code size for reconstruction accuracy. Neither index core uses
// it: graph vertices carry only a 1-bit Code1, and graph.BuildOptions has
// no bits setting.
type CodeB struct {
	Bits         int
	DisU2        float32 // Σx_i²
	NormOfLattice float32 // ‖lattice reconstruction‖
	SumOfCode    float32 // Σ of the raw (unscaled) integer codes, for bias correction
	PackedCode   []byte  // b bits per coordinate, packed low-to-high
}

// EncodeCodeB quantizes rotated vector x to a b-bit lattice code. Each
// coordinate is linearly mapped from [-max,max] (max = max|x_i|, the tight
// per-vector range) to an unsigned b-bit level by truncation, which keeps
// each coordinate's reconstruction error below one level step,
// 2·max/(2^b−1), regardless of the vector's shape.
func EncodeCodeB(x []float32, bits int) CodeB {
	if bits != 1 && bits != 2 && bits != 4 && bits != 8 {
		panic("rabitq: bits must be one of 1, 2, 4, 8")
	}
	levels := uint32(1) << uint(bits)
	var disU2 float32
	maxAbs := float32(0)
	for _, v := range x {
		disU2 += v * v
		a := v
		if a < 0 {
			a = -a
		}
		if a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs == 0 {
		maxAbs = 1e-12
	}

	packed := make([]byte, (len(x)*bits+7)/8)
	var sumCode float32
	var normLatSq float32
	for i, v := range x {
		// map [-maxAbs, maxAbs] -> [0, levels-1]
		norm := (v + maxAbs) / (2 * maxAbs)
		level := uint32(norm * float32(levels-1))
		if level >= levels {
			level = levels - 1
		}
		sumCode += float32(level)
		recon := (float32(level)/float32(levels-1))*2*maxAbs - maxAbs
		normLatSq += recon * recon
		packBits(packed, i, bits, level)
	}

	return CodeB{
		Bits:          bits,
		DisU2:         disU2,
		NormOfLattice: float32(math.Sqrt(float64(normLatSq))),
		SumOfCode:     sumCode,
		PackedCode:    packed,
	}
}

func packBits(buf []byte, idx, bits int, value uint32) {
	bitOff := idx * bits
	for b := 0; b < bits; b++ {
		if value&(1<<uint(b)) != 0 {
			pos := bitOff + b
			buf[pos/8] |= 1 << uint(pos%8)
		}
	}
}

func unpackBits(buf []byte, idx, bits int) uint32 {
	bitOff := idx * bits
	var v uint32
	for b := 0; b < bits; b++ {
		pos := bitOff + b
		if buf[pos/8]&(1<<uint(pos%8)) != 0 {
			v |= 1 << uint(b)
		}
	}
	return v
}

// Decode reconstructs the lattice-quantized vector given the original
// maxAbs used at encode time. CodeB does not store maxAbs and it is not
// recoverable from PackedCode, so the caller must supply it.
func (c CodeB) Decode(dim int, maxAbs float32) []float32 {
	levels := uint32(1) << uint(c.Bits)
	out := make([]float32, dim)
	for i := 0; i < dim; i++ {
		level := unpackBits(c.PackedCode, i, c.Bits)
		out[i] = (float32(level)/float32(levels-1))*2*maxAbs - maxAbs
	}
	return out
}
