package rabitq

import "math"

// BlockSize is the number of codes packed into one FastScan block (§3.1,
// §4.3).
const BlockSize = 32

// lanePermutation is the fixed interleave FastScan packing uses:
// {0,8,1,9,2,10,...,7,15} (§4.3 "Packing"). Code i (i < 16) goes to lane
// byte lanePermutation[i]; that byte holds code i in its low nibble and
// code i+16 in its high nibble.
var lanePermutation = [16]int{0, 8, 1, 9, 2, 10, 3, 11, 4, 12, 5, 13, 6, 14, 7, 15}

// Block is a FastScan-packed posting block of up to BlockSize codes (§3.1).
// Codes beyond Len are padding and always score as +∞ (never the best).
type Block struct {
	Dim      int
	Len      int        // number of live codes, <= BlockSize
	Groups   int        // Dim / groupDims, rounded up
	Packed   [][16]byte // one [16]byte lane per group: low nibble = codes 0..15, high nibble = codes 16..31, placed by lanePermutation
	DisU2    [BlockSize]float32
	FactorIP [BlockSize]float32
	FactorPP [BlockSize]float32
	FactorEr [BlockSize]float32
}

// BuildBlock packs up to BlockSize Code1 values (fewer than BlockSize is
// allowed; the remainder is zero-padded, §3.2 invariant 6 "when a frozen
// tape holds fewer [than 32], the remainder lives in the appendable tape").
func BuildBlock(dim int, codes []Code1) *Block {
	if len(codes) > BlockSize {
		panic("rabitq: BuildBlock given more than BlockSize codes")
	}
	groups := (dim + groupDims - 1) / groupDims
	b := &Block{Dim: dim, Len: len(codes), Groups: groups, Packed: make([][16]byte, groups)}

	for i, c := range codes {
		b.DisU2[i] = c.DisU2
		b.FactorIP[i] = c.FactorIP
		b.FactorPP[i] = c.FactorPPC
		b.FactorEr[i] = c.FactorErr

		// Codes 0..15 occupy the low nibble of their lane byte, codes
		// 16..31 the high nibble of the same 16 lane bytes -- this is what
		// keeps a 16-byte lane holding exactly 32 codes' worth of nibbles.
		slot := lanePermutation[i%16]
		lowHalf := i < 16
		for g := 0; g < groups; g++ {
			nibble := nibbleOf(c.Signs, g)
			cur := b.Packed[g][slot]
			if lowHalf {
				b.Packed[g][slot] = (cur &^ 0x0F) | nibble
			} else {
				b.Packed[g][slot] = (cur &^ 0xF0) | (nibble << 4)
			}
		}
	}
	return b
}

// nibbleOf extracts the groupDims-bit sign pattern for group g (bit j set
// iff coordinate g*groupDims+j is a positive sign), 0 for padding bits past
// dim.
func nibbleOf(signs []byte, g int) byte {
	var n byte
	base := g * groupDims
	for j := 0; j < groupDims; j++ {
		i := base + j
		if i/8 >= len(signs) {
			continue
		}
		if signs[i/8]&(1<<uint(i%8)) != 0 {
			n |= 1 << uint(j)
		}
	}
	return n
}

// LUT is a precomputed, per-query FastScan lookup table: one 16-entry row
// per dimension group, LUT[g][p] = Σ_{j: bit j of p set} q[4g+j]. Built once
// per query and reused against every block scanned during that search
// (§4.3 "precomputed into a 4-bit LUT").
type LUT struct {
	Dim    int
	Groups int
	Table  [][16]float32
	QSum   float32 // Σ q_i, the query's bias-correction term
	QNorm  float32 // ‖q‖, used to scale FactorErr into an absolute bound
}

// BuildLUT precomputes q's FastScan table.
func BuildLUT(q []float32) *LUT {
	groups := (len(q) + groupDims - 1) / groupDims
	t := make([][16]float32, groups)
	var qSum, qNormSq float32
	for g := 0; g < groups; g++ {
		base := g * groupDims
		var vals [groupDims]float32
		for j := 0; j < groupDims; j++ {
			if base+j < len(q) {
				vals[j] = q[base+j]
			}
		}
		for p := 0; p < 16; p++ {
			var s float32
			for j := 0; j < groupDims; j++ {
				if p&(1<<uint(j)) != 0 {
					s += vals[j]
				}
			}
			t[g][p] = s
		}
	}
	for _, v := range q {
		qSum += v
		qNormSq += v * v
	}
	return &LUT{Dim: len(q), Groups: groups, Table: t, QSum: qSum, QNorm: sqrtf32(qNormSq)}
}

func sqrtf32(v float32) float32 {
	if v <= 0 {
		return 0
	}
	return float32(math.Sqrt(float64(v)))
}

// Result is one block-scan outcome: a rough inner-product estimate and the
// additive error bound such that rough-err <= <x,q> <= rough+err (§4.3,
// §8 invariant 5).
type Result struct {
	Rough float32
	Err   float32
}

// Accumulate scores every code in b against lut in one pass over the packed
// groups, mirroring "one SIMD 32×u8 operation computes the inner products of
// a query LUT against all 32 codes" (§3.1) — expressed here as a scalar loop
// since this engine has no actual SIMD backend (see rabitq/simd_*.go for the
// CPU-feature-gated dispatch point this would hang off of).
func (b *Block) Accumulate(lut *LUT) [BlockSize]Result {
	var qsumPos [BlockSize]float32
	for g := 0; g < b.Groups && g < lut.Groups; g++ {
		lane := b.Packed[g]
		for i := 0; i < BlockSize; i++ {
			slot := lanePermutation[i%16]
			var nibble byte
			if i < 16 {
				nibble = lane[slot] & 0x0F
			} else {
				nibble = (lane[slot] >> 4) & 0x0F
			}
			qsumPos[i] += lut.Table[g][nibble]
		}
	}

	var out [BlockSize]Result
	for i := 0; i < BlockSize; i++ {
		if i >= b.Len {
			out[i] = Result{Rough: posInf, Err: 0}
			continue
		}
		// Σ sign_i(x)·q_i = 2·qsumPos - QSum: qsumPos sums q_i over the
		// positive-sign coordinates, QSum - qsumPos over the negative ones.
		dotSigns := 2*qsumPos[i] - lut.QSum
		scale := float32(0)
		if b.Dim > 0 {
			scale = sqrtf32(b.DisU2[i]) / sqrtf32(float32(b.Dim))
		}
		rough := scale * dotSigns
		err := b.FactorEr[i] * lut.QNorm
		out[i] = Result{Rough: rough, Err: err}
	}
	return out
}

// posInf is a sentinel larger than any real rough-IP score, used so padding
// slots in a partially-filled block never win a top-k comparison.
const posInf = float32(1) << 30
