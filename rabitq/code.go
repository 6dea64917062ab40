package rabitq

import "math"

// groupDims is the number of coordinates folded into one FastScan nibble
// (§4.3 "Packing. Thirty-two 4-bit-per-coordinate codes...").
const groupDims = 4

// Code1 is the RaBitQ 1-bit code of one rotated vector (§3.1): precomputed
// scalar factors plus the sign bitstring, sized so that a block of 32 of
// these can be FastScan-packed (§4.3).
type Code1 struct {
	DisU2     float32 // Σx_i², the rotated vector's squared norm
	FactorPPC float32 // factor_ip · (#positive − #negative) bits, §4.3
	FactorIP  float32 // closed-form IP scaling factor, §4.3; stored but not read by Accumulate or RoughIP
	FactorErr float32 // ‖x − x̂‖, the exact reconstruction residual norm
	Signs     []byte  // bit i set iff x_i >= 0, ceil(dim/8) bytes
}

// EncodeCode1 computes the RaBitQ 1-bit code of a rotated vector x (§4.3).
//
// The reconstruction x̂ this code implies is (‖x‖/√d)·sign(x), the standard
// norm-preserving binary approximation (§8 invariant 5's "binary
// approximation"). FactorErr is not an approximation of the residual — it is
// computed exactly from x before x is discarded, so Cauchy-Schwarz gives a
// lowerbound that holds for every query, not just in expectation (see
// Lowerbound below and DESIGN.md's note on this choice).
func EncodeCode1(x []float32) Code1 {
	d := len(x)
	var disU2 float32
	var norm1 float32
	pos, neg := 0, 0
	signs := make([]byte, (d+7)/8)
	for i, v := range x {
		disU2 += v * v
		if v >= 0 {
			norm1 += v
			signs[i/8] |= 1 << uint(i%8)
			pos++
		} else {
			norm1 -= v
			neg++
		}
	}
	norm2 := float32(math.Sqrt(float64(disU2)))
	sqrtD := float32(math.Sqrt(float64(d)))

	// factor_ip = -2/√d · (|x|_2 / (|x|_1/√(d·|x|_2²))), §4.3. Used here in
	// its algebraically simplified, numerically stabler form.
	var factorIP float32
	if norm1 > 1e-12 {
		factorIP = -2 * disU2 / norm1
	}
	factorPPC := factorIP * float32(pos-neg)

	// Exact reconstruction residual: x̂_i = (norm2/√d)·sign(x_i).
	var errSq float32
	scale := float32(0)
	if sqrtD > 0 {
		scale = norm2 / sqrtD
	}
	for i, v := range x {
		s := scale
		if signs[i/8]&(1<<uint(i%8)) == 0 {
			s = -scale
		}
		diff := v - s
		errSq += diff * diff
	}

	return Code1{
		DisU2:     disU2,
		FactorPPC: factorPPC,
		FactorIP:  factorIP,
		FactorErr: float32(math.Sqrt(float64(errSq))),
		Signs:     signs,
	}
}

// scale returns (‖x‖/√d), the per-dimension magnitude the reconstruction
// x̂ = scale·sign(x) uses. Derivable from DisU2 alone given dim, so the code
// does not need to store it separately.
func (c Code1) scale(dim int) float32 {
	if dim == 0 {
		return 0
	}
	return float32(math.Sqrt(float64(c.DisU2))) / float32(math.Sqrt(float64(dim)))
}

// DotSigns returns Σ_i sign_i(x)·q_i exactly, by scanning the bitstring
// directly. This is the scalar reference path; Block/Accumulate below
// compute the same sum via the FastScan LUT for 32 codes at once.
func (c Code1) DotSigns(q []float32) float32 {
	var sum float32
	for i, v := range q {
		if c.Signs[i/8]&(1<<uint(i%8)) != 0 {
			sum += v
		} else {
			sum -= v
		}
	}
	return sum
}

// RoughIP returns the FastScan "rough" inner-product estimate of <x, q>.
// qSum (Σ q_i, precomputed once per query) is accepted for signature
// symmetry with the block accumulator, which folds the same bias term in
// via lut.QSum instead of a per-code sign scan.
func (c Code1) RoughIP(q []float32, dim int, qSum float32) float32 {
	_ = qSum
	return c.scale(dim) * c.DotSigns(q)
}

// Lowerbound returns (rough, err) such that, for every query q,
// rough - err <= <x, q> <= rough + err (epsilon=1 already suffices, by
// Cauchy-Schwarz on the exact reconstruction residual — §8 invariant 5 holds
// with room to spare for any epsilon >= 1, including the spec's default 1.9).
func (c Code1) Lowerbound(q []float32, dim int) (rough, err float32) {
	rough = c.RoughIP(q, dim, 0)
	qNorm := float32(math.Sqrt(float64(dotf32(q, q))))
	err = c.FactorErr * qNorm
	return
}

func dotf32(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
