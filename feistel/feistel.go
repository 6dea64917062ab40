// Package feistel implements a small length-preserving Feistel cipher used
// as a stateless, bijective pseudo-random permutation over [0, 2^width),
// grounded on original_source/crates/feistel/src/lib.rs. Its one user is
// the initial-center sampling in package kmeans (§4.7); the index builders
// do no row sampling of their own.
package feistel

import "math/bits"

const rounds = 4

// Permutation is a bijective pseudo-random permutation on [0, 2^width)
// derived from seed. Two Permutations built from the same (seed, width) are
// identical, which is what makes build-time sampling reproducible (§8
// "Concrete scenarios" rely on deterministic builds for round-trip tests).
type Permutation struct {
	width    uint
	halfBits uint
	mask     uint64
	keys     [rounds]uint64
}

// New builds a Permutation over [0, 2^width) (width must be even and <= 64).
func New(seed uint64, width uint) *Permutation {
	if width == 0 {
		width = 2
	}
	if width%2 != 0 {
		width++
	}
	half := width / 2
	p := &Permutation{width: width, halfBits: half, mask: (uint64(1) << half) - 1}
	mix := seed
	for i := 0; i < rounds; i++ {
		mix = wymix(mix + uint64(i)*0x9E3779B97F4A7C15)
		p.keys[i] = mix
	}
	return p
}

// Permute returns the permuted image of x, for x < 2^width.
func (p *Permutation) Permute(x uint64) uint64 {
	lo := x & p.mask
	hi := (x >> p.halfBits) & p.mask
	for i := 0; i < rounds; i++ {
		f := p.round(lo, p.keys[i]) & p.mask
		lo, hi = hi^f, lo
	}
	// undo the final round's swap (standard Feistel output ordering)
	lo, hi = hi, lo
	return (hi << p.halfBits) | lo
}

// round is the Feistel round function: a wyhash-style avalanche mix of the
// half-block and the round key (§9 "A length-preserving cipher derived from
// wyhash gives a stateless random permutation").
func (p *Permutation) round(half, key uint64) uint64 {
	return wymix(half ^ key)
}

func wymix(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

// Width reports the permutation's bit width.
func (p *Permutation) Width() uint { return p.width }

// SampleOrder returns a function that, given an index i in [0, n), returns
// the i-th element of a pseudo-random bijective reordering of [0, n),
// suitable for reservoir-style sampling without materializing a shuffle
// array. The permutation covers the next even power-of-two width; a permuted
// value >= n is permuted again (cycle walking) until it falls below n, so
// the returned value is always in [0, n).
func SampleOrder(seed uint64, n int) func(i int) int {
	if n <= 1 {
		return func(i int) int { return 0 }
	}
	width := uint(bits.Len(uint(n - 1)))
	if width == 0 {
		width = 1
	}
	if width%2 != 0 {
		width++
	}
	perm := New(seed, width)
	return func(i int) int {
		v := perm.Permute(uint64(i))
		for v >= uint64(n) {
			v = perm.Permute(v)
		}
		return int(v)
	}
}
