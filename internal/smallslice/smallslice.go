// Package smallslice provides a fixed-capacity inline buffer for small,
// short-lived uint32 collections, so the common case needs no heap
// allocation. No other package of the engine imports it; ivf and graph
// build their beam and candidate lists as plain slices. It mirrors
// the original implementation's smallvec::SmallVec<[u32; SMALL]> usage
// (crates/algo), with an inline array sized to the same SMALL=4 constant and
// transparent spillover to a heap slice past that.
package smallslice

// Small is the inline capacity before a Buffer spills to the heap, matching
// the original's SMALL constant.
const Small = 4

// Buffer is a small-size-optimized []uint32: the first Small elements live
// in an inline array; anything beyond that lives in an overflow slice.
type Buffer struct {
	inline [Small]uint32
	n      int
	spill  []uint32
}

// Append adds v to the buffer.
func (b *Buffer) Append(v uint32) {
	if b.n < Small {
		b.inline[b.n] = v
		b.n++
		return
	}
	b.spill = append(b.spill, v)
	b.n++
}

// Len returns the number of elements appended.
func (b *Buffer) Len() int {
	return b.n
}

// At returns the element at index i.
func (b *Buffer) At(i int) uint32 {
	if i < Small {
		return b.inline[i]
	}
	return b.spill[i-Small]
}

// Reset empties the buffer, keeping the spill slice's backing array for
// reuse across calls (the caller is expected to reuse one Buffer per
// beam-search frame rather than allocate one per candidate).
func (b *Buffer) Reset() {
	b.n = 0
	b.spill = b.spill[:0]
}

// Slice materializes the buffer's contents as a plain []uint32, for callers
// that need to hand the data to code outside this package.
func (b *Buffer) Slice() []uint32 {
	out := make([]uint32, b.n)
	for i := 0; i < b.n && i < Small; i++ {
		out[i] = b.inline[i]
	}
	if b.n > Small {
		copy(out[Small:], b.spill)
	}
	return out
}

// FromSlice builds a Buffer from an existing slice, same as the original's
// SmallVec::from_slice.
func FromSlice(vs []uint32) *Buffer {
	b := &Buffer{}
	for _, v := range vs {
		b.Append(v)
	}
	return b
}
