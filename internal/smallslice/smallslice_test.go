package smallslice

import (
	"reflect"
	"testing"
)

func TestBufferInlineOnly(t *testing.T) {
	b := &Buffer{}
	b.Append(1)
	b.Append(2)
	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}
	if b.At(0) != 1 || b.At(1) != 2 {
		t.Fatalf("unexpected contents: %v", b.Slice())
	}
}

func TestBufferSpillover(t *testing.T) {
	b := &Buffer{}
	want := []uint32{}
	for i := uint32(0); i < 20; i++ {
		b.Append(i)
		want = append(want, i)
	}
	if got := b.Slice(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Slice() = %v, want %v", got, want)
	}
}

func TestBufferReset(t *testing.T) {
	b := &Buffer{}
	for i := uint32(0); i < 10; i++ {
		b.Append(i)
	}
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("Len() after Reset = %d, want 0", b.Len())
	}
	b.Append(42)
	if got := b.Slice(); !reflect.DeepEqual(got, []uint32{42}) {
		t.Fatalf("Slice() after reuse = %v", got)
	}
}

func TestFromSlice(t *testing.T) {
	src := []uint32{5, 6, 7, 8, 9, 10}
	b := FromSlice(src)
	if got := b.Slice(); !reflect.DeepEqual(got, src) {
		t.Fatalf("FromSlice round-trip = %v, want %v", got, src)
	}
}
