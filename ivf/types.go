// Package ivf implements VchordRQ, the hierarchical IVF core over the L1-L3
// substrate (§4.4): build, insert, search, maintain, bulkdelete, prewarm.
package ivf

import (
	"encoding/binary"
	"math"

	"github.com/annidx/vann"
	"github.com/annidx/vann/rabitq"
	"github.com/annidx/vann/vector"
)

// RerankMode selects how Search turns a surviving posting into an exact
// result (§4.8 "rerank_in_table"). RerankFull always fetches the true
// vector from the vectors tape; RerankTable reconstructs a distance
// straight from the posting's RaBitQ factors and the query's FastScan LUT,
// at the cost of some accuracy, skipping the vectors-tape read entirely.
type RerankMode int

const (
	RerankFull RerankMode = iota
	RerankTable
)

// ModeOf reports which RerankMode a Meta selects.
func (m Meta) ModeOf() RerankMode {
	if m.RerankInTable {
		return RerankTable
	}
	return RerankFull
}

// Meta is the IVF-specific content of the engine's single meta tuple
// (§3.3, §6.4): page 0, slot 1 holds this, encoded via Encode/DecodeMeta.
type Meta struct {
	Dim            int
	Distance       vector.DistanceKind
	IsResidual     bool
	RerankInTable  bool
	HeightOfRoot   int
	Lists          []int // per-level fanout target, root-first: Lists[0] is the root's fanout, the last entry the leaf level's
	CentroidsFirst vann.PageID
	FreepagesFirst vann.PageID
	VectorsFirst   vann.PageID
	Root           vann.PageID
	Tuples         uint64
}

// EncodeMeta serializes m as a length-prefixed byte image, the same "tuple"
// style page.go's Alloc expects (§3.1 "Tuple. A length-prefixed byte
// image.").
func (m Meta) EncodeMeta() []byte {
	buf := make([]byte, 0, 64+4*len(m.Lists))
	var scratch [4]byte

	put32 := func(v uint32) {
		binary.LittleEndian.PutUint32(scratch[:], v)
		buf = append(buf, scratch[:]...)
	}
	putBool := func(b bool) {
		if b {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}

	put32(uint32(m.Dim))
	buf = append(buf, byte(m.Distance))
	putBool(m.IsResidual)
	putBool(m.RerankInTable)
	put32(uint32(m.HeightOfRoot))
	put32(uint32(len(m.Lists)))
	for _, l := range m.Lists {
		put32(uint32(l))
	}
	put32(uint32(m.CentroidsFirst))
	put32(uint32(m.FreepagesFirst))
	put32(uint32(m.VectorsFirst))
	put32(uint32(m.Root))
	var tbuf [8]byte
	binary.LittleEndian.PutUint64(tbuf[:], m.Tuples)
	buf = append(buf, tbuf[:]...)
	return buf
}

// DecodeMeta is the inverse of EncodeMeta.
func DecodeMeta(buf []byte) Meta {
	var m Meta
	off := 0
	get32 := func() uint32 {
		v := binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
		return v
	}
	m.Dim = int(get32())
	m.Distance = vector.DistanceKind(buf[off])
	off++
	m.IsResidual = buf[off] != 0
	off++
	m.RerankInTable = buf[off] != 0
	off++
	m.HeightOfRoot = int(get32())
	n := int(get32())
	m.Lists = make([]int, n)
	for i := range m.Lists {
		m.Lists[i] = int(get32())
	}
	m.CentroidsFirst = vann.PageID(get32())
	m.FreepagesFirst = vann.PageID(get32())
	m.VectorsFirst = vann.PageID(get32())
	m.Root = vann.PageID(get32())
	m.Tuples = binary.LittleEndian.Uint64(buf[off : off+8])
	return m
}

// VectorTuple is the raw-vector payload carrier stored on the vectors tape
// (§3.1, §3.3). Payload 0 marks a tombstone (§3.1 "A None payload marks a
// tombstoned entity").
type VectorTuple struct {
	Payload uint64
	Vector  []float32
}

func EncodeVectorTuple(t VectorTuple) []byte {
	buf := make([]byte, 8+4*len(t.Vector))
	binary.LittleEndian.PutUint64(buf[0:8], t.Payload)
	for i, f := range t.Vector {
		binary.LittleEndian.PutUint32(buf[8+4*i:12+4*i], float32bits(f))
	}
	return buf
}

func DecodeVectorTuple(buf []byte, dim int) VectorTuple {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32frombits(binary.LittleEndian.Uint32(buf[8+4*i : 12+4*i]))
	}
	return VectorTuple{Payload: binary.LittleEndian.Uint64(buf[0:8]), Vector: v}
}

// CentroidTuple holds one centroid's raw coordinates, written once at build
// and immutable thereafter (§3.3 "Centroids are immutable after build.").
type CentroidTuple struct {
	Vector []float32
}

func EncodeCentroidTuple(t CentroidTuple) []byte {
	buf := make([]byte, 4*len(t.Vector))
	for i, f := range t.Vector {
		binary.LittleEndian.PutUint32(buf[4*i:4*i+4], float32bits(f))
	}
	return buf
}

func DecodeCentroidTuple(buf []byte, dim int) CentroidTuple {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32frombits(binary.LittleEndian.Uint32(buf[4*i : 4*i+4]))
	}
	return CentroidTuple{Vector: v}
}

// ChildEntry is one interior cell's child reference used by H1 tuples: the
// child's RaBitQ code (against the parent centroid's residual space, or raw
// space at the root) plus where the child lives — another H1 page for
// interior levels, or a Jump tuple's page at the level just above leaves.
type ChildEntry struct {
	Code  rabitq.Code1
	Child vann.PageID
}

// EncodeH1Tuple serializes up to 32 ChildEntry values. Rather than
// persisting the pre-packed FastScan nibble lanes, this stores each child's
// code un-packed; BuildH1Block below re-packs them into a rabitq.Block
// on read, which is cheap (one pass over <=32 codes) and keeps the on-disk
// format independent of the lane-permutation detail (a deliberate
// simplification — see DESIGN.md).
func EncodeH1Tuple(entries []ChildEntry, dim int) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(entries)))
	for _, e := range entries {
		codeBuf := e.Code.MarshalBinary()
		var childBuf [4]byte
		binary.LittleEndian.PutUint32(childBuf[:], uint32(e.Child))
		buf = append(buf, codeBuf...)
		buf = append(buf, childBuf[:]...)
	}
	return buf
}

func DecodeH1Tuple(buf []byte, dim int) []ChildEntry {
	n := int(binary.LittleEndian.Uint32(buf[0:4]))
	off := 4
	codeSize := rabitq.Code1Size(dim)
	entries := make([]ChildEntry, n)
	for i := 0; i < n; i++ {
		code := rabitq.UnmarshalCode1(buf[off:off+codeSize], dim)
		off += codeSize
		child := vann.PageID(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		entries[i] = ChildEntry{Code: code, Child: child}
	}
	return entries
}

// BuildH1Block packs entries' codes into a transient rabitq.Block for
// FastScan scoring (§4.3); used by search after DecodeH1Tuple. Build writes
// H1 tuples unpacked and does not call it.
func BuildH1Block(dim int, entries []ChildEntry) *rabitq.Block {
	codes := make([]rabitq.Code1, len(entries))
	for i, e := range entries {
		codes[i] = e.Code
	}
	return rabitq.BuildBlock(dim, codes)
}

// JumpTuple points a leaf cell at its frozen and appendable tapes (§3.1
// glossary "Jump tuple").
type JumpTuple struct {
	FrozenFirst     vann.PageID
	AppendableFirst vann.PageID
}

func EncodeJumpTuple(t JumpTuple) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(t.FrozenFirst))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(t.AppendableFirst))
	return buf
}

func DecodeJumpTuple(buf []byte) JumpTuple {
	return JumpTuple{
		FrozenFirst:     vann.PageID(binary.LittleEndian.Uint32(buf[0:4])),
		AppendableFirst: vann.PageID(binary.LittleEndian.Uint32(buf[4:8])),
	}
}

// PostingEntry is one leaf-level posting: a RaBitQ code, the payload it
// names, and a back-pointer to its full-precision VectorTuple on the
// vectors tape (§4.4 "a two-heap rerank loop then fetches full vectors from
// the vectors-tape, computes exact distance"). Frozen tuples hold up to 32
// of these (re-packed into a Block on read, same simplification as H1);
// Appendable tuples hold exactly one.
type PostingEntry struct {
	Code      rabitq.Code1
	Payload   uint64
	VectorPtr vann.ItemPtr
}

func EncodePostingEntries(entries []PostingEntry, dim int) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(entries)))
	for _, e := range entries {
		buf = append(buf, e.Code.MarshalBinary()...)
		var pbuf [8]byte
		binary.LittleEndian.PutUint64(pbuf[:], e.Payload)
		buf = append(buf, pbuf[:]...)
		var vbuf [6]byte
		binary.LittleEndian.PutUint32(vbuf[0:4], uint32(e.VectorPtr.Page))
		binary.LittleEndian.PutUint16(vbuf[4:6], uint16(e.VectorPtr.Slot))
		buf = append(buf, vbuf[:]...)
	}
	return buf
}

func DecodePostingEntries(buf []byte, dim int) []PostingEntry {
	n := int(binary.LittleEndian.Uint32(buf[0:4]))
	off := 4
	codeSize := rabitq.Code1Size(dim)
	entries := make([]PostingEntry, n)
	for i := 0; i < n; i++ {
		code := rabitq.UnmarshalCode1(buf[off:off+codeSize], dim)
		off += codeSize
		payload := binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
		vptr := vann.ItemPtr{
			Page: vann.PageID(binary.LittleEndian.Uint32(buf[off : off+4])),
			Slot: vann.Slot(binary.LittleEndian.Uint16(buf[off+4 : off+6])),
		}
		off += 6
		entries[i] = PostingEntry{Code: code, Payload: payload, VectorPtr: vptr}
	}
	return entries
}

func float32bits(f float32) uint32     { return math.Float32bits(f) }
func float32frombits(b uint32) float32 { return math.Float32frombits(b) }
