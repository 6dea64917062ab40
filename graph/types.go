// Package graph implements VchordG, the single-layer Vamana/DiskANN-style
// proximity graph core (§4.5): build (via repeated Insert), search, prune,
// maintain.
package graph

import (
	"encoding/binary"
	"math"

	"github.com/annidx/vann"
	"github.com/annidx/vann/rabitq"
	"github.com/annidx/vann/vector"
)

// Meta is the graph-specific meta tuple content (§4.5 "The meta tuple holds
// the entry point start, m, and a sorted alpha list for pruning.").
type Meta struct {
	Dim          int
	Distance     vector.DistanceKind
	M            int
	Alpha        []float32 // sorted ascending, contains 1.0 (§6.3)
	Start        vann.PageID
	VectorsFirst vann.PageID
	Tuples       uint64
}

func (m Meta) EncodeMeta() []byte {
	buf := make([]byte, 0, 32+4*len(m.Alpha))
	var scratch [4]byte
	put32 := func(v uint32) {
		binary.LittleEndian.PutUint32(scratch[:], v)
		buf = append(buf, scratch[:]...)
	}
	put32(uint32(m.Dim))
	buf = append(buf, byte(m.Distance))
	put32(uint32(m.M))
	put32(uint32(len(m.Alpha)))
	for _, a := range m.Alpha {
		put32(math.Float32bits(a))
	}
	put32(uint32(m.Start))
	put32(uint32(m.VectorsFirst))
	var tbuf [8]byte
	binary.LittleEndian.PutUint64(tbuf[:], m.Tuples)
	buf = append(buf, tbuf[:]...)
	return buf
}

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
	m.M = int(get32())
	n := int(get32())
	m.Alpha = make([]float32, n)
	for i := range m.Alpha {
		m.Alpha[i] = math.Float32frombits(get32())
	}
	m.Start = vann.PageID(get32())
	m.VectorsFirst = vann.PageID(get32())
	m.Tuples = binary.LittleEndian.Uint64(buf[off : off+8])
	return m
}

// OptionNeighbour is one out-edge slot: None (Valid == false) when unused
// (§3.2 invariant 5, glossary "OptionNeighbour").
type OptionNeighbour struct {
	Valid    bool
	Neighbor vann.PageID
	Distance float32
}

// Vertex is one graph node (§4.5 "Data"): its RaBitQ code (stored with the
// vertex; search does not read it), up to m neighbor slots, a monotonic version for
// optimistic neighbor-list updates (§5, §9), and a payload (zero means
// tombstoned, matching the tombstone convention used throughout §3.1).
type Vertex struct {
	Code      rabitq.Code1
	Neighbors []OptionNeighbour
	Version   uint64
	Payload   uint64
	VectorPtr vann.PageID // head of this vertex's single-tuple vector chain
}

func EncodeVertex(v Vertex, dim int) []byte {
	buf := v.Code.MarshalBinary()
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(v.Neighbors)))
	buf = append(buf, hdr[:]...)
	for _, n := range v.Neighbors {
		var nb [9]byte
		if n.Valid {
			nb[0] = 1
		}
		binary.LittleEndian.PutUint32(nb[1:5], uint32(n.Neighbor))
		binary.LittleEndian.PutUint32(nb[5:9], math.Float32bits(n.Distance))
		buf = append(buf, nb[:]...)
	}
	var tail [24]byte
	binary.LittleEndian.PutUint64(tail[0:8], v.Version)
	binary.LittleEndian.PutUint64(tail[8:16], v.Payload)
	binary.LittleEndian.PutUint32(tail[16:20], uint32(v.VectorPtr))
	buf = append(buf, tail[:20]...)
	return buf
}

func DecodeVertex(buf []byte, dim int) Vertex {
	codeSize := rabitq.Code1Size(dim)
	code := rabitq.UnmarshalCode1(buf[:codeSize], dim)
	off := codeSize
	n := int(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	neighbors := make([]OptionNeighbour, n)
	for i := 0; i < n; i++ {
		nb := buf[off : off+9]
		neighbors[i] = OptionNeighbour{
			Valid:    nb[0] != 0,
			Neighbor: vann.PageID(binary.LittleEndian.Uint32(nb[1:5])),
			Distance: math.Float32frombits(binary.LittleEndian.Uint32(nb[5:9])),
		}
		off += 9
	}
	version := binary.LittleEndian.Uint64(buf[off : off+8])
	payload := binary.LittleEndian.Uint64(buf[off+8 : off+16])
	vptr := vann.PageID(binary.LittleEndian.Uint32(buf[off+16 : off+20]))
	return Vertex{Code: code, Neighbors: neighbors, Version: version, Payload: payload, VectorPtr: vptr}
}

// VectorTuple carries one vertex's raw rotated vector, mirroring ivf's
// VectorTuple shape (kept as a distinct type since graph's vector chain is
// one tuple per vertex, not a shared append-only tape).
type VectorTuple struct {
	Vector []float32
}

func EncodeVectorTuple(t VectorTuple) []byte {
	buf := make([]byte, 4*len(t.Vector))
	for i, f := range t.Vector {
		binary.LittleEndian.PutUint32(buf[4*i:4*i+4], math.Float32bits(f))
	}
	return buf
}

func DecodeVectorTuple(buf []byte, dim int) VectorTuple {
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i : 4*i+4]))
	}
	return VectorTuple{Vector: v}
}
