package rabitq

import (
	"encoding/binary"
	"math"
)

func float32bits(f float32) uint32     { return math.Float32bits(f) }
func float32frombits(b uint32) float32 { return math.Float32frombits(b) }

// MarshalBinary encodes a Code1 as DisU2|FactorPPC|FactorIP|FactorErr
// (4 float32s) followed by the raw Signs bytes, the layout IVF/graph tuple
// encoders lay directly into a page's payload area.
func (c Code1) MarshalBinary() []byte {
	buf := make([]byte, 16+len(c.Signs))
	binary.LittleEndian.PutUint32(buf[0:4], float32bits(c.DisU2))
	binary.LittleEndian.PutUint32(buf[4:8], float32bits(c.FactorPPC))
	binary.LittleEndian.PutUint32(buf[8:12], float32bits(c.FactorIP))
	binary.LittleEndian.PutUint32(buf[12:16], float32bits(c.FactorErr))
	copy(buf[16:], c.Signs)
	return buf
}

// UnmarshalCode1 decodes a Code1 for a vector of the given dimension from
// buf, as produced by MarshalBinary.
func UnmarshalCode1(buf []byte, dim int) Code1 {
	signsLen := (dim + 7) / 8
	signs := make([]byte, signsLen)
	copy(signs, buf[16:16+signsLen])
	return Code1{
		DisU2:     float32frombits(binary.LittleEndian.Uint32(buf[0:4])),
		FactorPPC: float32frombits(binary.LittleEndian.Uint32(buf[4:8])),
		FactorIP:  float32frombits(binary.LittleEndian.Uint32(buf[8:12])),
		FactorErr: float32frombits(binary.LittleEndian.Uint32(buf[12:16])),
		Signs:     signs,
	}
}

// Code1Size returns the marshaled byte size of a Code1 for dimension dim.
func Code1Size(dim int) int {
	return 16 + (dim+7)/8
}
