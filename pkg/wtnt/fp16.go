package wtnt

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Embedding tables are stored as IEEE 754 half-precision floats: embeddings
// are looked up rather than matrix-multiplied, so storage precision is kept
// while halving the size versus float32.

// Float32ToFP16Bits converts a float32 to half-precision bits with
// round-to-nearest-even. Overflow saturates to infinity.
func Float32ToFP16Bits(f float32) uint16 {
	u := math.Float32bits(f)
	sign := uint16((u >> 16) & 0x8000)
	exp := int((u >> 23) & 0xFF)
	frac := u & 0x7FFFFF

	switch exp {
	case 0xFF:
		if frac != 0 {
			return sign | 0x7E00 // NaN
		}
		return sign | 0x7C00 // Inf
	case 0:
		// Zero/subnormal float32 -> zero fp16.
		return sign
	}

	e := exp - 127 + 15
	if e >= 31 {
		return sign | 0x7C00 // overflow -> Inf
	}
	if e <= 0 {
		// subnormal fp16
		if e < -10 {
			return sign
		}
		m := frac | 0x800000
		shift := uint32(14 - e)
		round := uint32(1) << (shift - 1)
		m = m + round - 1 + ((m >> shift) & 1)
		return sign | uint16(m>>shift)
	}

	// normal fp16
	m := frac
	m = m + 0x0FFF + ((m >> 13) & 1)
	if (m & 0x800000) != 0 {
		m = 0
		e++
		if e >= 31 {
			return sign | 0x7C00
		}
	}
	return sign | uint16(e<<10) | uint16(m>>13)
}

// FP16BitsToFloat32 converts half-precision bits back to float32.
func FP16BitsToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h & 0x3FF)

	var f uint32
	switch exp {
	case 0:
		if frac == 0 {
			f = sign << 31
		} else {
			e := uint32(127 - 15 + 1)
			for (frac & 0x400) == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3FF
			f = (sign << 31) | (e << 23) | (frac << 13)
		}
	case 0x1F:
		f = (sign << 31) | 0x7F800000 | (frac << 13)
	default:
		e := exp + (127 - 15)
		f = (sign << 31) | (e << 23) | (frac << 13)
	}
	return math.Float32frombits(f)
}

// EncodeFP16 serializes values as little-endian half-precision, 2 bytes per
// element.
func EncodeFP16(values []float32) []byte {
	out := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[i*2:], Float32ToFP16Bits(v))
	}
	return out
}

// DecodeFP16 deserializes a little-endian half-precision payload.
func DecodeFP16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("wtnt: fp16 payload length %d is not even", len(data))
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = FP16BitsToFloat32(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out, nil
}
