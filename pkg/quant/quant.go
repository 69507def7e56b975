// Package quant implements symmetric INT4 quantization and nibble packing
// for weight tensors.
//
// Codes are signed 4-bit values in [-8, 7]. Packing stores two codes per
// byte with the even-indexed code in the low nibble. The reconstruction
// formula is w ≈ (code - zero_point) * scale; the zero point is stored raw,
// never pre-scaled.
package quant

import (
	"fmt"
	"math"
)

const (
	// MinCode and MaxCode bound the signed 4-bit code range.
	MinCode int8 = -8
	MaxCode int8 = 7
)

// Tensor is one quantized tensor: signed 4-bit codes plus the scale and
// zero point needed to reconstruct approximate weights.
type Tensor struct {
	Codes     []int8
	Scale     float32
	ZeroPoint int8
}

// AbsMaxScale derives the symmetric quantization scale max(|w|)/7.
// An all-zero (or entirely non-finite) tensor yields 1.0 so division by
// zero never occurs and degenerate input still produces defined output.
func AbsMaxScale(w []float32) float32 {
	var maxAbs float32
	for _, v := range w {
		a := float32(math.Abs(float64(v)))
		// NaN comparisons are false, so NaN elements never win.
		if a > maxAbs && !math.IsInf(float64(a), 0) {
			maxAbs = a
		}
	}
	if maxAbs == 0 {
		return 1.0
	}
	return maxAbs / float32(MaxCode)
}

// Quantize converts a flattened weight tensor to signed 4-bit codes using
// the derived AbsMaxScale and a zero point of 0.
func Quantize(w []float32) Tensor {
	return QuantizeWithScale(w, AbsMaxScale(w), 0)
}

// QuantizeWithScale quantizes with a caller-supplied scale and zero point.
//
// Each element maps to round(w/scale + zeroPoint) clamped (saturating, not
// wrapping) to [-8, 7]. NaN and infinite inputs quantize to the clamp
// boundary nearest their sign.
func QuantizeWithScale(w []float32, scale float32, zeroPoint int8) Tensor {
	codes := make([]int8, len(w))
	s := float64(scale)
	zp := float64(zeroPoint)
	for i, v := range w {
		codes[i] = quantizeOne(float64(v), s, zp)
	}
	return Tensor{Codes: codes, Scale: scale, ZeroPoint: zeroPoint}
}

func quantizeOne(w, scale, zeroPoint float64) int8 {
	q := math.Round(w/scale + zeroPoint)
	switch {
	case math.IsNaN(q):
		if math.Signbit(w) {
			return MinCode
		}
		return MaxCode
	case q < float64(MinCode):
		return MinCode
	case q > float64(MaxCode):
		return MaxCode
	}
	return int8(q)
}

// Dequantize reconstructs approximate weights from a quantized tensor.
func Dequantize(t Tensor) []float32 {
	out := make([]float32, len(t.Codes))
	for i, c := range t.Codes {
		out[i] = float32(c-t.ZeroPoint) * t.Scale
	}
	return out
}

// PackedLen returns the packed byte length for n codes: ceil(n/2).
func PackedLen(n int) int {
	return (n + 1) / 2
}

// Pack bit-packs codes two per byte. For the pair at positions (2i, 2i+1)
// the output byte is (low_nibble(c1) << 4) | low_nibble(c0), where negative
// codes contribute their two's-complement low nibble (-1 -> 0xF). An odd
// code count is padded with one implicit zero code; the pad is not part of
// the logical element count and Unpack drops it again.
func Pack(codes []int8) []byte {
	out := make([]byte, PackedLen(len(codes)))
	for i, c := range codes {
		nib := byte(c) & 0x0F
		if i%2 == 0 {
			out[i/2] = nib
		} else {
			out[i/2] |= nib << 4
		}
	}
	return out
}

// Unpack inverts Pack for n logical elements, sign-extending each nibble
// (values 8-15 map back to -8..-1).
func Unpack(packed []byte, n int) ([]int8, error) {
	if n < 0 {
		return nil, fmt.Errorf("quant: invalid element count %d", n)
	}
	if need := PackedLen(n); len(packed) < need {
		return nil, fmt.Errorf("quant: packed data too short: have %d bytes, need %d", len(packed), need)
	}
	out := make([]int8, n)
	for i := 0; i < n; i++ {
		b := packed[i/2]
		var nib byte
		if i%2 == 0 {
			nib = b & 0x0F
		} else {
			nib = (b >> 4) & 0x0F
		}
		v := int8(nib)
		if v >= 8 {
			v -= 16
		}
		out[i] = v
	}
	return out, nil
}
