package wtnt

import (
	"math"
	"testing"
)

func TestFP16RoundTripExactValues(t *testing.T) {
	t.Parallel()

	// Every value here is exactly representable in half precision.
	values := []float32{0, 1, -1, 0.5, -0.25, 2048, -2048, 65504, -65504, 0.0009765625}
	for _, v := range values {
		got := FP16BitsToFloat32(Float32ToFP16Bits(v))
		if got != v {
			t.Fatalf("fp16 round trip of %v: got %v", v, got)
		}
	}
}

func TestFP16Saturation(t *testing.T) {
	t.Parallel()

	if bits := Float32ToFP16Bits(1e9); bits != 0x7C00 {
		t.Fatalf("overflow: got %#x want +Inf (0x7c00)", bits)
	}
	if bits := Float32ToFP16Bits(-1e9); bits != 0xFC00 {
		t.Fatalf("negative overflow: got %#x want -Inf (0xfc00)", bits)
	}
	if got := FP16BitsToFloat32(0x7C00); !math.IsInf(float64(got), 1) {
		t.Fatalf("decode +Inf: got %v", got)
	}
	nan := Float32ToFP16Bits(float32(math.NaN()))
	if decoded := FP16BitsToFloat32(nan); !math.IsNaN(float64(decoded)) {
		t.Fatalf("NaN did not survive: %#x -> %v", nan, decoded)
	}
}

func TestEncodeDecodeFP16(t *testing.T) {
	t.Parallel()

	in := []float32{1, -2, 0.5, 0}
	enc := EncodeFP16(in)
	if len(enc) != len(in)*2 {
		t.Fatalf("encoded length: got %d want %d", len(enc), len(in)*2)
	}
	out, err := DecodeFP16(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("element %d: got %v want %v", i, out[i], in[i])
		}
	}

	if _, err := DecodeFP16([]byte{1}); err == nil {
		t.Fatalf("expected error for odd payload length")
	}
}
