package quant

import (
	"math"
	"testing"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		codes []int8
	}{
		{"empty", nil},
		{"single", []int8{-8}},
		{"pair", []int8{7, -1}},
		{"odd", []int8{3, -4, 5}},
		{"full range", []int8{-8, -7, -6, -5, -4, -3, -2, -1, 0, 1, 2, 3, 4, 5, 6, 7}},
		{"full range odd", []int8{-8, -7, -6, -5, -4, -3, -2, -1, 0, 1, 2, 3, 4, 5, 6, 7, -8}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			packed := Pack(tc.codes)
			if len(packed) != PackedLen(len(tc.codes)) {
				t.Fatalf("packed length: got %d want %d", len(packed), PackedLen(len(tc.codes)))
			}
			got, err := Unpack(packed, len(tc.codes))
			if err != nil {
				t.Fatalf("unpack: %v", err)
			}
			if len(got) != len(tc.codes) {
				t.Fatalf("unpacked length: got %d want %d", len(got), len(tc.codes))
			}
			for i := range got {
				if got[i] != tc.codes[i] {
					t.Fatalf("code %d: got %d want %d", i, got[i], tc.codes[i])
				}
			}
		})
	}
}

func TestPackNibbleLayout(t *testing.T) {
	t.Parallel()

	// c0 occupies the low nibble, c1 the high nibble; -1 -> 0xF.
	packed := Pack([]int8{-1, 2})
	if len(packed) != 1 || packed[0] != 0x2F {
		t.Fatalf("packed byte: got %#x want 0x2f", packed)
	}

	// An odd trailing code leaves a zero high nibble.
	packed = Pack([]int8{-8})
	if len(packed) != 1 || packed[0] != 0x08 {
		t.Fatalf("padded byte: got %#x want 0x08", packed)
	}
}

func TestUnpackShortBuffer(t *testing.T) {
	t.Parallel()

	if _, err := Unpack([]byte{0x00}, 3); err == nil {
		t.Fatalf("expected error for short packed buffer")
	}
	if _, err := Unpack(nil, -1); err == nil {
		t.Fatalf("expected error for negative element count")
	}
}

func TestQuantizeScaleDerivation(t *testing.T) {
	t.Parallel()

	// max|w| = 3.5 -> scale 3.5/7 = 0.5 exactly.
	q := Quantize([]float32{3.5, 0.25, -0.25})
	if q.Scale != 0.5 {
		t.Fatalf("scale: got %v want 0.5", q.Scale)
	}
	if q.ZeroPoint != 0 {
		t.Fatalf("zero point: got %d want 0", q.ZeroPoint)
	}
	want := []int8{7, 1, -1}
	for i, c := range q.Codes {
		if c != want[i] {
			t.Fatalf("code %d: got %d want %d", i, c, want[i])
		}
	}

	// At scale 0.5, -4.0/0.5 = -8 exactly: the boundary code, no overshoot.
	q = QuantizeWithScale([]float32{3.5, -4.0}, 0.5, 0)
	if q.Codes[0] != 7 || q.Codes[1] != -8 {
		t.Fatalf("boundary codes: got %v want [7 -8]", q.Codes)
	}
}

func TestQuantizeAllZero(t *testing.T) {
	t.Parallel()

	q := Quantize(make([]float32, 9))
	if q.Scale != 1.0 {
		t.Fatalf("degenerate scale: got %v want 1.0", q.Scale)
	}
	for i, c := range q.Codes {
		if c != 0 {
			t.Fatalf("code %d: got %d want 0", i, c)
		}
	}
}

func TestQuantizeNonFinite(t *testing.T) {
	t.Parallel()

	nan := float32(math.NaN())
	negNaN := float32(math.Copysign(math.NaN(), -1))
	inf := float32(math.Inf(1))
	negInf := float32(math.Inf(-1))

	q := Quantize([]float32{nan, negNaN, inf, negInf, 1.0})
	// Non-finite values never influence the scale.
	if q.Scale != 1.0/7.0 {
		t.Fatalf("scale: got %v want %v", q.Scale, 1.0/7.0)
	}
	want := []int8{7, -8, 7, -8, 7}
	for i, c := range q.Codes {
		if c != want[i] {
			t.Fatalf("code %d: got %d want %d", i, c, want[i])
		}
	}
}

func TestQuantizeClampSaturates(t *testing.T) {
	t.Parallel()

	// Values far outside range clip to the boundary, never wrap.
	q := QuantizeWithScale([]float32{100, -100}, 1.0, 0)
	if q.Codes[0] != MaxCode || q.Codes[1] != MinCode {
		t.Fatalf("clamped codes: got %v want [7 -8]", q.Codes)
	}
}

func TestQuantizeDequantizeErrorBound(t *testing.T) {
	t.Parallel()

	w := []float32{0.013, -1.7, 2.99, -3.2, 0.0001, 1.25, -0.6, 3.499}
	q := Quantize(w)
	back := Dequantize(q)
	for i := range w {
		diff := math.Abs(float64(w[i]) - float64(back[i]))
		if diff > float64(q.Scale) {
			t.Fatalf("element %d: |%v - %v| = %v exceeds scale %v", i, w[i], back[i], diff, q.Scale)
		}
	}
}

func TestDequantizeZeroPoint(t *testing.T) {
	t.Parallel()

	// Reconstruction subtracts the raw zero point before scaling.
	q := Tensor{Codes: []int8{5, -3}, Scale: 2.0, ZeroPoint: 1}
	back := Dequantize(q)
	if back[0] != 8.0 || back[1] != -8.0 {
		t.Fatalf("dequantized: got %v want [8 -8]", back)
	}
}
