package wtnt

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/wtnt/pkg/quant"
)

func testConfig() ModelConfig {
	return ModelConfig{
		NumLayers:        1,
		HiddenSize:       4,
		NumHeads:         1,
		VocabSize:        3,
		MaxSeqLen:        2,
		IntermediateSize: 16,
	}
}

func testWeights(n int, seed float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = seed * float32(i%7-3)
	}
	return out
}

// writeTestContainer builds a small container with quantized attention
// blocks and zero-filled feed-forward blocks.
func writeTestContainer(t *testing.T, path string) (ModelConfig, map[Role]quant.Tensor) {
	t.Helper()

	cfg := testConfig()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer func() { _ = f.Close() }()

	w, err := NewWriter(f, cfg)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	tok := testWeights(cfg.TokenEmbeddingElems(), 0.25)
	pos := testWeights(cfg.PositionEmbeddingElems(), 0.125)
	if err := w.WriteTokenEmbeddings(tok); err != nil {
		t.Fatalf("token embeddings: %v", err)
	}
	if err := w.WritePositionEmbeddings(pos); err != nil {
		t.Fatalf("position embeddings: %v", err)
	}

	elems := int(cfg.HiddenSize) * int(cfg.HiddenSize)
	quantized := make(map[Role]quant.Tensor, 4)
	for _, role := range []Role{RoleQuery, RoleKey, RoleValue, RoleOutput} {
		q := quant.Quantize(testWeights(elems, 0.5+float32(role)))
		quantized[role] = q
		if err := w.WriteBlock(0, role, q.Scale, q.ZeroPoint, quant.Pack(q.Codes)); err != nil {
			t.Fatalf("write block %s: %v", role, err)
		}
	}
	for _, role := range []Role{RoleFFNUp, RoleFFNDown} {
		if err := w.WriteZeroBlock(0, role); err != nil {
			t.Fatalf("write zero block %s: %v", role, err)
		}
	}

	if err := w.Finalise(); err != nil {
		t.Fatalf("finalise: %v", err)
	}
	return cfg, quantized
}

func TestWriterReaderRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "model.wtnt")
	cfg, quantized := writeTestContainer(t, path)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if got := f.Config(); got != cfg {
		t.Fatalf("config mismatch: got %+v want %+v", got, cfg)
	}
	if f.Header.Version != CurrentVersion {
		t.Fatalf("version: got %d want %d", f.Header.Version, CurrentVersion)
	}
	if len(f.Checksums) != cfg.ChecksumEntryCount() {
		t.Fatalf("checksum entries: got %d want %d", len(f.Checksums), cfg.ChecksumEntryCount())
	}

	// Quantized blocks round-trip code-for-code.
	elems := int(cfg.HiddenSize) * int(cfg.HiddenSize)
	for role, q := range quantized {
		meta, payload, err := f.Block(0, role)
		if err != nil {
			t.Fatalf("block %s: %v", role, err)
		}
		if meta.Scale != q.Scale || meta.ZeroPoint != q.ZeroPoint {
			t.Fatalf("block %s metadata: got %+v", role, meta)
		}
		if int(meta.PackedLen) != quant.PackedLen(elems) {
			t.Fatalf("block %s packed length: got %d want %d", role, meta.PackedLen, quant.PackedLen(elems))
		}
		codes, err := quant.Unpack(payload, elems)
		if err != nil {
			t.Fatalf("unpack %s: %v", role, err)
		}
		for i := range codes {
			if codes[i] != q.Codes[i] {
				t.Fatalf("block %s code %d: got %d want %d", role, i, codes[i], q.Codes[i])
			}
		}
	}

	// Embeddings decode to fp16-rounded values of the originals.
	tok, err := f.TokenEmbeddings()
	if err != nil {
		t.Fatalf("token embeddings: %v", err)
	}
	want := testWeights(cfg.TokenEmbeddingElems(), 0.25)
	for i := range tok {
		if tok[i] != FP16BitsToFloat32(Float32ToFP16Bits(want[i])) {
			t.Fatalf("token embedding %d: got %v want %v", i, tok[i], want[i])
		}
	}

	if err := f.VerifyChecksums(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestMissingRoleZeroFill(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "model.wtnt")
	cfg, _ := writeTestContainer(t, path)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	wantLen := cfg.ZeroBlockPackedLen()
	zeroDigest := sha256.Sum256(make([]byte, wantLen))

	for _, role := range []Role{RoleFFNUp, RoleFFNDown} {
		meta, payload, err := f.Block(0, role)
		if err != nil {
			t.Fatalf("block %s: %v", role, err)
		}
		if meta.Scale != 1.0 || meta.ZeroPoint != 0 {
			t.Fatalf("zero block %s metadata: got %+v", role, meta)
		}
		if int(meta.PackedLen) != wantLen {
			t.Fatalf("zero block %s length: got %d want %d", role, meta.PackedLen, wantLen)
		}
		for i, b := range payload {
			if b != 0 {
				t.Fatalf("zero block %s byte %d is %#x", role, i, b)
			}
		}
		idx := 2 + int(role)
		if f.Checksums[idx].Digest != zeroDigest {
			t.Fatalf("zero block %s digest mismatch", role)
		}
	}
}

func TestChecksumIndexOffsetPointsAtEntryCount(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "model.wtnt")
	cfg, _ := writeTestContainer(t, path)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	off := binary.LittleEndian.Uint32(raw[checksumOffsetFieldPos : checksumOffsetFieldPos+4])
	count := binary.LittleEndian.Uint32(raw[off : off+4])
	if int(count) != cfg.ChecksumEntryCount() {
		t.Fatalf("entry count at offset %d: got %d want %d", off, count, cfg.ChecksumEntryCount())
	}
	if int(count) != 2+int(cfg.NumLayers)*NumRoles {
		t.Fatalf("entry count formula: got %d", count)
	}
}

func TestWriterDeterminism(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.wtnt")
	pathB := filepath.Join(dir, "b.wtnt")
	writeTestContainer(t, pathA)
	writeTestContainer(t, pathB)

	a, err := os.ReadFile(pathA)
	if err != nil {
		t.Fatalf("read a: %v", err)
	}
	b, err := os.ReadFile(pathB)
	if err != nil {
		t.Fatalf("read b: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("repeat conversions are not byte-identical (%d vs %d bytes)", len(a), len(b))
	}
}

func TestWriterEnforcesSectionOrder(t *testing.T) {
	t.Parallel()

	f, err := os.Create(filepath.Join(t.TempDir(), "model.wtnt"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer func() { _ = f.Close() }()

	w, err := NewWriter(f, testConfig())
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.WriteBlock(0, RoleQuery, 1.0, 0, []byte{0}); err == nil {
		t.Fatalf("expected order error writing block before embeddings")
	}
	if err := w.WritePositionEmbeddings(nil); err == nil {
		t.Fatalf("expected order error writing position embeddings first")
	}
	if err := w.Finalise(); err == nil {
		t.Fatalf("expected finalise error with missing sections")
	}
}

func TestOpenRejectsCorruptFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "model.wtnt")
	writeTestContainer(t, path)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	write := func(t *testing.T, mutate func(b []byte) []byte) string {
		t.Helper()
		b := mutate(append([]byte(nil), raw...))
		p := filepath.Join(t.TempDir(), "bad.wtnt")
		if err := os.WriteFile(p, b, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		return p
	}

	t.Run("bad magic", func(t *testing.T) {
		p := write(t, func(b []byte) []byte { b[0] = 'X'; return b })
		if _, err := Open(p); !errors.Is(err, ErrInvalidMagic) {
			t.Fatalf("got %v, want ErrInvalidMagic", err)
		}
	})

	t.Run("future version", func(t *testing.T) {
		p := write(t, func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[4:8], CurrentVersion+1)
			return b
		})
		if _, err := Open(p); !errors.Is(err, ErrUnsupportedVersion) {
			t.Fatalf("got %v, want ErrUnsupportedVersion", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		p := write(t, func(b []byte) []byte { return b[:len(b)-5] })
		if _, err := Open(p); !errors.Is(err, ErrCorruptFile) {
			t.Fatalf("got %v, want ErrCorruptFile", err)
		}
	})

	t.Run("stale index offset", func(t *testing.T) {
		p := write(t, func(b []byte) []byte {
			off := binary.LittleEndian.Uint32(b[checksumOffsetFieldPos:])
			binary.LittleEndian.PutUint32(b[checksumOffsetFieldPos:], off-1)
			return b
		})
		if _, err := Open(p); !errors.Is(err, ErrCorruptFile) {
			t.Fatalf("got %v, want ErrCorruptFile", err)
		}
	})

	t.Run("flipped payload byte", func(t *testing.T) {
		p := write(t, func(b []byte) []byte {
			b[headerSize] ^= 0xFF // first token-embedding byte
			return b
		})
		f, err := Open(p)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		defer func() { _ = f.Close() }()
		if err := f.VerifyChecksums(); !errors.Is(err, ErrChecksumMismatch) {
			t.Fatalf("got %v, want ErrChecksumMismatch", err)
		}
	})
}

func TestHeaderEncodingLittleEndian(t *testing.T) {
	t.Parallel()

	h := Header{
		Magic:               [4]byte{'W', 'T', 'N', 'T'},
		Version:             0x01020304,
		NumLayers:           0x11121314,
		HiddenSize:          0x21222324,
		NumHeads:            0x31323334,
		VocabSize:           0x41424344,
		MaxSeqLen:           0x51525354,
		IntermediateSize:    0x61626364,
		ChecksumIndexOffset: 0x71727374,
	}
	var raw [headerSize]byte
	if !encodeHeader(raw[:], h) {
		t.Fatalf("encode header failed")
	}
	if raw[4] != 0x04 || raw[7] != 0x01 {
		t.Fatalf("version is not little-endian: %x", raw[4:8])
	}
	if raw[32] != 0x74 || raw[35] != 0x71 {
		t.Fatalf("checksum offset is not little-endian: %x", raw[32:36])
	}
	decoded, ok := decodeHeader(raw[:])
	if !ok {
		t.Fatalf("decode header failed")
	}
	if decoded != h {
		t.Fatalf("header round-trip mismatch: got %+v want %+v", decoded, h)
	}
}

func TestBlockMetaEncoding(t *testing.T) {
	t.Parallel()

	m := BlockMeta{Scale: 0.5, ZeroPoint: -3, PackedLen: 0xAABBCCDD}
	var raw [blockMetaSize]byte
	if !encodeBlockMeta(raw[:], m) {
		t.Fatalf("encode block meta failed")
	}
	if raw[4] != 0xFD {
		t.Fatalf("zero point byte: got %#x want 0xfd", raw[4])
	}
	if raw[5] != 0xDD || raw[8] != 0xAA {
		t.Fatalf("packed length is not little-endian: %x", raw[5:9])
	}
	decoded, ok := decodeBlockMeta(raw[:])
	if !ok {
		t.Fatalf("decode block meta failed")
	}
	if decoded != m {
		t.Fatalf("block meta round-trip mismatch: got %+v want %+v", decoded, m)
	}
}
