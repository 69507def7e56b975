package wtnt

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

const writerPadBufSize = 4096

// Writer builds a WTNT file in a single forward pass.
//
// The writer reserves space for the header up-front and patches it during
// Finalise, once the checksum index offset is known. Sections must be
// written in container order: token embeddings, position embeddings, then
// six blocks per layer in the fixed role order. Every section written is
// hashed on the fly for the trailing checksum index.
type Writer struct {
	f         *os.File
	cfg       ModelConfig
	entries   []ChecksumEntry
	finalised bool

	padBuf []byte
}

// NewWriter creates a WTNT writer targeting the given file. It truncates
// the file and reserves the header bytes (patched in Finalise).
func NewWriter(f *os.File, cfg ModelConfig) (*Writer, error) {
	if f == nil {
		return nil, errors.New("wtnt: nil file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Make sure a reused target file never keeps stale trailing bytes.
	if err := f.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	w := &Writer{
		f:      f,
		cfg:    cfg,
		padBuf: make([]byte, writerPadBufSize),
	}

	// Reserve fixed header bytes (actual bytes, not a seek hole).
	if err := w.writeZeros(headerSize, nil); err != nil {
		return nil, err
	}
	return w, nil
}

// Config returns the model configuration the writer was created with.
func (w *Writer) Config() ModelConfig { return w.cfg }

// WriteTokenEmbeddings writes the token-embedding table as half-precision
// floats. A nil slice writes a zero-filled block of the expected size, so
// the container layout stays fixed when the source lacks the tensor.
func (w *Writer) WriteTokenEmbeddings(data []float32) error {
	if err := w.expectSection(0); err != nil {
		return err
	}
	return w.writeEmbedding(SectionTokenEmbeddings, data, w.cfg.TokenEmbeddingElems())
}

// WritePositionEmbeddings writes the position-embedding table, zero-filled
// when data is nil.
func (w *Writer) WritePositionEmbeddings(data []float32) error {
	if err := w.expectSection(1); err != nil {
		return err
	}
	return w.writeEmbedding(SectionPositionEmbeddings, data, w.cfg.PositionEmbeddingElems())
}

func (w *Writer) writeEmbedding(name string, data []float32, elems int) error {
	if data == nil {
		return w.writeZeroSection(name, elems*2)
	}
	if len(data) != elems {
		return fmt.Errorf("wtnt: %s: have %d elements, want %d", name, len(data), elems)
	}
	return w.writeSection(name, EncodeFP16(data))
}

// WriteBlock writes one quantized weight block: the fixed metadata record
// followed by the packed payload. Blocks must arrive in layer-major, fixed
// role order. The metadata record is excluded from the section digest.
func (w *Writer) WriteBlock(layer int, role Role, scale float32, zeroPoint int8, packed []byte) error {
	if err := w.expectBlock(layer, role); err != nil {
		return err
	}
	if !(scale > 0) || math.IsInf(float64(scale), 0) {
		return fmt.Errorf("wtnt: %s: invalid scale %v", SectionName(layer, role), scale)
	}
	if uint64(len(packed)) > math.MaxUint32 {
		return fmt.Errorf("wtnt: %s: packed payload too large", SectionName(layer, role))
	}

	meta := BlockMeta{Scale: scale, ZeroPoint: zeroPoint, PackedLen: uint32(len(packed))}
	var buf [blockMetaSize]byte
	if !encodeBlockMeta(buf[:], meta) {
		return errors.New("wtnt: encode block metadata failed")
	}
	if err := writeFull(w.f, buf[:]); err != nil {
		return err
	}
	return w.writeSection(SectionName(layer, role), packed)
}

// WriteZeroBlock writes the substitute block for a weight role missing from
// the source: scale 1.0, zero point 0, hidden_size²/2 zero payload bytes.
func (w *Writer) WriteZeroBlock(layer int, role Role) error {
	if err := w.expectBlock(layer, role); err != nil {
		return err
	}
	size := w.cfg.ZeroBlockPackedLen()

	meta := BlockMeta{Scale: 1.0, ZeroPoint: 0, PackedLen: uint32(size)}
	var buf [blockMetaSize]byte
	if !encodeBlockMeta(buf[:], meta) {
		return errors.New("wtnt: encode block metadata failed")
	}
	if err := writeFull(w.f, buf[:]); err != nil {
		return err
	}
	return w.writeZeroSection(SectionName(layer, role), size)
}

// Finalise writes the checksum index, patches the header's index offset and
// syncs the file. After Finalise the writer must not be used again.
func (w *Writer) Finalise() error {
	if w.finalised {
		return errors.New("wtnt: writer already finalised")
	}
	if got, want := len(w.entries), w.cfg.ChecksumEntryCount(); got != want {
		return fmt.Errorf("wtnt: finalise with %d sections written, want %d", got, want)
	}
	w.finalised = true

	indexOffset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if indexOffset < 0 || uint64(indexOffset) > math.MaxUint32 {
		return errors.New("wtnt: checksum index offset does not fit the u32 header field")
	}
	if err := writeFull(w.f, encodeChecksumIndex(w.entries)); err != nil {
		return err
	}

	hdr := newHeader(w.cfg)
	hdr.ChecksumIndexOffset = uint32(indexOffset)

	// Patch the reserved header at the start of the file.
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var hdrBuf [headerSize]byte
	if !encodeHeader(hdrBuf[:], hdr) {
		return errors.New("wtnt: encode header failed")
	}
	if err := writeFull(w.f, hdrBuf[:]); err != nil {
		return err
	}
	return w.f.Sync()
}

// expectSection enforces the fixed write order.
func (w *Writer) expectSection(idx int) error {
	if w.finalised {
		return errors.New("wtnt: writer already finalised")
	}
	if len(w.entries) != idx {
		return fmt.Errorf("wtnt: section out of order: writing index %d, expected %d", idx, len(w.entries))
	}
	return nil
}

func (w *Writer) expectBlock(layer int, role Role) error {
	if w.finalised {
		return errors.New("wtnt: writer already finalised")
	}
	if layer < 0 || layer >= int(w.cfg.NumLayers) {
		return fmt.Errorf("wtnt: layer %d out of range [0,%d)", layer, w.cfg.NumLayers)
	}
	if int(role) >= NumRoles {
		return fmt.Errorf("wtnt: invalid role %d", role)
	}
	idx := len(w.entries) - 2
	if idx < 0 || layer != idx/NumRoles || int(role) != idx%NumRoles {
		return fmt.Errorf("wtnt: block out of order: got layer %d role %s", layer, role)
	}
	return nil
}

func (w *Writer) writeSection(name string, payload []byte) error {
	if err := writeFull(w.f, payload); err != nil {
		return err
	}
	w.entries = append(w.entries, ChecksumEntry{Name: name, Digest: sha256.Sum256(payload)})
	return nil
}

func (w *Writer) writeZeroSection(name string, n int) error {
	h := sha256.New()
	if err := w.writeZeros(n, h); err != nil {
		return err
	}
	var e ChecksumEntry
	e.Name = name
	h.Sum(e.Digest[:0])
	w.entries = append(w.entries, e)
	return nil
}

func (w *Writer) writeZeros(n int, h io.Writer) error {
	if n < 0 {
		return fmt.Errorf("wtnt: negative zero-fill size %d", n)
	}
	buf := w.padBuf
	if len(buf) == 0 {
		buf = make([]byte, writerPadBufSize)
	}
	for n > 0 {
		toWrite := min(n, len(buf))
		if err := writeFull(w.f, buf[:toWrite]); err != nil {
			return err
		}
		if h != nil {
			_, _ = h.Write(buf[:toWrite])
		}
		n -= toWrite
	}
	return nil
}

func writeFull(f *os.File, p []byte) error {
	for len(p) > 0 {
		n, err := f.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
