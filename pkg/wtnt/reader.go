package wtnt

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// BlockInfo locates one quantized weight block inside the file.
type BlockInfo struct {
	Meta          BlockMeta
	PayloadOffset uint64
}

// File is a parsed, read-only view of a WTNT container.
type File struct {
	Data      []byte
	Header    *Header
	Checksums []ChecksumEntry

	blocks   []BlockInfo
	tokenOff uint64
	tokenLen uint64
	posOff   uint64
	posLen   uint64
	mmapped  bool
}

// Open maps a WTNT file read-only and validates its structure.
// If mmap is unavailable, it falls back to ReadAt-based loading.
// The returned file must be closed to release any mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size64 := stat.Size()
	if size64 < 0 {
		return nil, ErrCorruptFile
	}
	if size64 > int64(int(^uint(0)>>1)) {
		// cannot index this file safely as []byte on this architecture.
		return nil, ErrCorruptFile
	}
	size := int(size64)
	if size < headerSize {
		return nil, ErrCorruptFile
	}

	// Prefer mmap where available for zero-copy payload slices.
	data, err := unix.Mmap(
		int(f.Fd()),
		0,
		size,
		unix.PROT_READ,
		unix.MAP_SHARED,
	)
	if err == nil {
		wf, parseErr := parseFileData(data, true)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		return wf, nil
	}

	// Fallback path that does not require mmap support.
	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

// OpenReaderAt loads and validates a WTNT container from a random-access
// reader without mmap.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	if size < 0 || size > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	data, err := readAllAt(r, int(size))
	if err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	if size < 0 {
		return nil, ErrCorruptFile
	}
	if size == 0 {
		return []byte{}, nil
	}
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

func parseFileData(data []byte, mmapped bool) (*File, error) {
	if len(data) < headerSize {
		return nil, ErrCorruptFile
	}
	hdr, ok := decodeHeader(data[:headerSize])
	if !ok {
		return nil, ErrCorruptFile
	}
	if !hdr.Valid() {
		return nil, ErrInvalidMagic
	}
	if !hdr.Compatible() {
		return nil, ErrUnsupportedVersion
	}
	cfg := hdr.Config()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}

	fileLen := uint64(len(data))

	f := &File{
		Data:    data,
		Header:  &hdr,
		mmapped: mmapped,
	}

	// Fixed embeddings region right after the header.
	f.tokenOff = headerSize
	f.tokenLen = uint64(cfg.VocabSize) * uint64(cfg.HiddenSize) * 2
	f.posOff = f.tokenOff + f.tokenLen
	f.posLen = uint64(cfg.MaxSeqLen) * uint64(cfg.HiddenSize) * 2

	pos := f.posOff + f.posLen
	if pos < f.tokenOff || pos > fileLen {
		return nil, fmt.Errorf("%w: embeddings region out of bounds", ErrCorruptFile)
	}

	// Walk the variable-length block layout to index every payload.
	nBlocks := int(cfg.NumLayers) * NumRoles
	f.blocks = make([]BlockInfo, 0, nBlocks)
	for i := 0; i < nBlocks; i++ {
		if pos+blockMetaSize > fileLen {
			return nil, fmt.Errorf("%w: truncated block metadata %d", ErrCorruptFile, i)
		}
		meta, ok := decodeBlockMeta(data[pos : pos+blockMetaSize])
		if !ok {
			return nil, fmt.Errorf("%w: block metadata %d", ErrCorruptFile, i)
		}
		pos += blockMetaSize
		end := pos + uint64(meta.PackedLen)
		if end < pos || end > fileLen {
			return nil, fmt.Errorf("%w: block payload %d out of bounds", ErrCorruptFile, i)
		}
		f.blocks = append(f.blocks, BlockInfo{Meta: meta, PayloadOffset: pos})
		pos = end
	}

	// The header back-pointer must land exactly on the entry_count field.
	if uint64(hdr.ChecksumIndexOffset) != pos {
		return nil, fmt.Errorf("%w: checksum index offset %d, payload ends at %d",
			ErrCorruptFile, hdr.ChecksumIndexOffset, pos)
	}

	entries, err := parseChecksumIndex(data[pos:])
	if err != nil {
		return nil, err
	}
	if len(entries) != cfg.ChecksumEntryCount() {
		return nil, fmt.Errorf("%w: %d checksum entries, want %d",
			ErrCorruptFile, len(entries), cfg.ChecksumEntryCount())
	}
	for i, e := range entries {
		if want := sectionNameAt(i); e.Name != want {
			return nil, fmt.Errorf("%w: checksum entry %d named %q, want %q",
				ErrCorruptFile, i, e.Name, want)
		}
	}
	f.Checksums = entries

	return f, nil
}

// sectionNameAt returns the expected checksum-index name for write-order
// position i.
func sectionNameAt(i int) string {
	switch i {
	case 0:
		return SectionTokenEmbeddings
	case 1:
		return SectionPositionEmbeddings
	}
	i -= 2
	return SectionName(i/NumRoles, Role(i%NumRoles))
}

// Close releases file resources and any mmap backing.
func (f *File) Close() error {
	if f == nil {
		return nil
	}
	if f.Data != nil {
		var err error
		if f.mmapped {
			err = unix.Munmap(f.Data)
		}
		f.Data = nil
		f.Header = nil
		f.Checksums = nil
		f.blocks = nil
		f.mmapped = false
		return err
	}
	f.Header = nil
	f.Checksums = nil
	f.blocks = nil
	f.mmapped = false
	return nil
}

// Config returns the architecture dimensions recorded in the header.
func (f *File) Config() ModelConfig {
	if f == nil || f.Header == nil {
		return ModelConfig{}
	}
	return f.Header.Config()
}

// TokenEmbeddingData returns the raw half-precision token-embedding payload.
// The caller must not retain this slice after File.Close().
func (f *File) TokenEmbeddingData() []byte {
	if f == nil || f.Data == nil {
		return nil
	}
	return f.Data[f.tokenOff : f.tokenOff+f.tokenLen]
}

// PositionEmbeddingData returns the raw half-precision position-embedding
// payload.
func (f *File) PositionEmbeddingData() []byte {
	if f == nil || f.Data == nil {
		return nil
	}
	return f.Data[f.posOff : f.posOff+f.posLen]
}

// TokenEmbeddings decodes the token-embedding table to float32.
func (f *File) TokenEmbeddings() ([]float32, error) {
	return DecodeFP16(f.TokenEmbeddingData())
}

// PositionEmbeddings decodes the position-embedding table to float32.
func (f *File) PositionEmbeddings() ([]float32, error) {
	return DecodeFP16(f.PositionEmbeddingData())
}

// Block returns the metadata and packed payload for one layer/role slot.
// The payload slice aliases the mapped file; do not retain it after Close.
func (f *File) Block(layer int, role Role) (BlockMeta, []byte, error) {
	if f == nil || f.Data == nil {
		return BlockMeta{}, nil, ErrCorruptFile
	}
	if layer < 0 || layer >= int(f.Header.NumLayers) || int(role) >= NumRoles {
		return BlockMeta{}, nil, fmt.Errorf("wtnt: no block for layer %d role %d", layer, role)
	}
	b := f.blocks[layer*NumRoles+int(role)]
	payload := f.Data[b.PayloadOffset : b.PayloadOffset+uint64(b.Meta.PackedLen)]
	return b.Meta, payload, nil
}

// SectionCheck is the result of re-hashing one logical section.
type SectionCheck struct {
	Name string
	OK   bool
}

// VerifySections recomputes every section digest and compares it against
// the checksum index, in write order.
func (f *File) VerifySections() []SectionCheck {
	if f == nil || f.Data == nil {
		return nil
	}
	checks := make([]SectionCheck, 0, len(f.Checksums))

	verify := func(i int, payload []byte) {
		ok := sha256.Sum256(payload) == f.Checksums[i].Digest
		checks = append(checks, SectionCheck{Name: f.Checksums[i].Name, OK: ok})
	}

	verify(0, f.TokenEmbeddingData())
	verify(1, f.PositionEmbeddingData())
	for i, b := range f.blocks {
		verify(2+i, f.Data[b.PayloadOffset:b.PayloadOffset+uint64(b.Meta.PackedLen)])
	}
	return checks
}

// VerifyChecksums re-hashes every section and fails on the first mismatch.
func (f *File) VerifyChecksums() error {
	for _, c := range f.VerifySections() {
		if !c.OK {
			return fmt.Errorf("%w: section %s", ErrChecksumMismatch, c.Name)
		}
	}
	return nil
}
