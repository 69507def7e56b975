package wtnt

import "encoding/binary"

const (
	// headerSize is the fixed byte length of the WTNT header.
	headerSize = 36

	// checksumOffsetFieldPos is the byte position of the back-patched
	// checksum_index_offset field inside the header.
	checksumOffsetFieldPos = 32
)

// Header is the fixed WTNT file header. All fields are little-endian on
// disk. ChecksumIndexOffset is written last, after the index location is
// known (see Writer.Finalise).
type Header struct {
	Magic               [4]byte
	Version             uint32
	NumLayers           uint32
	HiddenSize          uint32
	NumHeads            uint32
	VocabSize           uint32
	MaxSeqLen           uint32
	IntermediateSize    uint32
	ChecksumIndexOffset uint32
}

func (h *Header) Valid() bool {
	return string(h.Magic[:]) == MagicWTNT
}

func (h *Header) Compatible() bool {
	return h.Version == CurrentVersion
}

// Config extracts the architecture dimensions from the header.
func (h *Header) Config() ModelConfig {
	return ModelConfig{
		NumLayers:        h.NumLayers,
		HiddenSize:       h.HiddenSize,
		NumHeads:         h.NumHeads,
		VocabSize:        h.VocabSize,
		MaxSeqLen:        h.MaxSeqLen,
		IntermediateSize: h.IntermediateSize,
	}
}

func newHeader(cfg ModelConfig) Header {
	var h Header
	copy(h.Magic[:], MagicWTNT)
	h.Version = CurrentVersion
	h.NumLayers = cfg.NumLayers
	h.HiddenSize = cfg.HiddenSize
	h.NumHeads = cfg.NumHeads
	h.VocabSize = cfg.VocabSize
	h.MaxSeqLen = cfg.MaxSeqLen
	h.IntermediateSize = cfg.IntermediateSize
	return h
}

func encodeHeader(out []byte, h Header) bool {
	if len(out) < headerSize {
		return false
	}
	copy(out[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(out[4:8], h.Version)
	binary.LittleEndian.PutUint32(out[8:12], h.NumLayers)
	binary.LittleEndian.PutUint32(out[12:16], h.HiddenSize)
	binary.LittleEndian.PutUint32(out[16:20], h.NumHeads)
	binary.LittleEndian.PutUint32(out[20:24], h.VocabSize)
	binary.LittleEndian.PutUint32(out[24:28], h.MaxSeqLen)
	binary.LittleEndian.PutUint32(out[28:32], h.IntermediateSize)
	binary.LittleEndian.PutUint32(out[32:36], h.ChecksumIndexOffset)
	return true
}

func decodeHeader(in []byte) (Header, bool) {
	var h Header
	if len(in) < headerSize {
		return h, false
	}
	copy(h.Magic[:], in[0:4])
	h.Version = binary.LittleEndian.Uint32(in[4:8])
	h.NumLayers = binary.LittleEndian.Uint32(in[8:12])
	h.HiddenSize = binary.LittleEndian.Uint32(in[12:16])
	h.NumHeads = binary.LittleEndian.Uint32(in[16:20])
	h.VocabSize = binary.LittleEndian.Uint32(in[20:24])
	h.MaxSeqLen = binary.LittleEndian.Uint32(in[24:28])
	h.IntermediateSize = binary.LittleEndian.Uint32(in[28:32])
	h.ChecksumIndexOffset = binary.LittleEndian.Uint32(in[32:36])
	return h, true
}
