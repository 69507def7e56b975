package wtnt

import (
	"encoding/binary"
	"math"
)

// blockMetaSize is the fixed on-disk size of a quantized block's metadata
// record: scale f32, zero_point i8, packed_len u32, packed with no padding.
// Downstream loaders depend on these offsets; never reorder or widen the
// fields without a header version bump.
const blockMetaSize = 9

// BlockMeta describes one quantized weight block. The packed payload of
// PackedLen bytes follows the record immediately.
type BlockMeta struct {
	Scale     float32
	ZeroPoint int8
	PackedLen uint32
}

func encodeBlockMeta(out []byte, m BlockMeta) bool {
	if len(out) < blockMetaSize {
		return false
	}
	binary.LittleEndian.PutUint32(out[0:4], math.Float32bits(m.Scale))
	out[4] = byte(m.ZeroPoint)
	binary.LittleEndian.PutUint32(out[5:9], m.PackedLen)
	return true
}

func decodeBlockMeta(in []byte) (BlockMeta, bool) {
	var m BlockMeta
	if len(in) < blockMetaSize {
		return m, false
	}
	m.Scale = math.Float32frombits(binary.LittleEndian.Uint32(in[0:4]))
	m.ZeroPoint = int8(in[4])
	m.PackedLen = binary.LittleEndian.Uint32(in[5:9])
	return m, true
}
