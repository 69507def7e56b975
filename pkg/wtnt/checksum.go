package wtnt

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// DigestSize is the byte length of a section digest (SHA-256).
const DigestSize = sha256.Size

// ChecksumEntry maps a logical section name to the SHA-256 digest of that
// section's exact payload bytes. For quantized blocks the digest covers the
// packed payload only, not the preceding metadata record. Entry order
// matches write order.
type ChecksumEntry struct {
	Name   string
	Digest [DigestSize]byte
}

func encodeChecksumIndex(entries []ChecksumEntry) []byte {
	size := 4
	for _, e := range entries {
		size += 4 + len(e.Name) + DigestSize
	}
	out := make([]byte, 0, size)

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(len(entries)))
	out = append(out, u32[:]...)
	for _, e := range entries {
		binary.LittleEndian.PutUint32(u32[:], uint32(len(e.Name)))
		out = append(out, u32[:]...)
		out = append(out, e.Name...)
		out = append(out, e.Digest[:]...)
	}
	return out
}

func parseChecksumIndex(data []byte) ([]ChecksumEntry, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: truncated checksum index", ErrCorruptFile)
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	pos := 4

	// Guard against absurd counts before allocating.
	if uint64(count) > uint64(len(data)) {
		return nil, fmt.Errorf("%w: checksum entry count %d out of range", ErrCorruptFile, count)
	}

	entries := make([]ChecksumEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("%w: truncated checksum entry %d", ErrCorruptFile, i)
		}
		nameLen := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if nameLen < 0 || pos+nameLen+DigestSize > len(data) {
			return nil, fmt.Errorf("%w: truncated checksum entry %d", ErrCorruptFile, i)
		}
		name := string(data[pos : pos+nameLen])
		if !utf8.ValidString(name) {
			return nil, fmt.Errorf("%w: checksum entry %d name is not UTF-8", ErrCorruptFile, i)
		}
		pos += nameLen

		var e ChecksumEntry
		e.Name = name
		copy(e.Digest[:], data[pos:pos+DigestSize])
		pos += DigestSize
		entries = append(entries, e)
	}
	if pos != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes after checksum index", ErrCorruptFile, len(data)-pos)
	}
	return entries, nil
}
