package wtnt

import (
	"errors"
	"fmt"
)

// ModelConfig carries the architecture dimensions the container layout
// depends on. The format trusts these values; it does not validate that
// they describe a working model.
type ModelConfig struct {
	NumLayers        uint32
	HiddenSize       uint32
	NumHeads         uint32
	VocabSize        uint32
	MaxSeqLen        uint32
	IntermediateSize uint32
}

// Validate checks the invariants the writer relies on: every dimension
// positive and at least one attention head.
func (c ModelConfig) Validate() error {
	if c.NumLayers == 0 {
		return errors.New("wtnt: config: num_layers must be > 0")
	}
	if c.HiddenSize == 0 {
		return errors.New("wtnt: config: hidden_size must be > 0")
	}
	if c.NumHeads == 0 {
		return errors.New("wtnt: config: num_heads must be >= 1")
	}
	if c.VocabSize == 0 {
		return errors.New("wtnt: config: vocab_size must be > 0")
	}
	if c.MaxSeqLen == 0 {
		return errors.New("wtnt: config: max_seq_len must be > 0")
	}
	if c.IntermediateSize == 0 {
		return errors.New("wtnt: config: intermediate_size must be > 0")
	}
	return nil
}

// TokenEmbeddingElems is the element count of the token-embedding table.
func (c ModelConfig) TokenEmbeddingElems() int {
	return int(c.VocabSize) * int(c.HiddenSize)
}

// PositionEmbeddingElems is the element count of the position-embedding table.
func (c ModelConfig) PositionEmbeddingElems() int {
	return int(c.MaxSeqLen) * int(c.HiddenSize)
}

// ZeroBlockPackedLen is the packed byte length written for a weight role
// that is absent from the source: hidden_size² / 2.
func (c ModelConfig) ZeroBlockPackedLen() int {
	return int(c.HiddenSize) * int(c.HiddenSize) / 2
}

// ChecksumEntryCount is the exhaustive entry count of the trailing index:
// two embedding sections plus six blocks per layer.
func (c ModelConfig) ChecksumEntryCount() int {
	return 2 + int(c.NumLayers)*NumRoles
}

func (c ModelConfig) String() string {
	return fmt.Sprintf("layers=%d hidden=%d heads=%d vocab=%d seq=%d intermediate=%d",
		c.NumLayers, c.HiddenSize, c.NumHeads, c.VocabSize, c.MaxSeqLen, c.IntermediateSize)
}
