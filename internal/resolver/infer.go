package resolver

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/samcharles93/wtnt/internal/source"
	"github.com/samcharles93/wtnt/pkg/wtnt"
)

// DefaultMaxSeqLen is assumed when the source gives no way to determine the
// maximum sequence length.
const DefaultMaxSeqLen = 2048

var firstNumber = regexp.MustCompile(`\d+`)

// InferConfig derives architecture dimensions from the source's tensor
// names and shapes. This is a best-effort heuristic, not part of the
// container format's contract: layer count comes from the highest numeric
// index among layer/block-marked names, hidden size from the last axis of
// the first ≥2-D weight tensor (in sorted name order), vocabulary size from
// the token-embedding row count. The caller validates the result and may
// override any field with explicit values.
func InferConfig(src source.Source, tbl *Table) wtnt.ModelConfig {
	cfg := wtnt.ModelConfig{MaxSeqLen: DefaultMaxSeqLen}

	maxIdx := -1
	for _, name := range src.Names() {
		lower := strings.ToLower(name)
		if !strings.Contains(lower, "layer") && !strings.Contains(lower, "block") {
			continue
		}
		m := firstNumber.FindString(name)
		if m == "" {
			continue
		}
		if v, err := strconv.Atoi(m); err == nil && v > maxIdx {
			maxIdx = v
		}
	}
	if maxIdx >= 0 {
		cfg.NumLayers = uint32(maxIdx + 1)
	}

	for _, name := range src.Names() {
		if !strings.Contains(name, "weight") {
			continue
		}
		shape, ok := src.Shape(name)
		if !ok || len(shape) < 2 {
			continue
		}
		if last := shape[len(shape)-1]; last > 0 {
			cfg.HiddenSize = uint32(last)
		}
		break
	}

	if name, ok := tbl.ResolveTokenEmbedding(src); ok {
		if shape, ok := src.Shape(name); ok && len(shape) >= 1 && shape[0] > 0 {
			cfg.VocabSize = uint32(shape[0])
		}
	}

	cfg.IntermediateSize = cfg.HiddenSize * 4
	cfg.NumHeads = cfg.HiddenSize / 64
	if cfg.NumHeads < 1 {
		cfg.NumHeads = 1
	}
	return cfg
}
