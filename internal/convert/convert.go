// Package convert drives the weight conversion: tensor source in, WTNT
// container out. The conversion is a pure function of (source, config);
// identical input produces byte-identical output, so files can be compared
// and re-produced at will.
package convert

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/google/uuid"

	"github.com/samcharles93/wtnt/internal/logger"
	"github.com/samcharles93/wtnt/internal/resolver"
	"github.com/samcharles93/wtnt/internal/source"
	"github.com/samcharles93/wtnt/pkg/quant"
	"github.com/samcharles93/wtnt/pkg/wtnt"
)

// Options configures one conversion run.
type Options struct {
	// InputPath is the source safetensors file (used by Run).
	InputPath string

	// OutputPath is the final container path. The pipeline writes to a
	// temporary sibling and renames on success, so a failed run never
	// leaves a partial file at this path.
	OutputPath string

	// Resolvers maps weight roles to source tensor names. Nil uses the
	// built-in table.
	Resolvers *resolver.Table

	// Overrides replaces inferred config fields where non-zero.
	Overrides wtnt.ModelConfig

	// Log receives progress and warnings. Nil uses the default logger.
	Log logger.Logger
}

// Report summarizes a completed conversion.
type Report struct {
	RunID      string
	Config     wtnt.ModelConfig
	OutputPath string
	FileSize   int64
	Quantized  int
	ZeroFilled int
	Warnings   []string
}

// Run opens the safetensors source named by opts.InputPath and converts it.
func Run(ctx context.Context, opts Options) (*Report, error) {
	src, err := source.OpenSafetensors(opts.InputPath)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", opts.InputPath, err)
	}
	defer func() { _ = src.Close() }()
	return Convert(ctx, src, opts)
}

// Convert writes a WTNT container for the given source. The model config is
// inferred from tensor names and shapes, with opts.Overrides taking
// precedence field by field.
func Convert(ctx context.Context, src source.Source, opts Options) (*Report, error) {
	log := opts.Log
	if log == nil {
		log = logger.Default()
	}
	tbl := opts.Resolvers
	if tbl == nil {
		tbl = resolver.Default()
	}
	if opts.OutputPath == "" {
		return nil, fmt.Errorf("convert: output path required")
	}

	cfg := applyOverrides(resolver.InferConfig(src, tbl), opts.Overrides)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("convert: %w (supply explicit dimensions for anything the source does not reveal)", err)
	}

	rep := &Report{
		RunID:      uuid.NewString(),
		Config:     cfg,
		OutputPath: opts.OutputPath,
	}
	log = log.With("run_id", rep.RunID)
	log.Info("starting conversion", "output", opts.OutputPath, "config", cfg.String())

	tmpPath := opts.OutputPath + ".tmp-" + rep.RunID[:8]
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", tmpPath, err)
	}
	cleanup := func(err error) (*Report, error) {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return nil, err
	}

	w, err := wtnt.NewWriter(f, cfg)
	if err != nil {
		return cleanup(err)
	}

	if err := writeEmbeddings(w, src, tbl, rep, log); err != nil {
		return cleanup(err)
	}

	for layer := 0; layer < int(cfg.NumLayers); layer++ {
		if err := ctx.Err(); err != nil {
			return cleanup(err)
		}
		log.Info("processing layer", "layer", layer)
		for role := wtnt.Role(0); role < wtnt.NumRoles; role++ {
			if err := writeRole(w, src, tbl, layer, role, rep, log); err != nil {
				return cleanup(err)
			}
		}
	}

	if err := w.Finalise(); err != nil {
		return cleanup(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	stat, err := os.Stat(tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}
	rep.FileSize = stat.Size()

	if err := os.Rename(tmpPath, opts.OutputPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	log.Info("conversion complete",
		"output", opts.OutputPath,
		"bytes", rep.FileSize,
		"quantized", rep.Quantized,
		"zero_filled", rep.ZeroFilled,
		"warnings", len(rep.Warnings))
	return rep, nil
}

func writeEmbeddings(w *wtnt.Writer, src source.Source, tbl *resolver.Table, rep *Report, log logger.Logger) error {
	cfg := w.Config()

	tok := loadEmbedding(src, rep, log, "token embeddings",
		tbl.ResolveTokenEmbedding, cfg.TokenEmbeddingElems())
	if err := w.WriteTokenEmbeddings(tok); err != nil {
		return err
	}

	pos := loadEmbedding(src, rep, log, "position embeddings",
		tbl.ResolvePositionEmbedding, cfg.PositionEmbeddingElems())
	return w.WritePositionEmbeddings(pos)
}

// loadEmbedding returns the embedding data, or nil when the table is
// missing or unusable so the writer zero-fills the block.
func loadEmbedding(src source.Source, rep *Report, log logger.Logger, what string,
	resolve func(source.Source) (string, bool), wantElems int) []float32 {

	name, ok := resolve(src)
	if !ok {
		warn(rep, log, fmt.Sprintf("%s not found, writing zeros", what))
		return nil
	}
	t, err := src.Tensor(name)
	if err != nil {
		warn(rep, log, fmt.Sprintf("%s (%s): %v, writing zeros", what, name, err))
		return nil
	}
	if len(t.Data) != wantElems {
		warn(rep, log, fmt.Sprintf("%s (%s): have %d elements, want %d, writing zeros",
			what, name, len(t.Data), wantElems))
		return nil
	}
	log.Info("writing "+what, "tensor", name, "shape", t.Shape)
	return t.Data
}

func writeRole(w *wtnt.Writer, src source.Source, tbl *resolver.Table,
	layer int, role wtnt.Role, rep *Report, log logger.Logger) error {

	name, ok := tbl.ResolveRole(src, layer, role)
	if !ok {
		warn(rep, log, fmt.Sprintf("layer %d: %s not found, writing zeros", layer, role))
		rep.ZeroFilled++
		return w.WriteZeroBlock(layer, role)
	}

	t, err := src.Tensor(name)
	if err != nil {
		warn(rep, log, fmt.Sprintf("layer %d: %s (%s): %v, writing zeros", layer, role, name, err))
		rep.ZeroFilled++
		return w.WriteZeroBlock(layer, role)
	}

	if msg := degenerate(t.Data); msg != "" {
		warn(rep, log, fmt.Sprintf("layer %d: %s (%s) is %s", layer, role, name, msg))
	}

	q := quant.Quantize(t.Data)
	packed := quant.Pack(q.Codes)
	if err := w.WriteBlock(layer, role, q.Scale, q.ZeroPoint, packed); err != nil {
		return err
	}
	rep.Quantized++
	log.Debug("quantized block",
		"layer", layer,
		"role", role.String(),
		"tensor", name,
		"elems", len(t.Data),
		"packed_bytes", len(packed),
		"scale", q.Scale)
	return nil
}

// degenerate describes tensors the quantizer handles with its documented
// fallback policy; they are surfaced as warnings, never errors.
func degenerate(data []float32) string {
	allZero := true
	for _, v := range data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "non-finite"
		}
		if v != 0 {
			allZero = false
		}
	}
	if allZero {
		return "all-zero"
	}
	return ""
}

func warn(rep *Report, log logger.Logger, msg string) {
	rep.Warnings = append(rep.Warnings, msg)
	log.Warn(msg)
}

func applyOverrides(cfg, over wtnt.ModelConfig) wtnt.ModelConfig {
	if over.NumLayers != 0 {
		cfg.NumLayers = over.NumLayers
	}
	if over.HiddenSize != 0 {
		cfg.HiddenSize = over.HiddenSize
		if over.IntermediateSize == 0 {
			cfg.IntermediateSize = over.HiddenSize * 4
		}
		if over.NumHeads == 0 {
			cfg.NumHeads = max(1, over.HiddenSize/64)
		}
	}
	if over.NumHeads != 0 {
		cfg.NumHeads = over.NumHeads
	}
	if over.VocabSize != 0 {
		cfg.VocabSize = over.VocabSize
	}
	if over.MaxSeqLen != 0 {
		cfg.MaxSeqLen = over.MaxSeqLen
	}
	if over.IntermediateSize != 0 {
		cfg.IntermediateSize = over.IntermediateSize
	}
	return cfg
}
