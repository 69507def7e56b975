package main

import (
	"context"
	"fmt"
	"math"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/wtnt/internal/convert"
	"github.com/samcharles93/wtnt/internal/logger"
	"github.com/samcharles93/wtnt/internal/resolver"
	"github.com/samcharles93/wtnt/pkg/wtnt"
)

func convertCmd() *cli.Command {
	var (
		inputPath  string
		outputPath string
		resolvers  string

		numLayers        int
		hiddenSize       int
		numHeads         int
		vocabSize        int
		maxSeqLen        int
		intermediateSize int
	)

	return &cli.Command{
		Name:  "convert",
		Usage: "Convert a safetensors checkpoint into a .wtnt container",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"in"},
				Usage:       "Input .safetensors file",
				Required:    true,
				Destination: &inputPath,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"out"},
				Usage:       "Output .wtnt path",
				Required:    true,
				Destination: &outputPath,
			},
			&cli.StringFlag{
				Name:        "resolvers",
				Usage:       "YAML file mapping weight roles to tensor name patterns",
				Destination: &resolvers,
			},

			// Dimension overrides; anything left at zero is inferred from
			// the source tensors.
			&cli.IntFlag{Name: "num-layers", Usage: "override layer count", Destination: &numLayers},
			&cli.IntFlag{Name: "hidden-size", Usage: "override hidden size", Destination: &hiddenSize},
			&cli.IntFlag{Name: "num-heads", Usage: "override attention head count", Destination: &numHeads},
			&cli.IntFlag{Name: "vocab-size", Usage: "override vocabulary size", Destination: &vocabSize},
			&cli.IntFlag{Name: "max-seq-len", Usage: "override maximum sequence length", Destination: &maxSeqLen},
			&cli.IntFlag{Name: "intermediate-size", Usage: "override feed-forward width", Destination: &intermediateSize},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			tbl := resolver.Default()
			if path := resolverPath(cmd, resolvers); path != "" {
				loaded, err := resolver.Load(path)
				if err != nil {
					return fmt.Errorf("load resolvers: %w", err)
				}
				tbl = loaded
			}

			overrides, err := dimensionOverrides(numLayers, hiddenSize, numHeads, vocabSize, maxSeqLen, intermediateSize)
			if err != nil {
				return err
			}

			rep, err := convert.Run(ctx, convert.Options{
				InputPath:  inputPath,
				OutputPath: outputPath,
				Resolvers:  tbl,
				Overrides:  overrides,
				Log:        log,
			})
			if err != nil {
				return fmt.Errorf("convert: %w", err)
			}

			fmt.Printf("wrote %s (%d bytes)\n", rep.OutputPath, rep.FileSize)
			fmt.Printf("config: %s\n", rep.Config.String())
			fmt.Printf("blocks: %d quantized, %d zero-filled\n", rep.Quantized, rep.ZeroFilled)
			for _, w := range rep.Warnings {
				fmt.Printf("warning: %s\n", w)
			}
			return nil
		},
	}
}

// dimensionOverrides validates the override flags and builds the config
// passed to the converter. Zero means "infer"; negative or u32-overflowing
// values are rejected instead of silently wrapping.
func dimensionOverrides(numLayers, hiddenSize, numHeads, vocabSize, maxSeqLen, intermediateSize int) (wtnt.ModelConfig, error) {
	var cfg wtnt.ModelConfig
	dims := []struct {
		flag  string
		value int
		field *uint32
	}{
		{"num-layers", numLayers, &cfg.NumLayers},
		{"hidden-size", hiddenSize, &cfg.HiddenSize},
		{"num-heads", numHeads, &cfg.NumHeads},
		{"vocab-size", vocabSize, &cfg.VocabSize},
		{"max-seq-len", maxSeqLen, &cfg.MaxSeqLen},
		{"intermediate-size", intermediateSize, &cfg.IntermediateSize},
	}
	for _, d := range dims {
		if d.value < 0 {
			return wtnt.ModelConfig{}, fmt.Errorf("--%s must not be negative, got %d", d.flag, d.value)
		}
		if uint64(d.value) > math.MaxUint32 {
			return wtnt.ModelConfig{}, fmt.Errorf("--%s %d does not fit the container's u32 field", d.flag, d.value)
		}
		*d.field = uint32(d.value)
	}
	return cfg, nil
}

// resolverPath prefers the flag, then the config file.
func resolverPath(cmd *cli.Command, flagValue string) string {
	if cmd.IsSet("resolvers") {
		return flagValue
	}
	if cfg := LoadConfig(); cfg.Resolvers != "" {
		return cfg.Resolvers
	}
	return flagValue
}
