package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/wtnt/pkg/wtnt"
)

func inspectCmd() *cli.Command {
	var (
		modelPath     string
		showChecksums bool
		showBlocks    bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the contents of a .wtnt container",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to .wtnt file",
				Required:    true,
				Destination: &modelPath,
			},
			&cli.BoolFlag{Name: "checksums", Usage: "list the checksum index", Destination: &showChecksums},
			&cli.BoolFlag{Name: "blocks", Usage: "list per-block quantization metadata", Destination: &showBlocks},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			f, err := wtnt.Open(modelPath)
			if err != nil {
				return fmt.Errorf("open %s: %w", modelPath, err)
			}
			defer func() { _ = f.Close() }()

			cfg := f.Config()
			fmt.Printf("file:               %s (%d bytes)\n", modelPath, len(f.Data))
			fmt.Printf("format version:     %d\n", f.Header.Version)
			fmt.Printf("layers:             %d\n", cfg.NumLayers)
			fmt.Printf("hidden size:        %d\n", cfg.HiddenSize)
			fmt.Printf("attention heads:    %d\n", cfg.NumHeads)
			fmt.Printf("vocab size:         %d\n", cfg.VocabSize)
			fmt.Printf("max seq len:        %d\n", cfg.MaxSeqLen)
			fmt.Printf("intermediate size:  %d\n", cfg.IntermediateSize)
			fmt.Printf("sections:           %d\n", len(f.Checksums))

			if showBlocks {
				fmt.Println()
				fmt.Printf("%-24s %12s %6s %12s\n", "BLOCK", "SCALE", "ZP", "PACKED BYTES")
				for layer := 0; layer < int(cfg.NumLayers); layer++ {
					for role := wtnt.Role(0); role < wtnt.NumRoles; role++ {
						meta, packed, err := f.Block(layer, role)
						if err != nil {
							return err
						}
						fmt.Printf("%-24s %12g %6d %12d\n",
							wtnt.SectionName(layer, role), meta.Scale, meta.ZeroPoint, len(packed))
					}
				}
			}

			if showChecksums {
				fmt.Println()
				for _, e := range f.Checksums {
					fmt.Printf("%-24s %s\n", e.Name, hex.EncodeToString(e.Digest[:]))
				}
			}
			return nil
		},
	}
}
