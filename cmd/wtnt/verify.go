package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/wtnt/internal/logger"
	"github.com/samcharles93/wtnt/pkg/wtnt"
)

func verifyCmd() *cli.Command {
	var modelPath string

	return &cli.Command{
		Name:  "verify",
		Usage: "Re-hash every section of a .wtnt container against its checksum index",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to .wtnt file",
				Required:    true,
				Destination: &modelPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			f, err := wtnt.Open(modelPath)
			if err != nil {
				return fmt.Errorf("open %s: %w", modelPath, err)
			}
			defer func() { _ = f.Close() }()

			var failed int
			for _, check := range f.VerifySections() {
				status := "ok"
				if !check.OK {
					status = "MISMATCH"
					failed++
				}
				fmt.Printf("%-24s %s\n", check.Name, status)
			}
			if failed > 0 {
				return fmt.Errorf("verify %s: %d of %d sections failed", modelPath, failed, len(f.Checksums))
			}
			log.Info("all sections verified", "path", modelPath, "sections", len(f.Checksums))
			return nil
		},
	}
}
