package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/parley/internal/logger"
	"github.com/samcharles93/parley/internal/runtime/toy"
)

func listModelsCmd() *cli.Command {
	return &cli.Command{
		Name:    "list-models",
		Aliases: []string{"ls", "models"},
		Usage:   "List the corpus files available as models",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "models-path",
				Aliases:     []string{"path"},
				Usage:       "directory of corpus files",
				Sources:     env("MODELS_DIR"),
				Destination: &modelsPath,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.FromContext(ctx)
			if fileConfig.ModelsDir != "" && !c.IsSet("models-path") {
				modelsPath = fileConfig.ModelsDir
			}

			dir, err := expandPath(modelsPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if dir == "" {
				return cli.Exit("error: --models-path is required unless PARLEY_MODELS_DIR or models_dir is set", 1)
			}

			models, err := discoverModels(dir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if len(models) == 0 {
				log.Info("no models found", "path", dir)
				fmt.Printf("Only the %q model is available.\n", toy.BuiltinModel)
				return nil
			}

			fmt.Printf("Models in %s:\n\n", dir)
			for _, m := range models {
				name := modelDisplayName(dir, m)
				info, err := os.Stat(m)
				if err != nil {
					fmt.Printf("  %s\n", name)
					continue
				}
				fmt.Printf("  %-40s %8s  (%s)\n", name, humanize.IBytes(uint64(info.Size())), corpusSummary(m))
			}
			fmt.Printf("\n%d model(s) found, plus %q\n", len(models), toy.BuiltinModel)
			return nil
		},
	}
}

// corpusSummary reports the line and word count of a corpus file.
func corpusSummary(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "unreadable"
	}
	text := string(raw)
	return fmt.Sprintf("%d lines, %d words", strings.Count(text, "\n"), len(strings.Fields(text)))
}
