package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/parley/internal/logger"
	"github.com/samcharles93/parley/internal/version"
)

// fileConfig holds the config file loaded before any subcommand runs.
var fileConfig Config

func main() {
	// A .env next to the binary is optional.
	_ = godotenv.Load()

	if err := newApp().Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	var configFile string

	return &cli.Command{
		Name:    "parley",
		Usage:   "Chat with a local language model in the terminal or over HTTP",
		Version: version.String(),
		Flags: append(loggingFlags(), &cli.StringFlag{
			Name:        "config",
			Usage:       "config file (default: $XDG_CONFIG_HOME/parley/config.yaml)",
			Sources:     env("CONFIG"),
			Destination: &configFile,
		}),
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			path := configPath()
			if configFile != "" {
				p, err := expandPath(configFile)
				if err != nil {
					return ctx, err
				}
				path = p
			}
			cfg, err := LoadConfig(path)
			if err != nil {
				return ctx, err
			}
			fileConfig = cfg
			applyLoggingConfig(c, cfg)

			level := logLevel
			if debug {
				level = "debug"
			}
			log, err := logger.Setup(os.Stderr, level, logFormat)
			if err != nil {
				return ctx, err
			}
			if path != "" && configFile != "" {
				log.Debug("loaded config", "path", path)
			}
			return logger.WithContext(ctx, log), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			chatCmd(),
			serveCmd(),
			listModelsCmd(),
			benchmarkCmd(),
			versionCmd(),
		},
	}
}
