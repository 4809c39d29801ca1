package main

import (
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/parley/internal/inference"
	"github.com/samcharles93/parley/internal/template"
)

const envPrefix = "PARLEY_"

func env(name string) cli.ValueSourceChain {
	return cli.EnvVars(envPrefix + name)
}

var (
	modelPath  string
	modelsPath string
	maxContext int64

	templateName string
	systemPrompt string
	stopString   string

	temp          float64
	topK          int64
	topP          float64
	minP          float64
	repeatPenalty float64
	repeatLastN   int64
	seed          int64
	maxTokens     int64

	noCache       bool
	loopback      bool
	loopbackDelay time.Duration

	stateFile           string
	historyDB           string
	snapshotCompression string

	logLevel  string
	logFormat string
	debug     bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to a text corpus, or \"builtin\" for the embedded one",
			Sources:     env("MODEL"),
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "directory of corpus files to choose from when --model is not set",
			Sources:     env("MODELS_DIR"),
			Destination: &modelsPath,
		},
		&cli.Int64Flag{
			Name:        "max-context",
			Aliases:     []string{"max-ctx", "ctx", "c"},
			Usage:       "context window size in tokens",
			Value:       inference.DefaultCapacity,
			Sources:     env("MAX_CONTEXT"),
			Destination: &maxContext,
		},
		&cli.StringFlag{
			Name:        "template",
			Usage:       "prompt template (" + strings.Join(template.Names(), ", ") + ")",
			Value:       template.DefaultName,
			Sources:     env("TEMPLATE"),
			Destination: &templateName,
		},
		&cli.StringFlag{
			Name:        "system",
			Aliases:     []string{"sys"},
			Usage:       "system prompt",
			Sources:     env("SYSTEM_PROMPT"),
			Destination: &systemPrompt,
		},
		&cli.StringFlag{
			Name:        "stop",
			Usage:       "override the template's stop string",
			Destination: &stopString,
		},
	}
}

func samplingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{
			Name:        "temp",
			Aliases:     []string{"temperature", "t"},
			Usage:       "sampling temperature (0 = greedy)",
			Value:       0.8,
			Destination: &temp,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Aliases:     []string{"top_k", "topk"},
			Usage:       "top-k sampling parameter",
			Value:       40,
			Destination: &topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Aliases:     []string{"top_p", "topp"},
			Usage:       "top_p sampling parameter",
			Value:       0.95,
			Destination: &topP,
		},
		&cli.Float64Flag{
			Name:        "min-p",
			Aliases:     []string{"min_p", "minp"},
			Usage:       "min_p sampling parameter (0.0 = disabled)",
			Value:       0.05,
			Destination: &minP,
		},
		&cli.Float64Flag{
			Name:        "repeat-penalty",
			Aliases:     []string{"repeat_penalty"},
			Usage:       "repetition penalty (1.0 = disabled)",
			Value:       1.1,
			Destination: &repeatPenalty,
		},
		&cli.Int64Flag{
			Name:        "repeat-last-n",
			Aliases:     []string{"repeat_last_n"},
			Usage:       "last n tokens to penalize",
			Value:       64,
			Destination: &repeatLastN,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampling RNG seed (-1 = random)",
			Value:       -1,
			Destination: &seed,
		},
		&cli.Int64Flag{
			Name:        "max-tokens",
			Aliases:     []string{"n"},
			Usage:       "maximum tokens per reply (0 = until the model stops)",
			Sources:     env("MAX_TOKENS"),
			Destination: &maxTokens,
		},
	}
}

func sessionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "no-cache",
			Usage:       "re-read the whole conversation every turn instead of keeping the runtime cache",
			Sources:     env("NO_CACHE"),
			Destination: &noCache,
		},
		&cli.BoolFlag{
			Name:        "loopback",
			Usage:       "answer with a canned response instead of running the model",
			Sources:     env("LOOPBACK"),
			Destination: &loopback,
		},
		&cli.DurationFlag{
			Name:        "loopback-delay",
			Usage:       "pause between loopback lines",
			Value:       inference.DefaultLoopbackDelay,
			Destination: &loopbackDelay,
		},
		&cli.StringFlag{
			Name:        "state-file",
			Usage:       "snapshot file used to resume the runtime cache across runs",
			Sources:     env("STATE_FILE"),
			Destination: &stateFile,
		},
		&cli.StringFlag{
			Name:        "history-db",
			Usage:       "SQLite file the conversation is mirrored to and replayed from",
			Sources:     env("HISTORY_DB"),
			Destination: &historyDB,
		},
		&cli.StringFlag{
			Name:        "snapshot-compression",
			Usage:       "snapshot payload compression (none, lz4, zstd)",
			Value:       "zstd",
			Destination: &snapshotCompression,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     env("LOG_LEVEL"),
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Sources:     env("LOG_FORMAT"),
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
