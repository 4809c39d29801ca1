package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/parley/internal/template"
)

// Config represents the parley configuration file (~/.config/parley/config.yaml).
// Scalar fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	Model      string `yaml:"model"`
	ModelsDir  string `yaml:"models_dir"`
	MaxContext *int64 `yaml:"max_context"`

	Template     string `yaml:"template"`
	SystemPrompt string `yaml:"system_prompt"`

	// Sampling defaults
	Temperature   *float64 `yaml:"temperature"`
	TopK          *int64   `yaml:"top_k"`
	TopP          *float64 `yaml:"top_p"`
	MinP          *float64 `yaml:"min_p"`
	RepeatPenalty *float64 `yaml:"repeat_penalty"`
	Seed          *int64   `yaml:"seed"`
	MaxTokens     *int64   `yaml:"max_tokens"`

	// Session
	NoCache             *bool  `yaml:"no_cache"`
	StateFile           string `yaml:"state_file"`
	HistoryDB           string `yaml:"history_db"`
	SnapshotCompression string `yaml:"snapshot_compression"`

	// Output
	StreamMode string `yaml:"stream_mode"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.MaxContext, validation.Min(int64(16))),
		validation.Field(&c.Template, validation.In(anySlice(template.Names())...)),
		validation.Field(&c.Temperature, validation.Min(0.0)),
		validation.Field(&c.TopK, validation.Min(int64(0))),
		validation.Field(&c.TopP, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.MinP, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.RepeatPenalty, validation.Min(0.0)),
		validation.Field(&c.MaxTokens, validation.Min(int64(0))),
		validation.Field(&c.SnapshotCompression, validation.In("none", "lz4", "zstd")),
		validation.Field(&c.StreamMode, validation.In(
			string(StreamInstant), string(StreamSmooth), string(StreamTypewriter), string(StreamQuiet),
		)),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "warning", "error")),
		validation.Field(&c.LogFormat, validation.In("pretty", "json", "text")),
	)
}

func anySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// applyConfig applies config file defaults to the shared session flags when
// the corresponding CLI flag was not explicitly set.
func applyConfig(c *cli.Command, cfg Config) {
	setString := func(flag, v string, dst *string) {
		if v != "" && !c.IsSet(flag) {
			*dst = v
		}
	}
	setString("model", cfg.Model, &modelPath)
	setString("models-path", cfg.ModelsDir, &modelsPath)
	setString("template", cfg.Template, &templateName)
	setString("system", cfg.SystemPrompt, &systemPrompt)
	setString("state-file", cfg.StateFile, &stateFile)
	setString("history-db", cfg.HistoryDB, &historyDB)
	setString("snapshot-compression", cfg.SnapshotCompression, &snapshotCompression)

	if cfg.MaxContext != nil && !c.IsSet("max-context") {
		maxContext = *cfg.MaxContext
	}
	if cfg.Temperature != nil && !c.IsSet("temp") {
		temp = *cfg.Temperature
	}
	if cfg.TopK != nil && !c.IsSet("top-k") {
		topK = *cfg.TopK
	}
	if cfg.TopP != nil && !c.IsSet("top-p") {
		topP = *cfg.TopP
	}
	if cfg.MinP != nil && !c.IsSet("min-p") {
		minP = *cfg.MinP
	}
	if cfg.RepeatPenalty != nil && !c.IsSet("repeat-penalty") {
		repeatPenalty = *cfg.RepeatPenalty
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		seed = *cfg.Seed
	}
	if cfg.MaxTokens != nil && !c.IsSet("max-tokens") {
		maxTokens = *cfg.MaxTokens
	}
	if cfg.NoCache != nil && !c.IsSet("no-cache") {
		noCache = *cfg.NoCache
	}
}

// applyLoggingConfig applies the logging settings, which are read before any
// subcommand runs.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyChatConfig applies config file defaults to chat-only flags.
func applyChatConfig(c *cli.Command, cfg Config, streamMode *string) {
	if cfg.StreamMode != "" && !c.IsSet("stream-mode") {
		*streamMode = cfg.StreamMode
	}
}

// applyServeConfig applies config file defaults to serve-only flags.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads and validates the config file at path. A missing file
// yields a zero Config.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
