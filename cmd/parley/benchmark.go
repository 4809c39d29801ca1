package main

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/parley/internal/history"
	"github.com/samcharles93/parley/internal/inference"
	"github.com/samcharles93/parley/internal/logger"
)

func benchmarkCmd() *cli.Command {
	var (
		warmupRuns int64
		benchRuns  int64
		prompt     string
	)

	flags := slices.Concat(commonModelFlags(), samplingFlags(), []cli.Flag{
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of warmup runs",
			Value:       1,
			Destination: &warmupRuns,
		},
		&cli.Int64Flag{
			Name:        "runs",
			Usage:       "number of benchmark runs",
			Value:       3,
			Destination: &benchRuns,
		},
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt text for benchmarking",
			Value:       "Tell me about yourself.",
			Destination: &prompt,
		},
	})

	return &cli.Command{
		Name:    "benchmark",
		Aliases: []string{"bench"},
		Usage:   "Measure generation speed over repeated single-turn chats",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.FromContext(ctx)
			applyConfig(c, fileConfig)
			if benchRuns < 1 {
				return cli.Exit("error: --runs must be at least 1", 1)
			}
			if !c.IsSet("max-tokens") && maxTokens == 0 {
				maxTokens = 128
			}
			if !c.IsSet("seed") {
				seed = 42
			}
			// Every run starts from an empty conversation.
			historyDB, stateFile = "", ""

			log.Info("loading model for benchmark", "model", modelPath)
			env, err := openChatEnv(ctx, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = env.Close() }()

			fmt.Println("=== Parley Benchmark ===")
			fmt.Printf("Model:      %s\n", modelDisplayName(modelsPath, env.model))
			fmt.Printf("Template:   %s\n", env.tmpl.Name)
			fmt.Printf("Context:    %d\n", maxContext)
			fmt.Printf("CPUs:       %d\n", runtime.NumCPU())
			fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
			fmt.Printf("Load:       %s\n", env.loadTime.Round(time.Millisecond))
			fmt.Printf("Max tokens: %d\n", maxTokens)
			fmt.Printf("Warmup:     %d runs\n", warmupRuns)
			fmt.Printf("Runs:       %d\n", benchRuns)
			fmt.Println()

			s := env.current()
			runOnce := func() (*inference.Result, error) {
				if err := s.ClearHistory(); err != nil {
					return nil, err
				}
				s.History().Append(history.RoleUser, prompt)
				return s.Respond(ctx, prompt, nil)
			}

			for i := range int(warmupRuns) {
				log.Info("warmup run", "run", i+1)
				if _, err := runOnce(); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup run %d: %v", i+1, err), 1)
				}
			}

			results := make([]inference.Stats, 0, benchRuns)
			for i := range int(benchRuns) {
				log.Info("benchmark run", "run", i+1)
				res, err := runOnce()
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: benchmark run %d: %v", i+1, err), 1)
				}
				results = append(results, res.Stats)
			}

			fmt.Println("=== Results ===")
			fmt.Printf("%-6s %8s %8s %10s %10s\n", "Run", "Prompt", "Tokens", "Duration", "TPS")

			var sumTPS float64
			var sumTokens int
			for i, r := range results {
				fmt.Printf("%-6d %8d %8d %10s %10.2f\n",
					i+1, r.PromptTokens, r.TokensGenerated, r.Duration.Round(time.Millisecond), r.TPS)
				sumTPS += r.TPS
				sumTokens += r.TokensGenerated
			}
			n := float64(len(results))
			fmt.Printf("\n%-6s %8s %8.1f %10s %10.2f\n", "Avg", "", float64(sumTokens)/n, "", sumTPS/n)

			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			fmt.Printf("\nMemory: %s alloc, %s sys\n", humanize.IBytes(mem.Alloc), humanize.IBytes(mem.Sys))
			return nil
		},
	}
}
