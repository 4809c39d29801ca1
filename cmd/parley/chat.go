package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/parley/internal/inference"
	"github.com/samcharles93/parley/internal/logger"
)

func chatCmd() *cli.Command {
	var (
		prompt     string
		streamMode string
		rawOutput  bool
	)

	flags := slices.Concat(commonModelFlags(), samplingFlags(), sessionFlags(), []cli.Flag{
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "send one message, print the reply and exit",
			Destination: &prompt,
		},
		&cli.StringFlag{
			Name:        "stream-mode",
			Usage:       "how replies are drawn (instant, smooth, typewriter, quiet)",
			Value:       string(StreamInstant),
			Sources:     env("STREAM_MODE"),
			Destination: &streamMode,
		},
		&cli.BoolFlag{
			Name:        "raw-output",
			Usage:       "escape control characters in replies",
			Destination: &rawOutput,
		},
	})

	return &cli.Command{
		Name:    "chat",
		Aliases: []string{"run"},
		Usage:   "Chat with the model in the terminal",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.FromContext(ctx)
			applyConfig(c, fileConfig)
			applyChatConfig(c, fileConfig, &streamMode)

			mode, err := ParseStreamMode(streamMode)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			// Paced modes only make sense on a terminal.
			if !stdoutIsTTY() && !c.IsSet("stream-mode") {
				mode = StreamInstant
			}

			env, err := openChatEnv(ctx, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = env.Close() }()

			loop := &chatLoop{
				env:    env,
				editor: newLineEditor(os.Stdin),
				out:    os.Stdout,
				errOut: os.Stderr,
				mode:   mode,
				raw:    rawOutput,
			}
			stop := loop.watchInterrupts(func() {
				_ = env.Close()
				os.Exit(130)
			})
			defer stop()

			if strings.TrimSpace(prompt) != "" {
				if _, err := loop.turn(ctx, prompt); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				return nil
			}
			return loop.run(ctx)
		},
	}
}

// chatLoop drives a session from a line editor and renders replies.
type chatLoop struct {
	env    *chatEnv
	editor *lineEditor
	out    io.Writer
	errOut io.Writer
	mode   StreamMode
	raw    bool

	mu     sync.Mutex
	cancel func()
}

// watchInterrupts cancels the running generation on SIGINT. With nothing
// running, idle is called instead.
func (l *chatLoop) watchInterrupts(idle func()) (stop func()) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-sig:
				if !l.interrupt() {
					fmt.Fprintln(l.errOut)
					idle()
					return
				}
			}
		}
	}()
	return func() {
		signal.Stop(sig)
		close(done)
	}
}

func (l *chatLoop) interrupt() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		return false
	}
	l.cancel()
	return true
}

func (l *chatLoop) setCancel(fn func()) {
	l.mu.Lock()
	l.cancel = fn
	l.mu.Unlock()
}

func (l *chatLoop) run(ctx context.Context) error {
	s := l.env.current()
	fmt.Fprintf(l.errOut, "Model: %s (template %s, loaded in %s)\n", modelDisplayName(modelsPath, l.env.model), l.env.tmpl.Name, l.env.loadTime.Round(time.Millisecond))
	if n := s.History().Len(); n > 0 {
		fmt.Fprintf(l.errOut, "Resumed conversation with %d turns.\n", n)
	}
	fmt.Fprintln(l.errOut, "Interactive mode. Type /exit to quit, /clear to start over, /stats for session counters.")

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := l.editor.readInteractiveLine("> ")
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, errInterrupted):
			return nil
		case err != nil:
			return err
		}

		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/clear":
			if err := l.env.clear(ctx); err != nil {
				fmt.Fprintf(l.errOut, "error: %v\n", err)
			} else {
				fmt.Fprintln(l.errOut, "History cleared.")
			}
			continue
		case "/stats":
			l.printStats()
			continue
		}

		if _, err := l.turn(ctx, input); err != nil {
			fmt.Fprintf(l.errOut, "error: %v\n", err)
			switch {
			case errors.Is(err, inference.ErrClosed):
				return err
			case errors.Is(err, inference.ErrRuntimeFault), errors.Is(err, inference.ErrSessionBroken):
				fmt.Fprintln(l.errOut, "The runtime failed and will be reloaded; send the message again to retry.")
			}
		}
	}
}

// turn records input as a user turn and streams the reply.
func (l *chatLoop) turn(ctx context.Context, input string) (*inference.Result, error) {
	s, err := l.env.healthy()
	if err != nil {
		return nil, err
	}
	s.History().AppendInput(input)

	g := s.Start(ctx, input)
	l.setCancel(g.Cancel)
	defer l.setCancel(nil)

	w := NewStreamWriter(l.mode, l.out, l.raw)
	for delta := range g.Deltas() {
		w.Write(delta)
	}
	w.Flush()

	res, err := g.Wait()
	if err != nil {
		fmt.Fprintln(l.out)
		return nil, err
	}
	switch {
	case res.Reason == inference.ReasonCancelled:
		fmt.Fprintln(l.out, "\n[stopped]")
	case res.Empty:
		fmt.Fprintln(l.out, res.Text)
	default:
		fmt.Fprintln(l.out)
	}
	fmt.Fprintf(l.errOut, "Stats: %.2f TPS (%d tokens in %s)\n", res.Stats.TPS, res.Stats.TokensGenerated, res.Stats.Duration)

	l.env.afterTurn(ctx, res)
	return res, nil
}

func (l *chatLoop) printStats() {
	data, err := json.MarshalIndent(l.env.current().Stats(), "", "  ")
	if err != nil {
		fmt.Fprintf(l.errOut, "error: %v\n", err)
		return
	}
	fmt.Fprintln(l.errOut, string(data))
}
