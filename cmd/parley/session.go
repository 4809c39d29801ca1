package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/samcharles93/parley/internal/history"
	"github.com/samcharles93/parley/internal/inference"
	"github.com/samcharles93/parley/internal/logger"
	"github.com/samcharles93/parley/internal/logits"
	"github.com/samcharles93/parley/internal/runtime/toy"
	"github.com/samcharles93/parley/internal/snapshot"
	"github.com/samcharles93/parley/internal/template"
	"github.com/samcharles93/parley/internal/transcript"
)

// chatEnv is a loaded session plus the stores that outlive the process.
type chatEnv struct {
	tmpl     template.Template
	model    string
	log      logger.Logger
	loadTime time.Duration
	loader   inference.Loader
	opts     inference.Options

	store       *transcript.Store
	statePath   string
	compression snapshot.Compression

	mu        sync.Mutex
	session   *inference.Session
	lastSaved time.Time
}

func samplerConfig() logits.SamplerConfig {
	s := seed
	if s == -1 {
		s = time.Now().UnixNano()
	}
	return logits.SamplerConfig{
		Seed:          s,
		Temperature:   float32(temp),
		TopK:          int(topK),
		TopP:          float32(topP),
		MinP:          float32(minP),
		RepeatPenalty: float32(repeatPenalty),
		RepeatLastN:   int(repeatLastN),
	}
}

func sessionOptions(log logger.Logger) inference.Options {
	opts := inference.DefaultOptions()
	opts.Capacity = int(maxContext)
	opts.Caching = !noCache
	opts.Loopback = loopback
	opts.LoopbackDelay = loopbackDelay
	opts.MaxTokens = int(maxTokens)
	opts.Logger = log
	return opts
}

// openChatEnv resolves the model, loads the session and reconnects it to the
// transcript database and state file named by the flags.
func openChatEnv(ctx context.Context, log logger.Logger) (_ *chatEnv, err error) {
	compression, err := snapshot.ParseCompression(snapshotCompression)
	if err != nil {
		return nil, err
	}
	path, err := resolveModelPath(modelPath, modelsPath, os.Stdin, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("resolve model: %w", err)
	}
	if maxTokens < 0 {
		return nil, fmt.Errorf("--max-tokens must not be negative, got %d", maxTokens)
	}

	env := &chatEnv{model: path, log: log, compression: compression}
	defer func() {
		if err != nil {
			_ = env.Close()
		}
	}()

	hist := history.NewLog()
	if historyDB != "" {
		if err := env.openTranscript(ctx, hist); err != nil {
			return nil, err
		}
	}

	loadStart := time.Now()
	env.loader = inference.Loader{
		Runtime:      toy.Loader{Sampler: samplerConfig()},
		Template:     templateName,
		SystemPrompt: systemPrompt,
		Stop:         stopString,
	}
	env.opts = sessionOptions(log)
	res, err := env.loader.Load(path, hist, env.opts)
	if err != nil {
		return nil, err
	}
	env.session = res.Session
	env.tmpl = res.Template
	env.loadTime = time.Since(loadStart)

	if stateFile != "" {
		env.statePath, err = resolveDataPath(stateFile)
		if err != nil {
			return nil, fmt.Errorf("state file: %w", err)
		}
		env.restoreState()
	}
	return env, nil
}

// current returns the live session. It changes only when a faulted session
// is reloaded.
func (e *chatEnv) current() *inference.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// healthy returns the live session, reloading the runtime first if a fault
// broke it. The conversation is kept.
func (e *chatEnv) healthy() (*inference.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.session.Broken() {
		return e.session, nil
	}
	e.log.Warn("reloading runtime after a fault", "model", e.model)
	res, err := e.loader.Reload(e.session, e.model, e.opts)
	if err != nil {
		return nil, fmt.Errorf("reload session: %w", err)
	}
	e.session = res.Session
	return e.session, nil
}

func (e *chatEnv) openTranscript(ctx context.Context, hist *history.Log) error {
	path, err := resolveDataPath(historyDB)
	if err != nil {
		return fmt.Errorf("history db: %w", err)
	}
	store, err := transcript.Open(ctx, path)
	if err != nil {
		return err
	}
	e.store = store

	n, err := store.Replay(ctx, hist)
	if err != nil {
		return err
	}
	if n > 0 {
		e.log.Info("replayed conversation", "turns", n, "path", path)
	}

	// The observer runs under the log's lock, so keep it to a single insert.
	bg := context.WithoutCancel(ctx)
	hist.Observe(func(t history.Turn) {
		if err := store.Append(bg, t); err != nil {
			e.log.Warn("could not record turn", "id", t.ID, "err", err)
		}
	})
	return nil
}

func (e *chatEnv) restoreState() {
	if noCache || loopback {
		return
	}
	st, err := snapshot.ReadFile(e.statePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return
	case err != nil:
		e.log.Warn("ignoring unreadable state file", "path", e.statePath, "err", err)
		return
	}
	if err := e.current().RestoreSnapshot(st); err != nil {
		e.log.Warn("could not restore state file", "path", e.statePath, "err", err)
		return
	}
	e.lastSaved = st.CapturedAt
}

// afterTurn persists the state captured by the last turn, if it is new.
func (e *chatEnv) afterTurn(_ context.Context, _ *inference.Result) {
	if e.statePath == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.session.Snapshot()
	if !ok {
		return
	}
	if !st.CapturedAt.After(e.lastSaved) {
		return
	}
	if err := snapshot.WriteFile(e.statePath, st, e.compression); err != nil {
		e.log.Warn("could not save state file", "path", e.statePath, "err", err)
		return
	}
	e.lastSaved = st.CapturedAt
	e.log.Debug("saved state file", "path", e.statePath, "bytes", len(st.Data), "occupied", st.Occupied)
}

// forget drops everything persisted for the conversation. The session itself
// is cleared by the caller.
func (e *chatEnv) forget(ctx context.Context) error {
	var errs []error
	if e.store != nil {
		errs = append(errs, e.store.Clear(ctx))
	}
	if e.statePath != "" {
		errs = append(errs, snapshot.Remove(e.statePath))
		e.mu.Lock()
		e.lastSaved = time.Time{}
		e.mu.Unlock()
	}
	return errors.Join(errs...)
}

// clear resets the session and its persisted conversation.
func (e *chatEnv) clear(ctx context.Context) error {
	s, err := e.healthy()
	if err != nil {
		return err
	}
	if err := s.ClearHistory(); err != nil {
		return err
	}
	return e.forget(ctx)
}

func (e *chatEnv) Close() error {
	var errs []error
	if s := e.current(); s != nil {
		errs = append(errs, s.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	return errors.Join(errs...)
}
