package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samcharles93/parley/internal/history"
	"github.com/samcharles93/parley/internal/logger"
	"github.com/samcharles93/parley/internal/runtime"
	"github.com/samcharles93/parley/internal/template"
	"github.com/samcharles93/parley/internal/tokenizer"
)

// maxDecodeWarnings bounds consecutive recoverable decode statuses before a
// step is treated as failed.
const maxDecodeWarnings = 8

const loopbackHeader = "This is a test loop-back response:\n"

// Session runs one conversation against one runtime. At most one generation
// is in flight; starting another cancels the previous one and waits for it
// to settle.
type Session struct {
	opts Options
	log  logger.Logger
	tmpl template.Template
	hist *history.Log

	taskMu sync.Mutex
	task   *Generation

	// mu is held by the running generation and guards everything below.
	mu          sync.Mutex
	rt          runtime.Runtime
	codec       *tokenizer.Codec
	window      *Window
	batch       *runtime.Batch
	matcher     *StopMatcher
	inputTokens int
	broken      error
	closed      bool

	saved  atomic.Pointer[SessionState]
	phase  atomic.Int32
	stats  atomic.Pointer[SessionStats]
	output currentOutput
}

var _ Engine = (*Session)(nil)

func NewSession(rt runtime.Runtime, tmpl template.Template, hist *history.Log, opts Options) (*Session, error) {
	if rt == nil {
		return nil, errors.New("runtime is required")
	}
	if opts.Capacity < 2 {
		return nil, fmt.Errorf("context capacity must be at least 2, got %d", opts.Capacity)
	}
	if opts.LoopbackDelay < 0 {
		opts.LoopbackDelay = 0
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if hist == nil {
		hist = history.NewLog()
	}
	log := opts.Logger.With("component", "session")
	s := &Session{
		opts:    opts,
		log:     log,
		tmpl:    tmpl,
		hist:    hist,
		rt:      rt,
		codec:   tokenizer.NewCodec(rt),
		window:  NewWindow(rt, opts.Capacity, log),
		batch:   runtime.NewBatch(opts.Capacity),
		matcher: NewStopMatcher(tmpl.Stop),
	}
	s.publish()
	return s, nil
}

func (s *Session) History() *history.Log { return s.hist }

func (s *Session) Template() template.Template { return s.tmpl }

// Broken reports whether a runtime fault has disabled the session.
func (s *Session) Broken() bool { return s.stats.Load().Broken }

func (s *Session) Phase() Phase { return Phase(s.phase.Load()) }

// CurrentOutput is the text streamed so far by the latest generation.
func (s *Session) CurrentOutput() string { return s.output.String() }

// Stats returns the counters as of the last phase change. It never blocks on
// a running generation.
func (s *Session) Stats() SessionStats {
	st := *s.stats.Load()
	st.Phase = s.Phase()
	st.Turns = s.hist.Len()
	return st
}

// Snapshot returns the last captured runtime state, if any.
func (s *Session) Snapshot() (SessionState, bool) {
	st := s.saved.Load()
	if st == nil {
		return SessionState{}, false
	}
	return *st, true
}

// RestoreSnapshot loads st into the runtime and makes it the state later
// turns resume from.
func (s *Session) RestoreSnapshot(st SessionState) error {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	s.stopLocked()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	if !s.opts.Caching {
		return errors.New("restore snapshot: caching is disabled")
	}
	if err := s.restore(st); err != nil {
		s.window.Reset()
		return err
	}
	s.saved.Store(&st)
	s.publishLocked()
	s.log.Info("restored session state", "bytes", len(st.Data), "occupied", s.window.Occupied())
	return nil
}

// Start launches a generation for input. The caller must drain
// Generation.Deltas until it is closed.
func (s *Session) Start(ctx context.Context, input string) *Generation {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	s.stopLocked()

	gctx, cancel := context.WithCancel(ctx)
	g := &Generation{
		deltas: make(chan string),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	s.task = g
	go s.run(gctx, g, input)
	return g
}

// Respond runs a generation to completion, passing each delta to stream.
func (s *Session) Respond(ctx context.Context, input string, stream StreamFunc) (*Result, error) {
	g := s.Start(ctx, input)
	for delta := range g.Deltas() {
		if stream != nil {
			stream(delta)
		}
	}
	return g.Wait()
}

// Stop cancels the in-flight generation, if any, and waits for it to finish.
func (s *Session) Stop() {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	s.stopLocked()
}

func (s *Session) stopLocked() {
	if g := s.task; g != nil {
		g.cancel()
		<-g.done
		s.task = nil
	}
}

// ClearHistory empties the conversation, the context window and any saved
// state. A broken session is cleared without calling its runtime and stays
// broken.
func (s *Session) ClearHistory() error {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	s.stopLocked()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.hist.Clear()
	s.batch.Clear()
	s.matcher.Reset()
	if s.broken != nil {
		s.window.Abandon()
	} else {
		s.window.Reset()
	}
	s.saved.Store(nil)
	s.inputTokens = 0
	s.output.reset()
	s.setPhase(PhaseIdle)
	s.publishLocked()
	s.log.Info("cleared history", "broken", s.broken != nil)
	return nil
}

func (s *Session) Close() error {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	s.stopLocked()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.batch.Clear()
	return s.rt.Close()
}

func (s *Session) run(ctx context.Context, g *Generation, input string) {
	defer func() {
		g.cancel()
		close(g.deltas)
		close(g.done)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publishLocked()
	defer func() {
		if rec := recover(); rec != nil {
			s.batch.Clear()
			s.broken = fmt.Errorf("panic during generation: %v", rec)
			s.window.Abandon()
			s.inputTokens = 0
			g.result, g.err = nil, fmt.Errorf("%w: %w", ErrRuntimeFault, s.broken)
			s.log.Error("generation panicked", "panic", rec)
			s.setPhase(PhaseIdle)
		}
	}()

	g.result, g.err = s.generate(ctx, g, input)
	s.setPhase(PhaseIdle)
}

func (s *Session) generate(ctx context.Context, g *Generation, input string) (*Result, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	s.output.reset()
	s.setPhase(PhasePreparing)
	if s.opts.Loopback {
		return s.loopback(ctx, g, input)
	}

	started := time.Now()
	turnStart, err := s.prepare(ctx, input)
	if err != nil {
		s.batch.Clear()
		s.inputTokens = 0
		s.setPhase(PhaseFailed)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return &Result{Reason: ReasonCancelled}, nil
		}
		return nil, err
	}
	stats := Stats{PromptTokens: s.inputTokens}
	s.publishLocked()

	s.setPhase(PhaseStreaming)
	text, reason, err := s.stream(ctx, g, &turnStart, &stats)
	stats.Duration = time.Since(started)
	if secs := stats.Duration.Seconds(); secs > 0 {
		stats.TPS = float64(stats.TokensGenerated) / secs
	}

	switch {
	case err != nil:
		s.unwind(turnStart)
		s.endTurn()
		s.setPhase(PhaseFailed)
		return nil, err
	case reason == ReasonCancelled:
		s.unwind(turnStart)
		s.endTurn()
		s.setPhase(PhaseCancelled)
		s.log.Debug("generation cancelled", "tokens", stats.TokensGenerated)
		return &Result{Text: text, Reason: reason, Stats: stats}, nil
	}

	s.setPhase(PhaseFinalizing)
	res := &Result{Reason: reason, Stats: stats}
	res.Text = SanitizeReply(text)
	if res.Text == "" {
		s.window.Rollback(turnStart)
		res.Text, res.Empty = EmptyPlaceholder, true
		s.log.Info("empty response, rolled back turn", "occupied", s.window.Occupied())
	} else {
		s.hist.Append(history.RoleAssistant, res.Text)
		if s.opts.Caching {
			s.capture()
		}
	}
	s.endTurn()
	s.log.Debug("generation finished", "reason", reason, "tokens", stats.TokensGenerated, "tps", stats.TPS)
	return res, nil
}

// prepare formats, encodes and decodes the prompt. It returns the window
// position the turn started at.
func (s *Session) prepare(ctx context.Context, input string) (int, error) {
	resumed := false
	if saved := s.saved.Load(); s.opts.Caching && saved != nil {
		if err := s.restore(*saved); err != nil {
			s.log.Warn("discarding saved state", "err", err)
			s.saved.Store(nil)
		} else {
			resumed = true
		}
	}
	if !resumed && s.window.Occupied() > 0 {
		s.window.Reset()
	}

	toks, err := s.encodePrompt(input, resumed)
	if err != nil {
		return 0, err
	}
	if len(toks) == 0 {
		return 0, ErrEmptyPrompt
	}
	s.inputTokens = len(toks)
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if n, err := s.window.MakeRoom(len(toks)); err != nil {
		return 0, err
	} else if n > 0 {
		s.log.Debug("trimmed before prompt", "trims", n, "prompt_tokens", len(toks))
	}
	turnStart := s.window.Occupied()

	s.batch.Clear()
	for i, tok := range toks {
		if err := s.window.Admit(s.batch, tok, i == len(toks)-1); err != nil {
			s.window.Rollback(turnStart)
			return 0, err
		}
	}
	if err := ctx.Err(); err != nil {
		s.window.Rollback(turnStart)
		return 0, err
	}

	status, err := s.decode()
	switch {
	case err != nil:
		s.unwind(turnStart)
		return 0, err
	case status.Warning():
		s.window.Rollback(turnStart)
		return 0, generationFailed("decode prompt", fmt.Errorf("runtime returned %s", status))
	}
	s.log.Debug("prompt decoded", "tokens", len(toks), "resumed", resumed, "occupied", s.window.Occupied())
	return turnStart, nil
}

// encodePrompt renders and encodes the prompt for input. A full-history
// prompt longer than half the window leaves out the oldest exchanges until
// it fits; the log itself is not changed.
func (s *Session) encodePrompt(input string, resumed bool) ([]runtime.Token, error) {
	turns := s.hist.Turns()
	budget := s.window.Capacity() / 2
	dropped := 0
	for {
		toks, err := s.codec.Encode(s.tmpl.Format(input, turns, resumed))
		if err != nil || resumed || len(toks) <= budget || len(turns) == 0 {
			if dropped > 0 && err == nil {
				s.log.Info("left oldest turns out of the prompt", "dropped", dropped, "prompt_tokens", len(toks))
			}
			return toks, err
		}
		n := 1
		if len(turns) > 1 && turns[0].Role == history.RoleUser && turns[1].Role == history.RoleAssistant {
			n = 2
		}
		turns = turns[n:]
		dropped += n
	}
}

// stream runs the sampling loop. turnStart follows the turn's first position
// through trims.
func (s *Session) stream(ctx context.Context, g *Generation, turnStart *int, stats *Stats) (string, Reason, error) {
	var (
		text     strings.Builder
		pending  []byte
		warnings int
		lastIdx  = s.batch.Len() - 1
		end      = s.codec.EndToken()
	)
	s.matcher.Reset()

	emit := func(delta string) bool {
		if delta == "" {
			return true
		}
		if !g.send(ctx, delta) {
			return false
		}
		text.WriteString(delta)
		s.output.write(delta)
		return true
	}

	for {
		if ctx.Err() != nil {
			return text.String(), ReasonCancelled, nil
		}
		if s.opts.MaxTokens > 0 && stats.TokensGenerated >= s.opts.MaxTokens {
			break
		}
		if s.window.Occupied() >= s.window.Capacity() {
			s.window.Trim()
			*turnStart = max(*turnStart-s.window.Capacity()/2, 0)
		}

		tok, err := s.sample(lastIdx)
		if err != nil {
			return "", "", generationFailed("sample", err)
		}
		s.batch.Clear()
		if tok == end {
			return s.drain(text.String(), &pending, emit), ReasonEnd, nil
		}

		if err := s.window.Admit(s.batch, tok, true); err != nil {
			return "", "", generationFailed("admit", err)
		}
		status, err := s.decode()
		if err != nil {
			return "", "", err
		}
		if status.Warning() {
			s.window.Rollback(s.window.Occupied() - 1)
			warnings++
			s.log.Warn("decode warning, skipping step", "status", status, "consecutive", warnings)
			if warnings >= maxDecodeWarnings {
				return "", "", generationFailed("decode", fmt.Errorf("%d consecutive warnings, last %s", warnings, status))
			}
			continue
		}
		warnings = 0
		lastIdx = 0
		stats.TokensGenerated++

		piece, err := s.codec.Decode(tok, &pending)
		if err != nil {
			return "", "", generationFailed("decode token", err)
		}
		out, stopped := s.matcher.Feed(piece)
		if !emit(out) {
			return text.String(), ReasonCancelled, nil
		}
		if stopped {
			return text.String(), ReasonStop, nil
		}
	}
	return s.drain(text.String(), &pending, emit), ReasonLength, nil
}

// drain releases multibyte bytes still buffered when the stream ends. Bytes
// held by an unfinished stop match are dropped.
func (s *Session) drain(text string, pending *[]byte, emit func(string) bool) string {
	rest := s.codec.Flush(pending)
	if rest == "" {
		return text
	}
	out, _ := s.matcher.Feed(rest)
	if emit(out) {
		text += out
	}
	return text
}

func (s *Session) loopback(ctx context.Context, g *Generation, input string) (*Result, error) {
	s.setPhase(PhaseStreaming)
	started := time.Now()
	var text strings.Builder
	emit := func(delta string) bool {
		if !g.send(ctx, delta) {
			return false
		}
		text.WriteString(delta)
		s.output.write(delta)
		return true
	}

	cancelled := !emit(loopbackHeader)
	for i := 0; i < 6 && !cancelled; i++ {
		if !sleepCtx(ctx, s.opts.LoopbackDelay) {
			cancelled = true
			break
		}
		cancelled = !emit(fmt.Sprintf("%d - %s\n", i, input))
	}
	stats := Stats{TokensGenerated: 7, Duration: time.Since(started)}
	if cancelled {
		s.setPhase(PhaseCancelled)
		return &Result{Text: text.String(), Reason: ReasonCancelled, Stats: stats}, nil
	}

	s.setPhase(PhaseFinalizing)
	out := SanitizeReply(text.String())
	s.hist.Append(history.RoleAssistant, out)
	return &Result{Text: out, Reason: ReasonEnd, Stats: stats}, nil
}

// restore loads st into the runtime and re-derives occupancy from it.
func (s *Session) restore(st SessionState) error {
	if len(st.Data) == 0 {
		return errors.New("restore: empty state")
	}
	if _, err := safeCall("StateSet", func() (int, error) { return s.rt.StateSet(st.Data) }); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if err := s.window.Restore(); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if s.window.Occupied() != st.Occupied {
		s.log.Debug("restored occupancy differs from capture", "captured", st.Occupied, "restored", s.window.Occupied())
	}
	return nil
}

// capture replaces the saved state with the runtime's current cache.
func (s *Session) capture() {
	data, err := safeCall("StateGet", func() ([]byte, error) {
		buf := make([]byte, s.rt.StateSize())
		n, err := s.rt.StateGet(buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	})
	if err != nil {
		s.log.Warn("could not capture session state", "err", err)
		s.saved.Store(nil)
		return
	}
	s.saved.Store(&SessionState{
		Data:       data,
		Occupied:   s.window.Occupied(),
		CapturedAt: time.Now().UTC(),
	})
	s.log.Debug("captured session state", "bytes", len(data), "occupied", s.window.Occupied())
}

// unwind drops the positions a failed or cancelled turn admitted. A faulted
// runtime is not called again.
func (s *Session) unwind(turnStart int) {
	s.batch.Clear()
	if s.broken != nil {
		s.window.Abandon()
		return
	}
	s.window.Rollback(turnStart)
}

// endTurn closes out a turn's bookkeeping.
func (s *Session) endTurn() {
	s.inputTokens = 0
	if !s.opts.Caching && s.broken == nil {
		s.window.Reset()
	}
}

// decode submits the pending batch. A fatal status breaks the session.
func (s *Session) decode() (runtime.DecodeStatus, error) {
	status, err := safeCall("DecodeBatch", func() (runtime.DecodeStatus, error) {
		return s.rt.DecodeBatch(s.batch), nil
	})
	if err == nil && status.Fatal() {
		err = fmt.Errorf("decode returned %s", status)
	}
	if err != nil {
		s.batch.Clear()
		s.broken = err
		s.log.Error("runtime fault", "err", err, "occupied", s.window.Occupied())
		return status, fmt.Errorf("%w: %w", ErrRuntimeFault, err)
	}
	return status, nil
}

func (s *Session) sample(idx int) (runtime.Token, error) {
	return safeCall("Sample", func() (runtime.Token, error) { return s.rt.Sample(idx) })
}

func (s *Session) usable() error {
	if s.closed {
		return ErrClosed
	}
	if s.broken != nil {
		return fmt.Errorf("%w: %w", ErrSessionBroken, s.broken)
	}
	return nil
}

func (s *Session) setPhase(p Phase) {
	s.phase.Store(int32(p))
}

func (s *Session) publish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishLocked()
}

func (s *Session) publishLocked() {
	s.stats.Store(&SessionStats{
		Occupied:    s.window.Occupied(),
		Capacity:    s.window.Capacity(),
		InputTokens: s.inputTokens,
		Cached:      s.saved.Load() != nil,
		Caching:     s.opts.Caching,
		Loopback:    s.opts.Loopback,
		Broken:      s.broken != nil,
	})
}

func safeCall[T any](op string, fn func() (T, error)) (v T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s: %v", op, rec)
		}
	}()
	return fn()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Generation is a handle on one running turn.
type Generation struct {
	deltas chan string
	done   chan struct{}
	cancel context.CancelFunc

	result *Result
	err    error
}

// Deltas yields text in order and is closed when the generation ends.
func (g *Generation) Deltas() <-chan string { return g.deltas }

// Cancel asks the generation to stop after the current token.
func (g *Generation) Cancel() { g.cancel() }

// Done is closed once the result is available.
func (g *Generation) Done() <-chan struct{} { return g.done }

// Wait blocks until the generation has ended. Deltas must be drained first
// or the generation cancelled.
func (g *Generation) Wait() (*Result, error) {
	<-g.done
	return g.result, g.err
}

func (g *Generation) send(ctx context.Context, delta string) bool {
	select {
	case g.deltas <- delta:
		return true
	case <-ctx.Done():
		return false
	}
}

type currentOutput struct {
	mu sync.Mutex
	b  strings.Builder
}

func (c *currentOutput) write(s string) {
	c.mu.Lock()
	c.b.WriteString(s)
	c.mu.Unlock()
}

func (c *currentOutput) reset() {
	c.mu.Lock()
	c.b.Reset()
	c.mu.Unlock()
}

func (c *currentOutput) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.b.String()
}
