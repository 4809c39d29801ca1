package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

type StreamMode string

const (
	StreamInstant    StreamMode = "instant"
	StreamSmooth     StreamMode = "smooth"
	StreamTypewriter StreamMode = "typewriter"
	StreamQuiet      StreamMode = "quiet"
)

func ParseStreamMode(s string) (StreamMode, error) {
	switch m := StreamMode(strings.ToLower(strings.TrimSpace(s))); m {
	case StreamInstant, StreamSmooth, StreamTypewriter, StreamQuiet:
		return m, nil
	case "":
		return StreamInstant, nil
	default:
		return "", fmt.Errorf("unknown stream mode %q (want instant, smooth, typewriter or quiet)", s)
	}
}

// StreamWriter renders reply deltas to a terminal in one of several modes.
// One writer serves one reply; Flush ends it.
type StreamWriter struct {
	mode StreamMode
	buf  *bufio.Writer
	raw  bool

	mu            sync.Mutex
	batch         strings.Builder
	lastFlush     time.Time
	flushInterval time.Duration
	batchWords    int

	text strings.Builder
	stop chan struct{}
	done chan struct{}
}

func NewStreamWriter(mode StreamMode, out io.Writer, raw bool) *StreamWriter {
	w := &StreamWriter{
		mode:          mode,
		buf:           bufio.NewWriterSize(out, 4096),
		raw:           raw,
		lastFlush:     time.Now(),
		flushInterval: 50 * time.Millisecond,
		batchWords:    5,
	}
	if mode == StreamSmooth {
		w.stop = make(chan struct{})
		w.done = make(chan struct{})
		go w.backgroundFlusher()
	}
	return w
}

// Write handles one delta from the session.
func (w *StreamWriter) Write(delta string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.text.WriteString(delta)
	switch w.mode {
	case StreamSmooth:
		w.batch.WriteString(delta)
		words := strings.Count(w.batch.String(), " ") + 1
		if words >= w.batchWords || time.Since(w.lastFlush) >= w.flushInterval {
			w.flushBatch()
		}
	case StreamTypewriter:
		for _, r := range delta {
			w.writeString(string(r))
			_ = w.buf.Flush()
		}
	case StreamQuiet:
	default:
		w.writeString(delta)
		_ = w.buf.Flush()
	}
}

// Flush writes anything still held back and returns the full reply text.
func (w *StreamWriter) Flush() string {
	if w.stop != nil {
		close(w.stop)
		<-w.done
		w.stop = nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.mode {
	case StreamQuiet:
		w.writeString(w.text.String())
	case StreamSmooth:
		w.flushBatch()
	}
	_ = w.buf.Flush()
	return w.text.String()
}

// flushBatch writes the pending smooth-mode batch. Callers hold mu.
func (w *StreamWriter) flushBatch() {
	if w.batch.Len() == 0 {
		return
	}
	w.writeString(w.batch.String())
	_ = w.buf.Flush()
	w.batch.Reset()
	w.lastFlush = time.Now()
}

func (w *StreamWriter) writeString(s string) {
	if w.raw {
		s = escapeRawOutput(s)
	}
	_, _ = w.buf.WriteString(s)
}

func (w *StreamWriter) backgroundFlusher() {
	defer close(w.done)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.mu.Lock()
			if time.Since(w.lastFlush) >= w.flushInterval {
				w.flushBatch()
			}
			w.mu.Unlock()
		}
	}
}

// escapeRawOutput makes control characters visible.
func escapeRawOutput(s string) string {
	var b strings.Builder
	for _, r := range s {
		b.WriteString(escapeRawOutputRune(r))
	}
	return b.String()
}

func escapeRawOutputRune(r rune) string {
	switch r {
	case '\n':
		return `\n`
	case '\r':
		return `\r`
	case '\t':
		return `\t`
	case '\\':
		return `\\`
	default:
		if strconv.IsPrint(r) {
			return string(r)
		}
		return fmt.Sprintf(`\u%04x`, r)
	}
}
