package inference

import (
	"fmt"
	"slices"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/samcharles93/parley/internal/runtime"
)

const (
	fakeBOS runtime.Token = 1000
	fakeEOS runtime.Token = 1001
)

// fakeRuntime tracks cache positions like a real runtime and replays a
// scripted sequence of sampled tokens and decode statuses.
type fakeRuntime struct {
	mu sync.Mutex

	// next returns the n-th sampled token. Past the script it returns EOS.
	next func(n int) runtime.Token
	// pieces overrides the text of a token; other tokens below 256 decode
	// to their byte.
	pieces map[runtime.Token]string
	// statuses are returned by successive DecodeBatch calls; once exhausted
	// every call succeeds.
	statuses []runtime.DecodeStatus
	// onSample runs before each sample with the sample index.
	onSample func(n int)

	positions []int
	samples   int
	decodes   int
	maxCells  int
	prompts   []string
	closed    bool
}

func newScriptRuntime(script string) *fakeRuntime {
	toks := make([]runtime.Token, 0, len(script))
	for i := 0; i < len(script); i++ {
		toks = append(toks, runtime.Token(script[i]))
	}
	return newTokenRuntime(toks...)
}

func newTokenRuntime(toks ...runtime.Token) *fakeRuntime {
	return &fakeRuntime{next: func(n int) runtime.Token {
		if n < len(toks) {
			return toks[n]
		}
		return fakeEOS
	}}
}

func (f *fakeRuntime) Encode(text string, addBOS bool) ([]runtime.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, text)
	var out []runtime.Token
	if addBOS {
		out = append(out, fakeBOS)
	}
	for i := 0; i < len(text); i++ {
		out = append(out, runtime.Token(text[i]))
	}
	return out, nil
}

func (f *fakeRuntime) TokenPiece(tok runtime.Token) ([]byte, error) {
	if s, ok := f.pieces[tok]; ok {
		return []byte(s), nil
	}
	switch {
	case tok >= 0 && tok < 256:
		return []byte{byte(tok)}, nil
	case tok == fakeBOS || tok == fakeEOS:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown token %d", tok)
}

func (f *fakeRuntime) AddBOS() bool            { return true }
func (f *fakeRuntime) EndToken() runtime.Token { return fakeEOS }

func (f *fakeRuntime) Sample(int) (runtime.Token, error) {
	f.mu.Lock()
	n := f.samples
	f.samples++
	hook := f.onSample
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return f.next(n), nil
}

func (f *fakeRuntime) DecodeBatch(b *runtime.Batch) runtime.DecodeStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.Len() == 0 || f.closed {
		return -1
	}
	status := runtime.StatusOK
	if f.decodes < len(f.statuses) {
		status = f.statuses[f.decodes]
	}
	f.decodes++
	if !status.OK() {
		return status
	}
	f.positions = append(f.positions, b.Positions...)
	f.maxCells = max(f.maxCells, len(f.positions))
	return status
}

func (f *fakeRuntime) CacheRemove(_ runtime.SeqID, p0, p1 int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = slices.DeleteFunc(f.positions, func(p int) bool {
		return p >= p0 && (p1 < 0 || p < p1)
	})
	return true
}

func (f *fakeRuntime) CacheShift(_ runtime.SeqID, p0, p1, delta int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.positions {
		if p >= p0 && (p1 < 0 || p < p1) {
			f.positions[i] = p + delta
		}
	}
}

func (f *fakeRuntime) CacheTokenCount(runtime.SeqID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.positions)
}

func (f *fakeRuntime) StateSize() int {
	b, _ := f.encode()
	return len(b)
}

func (f *fakeRuntime) StateGet(dst []byte) (int, error) {
	b, err := f.encode()
	if err != nil {
		return 0, err
	}
	return copy(dst, b), nil
}

func (f *fakeRuntime) StateSet(src []byte) (int, error) {
	var pos []int
	if err := cbor.Unmarshal(src, &pos); err != nil {
		return 0, err
	}
	f.mu.Lock()
	f.positions = pos
	f.mu.Unlock()
	return len(src), nil
}

func (f *fakeRuntime) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeRuntime) encode() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cbor.Marshal(f.positions)
}

func (f *fakeRuntime) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func (f *fakeRuntime) cells() int {
	return f.CacheTokenCount(0)
}

// countRuntime reports a fixed cache count and records cache calls.
type countRuntime struct {
	runtime.Runtime
	count   int
	removed [][2]int
	shifted [][3]int
}

func (c *countRuntime) CacheRemove(_ runtime.SeqID, p0, p1 int) bool {
	c.removed = append(c.removed, [2]int{p0, p1})
	return true
}

func (c *countRuntime) CacheShift(_ runtime.SeqID, p0, p1, delta int) {
	c.shifted = append(c.shifted, [3]int{p0, p1, delta})
}

func (c *countRuntime) CacheTokenCount(runtime.SeqID) int { return c.count }
