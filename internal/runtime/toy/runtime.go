package toy

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/samcharles93/parley/internal/logits"
	"github.com/samcharles93/parley/internal/runtime"
)

const stateVersion = 1

// BuiltinModel selects the embedded corpus instead of a file.
const BuiltinModel = "builtin"

type cell struct {
	Pos  int             `cbor:"1,keyasint"`
	Tok  runtime.Token   `cbor:"2,keyasint"`
	Seqs []runtime.SeqID `cbor:"3,keyasint"`
}

type stateBlob struct {
	Version int    `cbor:"1,keyasint"`
	Cells   []cell `cbor:"2,keyasint"`
	Recent  []int  `cbor:"3,keyasint"`
}

// Runtime is a toy implementation of runtime.Runtime. The cache tracks which
// token occupies which logical position so trims, shifts and rollbacks behave
// like a real attention cache; only the most recent token feeds the model.
type Runtime struct {
	model   *Model
	sampler *logits.Sampler
	nCtx    int

	cells   []cell
	outputs map[int][]float32
	recent  []int
	closed  bool
}

var _ runtime.Runtime = (*Runtime)(nil)

// New wraps a trained model with a cache of nCtx cells.
func New(m *Model, nCtx int, cfg logits.SamplerConfig) *Runtime {
	return &Runtime{
		model:   m,
		sampler: logits.NewSampler(cfg),
		nCtx:    nCtx,
		outputs: make(map[int][]float32),
	}
}

// Loader opens toy runtimes. The model path names a UTF-8 text corpus, or
// BuiltinModel for the embedded one.
type Loader struct {
	Sampler logits.SamplerConfig
}

func (l Loader) Load(path string, contextSize int) (runtime.Runtime, error) {
	if contextSize < 2 {
		return nil, fmt.Errorf("context size must be at least 2, got %d", contextSize)
	}
	corpus := builtinCorpus
	if p := strings.TrimSpace(path); p != "" && p != BuiltinModel {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("load model: %w", err)
		}
		if strings.TrimSpace(string(raw)) == "" {
			return nil, fmt.Errorf("load model: %s is empty", p)
		}
		corpus = string(raw)
	}
	return New(Train(corpus), contextSize, l.Sampler), nil
}

func (r *Runtime) Encode(text string, addBOS bool) ([]runtime.Token, error) {
	if r.closed {
		return nil, runtime.ErrNotLoaded
	}
	toks := make([]runtime.Token, 0, len(text)+1)
	if addBOS {
		toks = append(toks, BOS)
	}
	for i := 0; i < len(text); i++ {
		toks = append(toks, runtime.Token(text[i]))
	}
	return toks, nil
}

func (r *Runtime) TokenPiece(tok runtime.Token) ([]byte, error) {
	switch {
	case tok >= 0 && tok < byteVocab:
		return []byte{byte(tok)}, nil
	case tok == BOS || tok == EOS:
		return nil, nil
	default:
		return nil, fmt.Errorf("token %d out of vocabulary", tok)
	}
}

func (r *Runtime) AddBOS() bool { return true }

func (r *Runtime) EndToken() runtime.Token { return EOS }

func (r *Runtime) Sample(idx int) (runtime.Token, error) {
	if r.closed {
		return EOS, runtime.ErrNotLoaded
	}
	row, ok := r.outputs[idx]
	if !ok {
		return EOS, fmt.Errorf("%w %d", runtime.ErrNoLogits, idx)
	}
	next := r.sampler.Sample(append([]float32(nil), row...), r.recent)
	r.recent = append(r.recent, next)
	if n := len(r.recent); n > r.nCtx {
		r.recent = r.recent[n-r.nCtx:]
	}
	return runtime.Token(next), nil
}

func (r *Runtime) DecodeBatch(b *runtime.Batch) runtime.DecodeStatus {
	if r.closed || b.Len() == 0 {
		return -1
	}
	for _, tok := range b.Tokens {
		if tok < 0 || int(tok) >= VocabSize {
			return -1
		}
	}
	if len(r.cells)+b.Len() > r.nCtx {
		return 1
	}

	clear(r.outputs)
	for i, tok := range b.Tokens {
		r.cells = append(r.cells, cell{
			Pos:  b.Positions[i],
			Tok:  tok,
			Seqs: slices.Clone(b.SeqIDs[i]),
		})
		if b.Logits[i] {
			r.outputs[i] = r.model.Row(tok)
		}
	}
	return runtime.StatusOK
}

func (r *Runtime) CacheRemove(seq runtime.SeqID, p0, p1 int) bool {
	kept := r.cells[:0]
	for _, c := range r.cells {
		if inRange(c.Pos, p0, p1) {
			c.Seqs = slices.DeleteFunc(c.Seqs, func(s runtime.SeqID) bool { return s == seq })
			if len(c.Seqs) == 0 {
				continue
			}
		}
		kept = append(kept, c)
	}
	r.cells = kept
	return true
}

func (r *Runtime) CacheShift(seq runtime.SeqID, p0, p1, delta int) {
	for i := range r.cells {
		c := &r.cells[i]
		if inRange(c.Pos, p0, p1) && slices.Contains(c.Seqs, seq) {
			c.Pos += delta
		}
	}
}

func (r *Runtime) CacheTokenCount(seq runtime.SeqID) int {
	n := 0
	for _, c := range r.cells {
		if slices.Contains(c.Seqs, seq) {
			n++
		}
	}
	return n
}

// Positions returns the logical positions held for seq, in cache order.
func (r *Runtime) Positions(seq runtime.SeqID) []int {
	var out []int
	for _, c := range r.cells {
		if slices.Contains(c.Seqs, seq) {
			out = append(out, c.Pos)
		}
	}
	return out
}

func (r *Runtime) StateSize() int {
	b, err := r.encodeState()
	if err != nil {
		return 0
	}
	return len(b)
}

func (r *Runtime) StateGet(dst []byte) (int, error) {
	b, err := r.encodeState()
	if err != nil {
		return 0, err
	}
	if len(dst) < len(b) {
		return 0, fmt.Errorf("state buffer too small: %d < %d", len(dst), len(b))
	}
	return copy(dst, b), nil
}

func (r *Runtime) StateSet(src []byte) (int, error) {
	var st stateBlob
	if err := cbor.Unmarshal(src, &st); err != nil {
		return 0, fmt.Errorf("decode state: %w", err)
	}
	if st.Version != stateVersion {
		return 0, fmt.Errorf("unsupported state version %d", st.Version)
	}
	if len(st.Cells) > r.nCtx {
		return 0, fmt.Errorf("state holds %d cells, context is %d", len(st.Cells), r.nCtx)
	}
	r.cells = st.Cells
	r.recent = st.Recent
	clear(r.outputs)
	return len(src), nil
}

func (r *Runtime) Close() error {
	r.closed = true
	r.cells = nil
	clear(r.outputs)
	return nil
}

func (r *Runtime) encodeState() ([]byte, error) {
	return cbor.Marshal(stateBlob{
		Version: stateVersion,
		Cells:   r.cells,
		Recent:  r.recent,
	})
}

func inRange(pos, p0, p1 int) bool {
	if pos < p0 {
		return false
	}
	return p1 < 0 || pos < p1
}
