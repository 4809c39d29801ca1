package runtime

import (
	"errors"
	"fmt"
)

// Token is a vocabulary id understood by a Runtime.
type Token int32

// SeqID identifies a sequence inside the runtime's attention cache.
type SeqID int32

// DecodeStatus is the result of submitting a batch to the runtime.
// Zero means success, positive values are recoverable warnings (for example
// no free cache slot for the batch) and negative values are fatal faults.
type DecodeStatus int32

const (
	StatusOK DecodeStatus = 0
)

func (s DecodeStatus) OK() bool      { return s == 0 }
func (s DecodeStatus) Warning() bool { return s > 0 }
func (s DecodeStatus) Fatal() bool   { return s < 0 }

func (s DecodeStatus) String() string {
	switch {
	case s == 0:
		return "ok"
	case s > 0:
		return fmt.Sprintf("warning(%d)", int32(s))
	default:
		return fmt.Sprintf("fatal(%d)", int32(s))
	}
}

var (
	// ErrNotLoaded is returned by runtime calls made after Close.
	ErrNotLoaded = errors.New("runtime: model not loaded")
	// ErrNoLogits is returned by Sample when the requested batch row did not
	// request logits on the last decode.
	ErrNoLogits = errors.New("runtime: no logits for batch index")
)

// Runtime is the opaque model runtime the inference engine drives. A Runtime
// is not safe for concurrent use; the inference session is its only owner.
type Runtime interface {
	// Encode converts text to tokens, prepending the beginning-of-sequence
	// marker when addBOS is set.
	Encode(text string, addBOS bool) ([]Token, error)
	// TokenPiece returns the raw bytes of a single token. The bytes are not
	// guaranteed to be valid UTF-8 on their own.
	TokenPiece(tok Token) ([]byte, error)
	// AddBOS reports whether the vocabulary expects a leading BOS marker.
	AddBOS() bool
	// EndToken is the end-of-sequence token.
	EndToken() Token
	// Sample draws the next token from the output row idx of the last
	// decoded batch.
	Sample(idx int) (Token, error)
	// DecodeBatch evaluates the batch and appends its tokens to the cache.
	DecodeBatch(b *Batch) DecodeStatus

	// CacheRemove drops cells of seq whose positions lie in [p0, p1).
	// A negative p1 means no upper bound.
	CacheRemove(seq SeqID, p0, p1 int) bool
	// CacheShift adds delta to the positions of seq cells in [p0, p1).
	CacheShift(seq SeqID, p0, p1, delta int)
	// CacheTokenCount is the number of cells currently held for seq.
	CacheTokenCount(seq SeqID) int

	StateSize() int
	StateGet(dst []byte) (int, error)
	StateSet(src []byte) (int, error)

	Close() error
}

// Loader opens a runtime from a model path.
type Loader interface {
	Load(path string, contextSize int) (Runtime, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(path string, contextSize int) (Runtime, error)

func (f LoaderFunc) Load(path string, contextSize int) (Runtime, error) {
	return f(path, contextSize)
}
