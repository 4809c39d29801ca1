// Package tokenizer converts between text and runtime tokens. Decoding is
// incremental: a token may carry only part of a multi-byte character, so the
// caller keeps a small byte buffer across calls and text is only released
// once it forms complete UTF-8.
package tokenizer

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/samcharles93/parley/internal/runtime"
)

// Codec wraps the runtime's vocabulary.
type Codec struct {
	rt runtime.Runtime
}

func NewCodec(rt runtime.Runtime) *Codec {
	return &Codec{rt: rt}
}

// Encode tokenizes text, prepending the beginning-of-sequence marker when the
// vocabulary asks for one.
func (c *Codec) Encode(text string) (toks []runtime.Token, err error) {
	if c == nil || c.rt == nil {
		return nil, runtime.ErrNotLoaded
	}
	defer func() {
		if rec := recover(); rec != nil {
			toks, err = nil, fmt.Errorf("panic in Encode: %v", rec)
		}
	}()
	toks, err = c.rt.Encode(text, c.rt.AddBOS())
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}
	return toks, nil
}

// Decode appends the bytes of tok to buf and returns the longest prefix of buf
// that is complete UTF-8. Up to utf8.UTFMax-1 trailing bytes of an unfinished
// character stay in buf for the next call.
func (c *Codec) Decode(tok runtime.Token, buf *[]byte) (text string, err error) {
	if c == nil || c.rt == nil {
		return "", runtime.ErrNotLoaded
	}
	if buf == nil {
		return "", errors.New("decode: nil buffer")
	}
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("panic in TokenPiece: %v", rec)
		}
	}()
	piece, err := c.rt.TokenPiece(tok)
	if err != nil {
		return "", fmt.Errorf("decode token %d: %w", tok, err)
	}
	*buf = append(*buf, piece...)

	n := completePrefix(*buf)
	out := string((*buf)[:n])
	*buf = append((*buf)[:0], (*buf)[n:]...)
	return out, nil
}

// Flush drains whatever is still buffered. Used at end of stream.
func (c *Codec) Flush(buf *[]byte) string {
	if buf == nil || len(*buf) == 0 {
		return ""
	}
	out := string(*buf)
	*buf = (*buf)[:0]
	return out
}

// EndToken is the vocabulary's end-of-sequence token.
func (c *Codec) EndToken() runtime.Token {
	return c.rt.EndToken()
}

// completePrefix returns the length of the prefix of b that can be emitted.
// A trailing run is held back only if it could still become a valid
// character; bytes that can never complete are released as-is.
func completePrefix(b []byte) int {
	if utf8.Valid(b) {
		return len(b)
	}
	lim := max(len(b)-(utf8.UTFMax-1), 0)
	for start := len(b) - 1; start >= lim; start-- {
		if !utf8.RuneStart(b[start]) {
			continue
		}
		tail := b[start:]
		if !utf8.FullRune(tail) && leadingWidth(b[start]) > len(tail) {
			return start
		}
		break
	}
	return len(b)
}

// leadingWidth is the encoded width announced by a UTF-8 lead byte, or 0 for
// bytes that cannot start a multi-byte sequence.
func leadingWidth(b byte) int {
	switch {
	case b&0xE0 == 0xC0:
		return 2
	case b&0xF0 == 0xE0:
		return 3
	case b&0xF8 == 0xF0:
		return 4
	default:
		return 0
	}
}
