package tokenizer

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/samcharles93/parley/internal/runtime"
)

// pieceRuntime maps tokens to fixed byte pieces.
type pieceRuntime struct {
	runtime.Runtime
	pieces map[runtime.Token][]byte
	bos    bool
	panics bool
}

func (p *pieceRuntime) Encode(text string, addBOS bool) ([]runtime.Token, error) {
	if p.panics {
		panic("tokenizer exploded")
	}
	if text == "fail" {
		return nil, errors.New("runtime refused")
	}
	var out []runtime.Token
	if addBOS {
		out = append(out, 1)
	}
	for _, r := range text {
		out = append(out, runtime.Token(r))
	}
	return out, nil
}

func (p *pieceRuntime) TokenPiece(tok runtime.Token) ([]byte, error) {
	b, ok := p.pieces[tok]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return b, nil
}

func (p *pieceRuntime) AddBOS() bool            { return p.bos }
func (p *pieceRuntime) EndToken() runtime.Token { return 2 }

func TestEncodeBOSPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		bos  bool
		want []runtime.Token
	}{
		{name: "with bos", bos: true, want: []runtime.Token{1, 'h', 'i'}},
		{name: "without bos", bos: false, want: []runtime.Token{'h', 'i'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewCodec(&pieceRuntime{bos: tt.bos})
			got, err := c.Encode("hi")
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Fatalf("got %v want %v", got, tt.want)
			}
		})
	}
}

func TestEncodeSurfacesRuntimeFaults(t *testing.T) {
	t.Parallel()

	c := NewCodec(&pieceRuntime{})
	if _, err := c.Encode("fail"); err == nil || !strings.Contains(err.Error(), "runtime refused") {
		t.Fatalf("expected wrapped runtime error, got %v", err)
	}

	c = NewCodec(&pieceRuntime{panics: true})
	_, err := c.Encode("x")
	if err == nil || !strings.Contains(err.Error(), "panic in Encode") {
		t.Fatalf("expected panic converted to error, got %v", err)
	}
}

func TestDecodeReassemblesMultibyte(t *testing.T) {
	t.Parallel()

	euro := []byte("€") // e2 82 ac
	rt := &pieceRuntime{pieces: map[runtime.Token][]byte{
		10: []byte("a"),
		11: euro[:1],
		12: euro[1:2],
		13: euro[2:],
		14: {0xff},
		15: []byte("é")[:1],
	}}
	c := NewCodec(rt)

	var buf []byte
	steps := []struct {
		tok  runtime.Token
		want string
		held int
	}{
		{tok: 10, want: "a"},
		{tok: 11, want: "", held: 1},
		{tok: 12, want: "", held: 2},
		{tok: 13, want: "€"},
		{tok: 14, want: "\xff"},
		{tok: 15, want: "", held: 1},
	}
	for i, s := range steps {
		got, err := c.Decode(s.tok, &buf)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != s.want {
			t.Fatalf("step %d: got %q want %q", i, got, s.want)
		}
		if len(buf) != s.held {
			t.Fatalf("step %d: held %d bytes, want %d", i, len(buf), s.held)
		}
	}
	if rest := c.Flush(&buf); rest != "\xc3" || len(buf) != 0 {
		t.Fatalf("flush: got %q, buffer %v", rest, buf)
	}
}

func TestDecodeUnknownToken(t *testing.T) {
	t.Parallel()

	c := NewCodec(&pieceRuntime{pieces: map[runtime.Token][]byte{}})
	var buf []byte
	if _, err := c.Decode(99, &buf); err == nil {
		t.Fatalf("expected error for unknown token")
	}
	if _, err := c.Decode(99, nil); err == nil {
		t.Fatalf("expected error for nil buffer")
	}
}

func TestCompletePrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   []byte
		want int
	}{
		{in: nil, want: 0},
		{in: []byte("abc"), want: 3},
		{in: []byte{'a', 0xc3}, want: 1},
		{in: []byte{'a', 0xe2, 0x82}, want: 1},
		{in: []byte{0xf0, 0x9f, 0x98}, want: 0},
		{in: []byte{0xc3, 'a'}, want: 2},
		{in: []byte{0x82, 0x82}, want: 2},
	}
	for _, tt := range tests {
		if got := completePrefix(tt.in); got != tt.want {
			t.Fatalf("completePrefix(%x) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
