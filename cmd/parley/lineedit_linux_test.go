//go:build linux

package main

import (
	"errors"
	"io"
	"testing"
)

// typeKeys feeds keystrokes to a fresh edit state and returns the submitted
// line, or the partial line when no Enter was typed.
func typeKeys(e *lineEditor, keys string) (string, error) {
	st := &editState{prompt: "> ", out: io.Discard, histPos: len(e.history)}
	for i := 0; i < len(keys); i++ {
		line, done, err := e.handleByte(st, keys[i])
		if done || err != nil {
			return line, err
		}
	}
	return string(st.line), nil
}

func TestLineEditorKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		keys string
		want string
	}{
		{"plain", "hello\r", "hello"},
		{"backspace", "helx\x7flo\r", "hello"},
		{"insert after left arrow", "hllo\x1b[D\x1b[D\x1b[De\r", "hello"},
		{"home and end", "ello\x01h\x05!\r", "hello!"},
		{"ctrl w", "one two\x17three\r", "one three"},
		{"ctrl u", "drop this\x15keep\r", "keep"},
		{"alt b then delete forward", "one two\x1bb\x1b[3~\r", "one wo"},
		{"word right", "ab cd\x01\x1b[1;5C!\r", "ab! cd"},
		{"delete word forward", "ab cd\x01\x1b[3;5~\r", " cd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := typeKeys(&lineEditor{}, tt.keys)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLineEditorHistory(t *testing.T) {
	t.Parallel()

	e := &lineEditor{}
	for _, line := range []string{"first\r", "second\r"} {
		if _, err := typeKeys(e, line); err != nil {
			t.Fatalf("type %q: %v", line, err)
		}
	}

	got, _ := typeKeys(e, "\x1b[A\x1b[A\r")
	if got != "first" {
		t.Fatalf("two ups should recall the oldest line, got %q", got)
	}
	got, _ = typeKeys(e, "draft\x1b[A\x1b[B\r")
	if got != "draft" {
		t.Fatalf("down past the newest line should restore the draft, got %q", got)
	}
}

func TestLineEditorControl(t *testing.T) {
	t.Parallel()

	if _, err := typeKeys(&lineEditor{}, "abc\x03"); !errors.Is(err, errInterrupted) {
		t.Fatalf("ctrl c: got %v", err)
	}
	if _, err := typeKeys(&lineEditor{}, "\x04"); !errors.Is(err, io.EOF) {
		t.Fatalf("ctrl d on empty line: got %v", err)
	}
	if got, err := typeKeys(&lineEditor{}, "a\x04b\r"); err != nil || got != "ab" {
		t.Fatalf("ctrl d mid-line must be ignored: %q %v", got, err)
	}
}
