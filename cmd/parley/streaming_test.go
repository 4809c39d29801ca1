package main

import (
	"bytes"
	"testing"
)

func TestStreamWriterModes(t *testing.T) {
	t.Parallel()

	deltas := []string{"Hello", ", ", "wörld", "!\n"}
	for _, mode := range []StreamMode{StreamInstant, StreamSmooth, StreamTypewriter, StreamQuiet} {
		t.Run(string(mode), func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			w := NewStreamWriter(mode, &out, false)
			for _, d := range deltas {
				w.Write(d)
			}
			if mode == StreamQuiet && out.Len() != 0 {
				t.Fatalf("quiet mode wrote before flush: %q", out.String())
			}
			got := w.Flush()
			if got != "Hello, wörld!\n" {
				t.Fatalf("Flush() = %q", got)
			}
			if out.String() != got {
				t.Fatalf("output %q differs from text %q", out.String(), got)
			}
		})
	}
}

func TestStreamWriterRaw(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	w := NewStreamWriter(StreamInstant, &out, true)
	w.Write("a\tb\n\\\x01")
	if got := w.Flush(); got != "a\tb\n\\\x01" {
		t.Fatalf("returned text must stay unescaped, got %q", got)
	}
	if want := `a\tb\n\\\u0001`; out.String() != want {
		t.Fatalf("raw output %q, want %q", out.String(), want)
	}
}

func TestParseStreamMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    StreamMode
		wantErr bool
	}{
		{"", StreamInstant, false},
		{"Smooth", StreamSmooth, false},
		{" quiet ", StreamQuiet, false},
		{"typewriter", StreamTypewriter, false},
		{"loud", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStreamMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseStreamMode(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseStreamMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
