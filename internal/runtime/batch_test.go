package runtime

import "testing"

func TestBatchAddClear(t *testing.T) {
	t.Parallel()

	b := NewBatch(4)
	b.Add(7, 0, []SeqID{0}, false)
	b.Add(8, 1, []SeqID{0}, true)
	if b.Len() != 2 {
		t.Fatalf("len: got %d, want 2", b.Len())
	}
	if b.Positions[1] != 1 || !b.Logits[1] || b.Logits[0] {
		t.Fatalf("unexpected batch contents: %+v", b)
	}
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("len after clear: got %d", b.Len())
	}
	if cap(b.Tokens) != 4 {
		t.Fatalf("clear should keep storage, cap=%d", cap(b.Tokens))
	}

	var nilBatch *Batch
	if nilBatch.Len() != 0 {
		t.Fatalf("nil batch should report zero length")
	}
	nilBatch.Clear()
}

func TestDecodeStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status  DecodeStatus
		ok      bool
		warning bool
		fatal   bool
		str     string
	}{
		{StatusOK, true, false, false, "ok"},
		{1, false, true, false, "warning(1)"},
		{-3, false, false, true, "fatal(-3)"},
	}
	for _, tc := range cases {
		if tc.status.OK() != tc.ok || tc.status.Warning() != tc.warning || tc.status.Fatal() != tc.fatal {
			t.Fatalf("status %d classification mismatch", tc.status)
		}
		if tc.status.String() != tc.str {
			t.Fatalf("status string: got %q, want %q", tc.status.String(), tc.str)
		}
	}
}
