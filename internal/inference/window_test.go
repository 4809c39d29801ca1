package inference

import (
	"errors"
	"math/rand"
	"slices"
	"testing"

	"github.com/samcharles93/parley/internal/logits"
	"github.com/samcharles93/parley/internal/runtime"
	"github.com/samcharles93/parley/internal/runtime/toy"
)

func admitN(t *testing.T, w *Window, b *runtime.Batch, n int) {
	t.Helper()
	for i := range n {
		if err := w.Admit(b, runtime.Token('a'+i%26), i == n-1); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}
}

func TestWindowTrimExample(t *testing.T) {
	t.Parallel()

	rt := &countRuntime{count: 4}
	w := NewWindow(rt, 8, nil)
	b := runtime.NewBatch(8)
	admitN(t, w, b, 6)
	if w.Occupied() != 6 {
		t.Fatalf("occupied %d, want 6", w.Occupied())
	}

	if !w.ShouldTrim(4) {
		t.Fatalf("expected ShouldTrim(4) with 6 of 8 occupied")
	}
	w.Trim()
	if w.Occupied() != 4 {
		t.Fatalf("occupied after trim %d, want 4", w.Occupied())
	}
	if !slices.Equal(rt.removed, [][2]int{{0, 4}}) {
		t.Fatalf("unexpected removals %v", rt.removed)
	}
	if !slices.Equal(rt.shifted, [][3]int{{4, 8, -4}}) {
		t.Fatalf("unexpected shifts %v", rt.shifted)
	}

	b.Clear()
	admitN(t, w, b, 4)
	if w.Occupied() != 8 {
		t.Fatalf("occupied after admitting 4, got %d want 8", w.Occupied())
	}
	if err := w.Admit(b, 'z', true); !errors.Is(err, ErrContextOverflow) {
		t.Fatalf("expected overflow admitting past capacity, got %v", err)
	}
}

func TestWindowMakeRoom(t *testing.T) {
	t.Parallel()

	rt := &countRuntime{count: 4}
	w := NewWindow(rt, 8, nil)
	admitN(t, w, runtime.NewBatch(8), 6)

	trims, err := w.MakeRoom(4)
	if err != nil || trims != 1 {
		t.Fatalf("MakeRoom(4): trims=%d err=%v", trims, err)
	}
	if w.Occupied()+4 > w.Capacity() {
		t.Fatalf("no room after MakeRoom: occupied %d", w.Occupied())
	}

	if _, err := w.MakeRoom(8); !errors.Is(err, ErrContextOverflow) {
		t.Fatalf("expected overflow for a batch the size of the window, got %v", err)
	}
	if _, err := w.MakeRoom(5); !errors.Is(err, ErrContextOverflow) {
		t.Fatalf("expected overflow when trims free nothing, got %v", err)
	}
}

func TestWindowMakeRoomLargeBatchTrimsTwice(t *testing.T) {
	t.Parallel()

	rt := toy.New(toy.Train("ab"), 8, logits.SamplerConfig{})
	w := NewWindow(rt, 8, nil)
	b := runtime.NewBatch(8)
	admitN(t, w, b, 7)
	if st := rt.DecodeBatch(b); !st.OK() {
		t.Fatalf("decode: %v", st)
	}

	trims, err := w.MakeRoom(6)
	if err != nil {
		t.Fatalf("MakeRoom(6): %v", err)
	}
	if trims != 2 || w.Occupied() != 0 {
		t.Fatalf("expected two trims down to empty, got trims=%d occupied=%d", trims, w.Occupied())
	}
}

func TestWindowRollbackAndRestore(t *testing.T) {
	t.Parallel()

	rt := toy.New(toy.Train("ab"), 16, logits.SamplerConfig{})
	w := NewWindow(rt, 16, nil)
	b := runtime.NewBatch(16)
	admitN(t, w, b, 5)
	rt.DecodeBatch(b)

	b.Clear()
	start := w.Occupied()
	admitN(t, w, b, 4)
	rt.DecodeBatch(b)
	w.Rollback(start)
	if w.Occupied() != start || rt.CacheTokenCount(0) != start {
		t.Fatalf("rollback: occupied=%d cells=%d want %d", w.Occupied(), rt.CacheTokenCount(0), start)
	}
	w.Rollback(start + 3)
	if w.Occupied() != start {
		t.Fatalf("rollback past the end must be a no-op, occupied=%d", w.Occupied())
	}

	if err := w.Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if w.Occupied() != rt.CacheTokenCount(0)+1 {
		t.Fatalf("restore occupied %d, want cells+1=%d", w.Occupied(), rt.CacheTokenCount(0)+1)
	}

	w.Reset()
	if w.Occupied() != 0 || rt.CacheTokenCount(0) != 0 {
		t.Fatalf("reset left occupied=%d cells=%d", w.Occupied(), rt.CacheTokenCount(0))
	}
}

func TestWindowTrimInvariant(t *testing.T) {
	t.Parallel()

	const capacity = 32
	rng := rand.New(rand.NewSource(3))
	rt := toy.New(toy.Train("abc"), capacity, logits.SamplerConfig{})
	w := NewWindow(rt, capacity, nil)
	b := runtime.NewBatch(capacity)

	for step := range 500 {
		n := 1 + rng.Intn(capacity/2)
		if _, err := w.MakeRoom(n); err != nil {
			t.Fatalf("step %d: MakeRoom(%d): %v", step, n, err)
		}
		if w.Occupied() > capacity {
			t.Fatalf("step %d: occupied %d exceeds capacity before admission", step, w.Occupied())
		}
		b.Clear()
		admitN(t, w, b, n)
		if st := rt.DecodeBatch(b); !st.OK() {
			t.Fatalf("step %d: decode %v with occupied %d", step, st, w.Occupied())
		}
		if w.Occupied() != rt.CacheTokenCount(0) {
			t.Fatalf("step %d: occupied %d, cells %d", step, w.Occupied(), rt.CacheTokenCount(0))
		}
		if pos := rt.Positions(0); len(pos) > 0 && slices.Max(pos) >= capacity {
			t.Fatalf("step %d: position %d outside window", step, slices.Max(pos))
		}
	}

	// Trimming a full window leaves at most half of it.
	for w.Occupied() < capacity {
		b.Clear()
		admitN(t, w, b, 1)
		rt.DecodeBatch(b)
	}
	w.Trim()
	if w.Occupied() > capacity/2 {
		t.Fatalf("occupied %d after trim, want <= %d", w.Occupied(), capacity/2)
	}
}
