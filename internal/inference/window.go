package inference

import (
	"fmt"

	"github.com/samcharles93/parley/internal/logger"
	"github.com/samcharles93/parley/internal/runtime"
)

// seqID is the only sequence a session uses.
const seqID runtime.SeqID = 0

// Window tracks how many positions of the runtime cache are occupied and
// evicts the oldest half when it fills.
type Window struct {
	rt       runtime.Runtime
	log      logger.Logger
	capacity int
	occupied int
	seqs     []runtime.SeqID
}

func NewWindow(rt runtime.Runtime, capacity int, log logger.Logger) *Window {
	if log == nil {
		log = logger.Discard()
	}
	return &Window{
		rt:       rt,
		log:      log,
		capacity: capacity,
		seqs:     []runtime.SeqID{seqID},
	}
}

func (w *Window) Capacity() int { return w.capacity }
func (w *Window) Occupied() int { return w.occupied }

// Admit queues tok at the next free position.
func (w *Window) Admit(b *runtime.Batch, tok runtime.Token, logits bool) error {
	if w.occupied >= w.capacity {
		return fmt.Errorf("%w: admit at %d with capacity %d", ErrContextOverflow, w.occupied, w.capacity)
	}
	b.Add(tok, w.occupied, w.seqs, logits)
	w.occupied++
	return nil
}

func (w *Window) ShouldTrim(pending int) bool {
	return w.occupied+pending >= w.capacity
}

// Trim drops positions [0, capacity/2) and moves [capacity/2, capacity) down
// to start at zero. Occupancy is re-read from the runtime afterwards.
func (w *Window) Trim() {
	half := w.capacity / 2
	before := w.occupied
	w.rt.CacheRemove(seqID, 0, half)
	w.rt.CacheShift(seqID, half, w.capacity, -half)
	w.occupied = min(max(w.rt.CacheTokenCount(seqID), 0), w.capacity)
	w.log.Debug("trimmed context window", "before", before, "after", w.occupied, "capacity", w.capacity)
}

// MakeRoom trims until n more tokens fit. A trim only ever happens between
// batches.
func (w *Window) MakeRoom(n int) (trimmed int, err error) {
	if n >= w.capacity {
		return 0, fmt.Errorf("%w: %d tokens, capacity %d", ErrContextOverflow, n, w.capacity)
	}
	if !w.ShouldTrim(n) {
		return 0, nil
	}
	for {
		prev := w.occupied
		w.Trim()
		trimmed++
		if w.occupied+n <= w.capacity {
			return trimmed, nil
		}
		if w.occupied >= prev {
			return trimmed, fmt.Errorf("%w: trim freed nothing (%d occupied)", ErrContextOverflow, w.occupied)
		}
	}
}

// Rollback forgets every position from onward.
func (w *Window) Rollback(from int) {
	from = max(from, 0)
	if from >= w.occupied {
		return
	}
	w.rt.CacheRemove(seqID, from, -1)
	w.log.Debug("rolled back context window", "from", w.occupied, "to", from)
	w.occupied = from
}

func (w *Window) Reset() {
	w.rt.CacheRemove(seqID, 0, -1)
	w.occupied = 0
}

// Abandon forgets occupancy without calling the runtime. It is used once
// the runtime can no longer be trusted.
func (w *Window) Abandon() {
	w.occupied = 0
}

// Restore re-derives occupancy after runtime state has been loaded. The
// count is one past the cached cells to account for the leading marker.
func (w *Window) Restore() error {
	n := w.rt.CacheTokenCount(seqID) + 1
	if n > w.capacity {
		return fmt.Errorf("%w: restored state holds %d positions, capacity %d", ErrContextOverflow, n, w.capacity)
	}
	w.occupied = n
	return nil
}
