package history

import (
	"sync"
	"testing"
)

func TestLogAppendOrder(t *testing.T) {
	t.Parallel()

	l := NewLog()
	a := l.Append(RoleUser, "hi")
	b := l.Append(RoleAssistant, "hello")

	turns := l.Turns()
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].ID != a.ID || turns[1].ID != b.ID {
		t.Fatalf("turns out of order: %+v", turns)
	}
	if a.ID == b.ID || a.ID == "" {
		t.Fatalf("expected distinct non-empty ids, got %q and %q", a.ID, b.ID)
	}
	if last, ok := l.Last(); !ok || last.Content != "hello" {
		t.Fatalf("unexpected last turn %+v", last)
	}
}

func TestLogTurnsIsACopy(t *testing.T) {
	t.Parallel()

	l := NewLog(NewTurn(RoleUser, "one"))
	turns := l.Turns()
	turns[0].Content = "mutated"
	if got := l.Turns()[0].Content; got != "one" {
		t.Fatalf("log mutated through copy: %q", got)
	}
}

func TestLogClear(t *testing.T) {
	t.Parallel()

	l := NewLog()
	l.Append(RoleUser, "x")
	l.Clear()
	if l.Len() != 0 {
		t.Fatalf("expected empty log after clear")
	}
	if _, ok := l.Last(); ok {
		t.Fatalf("expected no last turn after clear")
	}
}

func TestLogObserver(t *testing.T) {
	t.Parallel()

	l := NewLog()
	var seen []Role
	l.Observe(func(t Turn) { seen = append(seen, t.Role) })
	l.Append(RoleUser, "q")
	l.Append(RoleAssistant, "a")
	if len(seen) != 2 || seen[0] != RoleUser || seen[1] != RoleAssistant {
		t.Fatalf("observer saw %v", seen)
	}
}

func TestLogAppendInputSkipsRetry(t *testing.T) {
	t.Parallel()

	l := NewLog()
	var mirrored int
	l.Observe(func(Turn) { mirrored++ })

	first, ok := l.AppendInput("hello")
	if !ok {
		t.Fatal("first input should be appended")
	}
	again, ok := l.AppendInput("hello")
	if ok || again.ID != first.ID {
		t.Fatalf("retried input appended again: %+v", again)
	}
	if l.Len() != 1 || mirrored != 1 {
		t.Fatalf("len=%d mirrored=%d, want 1 and 1", l.Len(), mirrored)
	}

	l.Append(RoleAssistant, "hi")
	if _, ok := l.AppendInput("hello"); !ok {
		t.Fatal("input after a reply is a new turn")
	}
	if _, ok := l.AppendInput("other"); !ok {
		t.Fatal("different input is a new turn")
	}
	if l.Len() != 4 {
		t.Fatalf("len=%d, want 4", l.Len())
	}
}

func TestLogConcurrentAppend(t *testing.T) {
	t.Parallel()

	l := NewLog()
	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			l.Append(RoleUser, "x")
			_ = l.Turns()
		})
	}
	wg.Wait()
	if l.Len() != 16 {
		t.Fatalf("expected 16 turns, got %d", l.Len())
	}
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	if r, err := ParseRole("assistant"); err != nil || r != RoleAssistant {
		t.Fatalf("parse assistant: %v %v", r, err)
	}
	if _, err := ParseRole("system"); err == nil {
		t.Fatalf("expected error for unsupported role")
	}
}
