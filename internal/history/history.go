// Package history holds the ordered conversation log fed to prompt
// formatting. Turns are never edited after they are appended.
package history

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ParseRole accepts the role names used on the wire and in storage.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn stamps a turn with a fresh id and the current time.
func NewTurn(role Role, content string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Observer is notified after every append. It runs under the log's lock and
// must not call back into the log.
type Observer func(Turn)

// Log is an append-only, mutex-guarded list of turns.
type Log struct {
	mu       sync.RWMutex
	turns    []Turn
	observer Observer
}

func NewLog(turns ...Turn) *Log {
	return &Log{turns: append([]Turn(nil), turns...)}
}

// Observe installs fn as the append observer, replacing any previous one.
func (l *Log) Observe(fn Observer) {
	l.mu.Lock()
	l.observer = fn
	l.mu.Unlock()
}

func (l *Log) Append(role Role, content string) Turn {
	t := NewTurn(role, content)
	l.AppendTurn(t)
	return t
}

func (l *Log) AppendTurn(t Turn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, t)
	if l.observer != nil {
		l.observer(t)
	}
}

// AppendInput records content as a user turn unless the last turn already
// is that same user input, as it is when a failed turn is retried. It
// reports whether a turn was appended.
func (l *Log) AppendInput(content string) (Turn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.turns); n > 0 && l.turns[n-1].Role == RoleUser && l.turns[n-1].Content == content {
		return l.turns[n-1], false
	}
	t := NewTurn(RoleUser, content)
	l.turns = append(l.turns, t)
	if l.observer != nil {
		l.observer(t)
	}
	return t, true
}

// Turns returns a copy of the log.
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Turn(nil), l.turns...)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

func (l *Log) Last() (Turn, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.turns) == 0 {
		return Turn{}, false
	}
	return l.turns[len(l.turns)-1], true
}

func (l *Log) Clear() {
	l.mu.Lock()
	l.turns = nil
	l.mu.Unlock()
}
