package inference

import (
	"context"
	"time"

	"github.com/samcharles93/parley/internal/history"
	"github.com/samcharles93/parley/internal/logger"
)

// StreamFunc receives text deltas in order.
type StreamFunc func(delta string)

// Engine is the surface the CLI and HTTP server drive. *Session implements it.
type Engine interface {
	Respond(ctx context.Context, input string, stream StreamFunc) (*Result, error)
	Start(ctx context.Context, input string) *Generation
	Stop()
	ClearHistory() error
	History() *history.Log
	CurrentOutput() string
	Stats() SessionStats
	Snapshot() (SessionState, bool)
	RestoreSnapshot(SessionState) error
	Close() error
}

const (
	DefaultCapacity      = 2048
	DefaultLoopbackDelay = 500 * time.Millisecond
)

type Options struct {
	// Capacity is the number of context window positions.
	Capacity int
	// Caching keeps the runtime state between turns so only new input is
	// processed. When off, every turn re-reads the whole conversation.
	Caching bool
	// Loopback answers with a canned response instead of running the model.
	Loopback      bool
	LoopbackDelay time.Duration
	// MaxTokens bounds the reply length. Zero means no bound.
	MaxTokens int
	Logger    logger.Logger
}

func DefaultOptions() Options {
	return Options{
		Capacity:      DefaultCapacity,
		Caching:       true,
		LoopbackDelay: DefaultLoopbackDelay,
	}
}

type Phase int32

const (
	PhaseIdle Phase = iota
	PhasePreparing
	PhaseStreaming
	PhaseFinalizing
	PhaseCancelled
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePreparing:
		return "preparing"
	case PhaseStreaming:
		return "streaming"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseCancelled:
		return "cancelled"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Reason records why a generation ended.
type Reason string

const (
	ReasonStop      Reason = "stop"
	ReasonEnd       Reason = "end"
	ReasonLength    Reason = "length"
	ReasonCancelled Reason = "cancelled"
)

// EmptyPlaceholder is returned as the text of a turn that produced nothing.
const EmptyPlaceholder = "..."

type Stats struct {
	PromptTokens    int           `json:"prompt_tokens"`
	TokensGenerated int           `json:"tokens_generated"`
	Duration        time.Duration `json:"duration"`
	TPS             float64       `json:"tps"`
}

type Result struct {
	Text   string `json:"text"`
	Empty  bool   `json:"empty"`
	Reason Reason `json:"reason"`
	Stats  Stats  `json:"stats"`
}

// SessionState is a captured runtime cache with the occupancy it was taken at.
type SessionState struct {
	Data       []byte
	Occupied   int
	CapturedAt time.Time
}

type SessionStats struct {
	Phase       Phase `json:"phase"`
	Occupied    int   `json:"occupied"`
	Capacity    int   `json:"capacity"`
	InputTokens int   `json:"input_tokens"`
	Cached      bool  `json:"cached"`
	Caching     bool  `json:"caching"`
	Loopback    bool  `json:"loopback"`
	Broken      bool  `json:"broken"`
	Turns       int   `json:"turns"`
}
