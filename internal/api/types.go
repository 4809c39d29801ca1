package api

import (
	"time"

	"github.com/samcharles93/parley/internal/history"
	"github.com/samcharles93/parley/internal/inference"
)

type ChatRequest struct {
	Input  string `json:"input"`
	Stream bool   `json:"stream,omitempty"`
}

// ChatResponse is the body of a non-streaming chat reply.
type ChatResponse struct {
	ID        string            `json:"id"`
	Object    string            `json:"object"`
	CreatedAt int64             `json:"created_at"`
	Result    *inference.Result `json:"result"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

type HistoryResponse struct {
	Object string         `json:"object"`
	Data   []history.Turn `json:"data"`
}

type SnapshotInfo struct {
	Bytes      int       `json:"bytes"`
	Occupied   int       `json:"occupied"`
	CapturedAt time.Time `json:"captured_at"`
}

type SessionResponse struct {
	Object        string                 `json:"object"`
	Model         string                 `json:"model,omitempty"`
	Stats         inference.SessionStats `json:"stats"`
	CurrentOutput string                 `json:"current_output"`
	Snapshot      *SnapshotInfo          `json:"snapshot"`
}

// streamEvent is one SSE frame. Type is delta, done or error.
type streamEvent struct {
	Type           string            `json:"type"`
	ID             string            `json:"id"`
	SequenceNumber int               `json:"sequence_number"`
	Delta          string            `json:"delta,omitempty"`
	Result         *inference.Result `json:"result,omitempty"`
	Error          *ResponseError    `json:"error,omitempty"`
}
