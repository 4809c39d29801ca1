package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/parley/internal/inference"
)

// SSEStreamWriter frames a generation as server-sent events: one delta frame
// per text fragment, then a single done or error frame.
type SSEStreamWriter struct {
	w       io.Writer
	flusher func()
	id      string
	seq     int
}

func NewSSEStreamWriter(c *echo.Context, id string) (*SSEStreamWriter, error) {
	res := c.Response()
	flusher, ok := res.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported")
	}
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	return &SSEStreamWriter{
		w:       res,
		flusher: flusher.Flush,
		id:      id,
		seq:     1,
	}, nil
}

func (s *SSEStreamWriter) Delta(delta string) error {
	return s.send(streamEvent{Type: "delta", Delta: delta})
}

func (s *SSEStreamWriter) Done(result *inference.Result) error {
	return s.send(streamEvent{Type: "done", Result: result})
}

func (s *SSEStreamWriter) Error(err error) error {
	_, errType := classify(err)
	return s.send(streamEvent{
		Type:  "error",
		Error: &ResponseError{Message: err.Error(), Type: errType},
	})
}

func (s *SSEStreamWriter) send(ev streamEvent) error {
	ev.ID = s.id
	ev.SequenceNumber = s.seq
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	s.flusher()
	s.seq++
	return nil
}
