// Package api exposes a single chat session over HTTP. Replies can be
// returned whole or streamed as server-sent events.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v5"
	"golang.org/x/sync/semaphore"

	"github.com/samcharles93/parley/internal/history"
	"github.com/samcharles93/parley/internal/inference"
	"github.com/samcharles93/parley/internal/logger"
	"github.com/samcharles93/parley/internal/version"
)

type Config struct {
	Engine inference.Engine
	// Reload replaces a session broken by a runtime fault. It runs under
	// the turn gate before the next chat request.
	Reload func() (inference.Engine, error)
	// Model is reported by GET /v1/session.
	Model  string
	Logger logger.Logger
	// AfterTurn runs once a chat request has finished, while the server
	// still holds the turn. Persistence hooks go here.
	AfterTurn func(ctx context.Context, res *inference.Result)
	// OnClear runs after DELETE /v1/history has emptied the session.
	OnClear func(ctx context.Context) error
}

// Server serializes chat requests through one session.
type Server struct {
	cfg   Config
	log   logger.Logger
	turn  *semaphore.Weighted
	clock func() time.Time

	mu     sync.RWMutex
	engine inference.Engine
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		cfg:    cfg,
		log:    log,
		turn:   semaphore.NewWeighted(1),
		clock:  time.Now,
		engine: cfg.Engine,
	}
}

func (s *Server) current() inference.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// healthy returns the engine, reloading it first when a fault broke it.
// Callers hold the turn gate.
func (s *Server) healthy() (inference.Engine, error) {
	eng := s.current()
	if !eng.Stats().Broken || s.cfg.Reload == nil {
		return eng, nil
	}
	fresh, err := s.cfg.Reload()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.engine = fresh
	s.mu.Unlock()
	s.log.Info("session reloaded after a runtime fault", "turns", fresh.History().Len())
	return fresh, nil
}

// acquire takes the turn gate. ok is false when the response has already
// been written.
func (s *Server) acquire(c *echo.Context) (ok bool, err error) {
	if err := s.turn.Acquire(c.Request().Context(), 1); err != nil {
		if errors.Is(err, context.Canceled) {
			s.log.Info("aborting request, client closed the connection")
			return false, nil
		}
		return false, writeError(c, http.StatusServiceUnavailable, "unavailable_error", err.Error())
	}
	return true, nil
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.POST("/v1/chat", s.handleChat)
	e.POST("/v1/chat/stop", s.handleStop)
	e.GET("/v1/history", s.handleGetHistory)
	e.DELETE("/v1/history", s.handleClearHistory)
	e.GET("/v1/session", s.handleSession)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.String(),
	})
}

func (s *Server) handleChat(c *echo.Context) error {
	if s.current() == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "session not configured")
	}
	req, err := decodeJSON[ChatRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if strings.TrimSpace(req.Input) == "" {
		return writeSessionError(c, newInvalidRequest("input is required and must not be blank"))
	}

	if ok, err := s.acquire(c); !ok {
		return err
	}
	defer s.turn.Release(1)

	eng, err := s.healthy()
	if err != nil {
		s.log.Error("reload failed", "err", err)
		return writeError(c, http.StatusInternalServerError, "runtime_error", err.Error())
	}

	ctx := c.Request().Context()
	id := newChatID()
	eng.History().AppendInput(req.Input)
	s.log.Debug("chat request", "id", id, "stream", req.Stream, "input_bytes", len(req.Input))

	if req.Stream {
		return s.streamChat(c, eng, id, req.Input)
	}

	res, err := eng.Respond(ctx, req.Input, nil)
	if err != nil {
		s.log.Warn("chat failed", "id", id, "err", err)
		return writeSessionError(c, err)
	}
	s.afterTurn(ctx, res)
	return writeJSON(c, http.StatusOK, ChatResponse{
		ID:        id,
		Object:    "chat.result",
		CreatedAt: s.clock().Unix(),
		Result:    res,
	})
}

func (s *Server) streamChat(c *echo.Context, eng inference.Engine, id, input string) error {
	sw, err := NewSSEStreamWriter(c, id)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	ctx := c.Request().Context()
	g := eng.Start(ctx, input)
	for delta := range g.Deltas() {
		if err := sw.Delta(delta); err != nil {
			s.log.Debug("stream client gone, cancelling", "id", id, "err", err)
			g.Cancel()
		}
	}

	res, err := g.Wait()
	if err != nil {
		s.log.Warn("chat failed", "id", id, "err", err)
		return sw.Error(err)
	}
	s.afterTurn(ctx, res)
	return sw.Done(res)
}

func (s *Server) afterTurn(ctx context.Context, res *inference.Result) {
	if s.cfg.AfterTurn != nil && res != nil {
		s.cfg.AfterTurn(context.WithoutCancel(ctx), res)
	}
}

func (s *Server) handleStop(c *echo.Context) error {
	eng := s.current()
	if eng == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "session not configured")
	}
	eng.Stop()
	return writeJSON(c, http.StatusOK, map[string]any{
		"stopped": true,
		"phase":   eng.Stats().Phase,
	})
}

func (s *Server) handleGetHistory(c *echo.Context) error {
	eng := s.current()
	if eng == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "session not configured")
	}
	turns := eng.History().Turns()
	if turns == nil {
		turns = []history.Turn{}
	}
	return writeJSON(c, http.StatusOK, HistoryResponse{Object: "list", Data: turns})
}

func (s *Server) handleClearHistory(c *echo.Context) error {
	if s.current() == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "session not configured")
	}
	// A running chat is stopped so the clear and the hook land between turns.
	s.current().Stop()
	if ok, err := s.acquire(c); !ok {
		return err
	}
	defer s.turn.Release(1)

	if err := s.current().ClearHistory(); err != nil {
		return writeSessionError(c, err)
	}
	if s.cfg.OnClear != nil {
		if err := s.cfg.OnClear(c.Request().Context()); err != nil {
			s.log.Warn("clear hook failed", "err", err)
			return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
		}
	}
	return writeJSON(c, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleSession(c *echo.Context) error {
	eng := s.current()
	if eng == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "session not configured")
	}
	resp := SessionResponse{
		Object:        "session",
		Model:         s.cfg.Model,
		Stats:         eng.Stats(),
		CurrentOutput: eng.CurrentOutput(),
	}
	if st, ok := eng.Snapshot(); ok {
		resp.Snapshot = &SnapshotInfo{
			Bytes:      len(st.Data),
			Occupied:   st.Occupied,
			CapturedAt: st.CapturedAt,
		}
	}
	return writeJSON(c, http.StatusOK, resp)
}
