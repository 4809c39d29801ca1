package inference

import (
	"fmt"
	"strings"

	"github.com/samcharles93/parley/internal/history"
	"github.com/samcharles93/parley/internal/runtime"
	"github.com/samcharles93/parley/internal/template"
)

// Loader opens a runtime and wraps it in a Session.
type Loader struct {
	Runtime      runtime.Loader
	Template     string
	SystemPrompt string
	// Stop overrides the template's stop string when set.
	Stop string
}

type LoadResult struct {
	Session  *Session
	Template template.Template
}

func (l Loader) Load(modelPath string, hist *history.Log, opts Options) (*LoadResult, error) {
	if l.Runtime == nil {
		return nil, fmt.Errorf("runtime loader is required")
	}
	tmpl, err := template.Lookup(l.Template, l.SystemPrompt)
	if err != nil {
		return nil, err
	}
	if stop := strings.TrimSpace(l.Stop); stop != "" {
		tmpl.Stop = stop
	}

	rt, err := l.Runtime.Load(modelPath, opts.Capacity)
	if err != nil {
		return nil, fmt.Errorf("load runtime: %w", err)
	}
	s, err := NewSession(rt, tmpl, hist, opts)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	if opts.Logger != nil {
		opts.Logger.Info("session ready",
			"template", tmpl.Name,
			"capacity", opts.Capacity,
			"caching", opts.Caching,
			"loopback", opts.Loopback,
		)
	}
	return &LoadResult{Session: s, Template: tmpl}, nil
}

// Reload replaces old with a session on a freshly loaded runtime. The
// conversation carries over, and so does the last captured state when
// caching is on. old is closed once the new session is ready; its runtime is
// not called again.
func (l Loader) Reload(old *Session, modelPath string, opts Options) (*LoadResult, error) {
	snap, hasSnap := old.Snapshot()
	res, err := l.Load(modelPath, old.History(), opts)
	if err != nil {
		return nil, err
	}
	s := res.Session
	if err := old.Close(); err != nil {
		s.log.Warn("closing replaced runtime", "err", err)
	}
	if hasSnap && opts.Caching && !opts.Loopback {
		if err := s.RestoreSnapshot(snap); err != nil {
			s.log.Warn("could not carry session state over", "err", err)
		}
	}
	s.log.Info("reloaded session", "turns", s.hist.Len(), "resumed", s.saved.Load() != nil)
	return res, nil
}
