package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/autopanel-io/autopanel/internal/daemon/agent"
	"github.com/autopanel-io/autopanel/internal/daemon/watcher"
	"github.com/autopanel-io/autopanel/internal/trajectory"
)

// sessionRefreshInterval bounds how often a live session is re-rendered.
const sessionRefreshInterval = 500 * time.Millisecond

// sseWriter writes server-sent events.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSE(w http.ResponseWriter) (*sseWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseWriter{w: w, f: f}, true
}

func (s *sseWriter) event(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// streamOutput sends the running task's visible console lines, backlog
// first, until the task exits or ctx ends.
func (s *Server) streamOutput(ctx context.Context, send func(line string) error) error {
	proc, ok := s.agentManager.Process()
	if !ok {
		return agent.ErrNoTask
	}

	subID := uuid.NewString()
	lines := proc.SubscribeLines(subID)
	defer proc.UnsubscribeLines(subID)

	for _, line := range agent.FilterVisible(proc.GetFullScrollback()) {
		if err := send(line); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closing:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if agent.Visible(line) {
				if err := send(line); err != nil {
					return err
				}
			}
		case <-proc.Done():
			for {
				select {
				case line := <-lines:
					if agent.Visible(line) {
						if err := send(line); err != nil {
							return err
						}
					}
				default:
					return nil
				}
			}
		}
	}
}

func (s *Server) handleTaskOutput(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.agentManager.Process(); !ok {
		writeError(w, http.StatusNotFound, agent.ErrNoTask)
		return
	}
	sse, ok := newSSE(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	err := s.streamOutput(r.Context(), func(line string) error {
		return sse.event("line", line)
	})
	if err != nil && !errors.Is(err, agent.ErrNoTask) {
		log.Printf("[server] Output stream ended: %v", err)
		return
	}
	_ = sse.event("done", map[string]any{})
}

// handleSessionEvents pushes the re-rendered trajectory whenever the
// session's log changes.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := trajectory.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	events, cancel := s.hub.subscribe()
	defer cancel()

	sse, ok := newSSE(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	if err := sse.event("trajectory", s.renderer.Render(id)); err != nil {
		return
	}

	ctx := r.Context()
	limiter := rate.NewLimiter(rate.Every(sessionRefreshInterval), 1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closing:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.SessionID != id {
				continue
			}
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			drainEvents(events)
			if err := sse.event("trajectory", s.renderer.Render(id)); err != nil {
				return
			}
		}
	}
}

// drainEvents discards queued events; the next render covers them.
func drainEvents(events <-chan watcher.Event) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
