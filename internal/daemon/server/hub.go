package server

import (
	"sync"

	"github.com/autopanel-io/autopanel/internal/daemon/watcher"
)

// hub fans watcher events out to live streams. Slow subscribers miss events
// rather than blocking the watcher.
type hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan watcher.Event
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan watcher.Event)}
}

func (h *hub) subscribe() (<-chan watcher.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan watcher.Event, 16)
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			close(c)
			delete(h.subs, id)
		}
	}
}

func (h *hub) publish(ev watcher.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
