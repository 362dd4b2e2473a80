// Package tui implements the terminal trajectory viewer for AutoPanel.
package tui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/autopanel-io/autopanel/internal/daemon/watcher"
	"github.com/autopanel-io/autopanel/internal/trajectory"
)

// programRef is a shared reference to the tea.Program for goroutine sends.
// It's set after tea.NewProgram but before p.Run().
type programRef struct {
	mu sync.Mutex
	p  *tea.Program
}

func (r *programRef) Set(p *tea.Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.p = p
}

func (r *programRef) Send(msg tea.Msg) {
	r.mu.Lock()
	p := r.p
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Clear nils out the program reference, preventing post-exit sends.
func (r *programRef) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.p = nil
}

// Options configures the viewer.
type Options struct {
	Store *trajectory.Store
	// Limit caps the session list; <= 0 lists every session.
	Limit int
	// SessionID, when set, is opened on start.
	SessionID string
	// Events, when set, refreshes the list and the open session as the
	// traces directory changes.
	Events <-chan watcher.Event
}

// Run launches the viewer and blocks until the user quits.
func Run(opts Options) error {
	ref := &programRef{}
	model := NewModel(opts)

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
	)
	ref.Set(p)
	defer ref.Clear()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if opts.Events != nil {
		go forwardEvents(ctx, opts.Events, ref)
	}

	_, err := p.Run()
	return err
}

// forwardEvents relays session file changes into the program.
func forwardEvents(ctx context.Context, events <-chan watcher.Event, ref *programRef) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case watcher.EventSessionCreated, watcher.EventSessionUpdated:
				ref.Send(SessionChangedMsg{SessionID: ev.SessionID, Created: ev.Type == watcher.EventSessionCreated})
			}
		}
	}
}
