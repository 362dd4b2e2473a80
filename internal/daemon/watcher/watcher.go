// Package watcher handles file system watching for the daemon.
package watcher

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/autopanel-io/autopanel/internal/config"
	"github.com/autopanel-io/autopanel/internal/trajectory"
)

const debounceDelay = 100 * time.Millisecond

// EventType represents the type of file system event.
type EventType int

// Event types for file system changes.
const (
	EventSessionCreated EventType = iota
	EventSessionUpdated
	EventTaskStateChanged // task.yaml written or removed
	EventSettingsChanged  // settings.yaml written
)

func (t EventType) String() string {
	switch t {
	case EventSessionCreated:
		return "session_created"
	case EventSessionUpdated:
		return "session_updated"
	case EventTaskStateChanged:
		return "task_state_changed"
	case EventSettingsChanged:
		return "settings_changed"
	}
	return "unknown"
}

// Event represents a file system change event.
type Event struct {
	Type      EventType
	SessionID string
	Path      string
}

// Watcher watches the traces directory and, optionally, the global config
// directory.
type Watcher struct {
	fsWatcher  *fsnotify.Watcher
	eventsChan chan Event
	done       chan struct{}
	stopOnce   sync.Once
	tracesDir  string
	globalDir  string
	debounce   map[string]*pending
	debounceMu sync.Mutex
}

type pending struct {
	timer *time.Timer
	op    fsnotify.Op
}

// New creates a watcher for tracesDir. globalDir may be empty.
func New(tracesDir, globalDir string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fsWatcher:  fsWatcher,
		eventsChan: make(chan Event, 100),
		done:       make(chan struct{}),
		tracesDir:  filepath.Clean(tracesDir),
		globalDir:  cleanOrEmpty(globalDir),
		debounce:   make(map[string]*pending),
	}, nil
}

func cleanOrEmpty(dir string) string {
	if dir == "" {
		return ""
	}
	return filepath.Clean(dir)
}

// Events returns the channel for receiving events.
func (w *Watcher) Events() <-chan Event {
	return w.eventsChan
}

// Start creates the traces directory if needed and starts watching.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.tracesDir, 0o755); err != nil {
		return err
	}
	if err := w.fsWatcher.Add(w.tracesDir); err != nil {
		return err
	}
	if w.globalDir != "" {
		if err := w.fsWatcher.Add(w.globalDir); err != nil {
			log.Printf("[watcher] Warning: failed to watch %s: %v", w.globalDir, err)
		}
	}

	log.Printf("[watcher] Watching %s", w.tracesDir)
	go w.processEvents()
	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fsWatcher.Close()

		w.debounceMu.Lock()
		for path, p := range w.debounce {
			p.timer.Stop()
			delete(w.debounce, path)
		}
		w.debounceMu.Unlock()
	})
}

// processEvents processes file system events.
func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("[watcher] Error: %v", err)
		}
	}
}

// handleEvent filters and debounces a single file system event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Rename covers atomic writes (tmp file renamed onto the target);
	// Remove matters only for task.yaml.
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	if _, ok := w.classify(event.Name, event.Op); !ok {
		return
	}
	w.debounceEvent(event.Name, event.Op)
}

// debounceEvent coalesces events for the same path. Ops seen during the
// window are merged so a create followed by writes still reports a create.
func (w *Watcher) debounceEvent(path string, op fsnotify.Op) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if p, ok := w.debounce[path]; ok {
		p.timer.Stop()
		op |= p.op
	}

	w.debounce[path] = &pending{
		op: op,
		timer: time.AfterFunc(debounceDelay, func() {
			w.debounceMu.Lock()
			delete(w.debounce, path)
			w.debounceMu.Unlock()
			w.processFileChange(path, op)
		}),
	}
}

// processFileChange handles a debounced file change.
func (w *Watcher) processFileChange(path string, op fsnotify.Op) {
	ev, ok := w.classify(path, op)
	if !ok {
		return
	}
	select {
	case w.eventsChan <- ev:
	case <-w.done:
	}
}

// classify maps a path and op onto an Event.
func (w *Watcher) classify(path string, op fsnotify.Op) (Event, bool) {
	dir := filepath.Dir(path)
	name := filepath.Base(path)

	if dir == w.tracesDir && strings.HasSuffix(name, trajectory.LogExt) {
		if op&fsnotify.Remove != 0 && op&(fsnotify.Create|fsnotify.Write) == 0 {
			return Event{}, false
		}
		id := strings.TrimSuffix(name, trajectory.LogExt)
		if trajectory.ValidateSessionID(id) != nil {
			return Event{}, false
		}
		typ := EventSessionUpdated
		if op&fsnotify.Create != 0 {
			typ = EventSessionCreated
		}
		return Event{Type: typ, SessionID: id, Path: path}, true
	}

	if w.globalDir != "" && dir == w.globalDir {
		switch name {
		case config.TaskFileName:
			return Event{Type: EventTaskStateChanged, Path: path}, true
		case config.SettingsFileName:
			if op&fsnotify.Remove != 0 {
				return Event{}, false
			}
			return Event{Type: EventSettingsChanged, Path: path}, true
		}
	}
	return Event{}, false
}
