// Package agent supervises the automation agent process for the daemon.
package agent

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autopanel-io/autopanel/internal/config"
	"github.com/autopanel-io/autopanel/internal/metrics"
	"github.com/autopanel-io/autopanel/internal/models"
)

var (
	// ErrNoTask is returned when an operation needs a running task.
	ErrNoTask = errors.New("no task running")
	// ErrInvalidRequest is returned for task requests missing required fields.
	ErrInvalidRequest = errors.New("invalid task request")
)

// TaskRequest describes one agent run.
type TaskRequest struct {
	Task     string `json:"task"`
	BaseURL  string `json:"base_url"`
	Model    string `json:"model"`
	APIKey   string `json:"apikey,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	Rows     int    `json:"rows,omitempty"`
	Cols     int    `json:"cols,omitempty"`
}

// Validate checks the fields every run needs.
func (r TaskRequest) Validate() error {
	switch {
	case r.Task == "":
		return fmt.Errorf("%w: task is required", ErrInvalidRequest)
	case r.BaseURL == "":
		return fmt.Errorf("%w: base_url is required", ErrInvalidRequest)
	case r.Model == "":
		return fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	return nil
}

// BuildCommand returns the agent command line for req:
// <command> [script] --base-url <url> --model <model> <task> [--apikey <key>] [--device-id <id>].
func BuildCommand(cfg models.AgentConfig, req TaskRequest) (*exec.Cmd, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("%w: agent.command is not configured", ErrInvalidRequest)
	}

	var args []string
	if cfg.Script != "" {
		args = append(args, cfg.Script)
	}
	args = append(args, "--base-url", req.BaseURL, "--model", req.Model, req.Task)
	if req.APIKey != "" {
		args = append(args, "--apikey", req.APIKey)
	}
	if req.DeviceID != "" {
		args = append(args, "--device-id", req.DeviceID)
	}

	cmd := exec.Command(cfg.Command, args...)
	cmd.Dir = cfg.WorkDir

	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := os.Environ()
	for _, k := range keys {
		env = append(env, k+"="+cfg.Env[k])
	}
	cmd.Env = env

	return cmd, nil
}

type run struct {
	status      models.TaskStatus
	process     *Process
	userStopped bool
	finished    chan struct{}
}

// Manager runs at most one agent task at a time.
type Manager struct {
	mu         sync.RWMutex
	agentCfg   models.AgentConfig
	consoleDir string
	current    *run
	last       *models.TaskStatus

	onChangeFn func()
	onFinishFn func(models.TaskStatus)
}

// NewManager creates a manager that launches agents per agentCfg and writes
// console transcripts into consoleDir.
func NewManager(agentCfg models.AgentConfig, consoleDir string) *Manager {
	return &Manager{agentCfg: agentCfg, consoleDir: consoleDir}
}

// SetOnChange sets a callback that is invoked whenever the task state changes
// (started, session detected, issue detected, exited). Used by the tray.
func (m *Manager) SetOnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChangeFn = fn
}

// SetOnFinish sets a callback invoked with the final status of every run.
func (m *Manager) SetOnFinish(fn func(models.TaskStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFinishFn = fn
}

// Start launches a task. A task that is already running is stopped first.
func (m *Manager) Start(req TaskRequest) (*models.TaskStatus, error) {
	cmd, err := BuildCommand(m.agentCfg, req)
	if err != nil {
		return nil, err
	}

	if err := m.Stop(); err != nil && !errors.Is(err, ErrNoTask) {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return nil, fmt.Errorf("another task started concurrently")
	}

	r := &run{
		status: models.TaskStatus{
			RunID:    uuid.NewString(),
			Task:     req.Task,
			Model:    req.Model,
			BaseURL:  req.BaseURL,
			DeviceID: req.DeviceID,
			State:    models.TaskStateRunning,
		},
		finished: make(chan struct{}),
	}
	runID := r.status.RunID

	proc, err := NewProcess(ProcessOptions{
		Cmd:         cmd,
		Rows:        req.Rows,
		Cols:        req.Cols,
		OnSessionID: func(id string) { m.setSessionID(runID, id) },
		OnIssue:     func(issue *models.TaskIssue) { m.setIssue(runID, issue) },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start agent process: %w", err)
	}

	r.process = proc
	r.status.PID = proc.PID()
	r.status.StartedAt = proc.StartedAt()
	m.current = r
	m.persistStateLocked()
	metrics.SetAgentRunning(true)

	log.Printf("[agent] Task %s started (pid %d, model %s)", runID, r.status.PID, req.Model)

	go m.monitorProcess(r)

	status := r.status
	return &status, nil
}

// monitorProcess waits for the agent to exit, records the outcome and clears
// the running task.
func (m *Manager) monitorProcess(r *run) {
	<-r.process.Done()
	r.process.Cleanup()

	m.mu.Lock()
	now := time.Now().UTC()
	r.status.EndedAt = &now
	r.status.ExitCode = r.process.ExitCode()
	switch {
	case r.userStopped:
		r.status.State = models.TaskStateStopped
	case r.process.ExitErr() == nil:
		r.status.State = models.TaskStateCompleted
	default:
		r.status.State = models.TaskStateFailed
	}
	final := r.status

	log.Printf("[agent] Task %s exited: %s (code %d)", final.RunID, final.State, final.ExitCode)

	m.writeConsoleLog(&final, r.process)

	if m.current == r {
		m.current = nil
	}
	m.last = &final
	m.persistStateLocked()
	onFinish := m.onFinishFn
	m.mu.Unlock()

	metrics.SetAgentRunning(false)
	metrics.RecordAgentRun(string(final.State))
	if onFinish != nil {
		onFinish(final)
	}
	close(r.finished)
}

// Stop stops the running task and waits until it has been recorded.
func (m *Manager) Stop() error {
	m.mu.Lock()
	r := m.current
	if r == nil {
		m.mu.Unlock()
		return ErrNoTask
	}
	r.userStopped = true
	m.mu.Unlock()

	// Stop is blocking; monitorProcess clears m.current.
	r.process.Stop()
	<-r.finished
	return nil
}

// Status returns the running task, or the most recent one when idle.
// Returns nil if no task ever ran.
func (m *Manager) Status() *models.TaskStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current != nil {
		s := m.current.status
		return &s
	}
	if m.last != nil {
		s := *m.last
		return &s
	}
	return nil
}

// Running reports whether a task is running.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil
}

// Process returns the running task's process.
func (m *Manager) Process() (*Process, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, false
	}
	return m.current.process, true
}

func (m *Manager) setSessionID(runID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.status.RunID != runID {
		return
	}
	m.current.status.SessionID = sessionID
	m.persistStateLocked()
}

func (m *Manager) setIssue(runID string, issue *models.TaskIssue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.status.RunID != runID {
		return
	}
	log.Printf("[agent] Issue detected: type=%s message=%q", issue.Type, issue.Message)
	m.current.status.Issue = issue
	m.persistStateLocked()
}

// writeConsoleLog persists the run's scrollback. Called while holding m.mu.
func (m *Manager) writeConsoleLog(status *models.TaskStatus, proc *Process) {
	scrollback := proc.GetFullScrollback()
	if len(scrollback) == 0 || m.consoleDir == "" {
		return
	}

	entry, err := config.WriteConsoleLog(m.consoleDir, status, scrollback)
	if err != nil {
		log.Printf("[agent] Failed to write console log for %s: %v", status.RunID, err)
		return
	}
	log.Printf("[agent] Console log written: %s", entry.LogID)
}

// persistStateLocked mirrors the running task to ~/.autopanel/task.yaml.
// Must be called while holding m.mu.
func (m *Manager) persistStateLocked() {
	var err error
	if m.current != nil {
		status := m.current.status
		err = config.SaveTaskState(&status)
	} else {
		err = config.RemoveTaskState()
	}
	if err != nil {
		log.Printf("[agent] Failed to persist task state: %v", err)
	}

	if m.onChangeFn != nil {
		go m.onChangeFn()
	}
}
