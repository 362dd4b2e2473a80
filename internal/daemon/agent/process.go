package agent

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/creack/pty"
	"github.com/hinshun/vt10x"

	"github.com/autopanel-io/autopanel/internal/models"
	"github.com/autopanel-io/autopanel/internal/trajectory"
)

const (
	maxScrollback = 10000
	stopGrace     = 5 * time.Second
)

// Screen is a plain-text snapshot of the agent's terminal.
type Screen struct {
	Lines     []string `json:"lines"`
	CursorRow int      `json:"cursor_row"`
	CursorCol int      `json:"cursor_col"`
	Rows      int      `json:"rows"`
	Cols      int      `json:"cols"`
}

// ProcessOptions contains options for creating a new agent process.
type ProcessOptions struct {
	Cmd  *exec.Cmd
	Rows int
	Cols int

	// OnSessionID is called once, with the id from the first session banner
	// in the output.
	OnSessionID func(id string)
	// OnIssue is called whenever a line matches a known problem.
	OnIssue func(issue *models.TaskIssue)
}

// Process runs the agent in a PTY, splits its output into ANSI-free lines and
// keeps a vt10x model of the terminal.
type Process struct {
	mu         sync.RWMutex
	cmd        *exec.Cmd
	ptyFile    *os.File
	vt         vt10x.Terminal
	rows, cols int
	done       chan struct{}
	exitErr    error

	cleanupOnce sync.Once

	subMu    sync.RWMutex
	lineSubs map[string]chan string

	scrollMu   sync.RWMutex
	scrollback []string
	startedAt  time.Time

	partial     strings.Builder
	sessionMu   sync.RWMutex
	sessionID   string
	onSessionID func(string)
	onIssue     func(*models.TaskIssue)
}

// NewProcess creates and starts a new agent process with PTY and vt10x terminal emulation.
func NewProcess(opts ProcessOptions) (*Process, error) {
	rows := opts.Rows
	cols := opts.Cols
	if rows <= 0 {
		rows = 40
	}
	if cols <= 0 {
		cols = 120
	}

	vt := vt10x.New(vt10x.WithSize(cols, rows))

	ptmx, err := pty.StartWithSize(opts.Cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY: %w", err)
	}

	p := &Process{
		cmd:         opts.Cmd,
		ptyFile:     ptmx,
		vt:          vt,
		rows:        rows,
		cols:        cols,
		done:        make(chan struct{}),
		lineSubs:    make(map[string]chan string),
		scrollback:  make([]string, 0, 1024),
		startedAt:   time.Now().UTC(),
		onSessionID: opts.OnSessionID,
		onIssue:     opts.OnIssue,
	}

	go p.readLoop()

	return p, nil
}

// readLoop reads from the PTY until the child closes it, then reaps the child.
func (p *Process) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := p.ptyFile.Read(buf)
		if n > 0 {
			data := buf[:n]
			p.vt.Write(data)
			p.consume(data)
		}
		if err != nil {
			break
		}
	}
	p.flushPartial()

	p.exitErr = p.cmd.Wait()
	close(p.done)
}

// consume splits output into complete lines; the trailing fragment waits for
// the next read.
func (p *Process) consume(data []byte) {
	p.partial.Write(data)
	content := p.partial.String()
	idx := strings.LastIndexByte(content, '\n')
	if idx < 0 {
		return
	}

	p.partial.Reset()
	p.partial.WriteString(content[idx+1:])

	for _, raw := range strings.Split(content[:idx], "\n") {
		p.handleLine(raw)
	}
}

func (p *Process) flushPartial() {
	if p.partial.Len() == 0 {
		return
	}
	rest := p.partial.String()
	p.partial.Reset()
	p.handleLine(rest)
}

func (p *Process) handleLine(raw string) {
	line := CleanLine(raw)
	p.appendScrollback(line)

	if id, ok := trajectory.ParseBanner(line); ok {
		p.setSessionID(id)
	}
	if issue := DetectIssue(line); issue != nil && p.onIssue != nil {
		p.onIssue(issue)
	}

	p.broadcastLine(line)
}

// CleanLine strips terminal escapes and carriage-return overwrites from one
// line of PTY output.
func CleanLine(raw string) string {
	line := strings.TrimRight(ansi.Strip(raw), "\r")
	if i := strings.LastIndexByte(line, '\r'); i >= 0 {
		line = line[i+1:]
	}
	return line
}

func (p *Process) setSessionID(id string) {
	p.sessionMu.Lock()
	if p.sessionID != "" {
		p.sessionMu.Unlock()
		return
	}
	p.sessionID = id
	p.sessionMu.Unlock()

	log.Printf("[agent] Session %s detected in output", id)
	if p.onSessionID != nil {
		p.onSessionID(id)
	}
}

// SessionID returns the trajectory session announced by the agent, or "".
func (p *Process) SessionID() string {
	p.sessionMu.RLock()
	defer p.sessionMu.RUnlock()
	return p.sessionID
}

// Screen returns the current terminal contents.
func (p *Process) Screen() *Screen {
	p.mu.RLock()
	rows := p.rows
	cols := p.cols
	p.mu.RUnlock()

	p.vt.Lock()
	defer p.vt.Unlock()

	lines := make([]string, rows)
	for row := 0; row < rows; row++ {
		var sb strings.Builder
		for col := 0; col < cols; col++ {
			g := p.vt.Cell(col, row)
			if g.Char == 0 {
				sb.WriteByte(' ')
			} else {
				sb.WriteRune(g.Char)
			}
		}
		lines[row] = strings.TrimRight(sb.String(), " ")
	}

	cur := p.vt.Cursor()
	return &Screen{
		Lines:     lines,
		CursorRow: cur.Y,
		CursorCol: cur.X,
		Rows:      rows,
		Cols:      cols,
	}
}

// Resize changes the PTY and vt10x terminal size.
func (p *Process) Resize(rows, cols int) error {
	p.mu.Lock()
	p.rows = rows
	p.cols = cols
	p.mu.Unlock()

	if err := pty.Setsize(p.ptyFile, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	}); err != nil {
		return fmt.Errorf("failed to resize PTY: %w", err)
	}

	p.vt.Resize(cols, rows)
	return nil
}

// Stop terminates the agent process. Sends SIGTERM, waits 5 seconds, then SIGKILL.
func (p *Process) Stop() {
	if p.cmd.Process == nil {
		return
	}

	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-p.done:
		p.Cleanup()
		return
	case <-time.After(stopGrace):
	}

	_ = p.cmd.Process.Kill()
	<-p.done
	p.Cleanup()
}

// Cleanup releases the PTY. Safe to call multiple times.
func (p *Process) Cleanup() {
	p.cleanupOnce.Do(func() {
		if p.ptyFile != nil {
			_ = p.ptyFile.Close()
		}
	})
}

// Done returns a channel that is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr returns the process exit error (nil if exited cleanly).
func (p *Process) ExitErr() error {
	return p.exitErr
}

// ExitCode returns the child's exit status, or -1 while it is running or
// when it was killed by a signal.
func (p *Process) ExitCode() int {
	if p.IsRunning() || p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// PID returns the child's process id.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// SubscribeLines creates a line subscription for the given subscriber ID.
func (p *Process) SubscribeLines(id string) chan string {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	ch := make(chan string, 256)
	p.lineSubs[id] = ch
	return ch
}

// UnsubscribeLines removes a line subscription.
func (p *Process) UnsubscribeLines(id string) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	if ch, ok := p.lineSubs[id]; ok {
		close(ch)
		delete(p.lineSubs, id)
	}
}

// broadcastLine sends a line to all subscribers. Non-blocking: drops if channel full.
func (p *Process) broadcastLine(line string) {
	p.subMu.RLock()
	defer p.subMu.RUnlock()

	for _, ch := range p.lineSubs {
		select {
		case ch <- line:
		default:
			// Drop if subscriber can't keep up
		}
	}
}

func (p *Process) appendScrollback(line string) {
	p.scrollMu.Lock()
	defer p.scrollMu.Unlock()

	p.scrollback = append(p.scrollback, line)
	if over := len(p.scrollback) - maxScrollback; over > 0 {
		p.scrollback = append(p.scrollback[:0], p.scrollback[over:]...)
	}
}

// GetScrollback returns a slice of the scrollback buffer and its total size.
func (p *Process) GetScrollback(offset, limit int) ([]string, int) {
	p.scrollMu.RLock()
	defer p.scrollMu.RUnlock()

	total := len(p.scrollback)
	if offset >= total {
		return nil, total
	}

	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	result := make([]string, end-offset)
	copy(result, p.scrollback[offset:end])
	return result, total
}

// GetFullScrollback returns all scrollback lines.
func (p *Process) GetFullScrollback() []string {
	p.scrollMu.RLock()
	defer p.scrollMu.RUnlock()

	result := make([]string, len(p.scrollback))
	copy(result, p.scrollback)
	return result
}

// StartedAt returns when the process was created.
func (p *Process) StartedAt() time.Time {
	return p.startedAt
}

// IsRunning returns true if the process is still running.
func (p *Process) IsRunning() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}
