package trajectory

import (
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autopanel-io/autopanel/internal/metrics"
	"github.com/autopanel-io/autopanel/internal/models"
)

// DefaultActionType is recorded when a step has no action type.
const DefaultActionType = "unknown"

// WriteResult reports the outcome of a best-effort write. Writes never fail
// the caller: a failed append sets OK to false and Err to the cause, and a
// failed screenshot keeps OK true with an empty ImagePath and Err set.
type WriteResult struct {
	OK        bool
	Skipped   bool
	ImagePath string
	Err       error
}

// StepInput is one perception-action cycle as reported by the agent.
// Screenshot wins over ScreenshotBase64 when both are set.
type StepInput struct {
	Screenshot       image.Image
	ScreenshotBase64 string
	Thinking         string
	Action           map[string]any
	ActionType       string
	UserComment      string
}

// Logger writes the trajectory of one session at a time. Its lifecycle is
// NoSession -> Active (StartSession) -> NoSession (EndSession or the next
// StartSession). LogStep and EndSession do nothing without an active session.
type Logger struct {
	store  *Store
	banner io.Writer
	now    func() time.Time
	newID  func() string

	mu        sync.Mutex
	sessionID string
	logPath   string
	steps     int
}

// Option configures a Logger.
type Option func(*Logger)

// WithBanner sets where the session banner is printed. Defaults to stdout;
// nil disables the banner.
func WithBanner(w io.Writer) Option {
	return func(l *Logger) { l.banner = w }
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// WithIDGenerator overrides session id allocation.
func WithIDGenerator(gen func() string) Option {
	return func(l *Logger) { l.newID = gen }
}

// NewLogger creates a logger writing into store.
func NewLogger(store *Store, opts ...Option) *Logger {
	l := &Logger{
		store:  store,
		banner: os.Stdout,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the store the logger writes into.
func (l *Logger) Store() *Store {
	return l.store
}

// SessionID returns the active session id, or "" when inactive.
func (l *Logger) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID
}

// Active reports whether a session is open.
func (l *Logger) Active() bool {
	return l.SessionID() != ""
}

// StepCount returns the number of steps logged in the active session.
func (l *Logger) StepCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.steps
}

// StartSession opens a new session, abandoning any active one, writes its
// session_start record and prints the session banner. The id is returned
// even when the record could not be written.
func (l *Logger) StartSession(task, modelName string, extraInfo map[string]any) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sessionID != "" {
		log.Printf("[trajectory] Abandoning session %s after %d steps", l.sessionID, l.steps)
	}

	l.sessionID = l.newID()
	l.logPath = l.store.LogPath(l.sessionID)
	l.steps = 0

	if err := l.store.ensureDirs(); err != nil {
		log.Printf("[trajectory] Warning: %v", err)
	}
	if res := l.writeLocked(models.NewSessionStartMessage(task, modelName, extraInfo)); res.Err != nil {
		log.Printf("[trajectory] Warning: failed to write session start: %v", res.Err)
	}

	if l.banner != nil {
		fmt.Fprintln(l.banner, FormatBanner(l.sessionID))
	}
	return l.sessionID
}

// LogStep appends one step record. The screenshot, if any, is stored as
// {session}_step_{n}.jpeg; when it cannot be saved the step is still
// recorded with an empty image reference.
func (l *Logger) LogStep(in StepInput) WriteResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sessionID == "" {
		return WriteResult{Skipped: true}
	}
	l.steps++

	var imageErr error
	imagePath := ""
	img := in.Screenshot
	if img == nil && in.ScreenshotBase64 != "" {
		img, imageErr = DecodeScreenshot(in.ScreenshotBase64)
	}
	if img != nil {
		path := l.store.ImagePath(l.sessionID, l.steps)
		if imageErr = writeJPEG(path, img); imageErr == nil {
			imagePath = path
		}
	}
	switch {
	case imageErr != nil:
		metrics.RecordTraceImage("failed")
		metrics.RecordTraceWriteFailure("image")
		log.Printf("[trajectory] Warning: failed to save screenshot for step %d of %s: %v", l.steps, l.sessionID, imageErr)
	case imagePath != "":
		metrics.RecordTraceImage("saved")
	}

	actionType := in.ActionType
	if actionType == "" {
		actionType = DefaultActionType
	}
	msg := models.NewStepMessage(
		models.Environment{Image: imagePath, UserComment: in.UserComment},
		models.NewAction(in.Thinking, actionType, in.Action),
	)

	res := l.writeLocked(msg)
	res.ImagePath = imagePath
	if res.Err != nil {
		log.Printf("[trajectory] Warning: failed to write step %d of %s: %v", l.steps, l.sessionID, res.Err)
	} else if imageErr != nil {
		res.Err = imageErr
	}
	return res
}

// EndSession appends a session_end record when finalMessage is non-empty and
// closes the session either way.
func (l *Logger) EndSession(finalMessage string) WriteResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sessionID == "" {
		return WriteResult{Skipped: true}
	}

	res := WriteResult{OK: true}
	if finalMessage != "" {
		res = l.writeLocked(models.NewSessionEndMessage(finalMessage))
		if res.Err != nil {
			log.Printf("[trajectory] Warning: failed to write session end: %v", res.Err)
		}
	}

	l.sessionID = ""
	l.logPath = ""
	l.steps = 0
	return res
}

func (l *Logger) writeLocked(msg models.Message) WriteResult {
	rec := models.Record{
		SessionID: l.sessionID,
		Timestamp: l.now().Format(models.TimestampLayout),
		Message:   msg,
	}

	line, err := models.MarshalCompact(rec)
	if err != nil {
		metrics.RecordTraceWriteFailure("encode")
		return WriteResult{Err: fmt.Errorf("encode record: %w", err)}
	}
	if err := appendLine(l.logPath, line); err != nil {
		metrics.RecordTraceWriteFailure("append")
		return WriteResult{Err: err}
	}

	metrics.RecordTraceRecord(string(msg.Kind))
	return WriteResult{OK: true}
}
