package trajectory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
)

// Bridge operations.
const (
	OpStart = "start"
	OpStep  = "step"
	OpEnd   = "end"
)

// BridgeCommand is one line of bridge input.
type BridgeCommand struct {
	Op string `json:"op"`

	// start
	Task      string         `json:"task,omitempty"`
	Model     string         `json:"model,omitempty"`
	ExtraInfo map[string]any `json:"extra_info,omitempty"`

	// step
	Screenshot     string         `json:"screenshot,omitempty"`
	ScreenshotPath string         `json:"screenshot_path,omitempty"`
	Thinking       string         `json:"thinking,omitempty"`
	Action         map[string]any `json:"action,omitempty"`
	ActionType     string         `json:"action_type,omitempty"`
	UserComment    string         `json:"user_comment,omitempty"`

	// end
	Message string `json:"message,omitempty"`
}

// BridgeReply acknowledges one command.
type BridgeReply struct {
	Op        string `json:"op"`
	OK        bool   `json:"ok"`
	SessionID string `json:"session_id,omitempty"`
	Step      int    `json:"step,omitempty"`
	ImagePath string `json:"image_path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Bridge drives a Logger from newline-delimited JSON commands, so agents that
// cannot link this package can still record trajectories.
type Bridge struct {
	logger *Logger
}

// NewBridge returns a bridge writing through logger.
func NewBridge(logger *Logger) *Bridge {
	return &Bridge{logger: logger}
}

// Run reads commands from r until EOF or ctx is done. A reply per command is
// written to w when w is non-nil. Malformed commands are answered with an
// error reply and do not stop the bridge. Run returns as soon as ctx is done,
// even while a read on r is still pending.
func (b *Bridge) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	var enc *json.Encoder
	if w != nil {
		enc = json.NewEncoder(w)
		enc.SetEscapeHTML(false)
	}

	readCtx, stop := context.WithCancel(ctx)
	defer stop()
	lines := make(chan readResult)
	go readLines(readCtx, r, lines)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var res readResult
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res = <-lines:
		}

		if line := bytes.TrimSpace(res.line); len(line) > 0 {
			reply := b.Handle(line)
			if enc != nil {
				if err := enc.Encode(reply); err != nil {
					return fmt.Errorf("write reply: %w", err)
				}
			}
		}
		if res.err != nil {
			if res.err == io.EOF {
				return nil
			}
			return fmt.Errorf("read command: %w", res.err)
		}
	}
}

type readResult struct {
	line []byte
	err  error
}

// readLines sends each line of r to out until a read error or until ctx is
// done. A read already blocked on r returns only when r does.
func readLines(ctx context.Context, r io.Reader, out chan<- readResult) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		select {
		case out <- readResult{line: line, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// Handle executes one encoded command.
func (b *Bridge) Handle(line []byte) BridgeReply {
	var cmd BridgeCommand
	if err := json.Unmarshal(line, &cmd); err != nil {
		return BridgeReply{Error: fmt.Sprintf("invalid command: %v", err)}
	}
	return b.Execute(cmd)
}

// Execute runs one decoded command against the logger.
func (b *Bridge) Execute(cmd BridgeCommand) BridgeReply {
	reply := BridgeReply{Op: cmd.Op}

	switch cmd.Op {
	case OpStart:
		reply.SessionID = b.logger.StartSession(cmd.Task, cmd.Model, cmd.ExtraInfo)
		reply.OK = true

	case OpStep:
		in := StepInput{
			ScreenshotBase64: cmd.Screenshot,
			Thinking:         cmd.Thinking,
			Action:           cmd.Action,
			ActionType:       cmd.ActionType,
			UserComment:      cmd.UserComment,
		}
		var loadErr error
		if cmd.ScreenshotPath != "" {
			in.Screenshot, loadErr = loadImage(cmd.ScreenshotPath)
		}
		reply.SessionID = b.logger.SessionID()
		res := b.logger.LogStep(in)
		reply.OK = res.OK
		reply.ImagePath = res.ImagePath
		if res.OK {
			reply.Step = b.logger.StepCount()
		}
		switch {
		case res.Skipped:
			reply.Error = "no active session"
		case res.Err != nil:
			reply.Error = res.Err.Error()
		case loadErr != nil:
			reply.Error = loadErr.Error()
		}

	case OpEnd:
		reply.SessionID = b.logger.SessionID()
		res := b.logger.EndSession(cmd.Message)
		reply.OK = res.OK
		switch {
		case res.Skipped:
			reply.Error = "no active session"
		case res.Err != nil:
			reply.Error = res.Err.Error()
		}

	default:
		reply.Error = fmt.Sprintf("unknown op %q", cmd.Op)
	}
	return reply
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open screenshot: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}
