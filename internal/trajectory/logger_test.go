package trajectory

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopanel-io/autopanel/internal/models"
)

func newTestLogger(t *testing.T) (*Logger, *Store, *bytes.Buffer) {
	t.Helper()
	root := t.TempDir()
	store := NewStore(filepath.Join(root, "traces"), filepath.Join(root, "images"))
	banner := &bytes.Buffer{}
	n := 0
	logger := NewLogger(store,
		WithBanner(banner),
		WithClock(func() time.Time { return time.Date(2024, 5, 1, 12, 30, 0, 0, time.Local) }),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("session-%d", n)
		}),
	)
	return logger, store, banner
}

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xff})
		}
	}
	return img
}

func TestLoggerSessionLifecycle(t *testing.T) {
	logger, store, banner := newTestLogger(t)

	id := logger.StartSession("send a message", "model-x", nil)
	require.Equal(t, "session-1", id)
	assert.True(t, logger.Active())
	assert.Equal(t, "Session ID: session-1\n", banner.String())

	res := logger.LogStep(StepInput{
		Screenshot: testImage(40, 20),
		Thinking:   "thinking...",
		Action:     map[string]any{"target": "button"},
		ActionType: "tap",
	})
	require.True(t, res.OK)
	require.NoError(t, res.Err)
	assert.Equal(t, store.ImagePath(id, 1), res.ImagePath)

	res = logger.EndSession("done")
	require.True(t, res.OK)
	assert.False(t, logger.Active())

	records := store.ReadSessionLogs(id)
	require.Len(t, records, 3)

	assert.Equal(t, models.MessageSessionStart, records[0].Kind())
	assert.Equal(t, "send a message", records[0].Message.Start.Task)
	assert.Equal(t, models.TaskTypeAutoGLM, records[0].Message.Start.TaskType)
	assert.Equal(t, "model-x", records[0].Message.Start.ModelConfig.ModelName)
	assert.Equal(t, "2024-05-01 12:30:00", records[0].Timestamp)

	require.Equal(t, models.MessageStep, records[1].Kind())
	step := records[1].Message.Step
	assert.Equal(t, "tap", step.Action.ActionType)
	assert.Equal(t, "thinking...", step.Action.Cot)
	assert.Equal(t, "button", step.Action.Fields["target"])
	assert.Equal(t, store.ImagePath(id, 1), step.Environment.Image)

	require.Equal(t, models.MessageSessionEnd, records[2].Kind())
	assert.Equal(t, "done", records[2].Message.End.Message)

	for _, rec := range records {
		assert.Equal(t, id, rec.SessionID)
	}
}

func TestLoggerWireFormat(t *testing.T) {
	logger, store, _ := newTestLogger(t)

	id := logger.StartSession("打开微信", "autoglm-phone", map[string]any{"device": "emulator-5554"})
	logger.LogStep(StepInput{Thinking: "<think>", Action: map[string]any{"element": []int{1, 2}}, ActionType: "Tap"})
	logger.EndSession("ok")

	data, err := os.ReadFile(store.LogPath(id))
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Equal(t,
		`{"session_id":"session-1","timestamp":"2024-05-01 12:30:00","message":{"log_type":"session_start","task":"打开微信","task_type":"autoglm","model_config":{"model_name":"autoglm-phone"},"extra_info":{"device":"emulator-5554"}}}`,
		string(lines[0]))
	assert.Equal(t,
		`{"session_id":"session-1","timestamp":"2024-05-01 12:30:00","message":{"environment":{"image":"","user_comment":""},"action":{"cot":"<think>","action_type":"Tap","element":[1,2]}}}`,
		string(lines[1]))
	assert.Equal(t,
		`{"session_id":"session-1","timestamp":"2024-05-01 12:30:00","message":{"log_type":"session_end","message":"ok"}}`,
		string(lines[2]))
}

func TestLogStepImageFiles(t *testing.T) {
	tests := []struct {
		name  string
		steps int
	}{
		{"no steps", 0},
		{"one step", 1},
		{"three steps", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, store, _ := newTestLogger(t)
			id := logger.StartSession("task", "model", nil)
			for i := 0; i < tt.steps; i++ {
				res := logger.LogStep(StepInput{Screenshot: testImage(8, 8), ActionType: "tap"})
				require.True(t, res.OK)
			}
			logger.EndSession("done")

			entries, err := os.ReadDir(store.ImagesDir)
			require.NoError(t, err)
			assert.Len(t, entries, tt.steps)

			for n := 1; n <= tt.steps; n++ {
				assert.FileExists(t, store.ImagePath(id, n))
			}
			assert.Len(t, store.ReadSessionLogs(id), tt.steps+2)
		})
	}
}

func TestLoggerInactiveIsNoop(t *testing.T) {
	logger, store, banner := newTestLogger(t)

	res := logger.LogStep(StepInput{Screenshot: testImage(4, 4), Thinking: "x"})
	assert.True(t, res.Skipped)
	assert.False(t, res.OK)
	assert.NoError(t, res.Err)

	res = logger.EndSession("done")
	assert.True(t, res.Skipped)
	assert.NoError(t, res.Err)

	assert.NoDirExists(t, store.TracesDir)
	assert.NoDirExists(t, store.ImagesDir)
	assert.Empty(t, banner.String())
}

func TestLogStepBase64Screenshot(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 30, 10))
	for i := range src.Pix {
		src.Pix[i] = 0x40
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

	tests := []struct {
		name  string
		input string
	}{
		{"bare base64", encoded},
		{"data url", "data:image/png;base64," + encoded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _, _ := newTestLogger(t)
			logger.StartSession("task", "model", nil)

			res := logger.LogStep(StepInput{ScreenshotBase64: tt.input})
			require.True(t, res.OK)
			require.NoError(t, res.Err)
			require.NotEmpty(t, res.ImagePath)

			f, err := os.Open(res.ImagePath)
			require.NoError(t, err)
			defer f.Close()
			img, err := jpeg.Decode(f)
			require.NoError(t, err)
			assert.Equal(t, 30, img.Bounds().Dx())
			assert.Equal(t, 10, img.Bounds().Dy())
		})
	}
}

func TestLogStepBadScreenshotStillRecords(t *testing.T) {
	logger, store, _ := newTestLogger(t)
	id := logger.StartSession("task", "model", nil)

	res := logger.LogStep(StepInput{ScreenshotBase64: "data:image/png;base64,not-an-image", ActionType: "tap"})
	assert.True(t, res.OK)
	assert.Error(t, res.Err)
	assert.Empty(t, res.ImagePath)

	records := store.ReadSessionLogs(id)
	require.Len(t, records, 2)
	assert.Equal(t, "", records[1].Message.Step.Environment.Image)
	assert.Equal(t, 1, logger.StepCount())
}

func TestLogStepActionFields(t *testing.T) {
	tests := []struct {
		name       string
		actionType string
		fields     map[string]any
		wantType   string
		wantCot    string
	}{
		{"default action type", "", nil, DefaultActionType, "why"},
		{"positional type", "swipe", map[string]any{"start": "a"}, "swipe", "why"},
		{"field overrides type", "tap", map[string]any{"action_type": "Launch"}, "Launch", "why"},
		{"field overrides cot", "tap", map[string]any{"cot": "field cot"}, "tap", "field cot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, store, _ := newTestLogger(t)
			id := logger.StartSession("task", "model", nil)
			logger.LogStep(StepInput{Thinking: "why", Action: tt.fields, ActionType: tt.actionType})

			records := store.ReadSessionLogs(id)
			require.Len(t, records, 2)
			action := records[1].Message.Step.Action
			assert.Equal(t, tt.wantType, action.ActionType)
			assert.Equal(t, tt.wantCot, action.Cot)
			assert.NotContains(t, action.Fields, "cot")
			assert.NotContains(t, action.Fields, "action_type")
		})
	}
}

func TestStartSessionAbandonsPrevious(t *testing.T) {
	logger, store, banner := newTestLogger(t)

	first := logger.StartSession("first", "m", nil)
	logger.LogStep(StepInput{ActionType: "tap"})
	second := logger.StartSession("second", "m", nil)
	require.NotEqual(t, first, second)
	assert.Equal(t, 0, logger.StepCount())

	logger.LogStep(StepInput{Screenshot: testImage(4, 4)})
	logger.EndSession("done")

	assert.Len(t, store.ReadSessionLogs(first), 2)
	assert.Len(t, store.ReadSessionLogs(second), 3)
	assert.FileExists(t, store.ImagePath(second, 1))
	assert.Equal(t, "Session ID: session-1\nSession ID: session-2\n", banner.String())
}

func TestEndSessionWithoutMessage(t *testing.T) {
	logger, store, _ := newTestLogger(t)
	id := logger.StartSession("task", "model", nil)

	res := logger.EndSession("")
	assert.True(t, res.OK)
	assert.False(t, logger.Active())
	assert.Len(t, store.ReadSessionLogs(id), 1)

	assert.True(t, logger.LogStep(StepInput{}).Skipped)
}

func TestLoggerWriteFailureIsContained(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	store := NewStore(filepath.Join(blocker, "traces"), filepath.Join(blocker, "images"))
	logger := NewLogger(store, WithBanner(nil))

	id := logger.StartSession("task", "model", nil)
	require.NotEmpty(t, id)
	assert.True(t, logger.Active())

	res := logger.LogStep(StepInput{Screenshot: testImage(4, 4), ActionType: "tap"})
	assert.False(t, res.OK)
	assert.Error(t, res.Err)
	assert.Empty(t, res.ImagePath)

	res = logger.EndSession("done")
	assert.False(t, res.OK)
	assert.Error(t, res.Err)
	assert.False(t, logger.Active())
}
