package replay

import (
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopanel-io/autopanel/internal/models"
	"github.com/autopanel-io/autopanel/internal/trajectory"
)

func newSession(t *testing.T) (*trajectory.Logger, *trajectory.Store) {
	t.Helper()
	root := t.TempDir()
	store := trajectory.NewStore(filepath.Join(root, "traces"), filepath.Join(root, "images"))
	n := 0
	logger := trajectory.NewLogger(store,
		trajectory.WithBanner(nil),
		trajectory.WithClock(func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.Local) }),
		trajectory.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("s%d", n)
		}),
	)
	return logger, store
}

func solid(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 0x20, 0x90, 0xd0, 0xff
	}
	return img
}

func decodeDataURL(t *testing.T, url string) image.Image {
	t.Helper()
	const prefix = "data:image/jpeg;base64,"
	require.True(t, strings.HasPrefix(url, prefix))
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, prefix))
	require.NoError(t, err)
	img, err := jpeg.Decode(strings.NewReader(string(data)))
	require.NoError(t, err)
	return img
}

func TestRenderSession(t *testing.T) {
	logger, store := newSession(t)
	id := logger.StartSession("send a message", "model-x", map[string]any{"device": "emulator"})
	logger.LogStep(trajectory.StepInput{
		Screenshot: solid(1080, 2400),
		Thinking:   "thinking...",
		Action:     map[string]any{"target": "button"},
		ActionType: "tap",
	})
	logger.LogStep(trajectory.StepInput{Thinking: "no screen", ActionType: "wait", UserComment: "slow"})
	logger.EndSession("done")

	traj := NewRenderer(store, 400).Render(id)
	require.NotNil(t, traj.Header)
	assert.Equal(t, "send a message", traj.Header.Task)
	assert.Equal(t, "model-x", traj.Header.Model)
	assert.Equal(t, "emulator", traj.Header.ExtraInfo["device"])
	assert.True(t, traj.Closed)
	require.Len(t, traj.Steps, 3)

	first := traj.Steps[0]
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, ViewStep, first.Kind)
	assert.Equal(t, "tap", first.ActionType)
	assert.Equal(t, "thinking...", first.Thought)
	assert.Equal(t, store.ImagePath(id, 1), first.ImagePath)
	img := decodeDataURL(t, first.ImageDataURL)
	assert.LessOrEqual(t, img.Bounds().Dx(), 400)
	assert.LessOrEqual(t, img.Bounds().Dy(), 400)
	assert.Equal(t, 400, img.Bounds().Dy())
	assert.Equal(t, img.Bounds().Dx(), first.ImageWidth)

	second := traj.Steps[1]
	assert.Equal(t, 2, second.Number)
	assert.False(t, second.HasImage())
	assert.Empty(t, second.ImageDataURL)
	assert.Equal(t, "slow", second.UserComment)

	end := traj.Steps[2]
	assert.Equal(t, ViewEnd, end.Kind)
	assert.Equal(t, "done", end.Description)
}

func TestRenderUnknownSession(t *testing.T) {
	_, store := newSession(t)
	for _, id := range []string{"missing", "", "../etc/passwd"} {
		traj := NewRenderer(store, 0).Render(id)
		assert.True(t, traj.Empty(), "id %q", id)
		assert.Nil(t, traj.Header)
		assert.Empty(t, traj.Steps)
		assert.False(t, traj.Closed)
	}
}

func TestRenderTruncatedFinalLine(t *testing.T) {
	logger, store := newSession(t)
	id := logger.StartSession("task", "model", nil)
	logger.LogStep(trajectory.StepInput{Thinking: "a", ActionType: "tap"})
	logger.LogStep(trajectory.StepInput{Thinking: "b", ActionType: "swipe"})

	before := NewRenderer(store, 0).Render(id)

	f, err := os.OpenFile(store.LogPath(id), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"session_id":"s1","timestamp":"2024-05-01 09:00:00","message":{"environment":{"ima`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	after := NewRenderer(store, 0).Render(id)
	assert.Equal(t, before, after)
	require.Len(t, after.Steps, 2)
	assert.False(t, after.Closed)
}

func TestRenderHeaderPlaceholders(t *testing.T) {
	_, store := newSession(t)
	require.NoError(t, os.MkdirAll(store.TracesDir, 0o755))
	content := `{"session_id":"x","timestamp":"t0","message":{"environment":{"image":"","user_comment":""},"action":{"cot":"c","action_type":"tap"}}}` + "\n" +
		`{"session_id":"x","timestamp":"t1","message":{"custom":true}}` + "\n"
	require.NoError(t, os.WriteFile(store.LogPath("x"), []byte(content), 0o644))

	traj := NewRenderer(store, 0).Render("x")
	require.NotNil(t, traj.Header)
	assert.Equal(t, UnknownTask, traj.Header.Task)
	assert.Equal(t, UnknownModel, traj.Header.Model)
	require.Len(t, traj.Steps, 1)
	assert.Equal(t, ViewOther, traj.Steps[0].Kind)
	assert.JSONEq(t, `{"custom":true}`, traj.Steps[0].Description)
}

func TestRenderImageFallback(t *testing.T) {
	logger, store := newSession(t)
	id := logger.StartSession("task", "model", nil)
	logger.LogStep(trajectory.StepInput{Screenshot: solid(20, 10), ActionType: "tap"})
	logger.LogStep(trajectory.StepInput{Screenshot: solid(20, 10), ActionType: "tap"})
	logger.LogStep(trajectory.StepInput{Screenshot: solid(20, 10), ActionType: "tap"})

	// Step 1: stored path points at a directory that moved.
	// Step 2: stored image is deleted and nothing else matches.
	// Step 3: image decodes badly.
	data, err := os.ReadFile(store.LogPath(id))
	require.NoError(t, err)
	moved := strings.Replace(string(data), store.ImagesDir, "/nonexistent/images", 1)
	require.NoError(t, os.WriteFile(store.LogPath(id), []byte(moved), 0o644))
	require.NoError(t, os.Remove(store.ImagePath(id, 2)))
	require.NoError(t, os.WriteFile(store.ImagePath(id, 3), []byte("garbage"), 0o644))

	traj := NewRenderer(store, 0).Render(id)
	require.Len(t, traj.Steps, 3)

	assert.Equal(t, store.ImagePath(id, 1), traj.Steps[0].ImagePath)
	assert.NotEmpty(t, traj.Steps[0].ImageDataURL)
	assert.Equal(t, 20, traj.Steps[0].ImageWidth)

	assert.False(t, traj.Steps[1].HasImage())
	assert.False(t, traj.Steps[2].HasImage())
	assert.Empty(t, traj.Steps[2].ImageDataURL)
}

func TestRenderPathOnly(t *testing.T) {
	logger, store := newSession(t)
	id := logger.StartSession("task", "model", nil)
	logger.LogStep(trajectory.StepInput{Screenshot: solid(20, 10), ActionType: "tap"})
	logger.LogStep(trajectory.StepInput{Screenshot: solid(20, 10), ActionType: "tap"})
	require.NoError(t, os.WriteFile(store.ImagePath(id, 2), []byte("not a jpeg"), 0o644))

	r := NewRenderer(store, 0)
	r.Images = ImagesPathOnly
	traj := r.Render(id)
	require.Len(t, traj.Steps, 2)
	assert.Equal(t, store.ImagePath(id, 1), traj.Steps[0].ImagePath)
	assert.Equal(t, 20, traj.Steps[0].ImageWidth)
	assert.Empty(t, traj.Steps[0].ImageDataURL)

	// An image that does not decode leaves the step text-only.
	assert.False(t, traj.Steps[1].HasImage())
	assert.Empty(t, traj.Steps[1].ImagePath)

	text := Text(traj)
	assert.Contains(t, text, "image: "+store.ImagePath(id, 1))
	assert.Contains(t, text, "image: (none)")
	assert.NotContains(t, text, store.ImagePath(id, 2))
}

func TestDownscale(t *testing.T) {
	tests := []struct {
		name          string
		w, h, maxEdge int
		wantW, wantH  int
	}{
		{"portrait", 1080, 2400, 800, 360, 800},
		{"landscape", 2000, 1000, 500, 500, 250},
		{"already small", 300, 200, 800, 300, 200},
		{"exact bound", 800, 600, 800, 800, 600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Downscale(solid(tt.w, tt.h), tt.maxEdge).Bounds()
			assert.Equal(t, tt.wantW, b.Dx())
			assert.Equal(t, tt.wantH, b.Dy())
		})
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name   string
		cot    string
		fields map[string]any
		want   string
	}{
		{
			name:   "reasoning and fields",
			cot:    "open the app",
			fields: map[string]any{"app": "微信"},
			want:   "open the app\n\n{\n  \"action_type\": \"Launch\",\n  \"app\": \"微信\"\n}",
		},
		{
			name: "no reasoning",
			want: "{\n  \"action_type\": \"Launch\"\n}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := models.NewAction(tt.cot, "Launch", tt.fields)
			got := Describe(a)
			assert.Equal(t, tt.want, got)
			if tt.cot != "" {
				assert.Equal(t, 1, strings.Count(got, tt.cot))
			}
		})
	}
}

func TestText(t *testing.T) {
	logger, store := newSession(t)
	id := logger.StartSession("send a message", "model-x", nil)
	logger.LogStep(trajectory.StepInput{Thinking: "look", ActionType: "tap", UserComment: "ok"})

	r := NewRenderer(store, 0)
	r.Images = ImagesPathOnly
	out := Text(r.Render(id))

	assert.Contains(t, out, "Session s1")
	assert.Contains(t, out, "Task:    send a message")
	assert.Contains(t, out, "[1] 2024-05-01 09:00:00  tap")
	assert.Contains(t, out, "    look")
	assert.Contains(t, out, "    comment: ok")
	assert.Contains(t, out, "(session still open)")

	assert.Contains(t, Text(r.Render("missing")), "No records.")
}
