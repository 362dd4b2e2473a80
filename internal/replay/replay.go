// Package replay turns a session's trajectory log into an ordered, displayable
// sequence of step views. Rendering re-reads the log on every call and keeps
// no state, so it is safe against a session that is still being written.
package replay

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Stored screenshots are JPEG; PNG is accepted for hand-placed files.
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"

	"github.com/autopanel-io/autopanel/internal/metrics"
	"github.com/autopanel-io/autopanel/internal/models"
	"github.com/autopanel-io/autopanel/internal/trajectory"
)

// DefaultMaxEdge bounds the longest edge of rendered images.
const DefaultMaxEdge = 800

// Header placeholders.
const (
	UnknownTask  = "unknown task"
	UnknownModel = "unknown model"
)

// ImageMode selects how step images are delivered.
type ImageMode int

const (
	// ImagesInline embeds a downscaled JPEG as a data URL.
	ImagesInline ImageMode = iota
	// ImagesPathOnly only resolves the image file.
	ImagesPathOnly
)

// ViewKind classifies a rendered record.
type ViewKind string

const (
	ViewStep  ViewKind = "step"
	ViewEnd   ViewKind = "end"
	ViewOther ViewKind = "other"
)

// Header summarises the session from its first record.
type Header struct {
	Task      string         `json:"task"`
	Model     string         `json:"model"`
	Timestamp string         `json:"timestamp"`
	ExtraInfo map[string]any `json:"extra_info,omitempty"`
}

// StepView is one record after the header, numbered by position.
type StepView struct {
	Number       int      `json:"number"`
	Kind         ViewKind `json:"kind"`
	Timestamp    string   `json:"timestamp"`
	ImagePath    string   `json:"image_path,omitempty"`
	ImageDataURL string   `json:"image_data_url,omitempty"`
	ImageWidth   int      `json:"image_width,omitempty"`
	ImageHeight  int      `json:"image_height,omitempty"`
	UserComment  string   `json:"user_comment,omitempty"`
	ActionType   string   `json:"action_type,omitempty"`
	Thought      string   `json:"thought,omitempty"`
	Description  string   `json:"description"`
}

// HasImage reports whether the view resolved an image.
func (v StepView) HasImage() bool {
	return v.ImagePath != ""
}

// Trajectory is the rendered form of a session. A session with no records
// renders with a nil Header and no steps.
type Trajectory struct {
	SessionID string     `json:"session_id"`
	Header    *Header    `json:"header"`
	Steps     []StepView `json:"steps"`
	Closed    bool       `json:"closed"`
}

// Empty reports whether nothing was rendered.
func (t *Trajectory) Empty() bool {
	return t.Header == nil && len(t.Steps) == 0
}

// Renderer renders sessions from a store.
type Renderer struct {
	Store   *trajectory.Store
	MaxEdge int
	Images  ImageMode
}

// NewRenderer returns an inline-image renderer. maxEdge <= 0 selects
// DefaultMaxEdge.
func NewRenderer(store *trajectory.Store, maxEdge int) *Renderer {
	return &Renderer{Store: store, MaxEdge: maxEdge, Images: ImagesInline}
}

// Render reads the session log and returns its current trajectory. Unknown
// sessions, unreadable lines and broken images degrade to less output and
// never to an error.
func (r *Renderer) Render(sessionID string) *Trajectory {
	start := time.Now()
	t := &Trajectory{SessionID: sessionID, Steps: []StepView{}}

	records := r.Store.ReadSessionLogs(sessionID)
	if len(records) == 0 {
		metrics.RecordRender("empty", time.Since(start))
		return t
	}

	t.Header = headerFrom(records[0])
	for i, rec := range records[1:] {
		view := r.view(sessionID, i+1, rec)
		if view.Kind == ViewEnd {
			t.Closed = true
		}
		t.Steps = append(t.Steps, view)
	}

	metrics.RecordRender("ok", time.Since(start))
	return t
}

func headerFrom(rec models.Record) *Header {
	h := &Header{Timestamp: rec.Timestamp}
	if start := rec.Message.Start; start != nil {
		h.Task = start.Task
		h.Model = start.ModelConfig.ModelName
		h.ExtraInfo = start.ExtraInfo
	} else if len(rec.Message.Raw) > 0 {
		var loose models.SessionStart
		if err := json.Unmarshal(rec.Message.Raw, &loose); err == nil {
			h.Task = loose.Task
			h.Model = loose.ModelConfig.ModelName
		}
	}
	if h.Task == "" {
		h.Task = UnknownTask
	}
	if h.Model == "" {
		h.Model = UnknownModel
	}
	return h
}

func (r *Renderer) view(sessionID string, n int, rec models.Record) StepView {
	v := StepView{Number: n, Timestamp: rec.Timestamp}

	switch rec.Kind() {
	case models.MessageStep:
		step := rec.Message.Step
		v.Kind = ViewStep
		v.UserComment = step.Environment.UserComment
		v.ActionType = step.Action.ActionType
		v.Thought = step.Action.Cot
		v.Description = Describe(step.Action)
		r.attachImage(&v, sessionID, step.Environment.Image)
	case models.MessageSessionEnd:
		v.Kind = ViewEnd
		v.Description = rec.Message.End.Message
	default:
		v.Kind = ViewOther
		v.Description = string(rec.Message.Raw)
	}
	return v
}

// attachImage resolves the step image. A stored path that no longer exists is
// retried under ImagesDir by base name, then by the writer's naming scheme.
func (r *Renderer) attachImage(v *StepView, sessionID, stored string) {
	path := r.resolveImage(sessionID, v.Number, stored)
	if path == "" {
		return
	}
	if r.Images == ImagesPathOnly {
		w, h, err := imageSize(path)
		if err != nil {
			return
		}
		v.ImagePath = path
		v.ImageWidth, v.ImageHeight = w, h
		return
	}

	dataURL, w, h, err := r.thumbnail(path)
	if err != nil {
		return
	}
	v.ImagePath = path
	v.ImageDataURL = dataURL
	v.ImageWidth, v.ImageHeight = w, h
}

// imageSize decodes only the image header.
func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func (r *Renderer) resolveImage(sessionID string, n int, stored string) string {
	var candidates []string
	if stored != "" {
		candidates = append(candidates, stored)
		if r.Store.ImagesDir != "" {
			candidates = append(candidates, filepath.Join(r.Store.ImagesDir, filepath.Base(stored)))
		}
	}
	if r.Store.ImagesDir != "" {
		candidates = append(candidates, r.Store.ImagePath(sessionID, n))
	}

	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && fi.Mode().IsRegular() {
			return c
		}
	}
	return ""
}

func (r *Renderer) maxEdge() int {
	if r.MaxEdge > 0 {
		return r.MaxEdge
	}
	return DefaultMaxEdge
}

// thumbnail decodes path, downscales it to fit maxEdge and returns it as a
// JPEG data URL with its final size.
func (r *Renderer) thumbnail(path string) (string, int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, 0, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return "", 0, 0, err
	}

	img = Downscale(img, r.maxEdge())
	data, err := trajectory.EncodeJPEG(img, trajectory.JPEGQuality)
	if err != nil {
		return "", 0, 0, err
	}

	b := img.Bounds()
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), b.Dx(), b.Dy(), nil
}

// Downscale shrinks img so its longest edge is at most maxEdge, keeping the
// aspect ratio. Smaller images are returned unchanged.
func Downscale(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	if maxEdge <= 0 || (b.Dx() <= maxEdge && b.Dy() <= maxEdge) {
		return img
	}
	return resize.Thumbnail(uint(maxEdge), uint(maxEdge), img, resize.Lanczos3)
}

// Describe combines the reasoning with the structured action fields, leaving
// the reasoning out of the structured part.
func Describe(a models.Action) string {
	fields := a.Map()
	delete(fields, "cot")

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	_ = enc.Encode(fields)
	structured := strings.TrimSpace(buf.String())

	thought := strings.TrimSpace(a.Cot)
	if thought == "" {
		return structured
	}
	return thought + "\n\n" + structured
}
