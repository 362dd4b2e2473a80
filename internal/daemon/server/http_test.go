package server

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopanel-io/autopanel/internal/daemon/watcher"
	"github.com/autopanel-io/autopanel/internal/metrics"
	"github.com/autopanel-io/autopanel/internal/models"
	"github.com/autopanel-io/autopanel/internal/replay"
	"github.com/autopanel-io/autopanel/internal/trajectory"
)

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestIndexPage(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>AutoPanel</title>")
}

func TestSessionEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	logger := recordSession(t, s, "abc", "open the camera", 2)
	logger.EndSession("done")

	tests := []struct {
		name       string
		path       string
		wantStatus int
		check      func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{
			name:       "list",
			path:       "/api/sessions",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				list := decode[SessionList](t, rec)
				require.Len(t, list.Sessions, 1)
				assert.Equal(t, "abc", list.Sessions[0].ID)
				assert.Equal(t, "open the camera", list.Sessions[0].Task)
			},
		},
		{
			name:       "invalid limit",
			path:       "/api/sessions?limit=many",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "render",
			path:       "/api/sessions/abc",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				tr := decode[replay.Trajectory](t, rec)
				require.NotNil(t, tr.Header)
				assert.Equal(t, "open the camera", tr.Header.Task)
				require.Len(t, tr.Steps, 3)
				assert.Equal(t, "Tap", tr.Steps[0].ActionType)
				assert.Equal(t, replay.ViewEnd, tr.Steps[2].Kind)
				assert.True(t, tr.Closed)
			},
		},
		{
			name:       "unknown session renders empty",
			path:       "/api/sessions/nope",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				tr := decode[replay.Trajectory](t, rec)
				assert.Nil(t, tr.Header)
				assert.Empty(t, tr.Steps)
			},
		},
		{
			name:       "invalid id",
			path:       "/api/sessions/a..b",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, tt.path, "")
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.check != nil {
				tt.check(t, rec)
			}
		})
	}
}

func TestDeviceEndpoints(t *testing.T) {
	adb := &fakeADB{out: map[string]string{
		"-s emulator-5554 shell pm list packages -3": "package:com.only\n",

		"devices -l":                "List of devices attached\nemulator-5554 device model:Pixel_7\n",
		"shell pm list packages -3": "package:com.b\npackage:com.a\npackage:com.c\n",
		"connect 10.0.0.2:5555":     "connected to 10.0.0.2:5555\n",
		"connect 10.0.0.3:5555":     "failed to connect to 10.0.0.3:5555\n",
	}}
	s := newTestServer(t, adb)

	rec := do(t, s, http.MethodGet, "/api/device", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rep := decode[DeviceReport](t, rec)
	assert.True(t, rep.Connected)
	require.Len(t, rep.Devices, 1)
	assert.Equal(t, "Pixel_7", rep.Devices[0].Model)

	rec = do(t, s, http.MethodGet, "/api/apps?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	apps := decode[struct {
		Packages []string `json:"packages"`
		Total    int      `json:"total"`
	}](t, rec)
	assert.Equal(t, []string{"com.a", "com.b"}, apps.Packages)
	assert.Equal(t, 3, apps.Total)

	rec = do(t, s, http.MethodGet, "/api/apps?device=emulator-5554", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "com.only")

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"connected", `{"address":"10.0.0.2:5555"}`, http.StatusOK},
		{"adb refused", `{"address":"10.0.0.3:5555"}`, http.StatusBadGateway},
		{"missing address", `{}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/device/connect", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestPresets(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/api/presets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[struct {
		Presets []models.ModelPreset `json:"presets"`
	}](t, rec)
	require.Len(t, got.Presets, 1)
	assert.Equal(t, "local", got.Presets[0].Name)
}

func TestTaskEndpointsWithoutTask(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/api/task", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"task":null}`, rec.Body.String())

	tests := []struct {
		method, path, body string
		wantStatus         int
	}{
		{http.MethodDelete, "/api/task", "", http.StatusNotFound},
		{http.MethodGet, "/api/task/output", "", http.StatusNotFound},
		{http.MethodGet, "/api/task/screen", "", http.StatusNotFound},
		{http.MethodPost, "/api/task", `{`, http.StatusBadRequest},
		{http.MethodPost, "/api/task", `{"task":"x"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/task", `{"task":"x","preset":"missing"}`, http.StatusBadRequest},
		{http.MethodGet, "/api/logs/missing-log", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path+" "+tt.body, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestTaskRun(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/task", `{"task":"open settings","preset":"local"}`)
	if rec.Code == http.StatusInternalServerError && strings.Contains(rec.Body.String(), "PTY") {
		t.Skipf("PTY unavailable: %s", rec.Body.String())
	}
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	started := decode[models.TaskStatus](t, rec)
	assert.Equal(t, "autoglm-phone-9b", started.Model)

	var final struct {
		Task *models.TaskStatus `json:"task"`
	}
	require.Eventually(t, func() bool {
		rec := do(t, s, http.MethodGet, "/api/task", "")
		final.Task = nil
		_ = json.Unmarshal(rec.Body.Bytes(), &final)
		return final.Task != nil && final.Task.State == models.TaskStateCompleted
	}, 10*time.Second, 50*time.Millisecond)

	assert.Equal(t, started.RunID, final.Task.RunID)
	assert.Equal(t, "sess-from-agent", final.Task.SessionID)

	rec = do(t, s, http.MethodGet, "/api/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode[struct {
		Logs []models.ConsoleLogEntry `json:"logs"`
	}](t, rec)
	require.Len(t, logs.Logs, 1)

	rec = do(t, s, http.MethodGet, "/api/logs/"+logs.Logs[0].LogID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "running: open settings")
}

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, sc *bufio.Scanner) sseEvent {
	t.Helper()
	var ev sseEvent
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		case line == "" && ev.name != "":
			return ev
		}
	}
	t.Fatalf("stream ended: %v", sc.Err())
	return ev
}

func TestSessionEventsStream(t *testing.T) {
	s := newTestServer(t, nil)
	logger := recordSession(t, s, "live", "scroll the feed", 1)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/sessions/live/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	ev := readEvent(t, sc)
	assert.Equal(t, "trajectory", ev.name)
	var tr replay.Trajectory
	require.NoError(t, json.Unmarshal([]byte(ev.data), &tr))
	assert.Len(t, tr.Steps, 1)

	logger.LogStep(trajectory.StepInput{ActionType: "Swipe"})
	s.hub.publish(watcher.Event{Type: watcher.EventSessionUpdated, SessionID: "other"})
	s.hub.publish(watcher.Event{Type: watcher.EventSessionUpdated, SessionID: "live"})

	ev = readEvent(t, sc)
	require.NoError(t, json.Unmarshal([]byte(ev.data), &tr))
	require.Len(t, tr.Steps, 2)
	assert.Equal(t, "Swipe", tr.Steps[1].ActionType)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.Init()
	s := newTestServer(t, nil)

	do(t, s, http.MethodGet, "/api/health", "")
	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `autopanel_http_requests_total{method="GET",path="GET /api/health",status="200"}`)
}
