package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopanel-io/autopanel/internal/config"
	"github.com/autopanel-io/autopanel/internal/models"
)

func TestBuildCommand(t *testing.T) {
	cfg := models.AgentConfig{
		Command: "python",
		Script:  "main.py",
		WorkDir: "/opt/agent",
		Env:     map[string]string{"PYTHONIOENCODING": "utf-8"},
	}

	tests := []struct {
		name     string
		req      TaskRequest
		wantArgs []string
		wantErr  bool
	}{
		{
			name:     "required only",
			req:      TaskRequest{Task: "打开微信", BaseURL: "http://localhost:8000/v1", Model: "autoglm-phone-9b"},
			wantArgs: []string{"python", "main.py", "--base-url", "http://localhost:8000/v1", "--model", "autoglm-phone-9b", "打开微信"},
		},
		{
			name: "api key and device",
			req:  TaskRequest{Task: "t", BaseURL: "u", Model: "m", APIKey: "k", DeviceID: "emulator-5554"},
			wantArgs: []string{"python", "main.py", "--base-url", "u", "--model", "m", "t",
				"--apikey", "k", "--device-id", "emulator-5554"},
		},
		{name: "missing task", req: TaskRequest{BaseURL: "u", Model: "m"}, wantErr: true},
		{name: "missing model", req: TaskRequest{Task: "t", BaseURL: "u"}, wantErr: true},
		{name: "missing base url", req: TaskRequest{Task: "t", Model: "m"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := BuildCommand(cfg, tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantArgs, cmd.Args)
			assert.Equal(t, "/opt/agent", cmd.Dir)
			assert.Contains(t, cmd.Env, "PYTHONIOENCODING=utf-8")
		})
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func startOrSkip(t *testing.T, m *Manager, req TaskRequest) *models.TaskStatus {
	t.Helper()
	status, err := m.Start(req)
	if err != nil && strings.Contains(err.Error(), "PTY") {
		t.Skipf("pty unavailable: %v", err)
	}
	require.NoError(t, err)
	return status
}

func waitFinished(t *testing.T, m *Manager) *models.TaskStatus {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if !m.Running() {
			return m.Status()
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("task did not finish")
	return nil
}

func TestManagerRunsTask(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	consoleDir := filepath.Join(t.TempDir(), "console")

	script := writeScript(t, `
echo "[DEBUG] booting"
echo "task: $5"
echo "Session ID: 7d2e-session"
echo "done"
`)
	m := NewManager(models.AgentConfig{Command: "/bin/sh", Script: script}, consoleDir)

	changes := make(chan struct{}, 16)
	m.SetOnChange(func() { changes <- struct{}{} })
	finished := make(chan models.TaskStatus, 1)
	m.SetOnFinish(func(s models.TaskStatus) { finished <- s })

	started := startOrSkip(t, m, TaskRequest{Task: "open settings", BaseURL: "http://x", Model: "m"})
	assert.Equal(t, models.TaskStateRunning, started.State)
	assert.NotZero(t, started.PID)

	final := waitFinished(t, m)
	require.NotNil(t, final)
	assert.Equal(t, models.TaskStateCompleted, final.State)
	assert.Equal(t, 0, final.ExitCode)
	assert.Equal(t, "7d2e-session", final.SessionID)
	assert.NotNil(t, final.EndedAt)

	select {
	case s := <-finished:
		assert.Equal(t, started.RunID, s.RunID)
	case <-time.After(5 * time.Second):
		t.Fatal("finish callback not called")
	}
	assert.NotEmpty(t, changes)

	logs, err := config.ListConsoleLogs(consoleDir)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "7d2e-session", logs[0].SessionID)
	_, body, err := config.ReadConsoleLog(consoleDir, logs[0].LogID)
	require.NoError(t, err)
	assert.Contains(t, body, "task: open settings")
	assert.Contains(t, body, "[DEBUG] booting")

	state, err := config.LoadTaskState()
	require.NoError(t, err)
	assert.Nil(t, state)

	assert.ErrorIs(t, m.Stop(), ErrNoTask)
}

func TestManagerStopAndReplace(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	script := writeScript(t, "echo \"Session ID: long-run\"\nexec sleep 30\n")
	m := NewManager(models.AgentConfig{Command: "/bin/sh", Script: script}, "")

	first := startOrSkip(t, m, TaskRequest{Task: "one", BaseURL: "u", Model: "m"})

	state, err := config.LoadTaskState()
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, first.RunID, state.RunID)

	second := startOrSkip(t, m, TaskRequest{Task: "two", BaseURL: "u", Model: "m"})
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.True(t, m.Running())
	assert.Equal(t, "two", m.Status().Task)

	require.NoError(t, m.Stop())
	final := m.Status()
	require.NotNil(t, final)
	assert.Equal(t, second.RunID, final.RunID)
	assert.Equal(t, models.TaskStateStopped, final.State)
	assert.False(t, m.Running())
}

func TestManagerFailedTask(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	script := writeScript(t, "echo 'Error code: 401 invalid api key'\nexit 3\n")
	m := NewManager(models.AgentConfig{Command: "/bin/sh", Script: script}, "")

	startOrSkip(t, m, TaskRequest{Task: "t", BaseURL: "u", Model: "m"})
	final := waitFinished(t, m)
	require.NotNil(t, final)
	assert.Equal(t, models.TaskStateFailed, final.State)
	assert.Equal(t, 3, final.ExitCode)
	require.NotNil(t, final.Issue)
	assert.Equal(t, models.TaskIssueAuth, final.Issue.Type)
}

func TestManagerRejectsInvalidRequest(t *testing.T) {
	m := NewManager(models.NewSettings().Agent, "")
	_, err := m.Start(TaskRequest{Task: "t"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Nil(t, m.Status())
}
