package trajectory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopanel-io/autopanel/internal/models"
)

const (
	startLine = `{"session_id":"s1","timestamp":"2024-05-01 12:00:00","message":{"log_type":"session_start","task":"t","task_type":"autoglm","model_config":{"model_name":"m"},"extra_info":{}}}`
	stepLine  = `{"session_id":"s1","timestamp":"2024-05-01 12:00:01","message":{"environment":{"image":"","user_comment":""},"action":{"cot":"c","action_type":"tap"}}}`
)

func writeLog(t *testing.T, store *Store, id, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(store.TracesDir, 0o755))
	path := store.LogPath(id)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadSessionLogs(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantKinds []models.MessageKind
	}{
		{
			name:      "complete lines",
			content:   startLine + "\n" + stepLine + "\n",
			wantKinds: []models.MessageKind{models.MessageSessionStart, models.MessageStep},
		},
		{
			name:      "truncated final line",
			content:   startLine + "\n" + stepLine + "\n" + stepLine[:40],
			wantKinds: []models.MessageKind{models.MessageSessionStart, models.MessageStep},
		},
		{
			name:      "corrupt middle line",
			content:   startLine + "\n{not json}\n" + stepLine + "\n",
			wantKinds: []models.MessageKind{models.MessageSessionStart, models.MessageStep},
		},
		{
			name:      "blank lines and no trailing newline",
			content:   "\n" + startLine + "\n\n   \n" + stepLine,
			wantKinds: []models.MessageKind{models.MessageSessionStart, models.MessageStep},
		},
		{
			name:      "non-object message",
			content:   `{"session_id":"s1","timestamp":"x","message":"text"}` + "\n" + stepLine + "\n",
			wantKinds: []models.MessageKind{models.MessageStep},
		},
		{
			name:      "empty file",
			content:   "",
			wantKinds: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(t.TempDir(), t.TempDir())
			writeLog(t, store, "s1", tt.content)

			records := store.ReadSessionLogs("s1")
			var kinds []models.MessageKind
			for _, r := range records {
				kinds = append(kinds, r.Kind())
			}
			assert.Equal(t, tt.wantKinds, kinds)
		})
	}
}

func TestReadSessionLogsLongLine(t *testing.T) {
	store := NewStore(t.TempDir(), t.TempDir())
	comment := strings.Repeat("x", 256*1024)
	line := `{"session_id":"s1","timestamp":"2024-05-01 12:00:01","message":{"environment":{"image":"","user_comment":"` + comment + `"},"action":{"cot":"","action_type":"tap"}}}`
	writeLog(t, store, "s1", startLine+"\n"+line+"\n")

	records := store.ReadSessionLogs("s1")
	require.Len(t, records, 2)
	assert.Len(t, records[1].Message.Step.Environment.UserComment, len(comment))
}

func TestReadSessionLogsUnknownSession(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"missing file", "nope"},
		{"empty id", ""},
		{"parent traversal", "../s1"},
		{"separator", "a/b"},
	}

	store := NewStore(t.TempDir(), t.TempDir())
	writeLog(t, store, "s1", startLine+"\n")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, store.ReadSessionLogs(tt.id))
		})
	}
}

func TestValidateSessionID(t *testing.T) {
	assert.NoError(t, ValidateSessionID("0b7c1f5e-2a4d-4c71-9e0a-3f1d2b6c7a88"))
	assert.ErrorIs(t, ValidateSessionID(".."), ErrInvalidSessionID)
	assert.ErrorIs(t, ValidateSessionID(`a\b`), ErrInvalidSessionID)
	assert.ErrorIs(t, ValidateSessionID(""), ErrInvalidSessionID)
}

func TestListAvailableSessions(t *testing.T) {
	store := NewStore(t.TempDir(), t.TempDir())
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"old", "newest", "middle"} {
		path := writeLog(t, store, id, startLine+"\n")
		mtime := map[string]time.Time{
			"old":    base,
			"middle": base.Add(10 * time.Minute),
			"newest": base.Add(20 * time.Minute),
		}[id]
		require.NoError(t, os.Chtimes(path, mtime, mtime), "file %d", i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(store.TracesDir, "notes.txt"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(store.TracesDir, "dir.jsonl"), 0o755))

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{"limit two", 2, []string{"newest", "middle"}},
		{"limit above count", 10, []string{"newest", "middle", "old"}},
		{"no limit", 0, []string{"newest", "middle", "old"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, store.ListAvailableSessions(tt.limit))
		})
	}

	infos := store.ListSessionInfos(1)
	require.Len(t, infos, 1)
	assert.Equal(t, "newest", infos[0].ID)
	assert.Equal(t, int64(len(startLine)+1), infos[0].Size)
}

func TestListAvailableSessionsMissingDir(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent"), "")
	assert.Empty(t, store.ListAvailableSessions(DefaultSessionLimit))
}

func TestFirstRecord(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "traces"), t.TempDir())
	writeLog(t, store, "s1", "\n{broken\n"+startLine+"\n"+stepLine+"\n")

	rec, ok := store.FirstRecord("s1")
	require.True(t, ok)
	assert.Equal(t, models.MessageSessionStart, rec.Kind())
	assert.Equal(t, "t", rec.Message.Start.Task)

	_, ok = store.FirstRecord("missing")
	assert.False(t, ok)
	_, ok = store.FirstRecord("../s1")
	assert.False(t, ok)

	writeLog(t, store, "empty", "")
	_, ok = store.FirstRecord("empty")
	assert.False(t, ok)
}
