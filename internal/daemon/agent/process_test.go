package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopanel-io/autopanel/internal/models"
)

func newLineProcess() (*Process, *[]string, *[]*models.TaskIssue) {
	var sessions []string
	var issues []*models.TaskIssue
	p := &Process{
		lineSubs:    make(map[string]chan string),
		onSessionID: func(id string) { sessions = append(sessions, id) },
		onIssue:     func(i *models.TaskIssue) { issues = append(issues, i) },
	}
	return p, &sessions, &issues
}

func TestCleanLine(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "hello", "hello"},
		{"crlf", "hello\r", "hello"},
		{"colors", "\x1b[1;32mOK\x1b[0m done", "OK done"},
		{"progress overwrite", "10%\r50%\r100%\r", "100%"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanLine(tt.raw))
		})
	}
}

func TestProcessConsumeSplitsLines(t *testing.T) {
	p, sessions, _ := newLineProcess()
	sub := p.SubscribeLines("test")

	p.consume([]byte("first line\r\nsecond "))
	p.consume([]byte("half\r\n\x1b[32mSession ID: 4f1c-9a\x1b[0m\r\n"))
	p.consume([]byte("Session ID: other\r\ntail without newline"))
	p.flushPartial()

	assert.Equal(t, []string{
		"first line",
		"second half",
		"Session ID: 4f1c-9a",
		"Session ID: other",
		"tail without newline",
	}, p.GetFullScrollback())

	assert.Equal(t, []string{"4f1c-9a"}, *sessions)
	assert.Equal(t, "4f1c-9a", p.SessionID())

	require.Len(t, sub, 5)
	assert.Equal(t, "first line", <-sub)

	p.UnsubscribeLines("test")
	assert.NotContains(t, p.lineSubs, "test")
}

func TestProcessDetectsIssues(t *testing.T) {
	p, _, issues := newLineProcess()
	p.consume([]byte("openai.RateLimitError: Error code: 429\n"))
	p.consume([]byte("Step 1\n"))

	require.Len(t, *issues, 1)
	assert.Equal(t, models.TaskIssueRateLimit, (*issues)[0].Type)
}

func TestProcessSlowSubscriberDoesNotBlock(t *testing.T) {
	p, _, _ := newLineProcess()
	sub := p.SubscribeLines("slow")
	for i := 0; i < cap(sub)+50; i++ {
		p.consume([]byte("line\n"))
	}
	assert.Len(t, sub, cap(sub))
	assert.Len(t, p.GetFullScrollback(), cap(sub)+50)
}

func TestGetScrollback(t *testing.T) {
	p, _, _ := newLineProcess()
	p.consume([]byte("a\nb\nc\nd\n"))

	lines, total := p.GetScrollback(1, 2)
	assert.Equal(t, []string{"b", "c"}, lines)
	assert.Equal(t, 4, total)

	lines, _ = p.GetScrollback(2, 0)
	assert.Equal(t, []string{"c", "d"}, lines)

	lines, _ = p.GetScrollback(10, 5)
	assert.Nil(t, lines)
}

func TestVisible(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"Step 1: Tap", true},
		{"  indented", true},
		{"", false},
		{"   ", false},
		{"[DEBUG] raw response", false},
		{"INFO: Started server", false},
		{" INFO: not at start", true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := Visible(tt.line); got != tt.want {
				t.Errorf("Visible(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}

	assert.Equal(t, []string{"a", "b"}, FilterVisible([]string{"a", "", "[DEBUG] x", "b"}))
}
