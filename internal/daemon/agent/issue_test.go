package agent

import (
	"testing"

	"github.com/autopanel-io/autopanel/internal/models"
)

func TestDetectAuthError(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected bool
	}{
		{
			name:     "openai client 401",
			line:     "openai.AuthenticationError: Error code: 401 - {'error': {'message': 'Incorrect API key provided'}}",
			expected: true,
		},
		{
			name:     "invalid key message",
			line:     "Error: invalid api key",
			expected: true,
		},
		{
			name:     "missing key",
			line:     "API key missing, pass --apikey",
			expected: true,
		},
		{
			name:     "normal output",
			line:     "Thinking about the next step...",
			expected: false,
		},
		{
			name:     "empty line",
			line:     "",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DetectAuthError(tt.line)
			if result != tt.expected {
				t.Errorf("DetectAuthError(%q) = %v, want %v", tt.line, result, tt.expected)
			}
		})
	}
}

func TestDetectRateLimit(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected bool
	}{
		{"429 code", "openai.RateLimitError: Error code: 429", true},
		{"plain text", "Rate limit reached for requests", true},
		{"too many requests", "HTTP 429 Too Many Requests", true},
		{"quota", "Your quota has been exceeded", true},
		{"normal output", "Launching app 微信", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectRateLimit(tt.line); got != tt.expected {
				t.Errorf("DetectRateLimit(%q) = %v, want %v", tt.line, got, tt.expected)
			}
		})
	}
}

func TestDetectIssue(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected models.TaskIssueType
	}{
		{"auth", "Error code: 401 unauthorized", models.TaskIssueAuth},
		{"rate limit", "rate limit exceeded", models.TaskIssueRateLimit},
		{"no device", "adb: error: no devices/emulators found", models.TaskIssueDevice},
		{"offline", "error: device offline", models.TaskIssueDevice},
		{"specific device", "adb: device 'emulator-5556' not found", models.TaskIssueDevice},
		{"normal", "Step 3: Tap(500, 800)", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue := DetectIssue(tt.line)
			if tt.expected == "" {
				if issue != nil {
					t.Errorf("DetectIssue(%q) = %+v, want nil", tt.line, issue)
				}
				return
			}
			if issue == nil {
				t.Fatalf("DetectIssue(%q) = nil, want %s", tt.line, tt.expected)
			}
			if issue.Type != tt.expected {
				t.Errorf("DetectIssue(%q).Type = %s, want %s", tt.line, issue.Type, tt.expected)
			}
			if issue.Message != tt.line {
				t.Errorf("DetectIssue(%q).Message = %q", tt.line, issue.Message)
			}
		})
	}
}
