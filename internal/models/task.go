package models

import "time"

// TaskState is the lifecycle state of an agent run.
type TaskState string

const (
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateStopped   TaskState = "stopped"
)

// TaskStatus describes the current or most recent agent run.
// The running task is mirrored to ~/.autopanel/task.yaml.
type TaskStatus struct {
	RunID     string     `yaml:"run_id" json:"run_id"`
	Task      string     `yaml:"task" json:"task"`
	Model     string     `yaml:"model" json:"model"`
	BaseURL   string     `yaml:"base_url" json:"base_url"`
	DeviceID  string     `yaml:"device_id,omitempty" json:"device_id,omitempty"`
	SessionID string     `yaml:"session_id,omitempty" json:"session_id,omitempty"`
	State     TaskState  `yaml:"state" json:"state"`
	PID       int        `yaml:"pid" json:"pid"`
	ExitCode  int        `yaml:"exit_code" json:"exit_code"`
	StartedAt time.Time  `yaml:"started_at" json:"started_at"`
	EndedAt   *time.Time `yaml:"ended_at,omitempty" json:"ended_at,omitempty"`
	Issue     *TaskIssue `yaml:"issue,omitempty" json:"issue,omitempty"`
}

// TaskIssueType classifies a problem spotted in the agent's output.
type TaskIssueType string

const (
	TaskIssueAuth      TaskIssueType = "auth_failed"
	TaskIssueRateLimit TaskIssueType = "rate_limited"
	TaskIssueDevice    TaskIssueType = "device_unavailable"
)

// TaskIssue is the most recent problem reported by a running agent.
type TaskIssue struct {
	Type       TaskIssueType `yaml:"type" json:"type"`
	Message    string        `yaml:"message" json:"message"`
	DetectedAt time.Time     `yaml:"detected_at" json:"detected_at"`
}

// Running reports whether the run has not finished yet.
func (t *TaskStatus) Running() bool {
	return t != nil && t.State == TaskStateRunning
}
