package models

// ConsoleLogEntry represents metadata for one agent run's console transcript.
type ConsoleLogEntry struct {
	LogID     string `yaml:"log_id" json:"log_id"`
	RunID     string `yaml:"run_id" json:"run_id"`
	SessionID string `yaml:"session_id" json:"session_id,omitempty"`
	Task      string `yaml:"task" json:"task"`
	Model     string `yaml:"model" json:"model"`
	StartedAt string `yaml:"started_at" json:"started_at"`
	EndedAt   string `yaml:"ended_at" json:"ended_at"`
	Status    string `yaml:"status" json:"status"`
}
