package config

import (
	"github.com/autopanel-io/autopanel/internal/models"
)

// LoadTaskState loads the running task from ~/.autopanel/task.yaml.
// Returns nil if no task is recorded.
func LoadTaskState() (*models.TaskStatus, error) {
	path, err := GlobalTaskFile()
	if err != nil {
		return nil, err
	}
	if !FileExists(path) {
		return nil, nil
	}

	var status models.TaskStatus
	if err := LoadYAML(path, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SaveTaskState writes the running task to ~/.autopanel/task.yaml.
func SaveTaskState(status *models.TaskStatus) error {
	path, err := GlobalTaskFile()
	if err != nil {
		return err
	}
	return SaveYAML(path, status)
}

// RemoveTaskState removes the task.yaml file.
func RemoveTaskState() error {
	path, err := GlobalTaskFile()
	if err != nil {
		return err
	}
	return RemoveFile(path)
}
