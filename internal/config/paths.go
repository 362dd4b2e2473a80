// Package config handles configuration loading, saving, and path management.
package config

import (
	"os"
	"path/filepath"
)

const (
	// GlobalDirName is the name of the global AutoPanel directory.
	GlobalDirName = ".autopanel"

	// TracesDirName holds one trajectory log per session.
	TracesDirName = "traces"

	// ImagesDirName holds the step screenshots referenced by trajectory logs.
	ImagesDirName = "images"

	// ConsoleDirName holds the console transcripts of agent runs.
	ConsoleDirName = "console"
)

// File names
const (
	DaemonFileName   = "daemon.yaml"
	SettingsFileName = "settings.yaml"
	TaskFileName     = "task.yaml"
)

// GlobalDir returns the path to the global AutoPanel directory (~/.autopanel/).
func GlobalDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, GlobalDirName), nil
}

func globalFile(name string) (string, error) {
	dir, err := GlobalDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// GlobalDaemonFile returns the path to the daemon.yaml file.
func GlobalDaemonFile() (string, error) {
	return globalFile(DaemonFileName)
}

// GlobalSettingsFile returns the path to the settings.yaml file.
func GlobalSettingsFile() (string, error) {
	return globalFile(SettingsFileName)
}

// GlobalTaskFile returns the path to the task.yaml file.
func GlobalTaskFile() (string, error) {
	return globalFile(TaskFileName)
}

// DefaultTracesDir returns ~/.autopanel/traces.
func DefaultTracesDir() (string, error) {
	return globalFile(TracesDirName)
}

// DefaultImagesDir returns ~/.autopanel/images.
func DefaultImagesDir() (string, error) {
	return globalFile(ImagesDirName)
}

// DefaultConsoleDir returns ~/.autopanel/console.
func DefaultConsoleDir() (string, error) {
	return globalFile(ConsoleDirName)
}

// EnsureGlobalDir creates the global AutoPanel directory if it doesn't exist.
func EnsureGlobalDir() error {
	dir, err := GlobalDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}
