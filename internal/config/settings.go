package config

import (
	"github.com/autopanel-io/autopanel/internal/models"
)

// LoadSettings loads the global settings from ~/.autopanel/settings.yaml.
// If the file doesn't exist, returns default settings. Values missing from
// the file keep their defaults.
func LoadSettings() (*models.Settings, error) {
	path, err := GlobalSettingsFile()
	if err != nil {
		return nil, err
	}
	settings, err := LoadYAMLOrDefault(path, models.NewSettings)
	if err != nil {
		return nil, err
	}
	if err := ResolvePaths(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// SaveSettings saves the global settings to ~/.autopanel/settings.yaml.
func SaveSettings(settings *models.Settings) error {
	path, err := GlobalSettingsFile()
	if err != nil {
		return err
	}
	return SaveYAML(path, settings)
}

// ResolvePaths fills empty directory settings with their defaults.
func ResolvePaths(settings *models.Settings) error {
	defaults := []struct {
		dst *string
		fn  func() (string, error)
	}{
		{&settings.Paths.TracesDir, DefaultTracesDir},
		{&settings.Paths.ImagesDir, DefaultImagesDir},
		{&settings.Paths.ConsoleDir, DefaultConsoleDir},
	}
	for _, d := range defaults {
		if *d.dst != "" {
			continue
		}
		dir, err := d.fn()
		if err != nil {
			return err
		}
		*d.dst = dir
	}
	return nil
}
