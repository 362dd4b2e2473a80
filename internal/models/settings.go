package models

import "time"

// PathsConfig locates trajectory logs, step images and console transcripts.
// Empty values resolve to directories under ~/.autopanel/.
type PathsConfig struct {
	TracesDir  string `yaml:"traces_dir"`
	ImagesDir  string `yaml:"images_dir"`
	ConsoleDir string `yaml:"console_dir"`
}

// AgentConfig describes how the automation agent is launched.
type AgentConfig struct {
	Command string            `yaml:"command"` // interpreter or binary, looked up in PATH
	Script  string            `yaml:"script"`  // entry script passed as first argument
	WorkDir string            `yaml:"work_dir"`
	Env     map[string]string `yaml:"env"`
}

// ModelPreset is a named model endpoint offered by the panel.
type ModelPreset struct {
	Name        string `yaml:"name" json:"name"`
	BaseURL     string `yaml:"base_url" json:"base_url"`
	Model       string `yaml:"model" json:"model"`
	Description string `yaml:"description" json:"description"`
}

// RenderConfig controls trajectory rendering.
type RenderConfig struct {
	MaxImageEdge int `yaml:"max_image_edge"`
	SessionLimit int `yaml:"session_limit"`
}

// PanelConfig controls the daemon's listener.
type PanelConfig struct {
	Port        int  `yaml:"port"` // 0 = dynamic
	OpenBrowser bool `yaml:"open_browser"`
}

// DeviceConfig controls adb invocations.
type DeviceConfig struct {
	ADBPath string        `yaml:"adb_path"`
	Timeout time.Duration `yaml:"timeout"`
}

// TelemetryConfig controls opt-in usage events.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
}

// Settings represents global application settings.
// This corresponds to ~/.autopanel/settings.yaml.
type Settings struct {
	Version   int             `yaml:"version"`
	Paths     PathsConfig     `yaml:"paths"`
	Agent     AgentConfig     `yaml:"agent"`
	Presets   []ModelPreset   `yaml:"presets"`
	Render    RenderConfig    `yaml:"render"`
	Panel     PanelConfig     `yaml:"panel"`
	Device    DeviceConfig    `yaml:"device"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// NewSettings creates settings with default values.
func NewSettings() *Settings {
	return &Settings{
		Version: 1,
		Agent: AgentConfig{
			Command: "python",
			Script:  "main.py",
			Env: map[string]string{
				"PYTHONIOENCODING": "utf-8",
			},
		},
		Presets: []ModelPreset{
			{
				Name:        "Zhipu AI (official)",
				BaseURL:     "https://open.bigmodel.cn/api/paas/v4",
				Model:       "autoglm-phone",
				Description: "Hosted AutoGLM service, requires an API key",
			},
		},
		Render: RenderConfig{
			MaxImageEdge: 800,
			SessionLimit: 20,
		},
		Panel: PanelConfig{
			Port:        8865,
			OpenBrowser: true,
		},
		Device: DeviceConfig{
			ADBPath: "adb",
			Timeout: 10 * time.Second,
		},
	}
}

// Preset returns the preset with the given name.
func (s *Settings) Preset(name string) (ModelPreset, bool) {
	for _, p := range s.Presets {
		if p.Name == name {
			return p, true
		}
	}
	return ModelPreset{}, false
}
