package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autopanel-io/autopanel/internal/models"
)

func TestNewDisabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  models.TelemetryConfig
	}{
		{"disabled", models.TelemetryConfig{Enabled: false, APIKey: "phc_key"}},
		{"no api key", models.TelemetryConfig{Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.cfg)
			assert.IsType(t, Noop{}, c)
			c.Capture(EventTaskStarted, map[string]any{"model": "m"})
			assert.NoError(t, c.Close())
		})
	}
}

func TestInstallIDStable(t *testing.T) {
	assert.Equal(t, installID(), installID())
}
