// Package telemetry sends opt-in usage events to PostHog.
package telemetry

import (
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"

	"github.com/autopanel-io/autopanel/internal/models"
)

// Event names.
const (
	EventTaskStarted     = "task_started"
	EventTaskFinished    = "task_finished"
	EventSessionRendered = "session_rendered"
)

// Client records usage events. Capture never blocks on the network.
type Client interface {
	Capture(event string, props map[string]any)
	Close() error
}

// New returns a PostHog-backed client when telemetry is enabled and an API
// key is configured, and a no-op client otherwise.
func New(cfg models.TelemetryConfig) Client {
	if !cfg.Enabled || cfg.APIKey == "" {
		return Noop{}
	}

	client, err := posthog.NewWithConfig(cfg.APIKey, posthog.Config{Endpoint: cfg.Endpoint})
	if err != nil {
		log.Printf("[telemetry] Disabled: %v", err)
		return Noop{}
	}
	return &posthogClient{client: client, distinctID: installID()}
}

// Noop discards every event.
type Noop struct{}

func (Noop) Capture(string, map[string]any) {}
func (Noop) Close() error                   { return nil }

type posthogClient struct {
	client     posthog.Client
	distinctID string
}

func (c *posthogClient) Capture(event string, props map[string]any) {
	properties := posthog.NewProperties()
	for k, v := range props {
		properties.Set(k, v)
	}
	if err := c.client.Enqueue(posthog.Capture{
		DistinctId: c.distinctID,
		Event:      event,
		Properties: properties,
	}); err != nil {
		log.Printf("[telemetry] Failed to enqueue %s: %v", event, err)
	}
}

func (c *posthogClient) Close() error {
	return c.client.Close()
}

// installID derives a stable anonymous id from the host name.
func installID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("autopanel:"+host)).String()
}
