// Package telemetry reports anonymous launcher usage and failures to
// PostHog when the user has opted in.
package telemetry

import (
	"fmt"
	"runtime"

	"github.com/posthog/posthog-go"
	"github.com/rs/zerolog/log"

	"github.com/nine-chronicles/launcher/internal/models"
)

// Event names.
const (
	EventLauncherStarted   = "launcher_started"
	EventGameLaunched      = "game_launched"
	EventSnapshotInstalled = "snapshot_installed"
	EventTransferFailed    = "transfer_failed"
	EventNodeExited        = "node_exited"
)

// Reporter records telemetry events.
type Reporter interface {
	Capture(event string, props map[string]any)
	Close() error
}

// New returns a PostHog reporter when telemetry is enabled, or a no-op
// reporter otherwise.
func New(cfg models.TelemetryConfig, version string) (Reporter, error) {
	if !cfg.Enabled || cfg.APIKey == "" {
		return Noop{}, nil
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = models.DefaultPostHogHost
	}
	client, err := posthog.NewWithConfig(cfg.APIKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry client: %w", err)
	}

	return &postHog{
		client:     client,
		distinctID: cfg.InstallID,
		version:    version,
	}, nil
}

type postHog struct {
	client     posthog.Client
	distinctID string
	version    string
}

func (p *postHog) Capture(event string, props map[string]any) {
	properties := posthog.NewProperties().
		Set("version", p.version).
		Set("os", runtime.GOOS).
		Set("arch", runtime.GOARCH)
	for k, v := range props {
		properties.Set(k, v)
	}

	if err := p.client.Enqueue(posthog.Capture{
		DistinctId: p.distinctID,
		Event:      event,
		Properties: properties,
	}); err != nil {
		log.Debug().Err(err).Str("event", event).Msg("telemetry enqueue failed")
	}
}

func (p *postHog) Close() error {
	return p.client.Close()
}

// Noop discards every event.
type Noop struct{}

func (Noop) Capture(string, map[string]any) {}

func (Noop) Close() error { return nil }

// Recorder keeps captured events in memory.
type Recorder struct {
	Events []Captured
}

// Captured is one event held by a Recorder.
type Captured struct {
	Event string
	Props map[string]any
}

func (r *Recorder) Capture(event string, props map[string]any) {
	r.Events = append(r.Events, Captured{Event: event, Props: props})
}

func (r *Recorder) Close() error { return nil }

// Names returns the recorded event names in order.
func (r *Recorder) Names() []string {
	names := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		names = append(names, e.Event)
	}
	return names
}
