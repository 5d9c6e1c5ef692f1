// Package telemetry records product events for analyses and comparisons.
package telemetry

import (
	"github.com/posthog/posthog-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Event names.
const (
	EventAnalysisStarted  = "analysis_started"
	EventAnalysisFinished = "analysis_finished"
	EventComparisonLoaded = "comparison_loaded"
	EventImageryApplied   = "imagery_applied"
	EventProviderFallback = "map_provider_fallback"
)

// Tracker records named events for a session.
type Tracker interface {
	Track(sessionID, event string, props map[string]any)
	Close() error
}

// enqueuer is the subset of posthog.Client used here.
type enqueuer interface {
	Enqueue(posthog.Message) error
	Close() error
}

// PostHog sends events to a PostHog project.
type PostHog struct {
	client enqueuer
}

// NewPostHog creates a tracker. An empty key yields a Nop tracker.
func NewPostHog(key, endpoint string) (Tracker, error) {
	if key == "" {
		return Nop{}, nil
	}
	cfg := posthog.Config{}
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	client, err := posthog.NewWithConfig(key, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "telemetry: posthog client")
	}
	return &PostHog{client: client}, nil
}

func (p *PostHog) Track(sessionID, event string, props map[string]any) {
	if sessionID == "" {
		sessionID = "anonymous"
	}
	err := p.client.Enqueue(posthog.Capture{
		DistinctId: sessionID,
		Event:      event,
		Properties: posthog.Properties(props),
	})
	if err != nil {
		zap.L().Debug("telemetry: enqueue failed", zap.String("event", event), zap.Error(err))
	}
}

func (p *PostHog) Close() error {
	return eris.Wrap(p.client.Close(), "telemetry: close")
}

// Nop discards every event.
type Nop struct{}

func (Nop) Track(string, string, map[string]any) {}

func (Nop) Close() error { return nil }
