package session

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/earthcopilot/mapview/internal/screenshot"
)

// Client event types.
const (
	EventClick = "click"
	EventReady = "ready"
	EventError = "error"
	EventFrame = "frame"
)

// ClientEvent is a message sent by the map client.
type ClientEvent struct {
	Type     string  `json:"type"`
	Provider string  `json:"provider,omitempty"`
	Lat      float64 `json:"lat,omitempty"`
	Lng      float64 `json:"lng,omitempty"`
	Message  string  `json:"message,omitempty"`
	// Fatal marks a provider error the map cannot recover from.
	Fatal     bool   `json:"fatal,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	// Data is a frame upload, as a data URL or plain base64.
	Data string `json:"data,omitempty"`
}

// HandleClientEvent dispatches one raw event from the map client.
func (s *Session) HandleClientEvent(ctx context.Context, raw []byte) error {
	var ev ClientEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return eris.Wrap(err, "session: decode client event")
	}
	s.touch()

	switch ev.Type {
	case EventClick:
		s.chain.Current().HandleClick(ev.Lat, ev.Lng)
	case EventReady:
		s.log.Info("session: map ready", zap.String("provider", ev.Provider))
	case EventError:
		current := s.chain.Current().Name()
		if ev.Fatal && ev.Provider == current {
			s.fallback(ctx, ev.Message)
			return nil
		}
		// Logged under the client's own message so suppressed fragments match.
		s.log.Warn(ev.Message, zap.String("source", "map_client"), zap.String("provider", ev.Provider))
	case EventFrame:
		data, err := screenshot.DecodeDataURL(ev.Data)
		if err != nil {
			return eris.Wrap(err, "session: decode frame")
		}
		if !s.surface.Deliver(ev.RequestID, data) {
			s.log.Debug("session: frame for unknown request dropped", zap.String("request_id", ev.RequestID))
		}
	default:
		return eris.Errorf("session: unknown client event %q", ev.Type)
	}
	return nil
}
