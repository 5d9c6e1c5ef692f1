package mapprovider

import (
	"context"

	"go.uber.org/zap"

	"github.com/earthcopilot/mapview/internal/model"
)

// Placeholder is the static last-resort provider used when no map SDK could
// initialize. Every operation is a logged no-op.
type Placeholder struct {
	clicks
}

func (p *Placeholder) Name() string { return ProviderPlaceholder }

func (p *Placeholder) ReplacesLayers() bool { return true }

func (p *Placeholder) SetView(_ context.Context, v View) error {
	zap.L().Debug("mapprovider: placeholder ignoring setView", zap.Int("zoom", v.Zoom))
	return nil
}

func (p *Placeholder) FitBounds(_ context.Context, b model.BBox, _ int) error {
	zap.L().Debug("mapprovider: placeholder ignoring fitBounds", zap.Stringer("bbox", b))
	return nil
}

func (p *Placeholder) AddTileLayer(_ context.Context, l TileLayer) (string, error) {
	zap.L().Debug("mapprovider: placeholder ignoring tile layer", zap.String("id", l.ID))
	return l.ID, nil
}

func (p *Placeholder) RemoveLayer(context.Context, string) error { return nil }

func (p *Placeholder) AddMarker(_ context.Context, m Marker) (string, error) { return m.ID, nil }

func (p *Placeholder) RemoveMarker(context.Context, string) error { return nil }

func (p *Placeholder) SetStyle(context.Context, Style) error { return nil }

func (p *Placeholder) RequestRender(context.Context) error { return nil }
