package mapprovider

import (
	"context"

	"github.com/earthcopilot/mapview/internal/model"
)

// DefaultBasemaps are the raster basemaps Leaflet uses for each style.
var DefaultBasemaps = map[Style]string{
	StyleRoad:          "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
	StyleSatellite:     "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}",
	StyleSatelliteRoad: "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}",
	StyleGrayscaleDark: "https://{s}.basemaps.cartocdn.com/dark_all/{z}/{x}/{y}.png",
	StyleNight:         "https://{s}.basemaps.cartocdn.com/dark_all/{z}/{x}/{y}.png",
}

// Leaflet emits Leaflet commands. Leaflet has no layer-replace primitive.
type Leaflet struct {
	clicks
	sink     Sink
	basemaps map[Style]string
}

// NewLeaflet creates a Leaflet adapter. A nil basemaps map uses DefaultBasemaps.
func NewLeaflet(sink Sink, basemaps map[Style]string) *Leaflet {
	if len(basemaps) == 0 {
		basemaps = DefaultBasemaps
	}
	return &Leaflet{sink: sink, basemaps: basemaps}
}

func (l *Leaflet) Name() string { return ProviderLeaflet }

func (l *Leaflet) ReplacesLayers() bool { return false }

// Init asks the client to create the Leaflet map with the style's basemap.
func (l *Leaflet) Init(ctx context.Context, style Style) error {
	url, ok := l.basemaps[style]
	if !ok {
		url = l.basemaps[StyleSatellite]
	}
	return send(ctx, l.sink, ProviderLeaflet, "init", map[string]any{"basemap": url})
}

func (l *Leaflet) SetView(ctx context.Context, v View) error {
	return send(ctx, l.sink, ProviderLeaflet, "setView", map[string]any{
		"center": []float64{v.Lat, v.Lng},
		"zoom":   v.Zoom,
	})
}

func (l *Leaflet) FitBounds(ctx context.Context, b model.BBox, padding int) error {
	return send(ctx, l.sink, ProviderLeaflet, "fitBounds", map[string]any{
		"bounds":  leafletBounds(b),
		"padding": []int{padding, padding},
	})
}

func (l *Leaflet) AddTileLayer(ctx context.Context, t TileLayer) (string, error) {
	opts := map[string]any{
		"opacity":    t.Opacity,
		"minZoom":    t.MinZoom,
		"maxZoom":    t.MaxZoom,
		"keepBuffer": t.TileBuffer,
	}
	if t.Bounds != nil {
		opts["bounds"] = leafletBounds(*t.Bounds)
	}
	err := send(ctx, l.sink, ProviderLeaflet, "addTileLayer", map[string]any{
		"id":      t.ID,
		"url":     t.Template,
		"options": opts,
	})
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

func (l *Leaflet) RemoveLayer(ctx context.Context, id string) error {
	return send(ctx, l.sink, ProviderLeaflet, "removeLayer", map[string]string{"id": id})
}

func (l *Leaflet) AddMarker(ctx context.Context, m Marker) (string, error) {
	err := send(ctx, l.sink, ProviderLeaflet, "addMarker", map[string]any{
		"id":     m.ID,
		"latlng": []float64{m.Lat, m.Lng},
		"popup":  m.Label,
	})
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

func (l *Leaflet) RemoveMarker(ctx context.Context, id string) error {
	return send(ctx, l.sink, ProviderLeaflet, "removeMarker", map[string]string{"id": id})
}

func (l *Leaflet) SetStyle(ctx context.Context, s Style) error {
	url, ok := l.basemaps[s]
	if !ok {
		return ErrUnknownStyle
	}
	return send(ctx, l.sink, ProviderLeaflet, "setBasemap", map[string]string{"url": url})
}

func (l *Leaflet) RequestRender(ctx context.Context) error {
	return send(ctx, l.sink, ProviderLeaflet, "invalidateSize", nil)
}

func leafletBounds(b model.BBox) [][]float64 {
	return [][]float64{{b.South, b.West}, {b.North, b.East}}
}
