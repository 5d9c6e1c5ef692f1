package mapprovider

import (
	"context"

	"github.com/earthcopilot/mapview/internal/model"
)

var azureStyles = map[Style]string{
	StyleRoad:          "road",
	StyleSatellite:     "satellite",
	StyleSatelliteRoad: "satellite_road_labels",
	StyleGrayscaleDark: "grayscale_dark",
	StyleNight:         "night",
}

// Azure emits Azure Maps Web SDK commands.
type Azure struct {
	clicks
	sink Sink
	key  string
}

// NewAzure creates an Azure Maps adapter. key may be empty in development
// mode, where the client authenticates anonymously.
func NewAzure(sink Sink, key string) *Azure {
	return &Azure{sink: sink, key: key}
}

func (a *Azure) Name() string { return ProviderAzure }

func (a *Azure) ReplacesLayers() bool { return true }

// Init asks the client to create the map control.
func (a *Azure) Init(ctx context.Context, style Style) error {
	return send(ctx, a.sink, ProviderAzure, "init", map[string]any{
		"authType":        authType(a.key),
		"subscriptionKey": a.key,
		"style":           azureStyles[style],
	})
}

func authType(key string) string {
	if key == "" {
		return "anonymous"
	}
	return "subscriptionKey"
}

func (a *Azure) SetView(ctx context.Context, v View) error {
	return send(ctx, a.sink, ProviderAzure, "setCamera", map[string]any{
		"center": []float64{v.Lng, v.Lat},
		"zoom":   v.Zoom,
		"type":   "ease",
	})
}

func (a *Azure) FitBounds(ctx context.Context, b model.BBox, padding int) error {
	return send(ctx, a.sink, ProviderAzure, "setCamera", map[string]any{
		"bounds":  b.Slice(),
		"padding": padding,
		"type":    "ease",
	})
}

func (a *Azure) AddTileLayer(ctx context.Context, l TileLayer) (string, error) {
	opts := map[string]any{
		"tileUrl":       l.Template,
		"opacity":       l.Opacity,
		"tileSize":      256,
		"minSourceZoom": l.MinZoom,
		"maxSourceZoom": l.MaxZoom,
		"buffer":        l.TileBuffer,
	}
	if l.Bounds != nil {
		opts["bounds"] = l.Bounds.Slice()
	}
	err := send(ctx, a.sink, ProviderAzure, "layers.add", map[string]any{
		"type":    "TileLayer",
		"id":      l.ID,
		"options": opts,
		"before":  "labels",
	})
	if err != nil {
		return "", err
	}
	return l.ID, nil
}

func (a *Azure) RemoveLayer(ctx context.Context, id string) error {
	return send(ctx, a.sink, ProviderAzure, "layers.remove", map[string]string{"id": id})
}

func (a *Azure) AddMarker(ctx context.Context, m Marker) (string, error) {
	err := send(ctx, a.sink, ProviderAzure, "markers.add", map[string]any{
		"id":       m.ID,
		"position": []float64{m.Lng, m.Lat},
		"text":     m.Label,
	})
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

func (a *Azure) RemoveMarker(ctx context.Context, id string) error {
	return send(ctx, a.sink, ProviderAzure, "markers.remove", map[string]string{"id": id})
}

func (a *Azure) SetStyle(ctx context.Context, s Style) error {
	name, ok := azureStyles[s]
	if !ok {
		return ErrUnknownStyle
	}
	return send(ctx, a.sink, ProviderAzure, "setStyle", map[string]string{"style": name})
}

func (a *Azure) RequestRender(ctx context.Context) error {
	return send(ctx, a.sink, ProviderAzure, "triggerRepaint", nil)
}
