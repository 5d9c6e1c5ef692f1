// Package mapprovider abstracts the map SDKs a client can render with. Each
// adapter translates camera, layer and marker operations into provider-
// specific commands and hands them to a Sink for delivery to the browser.
package mapprovider

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/earthcopilot/mapview/internal/model"
)

// Provider names.
const (
	ProviderAzure       = "azure"
	ProviderLeaflet     = "leaflet"
	ProviderPlaceholder = "placeholder"
)

// Style is a base map style.
type Style string

const (
	StyleRoad          Style = "road"
	StyleSatellite     Style = "satellite"
	StyleSatelliteRoad Style = "satellite_road_labels"
	StyleGrayscaleDark Style = "grayscale_dark"
	StyleNight         Style = "night"
)

// ErrUnknownStyle is returned by SetStyle for unsupported styles.
var ErrUnknownStyle = eris.New("mapprovider: unknown style")

// View is a camera position.
type View struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Zoom int     `json:"zoom"`
}

// TileLayer describes a raster tile layer to add.
type TileLayer struct {
	ID         string      `json:"id"`
	Template   string      `json:"template"`
	Bounds     *model.BBox `json:"bounds,omitempty"`
	Opacity    float64     `json:"opacity"`
	MinZoom    int         `json:"min_zoom"`
	MaxZoom    int         `json:"max_zoom"`
	TileBuffer int         `json:"tile_buffer"`
}

// Marker describes a pin marker.
type Marker struct {
	ID    string  `json:"id"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label,omitempty"`
}

// Command is one provider-specific instruction sent to the browser.
type Command struct {
	Provider string          `json:"provider"`
	Op       string          `json:"op"`
	Args     json.RawMessage `json:"args,omitempty"`
}

// Sink delivers commands to a map client.
type Sink interface {
	Send(ctx context.Context, cmd Command) error
}

// ClickHandler receives map clicks in WGS84 degrees.
type ClickHandler func(lat, lng float64)

// Adapter is the shared surface over the supported map SDKs.
type Adapter interface {
	Name() string
	// ReplacesLayers reports whether AddTileLayer replaces a layer with the
	// same id. Callers must remove old layers explicitly otherwise.
	ReplacesLayers() bool
	SetView(ctx context.Context, v View) error
	FitBounds(ctx context.Context, b model.BBox, padding int) error
	AddTileLayer(ctx context.Context, l TileLayer) (string, error)
	RemoveLayer(ctx context.Context, id string) error
	AddMarker(ctx context.Context, m Marker) (string, error)
	RemoveMarker(ctx context.Context, id string) error
	SetStyle(ctx context.Context, s Style) error
	RequestRender(ctx context.Context) error
	OnClick(h ClickHandler)
	// HandleClick dispatches a click event reported by the map client.
	HandleClick(lat, lng float64)
}

// clicks is the click-dispatch half shared by every adapter. Handlers are
// registered from the session while clicks arrive on the client's read
// goroutine.
type clicks struct {
	mu       sync.Mutex
	handlers []ClickHandler
}

func (c *clicks) OnClick(h ClickHandler) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *clicks) HandleClick(lat, lng float64) {
	c.mu.Lock()
	hs := append([]ClickHandler(nil), c.handlers...)
	c.mu.Unlock()
	for _, h := range hs {
		h(lat, lng)
	}
}

func newCommand(provider, op string, args any) (Command, error) {
	cmd := Command{Provider: provider, Op: op}
	if args == nil {
		return cmd, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return Command{}, eris.Wrapf(err, "mapprovider: encode %s args", op)
	}
	cmd.Args = raw
	return cmd, nil
}

func send(ctx context.Context, sink Sink, provider, op string, args any) error {
	cmd, err := newCommand(provider, op, args)
	if err != nil {
		return err
	}
	if err := sink.Send(ctx, cmd); err != nil {
		return eris.Wrapf(err, "mapprovider: send %s", op)
	}
	return nil
}
