package interpret

import (
	"strings"

	"github.com/samber/lo"

	"github.com/earthcopilot/mapview/internal/model"
)

// DefaultMaxTiles caps the multi-tile fan-out.
const DefaultMaxTiles = 50

// RegionalBox frames queries mentioning one of Keywords when the response
// carries no usable bounds of its own.
type RegionalBox struct {
	Name     string    `mapstructure:"name" yaml:"name"`
	Keywords []string  `mapstructure:"keywords" yaml:"keywords"`
	BBox     []float64 `mapstructure:"bbox" yaml:"bbox"`
}

// Config holds the response heuristics. All lists are matched
// case-insensitively.
type Config struct {
	// MosaicCollections are collection ids rendered from one shared tile
	// template. Entries ending in "*" match by prefix.
	MosaicCollections  []string      `mapstructure:"mosaic_collections" yaml:"mosaic_collections"`
	MaxTiles           int           `mapstructure:"max_tiles" yaml:"max_tiles"`
	ThermalKeywords    []string      `mapstructure:"thermal_keywords" yaml:"thermal_keywords"`
	ThermalCollections []string      `mapstructure:"thermal_collections" yaml:"thermal_collections"`
	RegionalBoxes      []RegionalBox `mapstructure:"regional_boxes" yaml:"regional_boxes"`
	// VisualTileJSON builds a TileJSON URL from an item's visual asset.
	// Placeholders: {collection}, {item}.
	VisualTileJSON string `mapstructure:"visual_tilejson" yaml:"visual_tilejson"`
}

// DefaultConfig returns the built-in heuristics.
func DefaultConfig() Config {
	return Config{
		MosaicCollections: []string{
			"cop-dem-glo-30", "cop-dem-glo-90", "nasadem", "alos-dem", "modis-*",
		},
		MaxTiles:           DefaultMaxTiles,
		ThermalKeywords:    []string{"thermal", "heat", "temperature", "infrared", "wildfire", "fire"},
		ThermalCollections: []string{"modis-11a1-061", "modis-21a2-061", "landsat-c2-l2"},
		RegionalBoxes: []RegionalBox{
			{Name: "california", Keywords: []string{"wildfire", "california"}, BBox: []float64{-124.48, 32.53, -114.13, 42.01}},
		},
		VisualTileJSON: "https://planetarycomputer.microsoft.com/api/data/v1/item/tilejson.json?collection={collection}&item={item}&assets=visual",
	}
}

func (c Config) withDefaults() Config {
	if c.MaxTiles <= 0 {
		c.MaxTiles = DefaultMaxTiles
	}
	return c
}

// IsMosaic reports whether collection is on the mosaic allow-list.
func (c Config) IsMosaic(collection string) bool {
	id := strings.ToLower(collection)
	if id == "" {
		return false
	}
	return lo.SomeBy(c.MosaicCollections, func(p string) bool {
		p = strings.ToLower(p)
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			return strings.HasPrefix(id, prefix)
		}
		return id == p
	})
}

// IsThermal reports whether the query text or any collection points at
// thermal imagery.
func (c Config) IsThermal(query string, collections []string) bool {
	q := strings.ToLower(query)
	if lo.SomeBy(c.ThermalKeywords, func(k string) bool {
		return k != "" && strings.Contains(q, strings.ToLower(k))
	}) {
		return true
	}
	thermal := lo.Map(c.ThermalCollections, func(s string, _ int) string { return strings.ToLower(s) })
	return lo.SomeBy(collections, func(id string) bool {
		return lo.Contains(thermal, strings.ToLower(id))
	})
}

// RegionFor returns the first regional box whose keywords appear in query.
func (c Config) RegionFor(query string) (*model.BBox, string) {
	q := strings.ToLower(query)
	if q == "" {
		return nil, ""
	}
	for _, r := range c.RegionalBoxes {
		hit := lo.SomeBy(r.Keywords, func(k string) bool {
			return k != "" && strings.Contains(q, strings.ToLower(k))
		})
		if !hit {
			continue
		}
		if b, ok := model.NewBBox(r.BBox); ok {
			return &b, r.Name
		}
	}
	return nil, ""
}

func (c Config) visualTileJSON(collection, item string) string {
	if c.VisualTileJSON == "" {
		return ""
	}
	r := strings.NewReplacer("{collection}", collection, "{item}", item)
	return r.Replace(c.VisualTileJSON)
}
