package model

import "time"

// Variant identifies which response shape produced a SatelliteData value.
type Variant string

const (
	VariantNone       Variant = "none"
	VariantMultiTile  Variant = "multi_tile"
	VariantMosaic     Variant = "mosaic"
	VariantPerItem    Variant = "per_item"
	VariantStacAssets Variant = "stac_assets"
	VariantLegacy     Variant = "legacy"
	VariantBoundsOnly Variant = "bounds_only"
)

// Item describes one imagery item returned by a catalog search.
type Item struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
	Datetime   string `json:"datetime,omitempty"`
	BBox       *BBox  `json:"bbox,omitempty"`
	TileURL    string `json:"tile_url,omitempty"`
	PreviewURL string `json:"preview_url,omitempty"`
}

// TileDescriptor is a per-item tile reference. URL is either a direct
// {z}/{x}/{y} template or a TileJSON document that must be fetched.
type TileDescriptor struct {
	ItemID     string `json:"item_id"`
	Collection string `json:"collection,omitempty"`
	BBox       *BBox  `json:"bbox,omitempty"`
	URL        string `json:"url"`
}

// SatelliteData is the normalized imagery record applied to the map. A new
// value is built for every backend response and replaces the previous one.
type SatelliteData struct {
	Variant    Variant          `json:"variant"`
	BBox       *BBox            `json:"bbox,omitempty"`
	Items      []Item           `json:"items,omitempty"`
	TileURL    string           `json:"tile_url,omitempty"`
	Tiles      []TileDescriptor `json:"tiles,omitempty"`
	Collection string           `json:"collection,omitempty"`
	Query      string           `json:"query,omitempty"`
	Thermal    bool             `json:"thermal,omitempty"`
	ReceivedAt time.Time        `json:"received_at"`
}

// HasTiles reports whether the record carries anything that can be drawn.
func (d *SatelliteData) HasTiles() bool {
	return d != nil && (d.TileURL != "" || len(d.Tiles) > 0)
}

// TileRefs returns every tile reference in the record, with the primary tile
// URL first when present.
func (d *SatelliteData) TileRefs() []TileDescriptor {
	if d == nil {
		return nil
	}
	refs := make([]TileDescriptor, 0, len(d.Tiles)+1)
	if d.TileURL != "" && len(d.Tiles) == 0 {
		refs = append(refs, TileDescriptor{
			ItemID:     "primary",
			Collection: d.Collection,
			BBox:       d.BBox,
			URL:        d.TileURL,
		})
	}
	return append(refs, d.Tiles...)
}
