package interpret

import (
	"strings"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"

	"github.com/earthcopilot/mapview/internal/geo"
	"github.com/earthcopilot/mapview/internal/model"
)

// Feature is one STAC item with its tile-capable assets already extracted.
type Feature struct {
	ID         string
	Collection string
	Datetime   string
	BBox       *model.BBox
	// TileJSON is the href of the item's "tilejson" asset.
	TileJSON string
	// Preview is the "rendered_preview" asset or preview link href.
	Preview string
	// Visual is the href of the item's "visual" asset.
	Visual string
}

// Legacy is the flat {dataset_ids, bbox, tile_url} response shape.
type Legacy struct {
	DatasetIDs []string
	BBox       model.BBox
	TileURL    string
}

// Payload is a backend response decoded once into a tagged union. Variant
// says which of the variant fields is populated and valid.
type Payload struct {
	Variant model.Variant
	Query   string
	// LocationBBox is the backend-resolved location, when valid.
	LocationBBox *model.BBox

	// MultiTile, PerItem
	Tiles []model.TileDescriptor
	// Mosaic, PerItem, StacAssets, BoundsOnly
	Features []Feature
	// Mosaic: the shared TileJSON document.
	MosaicTileJSON string
	// Legacy
	Legacy *Legacy
	// BoundsOnly
	BBox *model.BBox
}

var (
	featurePaths = []string{"data.stac_results.features", "stac_results.features", "features"}
	metaPaths    = []string{"translation_metadata", "data.translation_metadata"}
)

// Decode classifies raw in priority order. It never fails: malformed or
// unrecognized input decodes to VariantNone.
func Decode(raw []byte, cfg Config) Payload {
	cfg = cfg.withDefaults()
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return Payload{Variant: model.VariantNone}
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Payload{Variant: model.VariantNone}
	}

	meta := first(root, metaPaths)
	p := Payload{Query: meta.Get("original_query").String()}
	if p.Query == "" {
		p.Query = root.Get("query").String()
	}
	if b := parseBBox(meta.Get("location_bbox")); b != nil && geo.Validate(*b) == nil {
		p.LocationBBox = b
	}

	features := decodeFeatures(first(root, featurePaths))
	tiles := decodeTiles(meta.Get("all_tile_urls"))

	switch {
	case len(tiles) > 1:
		p.Variant = model.VariantMultiTile
		if len(tiles) > cfg.MaxTiles {
			tiles = tiles[:cfg.MaxTiles]
		}
		p.Tiles = fillCollections(tiles, features)
		p.Features = features
		return p

	case len(features) > 0 && features[0].TileJSON != "" &&
		lo.EveryBy(features, func(f Feature) bool { return cfg.IsMosaic(f.Collection) }):
		p.Variant = model.VariantMosaic
		p.Features = features
		p.MosaicTileJSON = features[0].TileJSON
		return p

	case len(tiles) == 1:
		p.Variant = model.VariantPerItem
		p.Tiles = fillCollections(tiles, features)
		p.Features = features
		return p
	}

	if withAssets(features, cfg) {
		p.Variant = model.VariantStacAssets
		p.Features = features
		return p
	}

	if l := decodeLegacy(root); l != nil {
		if l.TileURL != "" {
			p.Variant = model.VariantLegacy
			p.Legacy = l
			return p
		}
		p.BBox = &l.BBox
	}

	if p.BBox == nil {
		p.BBox = boundsOf(p, features)
	}
	if p.BBox == nil {
		p.BBox, _ = cfg.RegionFor(p.Query)
	}
	if p.BBox != nil {
		p.Variant = model.VariantBoundsOnly
		p.Features = features
		return p
	}
	p.Variant = model.VariantNone
	return p
}

func first(root gjson.Result, paths []string) gjson.Result {
	for _, path := range paths {
		if r := root.Get(path); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func decodeFeatures(r gjson.Result) []Feature {
	if !r.IsArray() {
		return nil
	}
	var out []Feature
	r.ForEach(func(_, f gjson.Result) bool {
		if !f.IsObject() {
			return true
		}
		feat := Feature{
			ID:         f.Get("id").String(),
			Collection: f.Get("collection").String(),
			Datetime:   f.Get("properties.datetime").String(),
			BBox:       parseBBox(f.Get("bbox")),
			TileJSON:   f.Get("assets.tilejson.href").String(),
			Preview:    f.Get("assets.rendered_preview.href").String(),
			Visual:     f.Get("assets.visual.href").String(),
		}
		if feat.Preview == "" {
			feat.Preview = f.Get(`links.#(rel=="preview").href`).String()
		}
		out = append(out, feat)
		return true
	})
	return out
}

func decodeTiles(r gjson.Result) []model.TileDescriptor {
	if !r.IsArray() {
		return nil
	}
	var out []model.TileDescriptor
	r.ForEach(func(_, t gjson.Result) bool {
		url := t.Get("tilejson_url").String()
		if url == "" {
			url = t.Get("tile_url").String()
		}
		if url == "" {
			return true
		}
		out = append(out, model.TileDescriptor{
			ItemID:     t.Get("item_id").String(),
			Collection: t.Get("collection").String(),
			BBox:       parseBBox(t.Get("bbox")),
			URL:        url,
		})
		return true
	})
	return out
}

func decodeLegacy(root gjson.Result) *Legacy {
	for _, prefix := range []string{"", "data."} {
		ids := root.Get(prefix + "dataset_ids")
		bbox := parseBBox(root.Get(prefix + "bbox"))
		if !ids.IsArray() || bbox == nil || geo.Validate(*bbox) != nil {
			continue
		}
		l := &Legacy{BBox: *bbox, TileURL: root.Get(prefix + "tile_url").String()}
		ids.ForEach(func(_, id gjson.Result) bool {
			if s := id.String(); s != "" {
				l.DatasetIDs = append(l.DatasetIDs, s)
			}
			return true
		})
		return l
	}
	return nil
}

// parseBBox accepts [w,s,e,n], [w,s,zmin,e,n,zmax] and {west,south,east,north}.
func parseBBox(r gjson.Result) *model.BBox {
	switch {
	case r.IsArray():
		var vals []float64
		for _, v := range r.Array() {
			if v.Type != gjson.Number {
				return nil
			}
			vals = append(vals, v.Float())
		}
		b, ok := model.NewBBox(vals)
		if !ok {
			return nil
		}
		return &b
	case r.IsObject():
		keys := []string{"west", "south", "east", "north"}
		vals := make([]float64, len(keys))
		for i, k := range keys {
			v := r.Get(k)
			if v.Type != gjson.Number {
				return nil
			}
			vals[i] = v.Float()
		}
		b, _ := model.NewBBox(vals)
		return &b
	}
	return nil
}

func fillCollections(tiles []model.TileDescriptor, features []Feature) []model.TileDescriptor {
	byID := lo.KeyBy(features, func(f Feature) string { return f.ID })
	out := make([]model.TileDescriptor, len(tiles))
	for i, t := range tiles {
		if f, ok := byID[t.ItemID]; ok {
			if t.Collection == "" {
				t.Collection = f.Collection
			}
			if t.BBox == nil {
				t.BBox = f.BBox
			}
		}
		out[i] = t
	}
	return out
}

func withAssets(features []Feature, cfg Config) bool {
	return lo.SomeBy(features, func(f Feature) bool {
		return f.TileJSON != "" || previewTileJSON(f.Preview) != "" ||
			(f.Visual != "" && cfg.VisualTileJSON != "")
	})
}

// previewTileJSON derives a TileJSON URL from a rendered preview href served
// by a tiler. Plain image previews return "".
func previewTileJSON(href string) string {
	if !strings.Contains(href, "/preview.png") {
		return ""
	}
	return strings.Replace(href, "/preview.png", "/tilejson.json", 1)
}

func boundsOf(p Payload, features []Feature) *model.BBox {
	if p.LocationBBox != nil {
		return p.LocationBBox
	}
	boxes := lo.Map(features, func(f Feature, _ int) *model.BBox { return f.BBox })
	boxes = append(boxes, lo.Map(p.Tiles, func(t model.TileDescriptor, _ int) *model.BBox { return t.BBox })...)
	return geo.Union(boxes)
}
