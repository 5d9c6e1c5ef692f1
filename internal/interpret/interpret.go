// Package interpret turns chat backend responses into normalized imagery
// records. Input is decoded once into a Payload variant and then resolved;
// nothing here returns an error or panics on malformed input.
package interpret

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/earthcopilot/mapview/internal/model"
	"github.com/earthcopilot/mapview/pkg/backend"
)

// DescriptorFetcher loads a TileJSON document.
type DescriptorFetcher interface {
	FetchTileJSON(ctx context.Context, url string) (*backend.TileJSON, error)
}

// Interpreter resolves backend responses into SatelliteData.
type Interpreter struct {
	cfg     Config
	fetcher DescriptorFetcher
	now     func() time.Time
}

// New creates an Interpreter. fetcher loads the shared mosaic template.
func New(cfg Config, fetcher DescriptorFetcher) *Interpreter {
	return &Interpreter{cfg: cfg.withDefaults(), fetcher: fetcher, now: time.Now}
}

// Config returns the heuristics in use.
func (in *Interpreter) Config() Config { return in.cfg }

// Interpret decodes and resolves raw. The result is never nil; a record
// with VariantNone means there is nothing to render.
func (in *Interpreter) Interpret(ctx context.Context, raw []byte) (data *model.SatelliteData) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("interpret: recovered from malformed response", zap.String("panic", fmt.Sprint(r)))
			data = &model.SatelliteData{Variant: model.VariantNone, ReceivedAt: in.now()}
		}
	}()
	return in.Resolve(ctx, Decode(raw, in.cfg))
}

// Resolve builds the imagery record for a decoded payload.
func (in *Interpreter) Resolve(ctx context.Context, p Payload) *model.SatelliteData {
	d := &model.SatelliteData{
		Variant:    p.Variant,
		Query:      p.Query,
		Items:      items(p.Features),
		ReceivedAt: in.now(),
	}

	switch p.Variant {
	case model.VariantNone:
		return d

	case model.VariantMultiTile, model.VariantPerItem:
		d.Tiles = p.Tiles

	case model.VariantMosaic:
		if !in.resolveMosaic(ctx, p, d) {
			d.Variant = model.VariantStacAssets
			d.Tiles = in.assetTiles(p.Features)
		}

	case model.VariantStacAssets:
		d.Tiles = in.assetTiles(p.Features)

	case model.VariantLegacy:
		d.TileURL = p.Legacy.TileURL
		d.BBox = &p.Legacy.BBox
		if len(p.Legacy.DatasetIDs) > 0 {
			d.Collection = p.Legacy.DatasetIDs[0]
		}

	case model.VariantBoundsOnly:
		d.BBox = p.BBox
	}

	if d.Collection == "" {
		d.Collection = firstCollection(p)
	}
	if d.BBox == nil {
		d.BBox = boundsOf(p, p.Features)
	}
	if d.BBox == nil {
		var region string
		if d.BBox, region = in.cfg.RegionFor(p.Query); d.BBox != nil {
			zap.L().Debug("interpret: using regional bounds", zap.String("region", region))
		}
	}
	d.Thermal = in.cfg.IsThermal(p.Query, collections(p))

	switch {
	case d.HasTiles() && d.BBox != nil:
	case d.BBox != nil:
		d.Variant = model.VariantBoundsOnly
	default:
		zap.L().Debug("interpret: nothing to render", zap.String("variant", string(p.Variant)))
		d.Variant = model.VariantNone
		d.TileURL = ""
		d.Tiles = nil
	}
	return d
}

// resolveMosaic fetches the shared template once and stamps it on every item.
func (in *Interpreter) resolveMosaic(ctx context.Context, p Payload, d *model.SatelliteData) bool {
	if in.fetcher == nil {
		return false
	}
	tj, err := in.fetcher.FetchTileJSON(ctx, p.MosaicTileJSON)
	if err != nil || tj.Template() == "" {
		zap.L().Warn("interpret: mosaic template unavailable, using per-item assets",
			zap.String("url", p.MosaicTileJSON),
			zap.Error(err),
		)
		return false
	}
	d.TileURL = tj.Template()
	for i := range d.Items {
		d.Items[i].TileURL = d.TileURL
	}
	return true
}

func (in *Interpreter) assetTiles(features []Feature) []model.TileDescriptor {
	var tiles []model.TileDescriptor
	for _, f := range features {
		url := f.TileJSON
		if url == "" {
			url = previewTileJSON(f.Preview)
		}
		if url == "" && f.Visual != "" {
			url = in.cfg.visualTileJSON(f.Collection, f.ID)
		}
		if url == "" {
			continue
		}
		tiles = append(tiles, model.TileDescriptor{
			ItemID:     f.ID,
			Collection: f.Collection,
			BBox:       f.BBox,
			URL:        url,
		})
		if len(tiles) == in.cfg.MaxTiles {
			break
		}
	}
	return tiles
}

func items(features []Feature) []model.Item {
	return lo.Map(features, func(f Feature, _ int) model.Item {
		return model.Item{
			ID:         f.ID,
			Collection: f.Collection,
			Datetime:   f.Datetime,
			BBox:       f.BBox,
			PreviewURL: f.Preview,
		}
	})
}

func collections(p Payload) []string {
	ids := lo.Map(p.Features, func(f Feature, _ int) string { return f.Collection })
	ids = append(ids, lo.Map(p.Tiles, func(t model.TileDescriptor, _ int) string { return t.Collection })...)
	if p.Legacy != nil {
		ids = append(ids, p.Legacy.DatasetIDs...)
	}
	return lo.Uniq(lo.Compact(ids))
}

func firstCollection(p Payload) string {
	ids := collections(p)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}
