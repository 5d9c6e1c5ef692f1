// Package geo provides bounding-box validation, aggregation, camera framing
// and data-class heuristics for imagery rendered on the map.
package geo

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/earthcopilot/mapview/internal/model"
)

// Validation errors returned by Validate.
var (
	ErrNonFinite  = eris.New("geo: bbox contains non-finite value")
	ErrOutOfRange = eris.New("geo: bbox outside WGS84 range")
	ErrInverted   = eris.New("geo: bbox is inverted")
)

// Validate checks that b is finite, inside WGS84 limits, and has
// south < north and west < east.
func Validate(b model.BBox) error {
	if !finite(b) {
		return ErrNonFinite
	}
	if !inRange(b) {
		return ErrOutOfRange
	}
	if b.South >= b.North || b.West >= b.East {
		return ErrInverted
	}
	return nil
}

// Union returns the componentwise min/max over every usable box: the
// smallest west and south, the largest east and north. Boxes with
// non-finite or out-of-range values are skipped. Returns nil when no box is
// usable.
func Union(boxes []*model.BBox) *model.BBox {
	sw := make([]float64, 0, len(boxes)*2)
	ne := make([]float64, 0, len(boxes)*2)
	for _, b := range boxes {
		if b == nil || !finite(*b) || !inRange(*b) {
			continue
		}
		sw = append(sw, b.West, b.South)
		ne = append(ne, b.East, b.North)
	}
	if len(sw) == 0 {
		return nil
	}

	// West and east are never mixed, so a box crossing the antimeridian
	// keeps its west > east shape in the result.
	lo := geom.NewMultiPointFlat(geom.XY, sw).Bounds()
	hi := geom.NewMultiPointFlat(geom.XY, ne).Bounds()
	return &model.BBox{
		West:  lo.Min(0),
		South: lo.Min(1),
		East:  hi.Max(0),
		North: hi.Max(1),
	}
}
