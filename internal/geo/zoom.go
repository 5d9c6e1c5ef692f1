package geo

import (
	"strings"

	"github.com/earthcopilot/mapview/internal/model"
)

// zoomStep maps a maximum bbox area (deg²) to a camera zoom level.
type zoomStep struct {
	maxArea float64
	zoom    int
}

var zoomSteps = []zoomStep{
	{0.1, 12},
	{0.5, 10},
	{2, 8},
	{10, 7},
	{50, 6},
}

const widestZoom = 5

// ZoomForArea returns the camera zoom for a bbox of the given area.
func ZoomForArea(area float64) int {
	for _, s := range zoomSteps {
		if area < s.maxArea {
			return s.zoom
		}
	}
	return widestZoom
}

// Framer chooses camera zoom levels for imagery bounds.
type Framer struct {
	// CoarsePrefixes lists collection id prefixes for coarse global
	// composites whose tile servers have no useful data at shallow zooms.
	CoarsePrefixes []string
	// CoarseMinZoom is the minimum zoom applied to coarse collections.
	CoarseMinZoom int
}

// DefaultFramer returns a Framer clamping MODIS composites to zoom 8.
func DefaultFramer() Framer {
	return Framer{
		CoarsePrefixes: []string{"modis-"},
		CoarseMinZoom:  8,
	}
}

// Zoom returns the target zoom for b, clamped for coarse collections.
func (f Framer) Zoom(b model.BBox, collection string) int {
	zoom := ZoomForArea(b.Area())
	if f.IsCoarse(collection) && zoom < f.CoarseMinZoom {
		zoom = f.CoarseMinZoom
	}
	return zoom
}

// IsCoarse reports whether collection belongs to a coarse-resolution family.
func (f Framer) IsCoarse(collection string) bool {
	c := strings.ToLower(collection)
	for _, p := range f.CoarsePrefixes {
		if p != "" && strings.HasPrefix(c, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
