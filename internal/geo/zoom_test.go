package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/earthcopilot/mapview/internal/model"
)

func TestZoomForArea(t *testing.T) {
	tests := []struct {
		area float64
		want int
	}{
		{0.01, 12},
		{0.1, 10},
		{0.3, 10},
		{0.5, 8},
		{1.9, 8},
		{2, 7},
		{9.99, 7},
		{10, 6},
		{49, 6},
		{50, 5},
		{5000, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ZoomForArea(tt.area), "area %v", tt.area)
	}
}

func TestFramer_ClampsCoarseCollections(t *testing.T) {
	f := DefaultFramer()
	wide := model.BBox{West: -20, South: 30, East: 20, North: 60}

	assert.Equal(t, 5, f.Zoom(wide, "sentinel-2-l2a"))
	assert.Equal(t, 8, f.Zoom(wide, "modis-14A1-061"))
	assert.Equal(t, 8, f.Zoom(wide, "MODIS-13Q1-061"))

	small := model.BBox{West: 0, South: 0, East: 0.1, North: 0.1}
	assert.Equal(t, 12, f.Zoom(small, "modis-14A1-061"))
}

func TestFramer_IsCoarse_EmptyPrefixIgnored(t *testing.T) {
	f := Framer{CoarsePrefixes: []string{""}, CoarseMinZoom: 9}
	assert.False(t, f.IsCoarse("anything"))
}
