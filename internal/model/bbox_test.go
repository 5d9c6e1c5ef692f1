package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBBox(t *testing.T) {
	b, ok := NewBBox([]float64{-10, 40, 10, 50})
	assert.True(t, ok)
	assert.Equal(t, BBox{West: -10, South: 40, East: 10, North: 50}, b)

	b, ok = NewBBox([]float64{-10, 40, 0, 10, 50, 100})
	assert.True(t, ok)
	assert.Equal(t, BBox{West: -10, South: 40, East: 10, North: 50}, b)

	_, ok = NewBBox([]float64{1, 2, 3})
	assert.False(t, ok)
}

func TestBBox_CenterAndArea(t *testing.T) {
	b := BBox{West: -10, South: 40, East: 10, North: 50}
	lat, lng := b.Center()
	assert.InDelta(t, 45.0, lat, 1e-9)
	assert.InDelta(t, 0.0, lng, 1e-9)
	assert.InDelta(t, 200.0, b.Area(), 1e-9)
}

func TestSatelliteData_TileRefs(t *testing.T) {
	var nilData *SatelliteData
	assert.False(t, nilData.HasTiles())
	assert.Nil(t, nilData.TileRefs())

	single := &SatelliteData{TileURL: "https://t/{z}/{x}/{y}.png", Collection: "naip"}
	refs := single.TileRefs()
	assert.Len(t, refs, 1)
	assert.Equal(t, "primary", refs[0].ItemID)

	multi := &SatelliteData{
		TileURL: "https://ignored",
		Tiles:   []TileDescriptor{{ItemID: "a", URL: "u1"}, {ItemID: "b", URL: "u2"}},
	}
	assert.Len(t, multi.TileRefs(), 2)
}

func TestModule(t *testing.T) {
	assert.True(t, ModuleTerrain.UsesPin())
	assert.False(t, ModuleComparison.UsesPin())
	assert.False(t, Module("weather").Valid())
}
