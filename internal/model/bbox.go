package model

import "fmt"

// BBox is a geographic rectangle in WGS84 degrees.
type BBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// NewBBox builds a BBox from a STAC-style [west, south, east, north] slice.
// Returns false when the slice does not hold at least four values.
func NewBBox(v []float64) (BBox, bool) {
	if len(v) < 4 {
		return BBox{}, false
	}
	// 3D bboxes are [w, s, zmin, e, n, zmax].
	if len(v) == 6 {
		return BBox{West: v[0], South: v[1], East: v[3], North: v[4]}, true
	}
	return BBox{West: v[0], South: v[1], East: v[2], North: v[3]}, true
}

// Slice returns the box as [west, south, east, north].
func (b BBox) Slice() []float64 {
	return []float64{b.West, b.South, b.East, b.North}
}

// Center returns the (lat, lng) midpoint of the box.
func (b BBox) Center() (lat, lng float64) {
	return (b.South + b.North) / 2, (b.West + b.East) / 2
}

// Area returns the box area in square degrees.
func (b BBox) Area() float64 {
	return (b.East - b.West) * (b.North - b.South)
}

func (b BBox) String() string {
	return fmt.Sprintf("[%.4f, %.4f, %.4f, %.4f]", b.West, b.South, b.East, b.North)
}
