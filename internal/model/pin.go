package model

import "time"

// Module names a geointelligence analysis a user can trigger from the map.
type Module string

const (
	ModuleTerrain    Module = "terrain"
	ModuleMobility   Module = "mobility"
	ModuleDamage     Module = "damage"
	ModuleComparison Module = "comparison"
)

// Valid reports whether m is a known module.
func (m Module) Valid() bool {
	switch m {
	case ModuleTerrain, ModuleMobility, ModuleDamage, ModuleComparison:
		return true
	default:
		return false
	}
}

// UsesPin reports whether the module is driven by a pin drop.
func (m Module) UsesPin() bool {
	return m.Valid() && m != ModuleComparison
}

// Pin is the single active map pin.
type Pin struct {
	ID        string    `json:"id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Active    bool      `json:"active"`
	MarkerID  string    `json:"marker_id,omitempty"`
	DroppedAt time.Time `json:"dropped_at"`
}

// ComparisonState tracks a before/after imagery comparison. ShowingBefore is
// only meaningful once both Before and After are populated.
type ComparisonState struct {
	AwaitingQuery bool           `json:"awaiting_query"`
	Query         string         `json:"query,omitempty"`
	Before        *SatelliteData `json:"before,omitempty"`
	After         *SatelliteData `json:"after,omitempty"`
	BeforeShot    []byte         `json:"-"`
	AfterShot     []byte         `json:"-"`
	ShowingBefore bool           `json:"showing_before"`
	Analysis      string         `json:"analysis,omitempty"`
}

// Ready reports whether both sides of the comparison are loaded with
// something the map can show.
func (c ComparisonState) Ready() bool {
	return renderable(c.Before) && renderable(c.After)
}

func renderable(d *SatelliteData) bool {
	return d != nil && d.Variant != VariantNone
}
