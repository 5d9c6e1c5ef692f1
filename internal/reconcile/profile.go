package reconcile

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/earthcopilot/mapview/internal/geo"
)

// Profile holds the visual parameters of an imagery layer.
type Profile struct {
	Opacity    float64 `yaml:"opacity" json:"opacity"`
	MinZoom    int     `yaml:"min_zoom" json:"min_zoom"`
	MaxZoom    int     `yaml:"max_zoom" json:"max_zoom"`
	TileBuffer int     `yaml:"tile_buffer" json:"tile_buffer"`
}

// Profiles is the lookup table for layer visuals. Collection entries win
// over class entries.
type Profiles struct {
	Classes     map[string]Profile `yaml:"classes"`
	Collections map[string]Profile `yaml:"collections"`
}

// DefaultProfiles returns the built-in table.
func DefaultProfiles() Profiles {
	return Profiles{
		Classes: map[string]Profile{
			geo.ClassElevation: {Opacity: 0.7, MinZoom: 0, MaxZoom: 14, TileBuffer: 2},
			geo.ClassFire:      {Opacity: 0.9, MinZoom: 4, MaxZoom: 18, TileBuffer: 4},
			geo.ClassThermal:   {Opacity: 0.8, MinZoom: 4, MaxZoom: 16, TileBuffer: 2},
			geo.ClassStandard:  {Opacity: 0.85, MinZoom: 0, MaxZoom: 22, TileBuffer: 2},
		},
		Collections: map[string]Profile{
			"cop-dem-glo-90":    {Opacity: 0.6, MinZoom: 0, MaxZoom: 12, TileBuffer: 2},
			"modis-14a1-061":    {Opacity: 0.9, MinZoom: 8, MaxZoom: 12, TileBuffer: 4},
			"modis-mcd64a1-061": {Opacity: 0.9, MinZoom: 8, MaxZoom: 12, TileBuffer: 4},
		},
	}
}

// LoadProfiles reads a YAML profile file and overlays it on the defaults.
// An empty path returns the defaults.
func LoadProfiles(path string) (Profiles, error) {
	p := DefaultProfiles()
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, eris.Wrapf(err, "reconcile: read profiles %s", path)
	}
	return p.Overlay(raw)
}

// Overlay merges YAML-encoded profiles over p and returns the result.
func (p Profiles) Overlay(raw []byte) (Profiles, error) {
	var file Profiles
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return p, eris.Wrap(err, "reconcile: parse profiles")
	}
	out := Profiles{
		Classes:     make(map[string]Profile, len(p.Classes)+len(file.Classes)),
		Collections: make(map[string]Profile, len(p.Collections)+len(file.Collections)),
	}
	for k, v := range p.Classes {
		out.Classes[k] = v
	}
	for k, v := range file.Classes {
		out.Classes[strings.ToLower(k)] = v
	}
	for k, v := range p.Collections {
		out.Collections[k] = v
	}
	for k, v := range file.Collections {
		out.Collections[strings.ToLower(k)] = v
	}
	return out, nil
}

// Lookup returns the profile for a collection of the given data class.
func (p Profiles) Lookup(collection, class string) Profile {
	if v, ok := p.Collections[strings.ToLower(collection)]; ok {
		return v
	}
	if v, ok := p.Classes[class]; ok {
		return v
	}
	return p.Classes[geo.ClassStandard]
}
