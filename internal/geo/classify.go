package geo

import "strings"

// Data class constants used to select visual profiles.
const (
	ClassElevation = "elevation"
	ClassFire      = "fire"
	ClassThermal   = "thermal"
	ClassStandard  = "standard"
)

// Classifier detects the data class of a collection from id keywords.
// Rules, first match wins:
//   - elevation: collection id contains an elevation keyword
//   - fire: collection id contains a fire keyword
//   - thermal: thermal flag set, or collection id contains a thermal keyword
//   - standard: everything else
type Classifier struct {
	ElevationKeywords []string `mapstructure:"elevation_keywords" yaml:"elevation_keywords"`
	FireKeywords      []string `mapstructure:"fire_keywords" yaml:"fire_keywords"`
	ThermalKeywords   []string `mapstructure:"thermal_keywords" yaml:"thermal_keywords"`
}

// DefaultClassifier returns the built-in keyword lists.
func DefaultClassifier() Classifier {
	return Classifier{
		ElevationKeywords: []string{"dem", "elevation", "nasadem", "3dep"},
		FireKeywords:      []string{"fire", "modis-14", "mtbs", "burn"},
		ThermalKeywords:   []string{"lst", "thermal", "modis-11", "modis-21"},
	}
}

// Classify returns the data class for collection.
func (c Classifier) Classify(collection string, thermal bool) string {
	id := strings.ToLower(collection)
	switch {
	case containsAny(id, c.ElevationKeywords):
		return ClassElevation
	case containsAny(id, c.FireKeywords):
		return ClassFire
	case thermal || containsAny(id, c.ThermalKeywords):
		return ClassThermal
	default:
		return ClassStandard
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(s, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
