package reconcile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earthcopilot/mapview/internal/geo"
)

func TestProfiles_Lookup(t *testing.T) {
	p := DefaultProfiles()
	assert.Equal(t, p.Collections["cop-dem-glo-90"], p.Lookup("COP-DEM-GLO-90", geo.ClassElevation))
	assert.Equal(t, p.Classes[geo.ClassFire], p.Lookup("viirs-fire", geo.ClassFire))
	assert.Equal(t, p.Classes[geo.ClassStandard], p.Lookup("naip", "unknown-class"))
}

func TestLoadProfiles_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
classes:
  thermal:
    opacity: 0.5
    min_zoom: 6
    max_zoom: 12
    tile_buffer: 1
collections:
  NAIP:
    opacity: 1
    max_zoom: 20
`), 0o600))

	p, err := LoadProfiles(path)
	require.NoError(t, err)
	assert.Equal(t, Profile{Opacity: 0.5, MinZoom: 6, MaxZoom: 12, TileBuffer: 1}, p.Classes[geo.ClassThermal])
	assert.Equal(t, Profile{Opacity: 1, MaxZoom: 20}, p.Lookup("naip", geo.ClassStandard))
	assert.Equal(t, DefaultProfiles().Classes[geo.ClassFire], p.Classes[geo.ClassFire])
}

func TestLoadProfiles_Errors(t *testing.T) {
	_, err := LoadProfiles(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = DefaultProfiles().Overlay([]byte("classes: [not, a, map]"))
	assert.Error(t, err)

	p, err := LoadProfiles("")
	require.NoError(t, err)
	assert.Equal(t, DefaultProfiles(), p)
}
