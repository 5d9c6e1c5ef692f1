package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.Backend.BaseURL)
	assert.Equal(t, 3, cfg.Backend.RetryAttempts)
	assert.Equal(t, "auto", cfg.Map.Provider)
	assert.Equal(t, "satellite", cfg.Map.Style)
	assert.Equal(t, 50, cfg.Imagery.MaxTiles)
	assert.Contains(t, cfg.Imagery.MosaicCollections, "modis-*")
	require.Len(t, cfg.Imagery.RegionalBoxes, 1)
	assert.Equal(t, "california", cfg.Imagery.RegionalBoxes[0].Name)
	assert.Len(t, cfg.Imagery.RegionalBoxes[0].BBox, 4)
	assert.Equal(t, 8, cfg.Reconcile.CoarseMinZoom)
	assert.Equal(t, []string{"modis-"}, cfg.Reconcile.CoarsePrefixes)
	assert.Contains(t, cfg.Reconcile.Classifier.ElevationKeywords, "dem")
	assert.Equal(t, 10000, cfg.Screenshot.MinBytes)
	assert.Equal(t, 10, cfg.Session.ExpansionTimeoutSecs)
	assert.Equal(t, "mapview.db", cfg.Store.Path)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
backend:
  base_url: https://copilot.example.com
map:
  provider: leaflet
  basemaps:
    satellite: https://tiles.example.com/{z}/{x}/{y}.jpg
imagery:
  thermal_keywords: [heatwave]
  regional_boxes:
    - name: alaska
      keywords: [tundra]
      bbox: [-170, 51, -129, 72]
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://copilot.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, "leaflet", cfg.Map.Provider)
	assert.Equal(t, "https://tiles.example.com/{z}/{x}/{y}.jpg", cfg.Map.Basemaps["satellite"])
	assert.Equal(t, []string{"heatwave"}, cfg.Imagery.ThermalKeywords)
	require.Len(t, cfg.Imagery.RegionalBoxes, 1)
	assert.Equal(t, "alaska", cfg.Imagery.RegionalBoxes[0].Name)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, 50, cfg.Imagery.MaxTiles)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log:\n  level: debug\n"), 0o644))

	t.Setenv("MAPVIEW_LOG_LEVEL", "warn")
	t.Setenv("MAPVIEW_SERVER_PORT", "3000")
	t.Setenv("MAPVIEW_MAP_SUBSCRIPTION_KEY", "abc")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "abc", cfg.Map.SubscriptionKey)
}

func TestLoadBadFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unclosed"), 0o644))
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Backend.BaseURL = "not a url"
	assert.Error(t, cfg.Validate("interpret"))

	cfg.Backend.BaseURL = ""
	err = cfg.Validate("datasets")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.base_url")

	cfg.Backend.BaseURL = "http://localhost:8000"
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate("serve"))

	cfg.Server.Port = 8080
	cfg.Map.Provider = "mapbox"
	assert.Error(t, cfg.Validate("serve"))

	cfg.Map.Provider = "auto"
	cfg.Store.Path = ""
	assert.Error(t, cfg.Validate("analyses"))
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
