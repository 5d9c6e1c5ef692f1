package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earthcopilot/mapview/internal/config"
	"github.com/earthcopilot/mapview/internal/mapprovider"
	"github.com/earthcopilot/mapview/pkg/backend"
)

func newTestManager(fb *fakeBackend, opts Options) (*Manager, map[string]*mapprovider.Recorder) {
	var mu sync.Mutex
	sinks := make(map[string]*mapprovider.Recorder)
	m := NewManager(Deps{Backend: fb}, opts, func(id string) mapprovider.Sink {
		mu.Lock()
		defer mu.Unlock()
		r := mapprovider.NewRecorder()
		sinks[id] = r
		return r
	})
	return m, sinks
}

func TestManager_CreateGetDelete(t *testing.T) {
	m, sinks := newTestManager(&fakeBackend{}, testOptions())
	defer m.CloseAll()

	s := m.Create(context.Background())
	require.NotEmpty(t, s.ID())
	assert.Contains(t, sinks, s.ID())

	got, err := m.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, []string{s.ID()}, m.List())

	require.NoError(t, m.Delete(s.ID()))
	_, err = m.Get(s.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete(s.ID()), ErrNotFound)
}

func TestManager_Sweep(t *testing.T) {
	opts := testOptions()
	opts.IdleTimeout = time.Minute
	m, _ := newTestManager(&fakeBackend{}, opts)
	defer m.CloseAll()

	var expired []string
	m.OnExpire = func(id string) { expired = append(expired, id) }

	stale := m.Create(context.Background())
	fresh := m.Create(context.Background())

	now := time.Now().Add(2 * time.Minute)
	m.now = func() time.Time { return now }
	fresh.mu.Lock()
	fresh.lastSeen = now
	fresh.mu.Unlock()

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, []string{stale.ID()}, expired)
	assert.Equal(t, []string{fresh.ID()}, m.List())
}

func TestManager_ResolvesMapConfigOnce(t *testing.T) {
	fb := &fakeBackend{mapCfg: &backend.MapConfig{SubscriptionKey: "from-backend"}}
	m, _ := newTestManager(fb, testOptions())
	defer m.CloseAll()

	s1 := m.Create(context.Background())
	s2 := m.Create(context.Background())

	assert.Equal(t, mapprovider.ProviderAzure, s1.Snapshot().Provider)
	assert.Equal(t, mapprovider.ProviderAzure, s2.Snapshot().Provider)
	assert.Equal(t, 1, fb.configHits)
}

func TestManager_MapConfigFailureFallsBackToLeaflet(t *testing.T) {
	fb := &fakeBackend{configErr: errors.New("backend down")}
	m, _ := newTestManager(fb, testOptions())
	defer m.CloseAll()

	s := m.Create(context.Background())
	assert.Equal(t, mapprovider.ProviderLeaflet, s.Snapshot().Provider)
}

func TestManager_LocalKeySkipsBackend(t *testing.T) {
	fb := &fakeBackend{}
	opts := testOptions()
	opts.Chain.DevelopmentMode = true
	m, _ := newTestManager(fb, opts)
	defer m.CloseAll()

	m.Create(context.Background())
	assert.Zero(t, fb.configHits)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		Map: config.MapConfig{
			Provider: "auto",
			Style:    "night",
			Basemaps: map[string]string{"road": "https://tiles.example/{z}/{x}/{y}.png"},
		},
		Reconcile:  config.ReconcileConfig{Concurrency: 4, Padding: 20, CoarseMinZoom: 9},
		Screenshot: config.ScreenshotConfig{MinBytes: 5000, MaxDimension: 800, TimeoutSecs: 3},
		Session: config.SessionConfig{
			ExpansionTimeoutSecs: 10,
			AnalysisTimeoutSecs:  60,
			IdleTimeoutMins:      30,
			SuppressLogs:         []string{"noise"},
		},
	}

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Empty(t, opts.Chain.Preferred)
	assert.Equal(t, mapprovider.StyleNight, opts.Chain.Style)
	assert.Equal(t, "https://tiles.example/{z}/{x}/{y}.png", opts.Chain.Basemaps[mapprovider.StyleRoad])
	assert.Equal(t, mapprovider.DefaultBasemaps[mapprovider.StyleSatellite], opts.Chain.Basemaps[mapprovider.StyleSatellite])
	assert.Equal(t, 4, opts.Reconcile.Concurrency)
	assert.Equal(t, 9, opts.Reconcile.Framer.CoarseMinZoom)
	assert.NotEmpty(t, opts.Reconcile.Profiles.Classes)
	assert.Equal(t, 10*time.Second, opts.ExpansionTimeout)
	assert.Equal(t, 3*time.Second, opts.FrameTimeout)
	assert.Equal(t, 30*time.Minute, opts.IdleTimeout)
	assert.Equal(t, []string{"noise"}, opts.SuppressLogs)

	cfg.Reconcile.ProfilesFile = "/does/not/exist.yaml"
	_, err = OptionsFromConfig(cfg)
	assert.Error(t, err)
}
