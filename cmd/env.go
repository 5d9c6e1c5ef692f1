package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/earthcopilot/mapview/internal/reconcile"
	"github.com/earthcopilot/mapview/internal/resilience"
	"github.com/earthcopilot/mapview/internal/store"
	"github.com/earthcopilot/mapview/internal/telemetry"
	"github.com/earthcopilot/mapview/pkg/backend"
)

func initBackend() backend.Client {
	bc := cfg.Backend
	return backend.NewClient(bc.BaseURL,
		backend.WithHTTPClient(&http.Client{Timeout: time.Duration(bc.TimeoutSecs) * time.Second}),
		backend.WithPolicy(resilience.NewPolicy(bc.RetryAttempts, bc.RetryBaseMs, bc.RetryMaxMs)),
		backend.WithBreakers(resilience.NewBreakers(resilience.BreakerConfig{
			Threshold: bc.BreakerThreshold,
			Cooldown:  time.Duration(bc.BreakerCooldownSecs) * time.Second,
		})),
		backend.WithTileJSONRateLimit(bc.TileJSONRPS, bc.TileJSONBurst),
	)
}

func initCache(next backend.Client) *reconcile.DescriptorCache {
	rc := cfg.Reconcile
	return reconcile.NewDescriptorCache(next, rc.CacheEntries, time.Duration(rc.CacheTTLMins)*time.Minute)
}

func initStore(ctx context.Context) (*store.SQLiteStore, error) {
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initTracker() telemetry.Tracker {
	tr, err := telemetry.NewPostHog(cfg.Telemetry.PostHogKey, cfg.Telemetry.PostHogEndpoint)
	if err != nil {
		zap.L().Warn("telemetry disabled", zap.Error(err))
		return telemetry.Nop{}
	}
	return tr
}
