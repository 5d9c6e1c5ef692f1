package session

import (
	"time"

	"github.com/earthcopilot/mapview/internal/config"
	"github.com/earthcopilot/mapview/internal/geo"
	"github.com/earthcopilot/mapview/internal/interpret"
	"github.com/earthcopilot/mapview/internal/mapprovider"
	"github.com/earthcopilot/mapview/internal/reconcile"
	"github.com/earthcopilot/mapview/internal/screenshot"
)

// Options configures every session a Manager creates.
type Options struct {
	Imagery    interpret.Config
	Reconcile  reconcile.Options
	Chain      mapprovider.ChainOptions
	Screenshot screenshot.Options

	FrameTimeout     time.Duration
	AnalysisTimeout  time.Duration
	ExpansionTimeout time.Duration
	IdleTimeout      time.Duration

	SuppressLogs   []string
	VisionKeywords []string
}

// DefaultOptions returns options matching the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Imagery:          interpret.DefaultConfig(),
		Reconcile:        reconcile.DefaultOptions(),
		Chain:            mapprovider.ChainOptions{Style: mapprovider.StyleSatellite},
		Screenshot:       screenshot.Options{MinBytes: screenshot.DefaultMinBytes, MaxDimension: 1024},
		FrameTimeout:     5 * time.Second,
		AnalysisTimeout:  2 * time.Minute,
		ExpansionTimeout: 10 * time.Second,
		IdleTimeout:      time.Hour,
	}
}

// OptionsFromConfig builds session options, loading the visual profile
// file when one is configured.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	profiles, err := reconcile.LoadProfiles(cfg.Reconcile.ProfilesFile)
	if err != nil {
		return Options{}, err
	}

	basemaps := make(map[mapprovider.Style]string, len(mapprovider.DefaultBasemaps))
	for k, v := range mapprovider.DefaultBasemaps {
		basemaps[k] = v
	}
	for k, v := range cfg.Map.Basemaps {
		basemaps[mapprovider.Style(k)] = v
	}

	preferred := cfg.Map.Provider
	if preferred == "auto" {
		preferred = ""
	}

	return Options{
		Imagery: cfg.Imagery,
		Reconcile: reconcile.Options{
			Concurrency: cfg.Reconcile.Concurrency,
			Padding:     cfg.Reconcile.Padding,
			Framer: geo.Framer{
				CoarsePrefixes: cfg.Reconcile.CoarsePrefixes,
				CoarseMinZoom:  cfg.Reconcile.CoarseMinZoom,
			},
			Classifier: cfg.Reconcile.Classifier,
			Profiles:   profiles,
		},
		Chain: mapprovider.ChainOptions{
			SubscriptionKey: cfg.Map.SubscriptionKey,
			DevelopmentMode: cfg.Map.DevelopmentMode,
			Style:           mapprovider.Style(cfg.Map.Style),
			Basemaps:        basemaps,
			Preferred:       preferred,
		},
		Screenshot: screenshot.Options{
			MinBytes:     cfg.Screenshot.MinBytes,
			MaxDimension: cfg.Screenshot.MaxDimension,
		},
		FrameTimeout:     time.Duration(cfg.Screenshot.TimeoutSecs) * time.Second,
		AnalysisTimeout:  time.Duration(cfg.Session.AnalysisTimeoutSecs) * time.Second,
		ExpansionTimeout: time.Duration(cfg.Session.ExpansionTimeoutSecs) * time.Second,
		IdleTimeout:      time.Duration(cfg.Session.IdleTimeoutMins) * time.Minute,
		SuppressLogs:     cfg.Session.SuppressLogs,
		VisionKeywords:   cfg.Session.VisionKeywords,
	}, nil
}
