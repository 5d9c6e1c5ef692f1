package config

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/earthcopilot/mapview/internal/geo"
	"github.com/earthcopilot/mapview/internal/interpret"
)

// Config holds the full application configuration.
type Config struct {
	Backend    BackendConfig    `yaml:"backend" mapstructure:"backend"`
	Map        MapConfig        `yaml:"map" mapstructure:"map"`
	Imagery    interpret.Config `yaml:"imagery" mapstructure:"imagery"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" mapstructure:"reconcile"`
	Screenshot ScreenshotConfig `yaml:"screenshot" mapstructure:"screenshot"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" mapstructure:"telemetry"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// BackendConfig configures the chat/STAC backend client.
type BackendConfig struct {
	BaseURL             string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs         int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryAttempts       int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBaseMs         int     `yaml:"retry_base_ms" mapstructure:"retry_base_ms"`
	RetryMaxMs          int     `yaml:"retry_max_ms" mapstructure:"retry_max_ms"`
	BreakerThreshold    int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int     `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
	TileJSONRPS         float64 `yaml:"tilejson_rps" mapstructure:"tilejson_rps"`
	TileJSONBurst       int     `yaml:"tilejson_burst" mapstructure:"tilejson_burst"`
}

// MapConfig configures map provider selection.
type MapConfig struct {
	// Provider is "auto", "azure" or "leaflet".
	Provider        string            `yaml:"provider" mapstructure:"provider"`
	Style           string            `yaml:"style" mapstructure:"style"`
	SubscriptionKey string            `yaml:"subscription_key" mapstructure:"subscription_key"`
	DevelopmentMode bool              `yaml:"development_mode" mapstructure:"development_mode"`
	Basemaps        map[string]string `yaml:"basemaps" mapstructure:"basemaps"`
}

// ReconcileConfig configures layer placement and camera framing.
type ReconcileConfig struct {
	Concurrency    int            `yaml:"concurrency" mapstructure:"concurrency"`
	Padding        int            `yaml:"padding" mapstructure:"padding"`
	CoarsePrefixes []string       `yaml:"coarse_prefixes" mapstructure:"coarse_prefixes"`
	CoarseMinZoom  int            `yaml:"coarse_min_zoom" mapstructure:"coarse_min_zoom"`
	ProfilesFile   string         `yaml:"profiles_file" mapstructure:"profiles_file"`
	Classifier     geo.Classifier `yaml:"classifier" mapstructure:"classifier"`
	CacheEntries   int            `yaml:"cache_entries" mapstructure:"cache_entries"`
	CacheTTLMins   int            `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
}

// ScreenshotConfig configures map captures.
type ScreenshotConfig struct {
	MinBytes     int `yaml:"min_bytes" mapstructure:"min_bytes"`
	MaxDimension int `yaml:"max_dimension" mapstructure:"max_dimension"`
	TimeoutSecs  int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SessionConfig configures map sessions.
type SessionConfig struct {
	ExpansionTimeoutSecs int `yaml:"expansion_timeout_secs" mapstructure:"expansion_timeout_secs"`
	AnalysisTimeoutSecs  int `yaml:"analysis_timeout_secs" mapstructure:"analysis_timeout_secs"`
	IdleTimeoutMins      int `yaml:"idle_timeout_mins" mapstructure:"idle_timeout_mins"`
	// SuppressLogs lists message fragments dropped from a session's log,
	// such as known-noisy map client errors.
	SuppressLogs []string `yaml:"suppress_logs" mapstructure:"suppress_logs"`
	// VisionKeywords mark chat queries that need a map screenshot.
	VisionKeywords []string `yaml:"vision_keywords" mapstructure:"vision_keywords"`
}

// StoreConfig configures the analysis history database.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// TelemetryConfig configures product analytics.
type TelemetryConfig struct {
	PostHogKey      string `yaml:"posthog_key" mapstructure:"posthog_key"`
	PostHogEndpoint string `yaml:"posthog_endpoint" mapstructure:"posthog_endpoint"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MAPVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	imagery := interpret.DefaultConfig()
	classifier := geo.DefaultClassifier()
	framer := geo.DefaultFramer()

	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.timeout_secs", 60)
	v.SetDefault("backend.retry_attempts", 3)
	v.SetDefault("backend.retry_base_ms", 250)
	v.SetDefault("backend.retry_max_ms", 5000)
	v.SetDefault("backend.breaker_threshold", 5)
	v.SetDefault("backend.breaker_cooldown_secs", 30)
	v.SetDefault("backend.tilejson_rps", 20.0)
	v.SetDefault("backend.tilejson_burst", 10)
	v.SetDefault("map.provider", "auto")
	v.SetDefault("map.style", "satellite")
	v.SetDefault("map.subscription_key", "")
	v.SetDefault("map.development_mode", false)
	v.SetDefault("imagery.mosaic_collections", imagery.MosaicCollections)
	v.SetDefault("imagery.max_tiles", imagery.MaxTiles)
	v.SetDefault("imagery.thermal_keywords", imagery.ThermalKeywords)
	v.SetDefault("imagery.thermal_collections", imagery.ThermalCollections)
	v.SetDefault("imagery.regional_boxes", regionDefaults(imagery.RegionalBoxes))
	v.SetDefault("imagery.visual_tilejson", imagery.VisualTileJSON)
	v.SetDefault("reconcile.concurrency", 8)
	v.SetDefault("reconcile.padding", 40)
	v.SetDefault("reconcile.coarse_prefixes", framer.CoarsePrefixes)
	v.SetDefault("reconcile.coarse_min_zoom", framer.CoarseMinZoom)
	v.SetDefault("reconcile.classifier.elevation_keywords", classifier.ElevationKeywords)
	v.SetDefault("reconcile.classifier.fire_keywords", classifier.FireKeywords)
	v.SetDefault("reconcile.classifier.thermal_keywords", classifier.ThermalKeywords)
	v.SetDefault("reconcile.cache_entries", 512)
	v.SetDefault("reconcile.cache_ttl_mins", 30)
	v.SetDefault("screenshot.min_bytes", 10000)
	v.SetDefault("screenshot.max_dimension", 1024)
	v.SetDefault("screenshot.timeout_secs", 5)
	v.SetDefault("session.expansion_timeout_secs", 10)
	v.SetDefault("session.analysis_timeout_secs", 120)
	v.SetDefault("session.idle_timeout_mins", 60)
	v.SetDefault("session.suppress_logs", []string{"ResizeObserver loop", "Failed to load resource: net::ERR_BLOCKED_BY_CLIENT"})
	v.SetDefault("session.vision_keywords", []string{"what do you see", "on the map", "in this image", "describe", "visible", "look at"})
	v.SetDefault("store.path", "mapview.db")
	v.SetDefault("telemetry.posthog_key", "")
	v.SetDefault("telemetry.posthog_endpoint", "https://us.i.posthog.com")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func regionDefaults(boxes []interpret.RegionalBox) []map[string]any {
	out := make([]map[string]any, len(boxes))
	for i, b := range boxes {
		out[i] = map[string]any{"name": b.Name, "keywords": b.Keywords, "bbox": b.BBox}
	}
	return out
}

// Validate checks the settings a command depends on.
func (c *Config) Validate(command string) error {
	var missing []string
	switch command {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			return eris.Errorf("config: server.port %d out of range", c.Server.Port)
		}
		fallthrough
	case "interpret", "datasets":
		if c.Backend.BaseURL == "" {
			missing = append(missing, "backend.base_url")
		} else if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return eris.Errorf("config: backend.base_url %q is not an absolute URL", c.Backend.BaseURL)
		}
	case "analyses":
		if c.Store.Path == "" {
			missing = append(missing, "store.path")
		}
	}
	switch c.Map.Provider {
	case "", "auto", "azure", "leaflet":
	default:
		return eris.Errorf("config: map.provider %q must be auto, azure or leaflet", c.Map.Provider)
	}
	if len(missing) > 0 {
		return eris.Errorf("config: missing required settings for %s: %s", command, strings.Join(missing, ", "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
