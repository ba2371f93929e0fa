// Package config loads and validates catalog service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Archive and purge backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendPubSub = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Source    SourceConfig    `mapstructure:"source"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Store     StoreConfig     `mapstructure:"store"`
	DB        DBConfig        `mapstructure:"db"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Purge     PurgeConfig     `mapstructure:"purge"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Taxonomy  TaxonomyConfig  `mapstructure:"taxonomy"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                    int `mapstructure:"port"`
	ReadTimeoutSeconds      int `mapstructure:"read_timeout_seconds"`
	// ListMaxAgeSeconds and ListSharedMaxAgeSeconds shape the /db/list cache headers.
	ListMaxAgeSeconds       int `mapstructure:"list_max_age_seconds"`
	ListSharedMaxAgeSeconds int `mapstructure:"list_shared_max_age_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SourceConfig locates the listing index and feed on the source site.
type SourceConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	ListingPath     string `mapstructure:"listing_path"`
	FeedPath        string `mapstructure:"feed_path"`
	ReleaseCategory string `mapstructure:"release_category"`
}

// HTTPConfig configures the outbound fetcher.
type HTTPConfig struct {
	UserAgent         string            `mapstructure:"user_agent"`
	Headers           map[string]string `mapstructure:"headers"`
	TimeoutSeconds    int               `mapstructure:"timeout_seconds"`
	RespectRobots     bool              `mapstructure:"respect_robots"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second"`
	Burst             int               `mapstructure:"burst"`
}

// ExtractConfig tunes detail-page parsing.
type ExtractConfig struct {
	PinkPawToken     string `mapstructure:"pink_paw_token"`
	DescriptionTitle string `mapstructure:"description_title"`
}

// SyncConfig bounds sync runs.
type SyncConfig struct {
	// MaxListingPages caps the full crawl; 0 means until an empty page.
	MaxListingPages   int `mapstructure:"max_listing_pages"`
	RunTimeoutSeconds int `mapstructure:"run_timeout_seconds"`
}

// StoreConfig selects the catalog store implementation.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	ApplySchema            bool   `mapstructure:"apply_schema"`
}

// SQLiteConfig locates the SQLite database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// ArchiveConfig controls raw page archiving.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PurgeConfig controls cache invalidation after sync runs.
type PurgeConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Backend  string `mapstructure:"backend"`
	IndexTag string `mapstructure:"index_tag"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TaxonomyConfig points at an alias table overriding the embedded one.
type TaxonomyConfig struct {
	AliasesPath string `mapstructure:"aliases_path"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.list_max_age_seconds", 43200)
	v.SetDefault("server.list_shared_max_age_seconds", 31536000)
	v.SetDefault("source.base_url", "https://fitgirl-repacks.site")
	v.SetDefault("source.listing_path", "/all-my-repacks-a-z/")
	v.SetDefault("source.feed_path", "/feed/")
	v.SetDefault("source.release_category", "Lossless Repack")
	v.SetDefault("http.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.requests_per_second", 2.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("extract.pink_paw_token", "#ff00ff")
	v.SetDefault("extract.description_title", "Game Description")
	v.SetDefault("sync.max_listing_pages", 0)
	v.SetDefault("sync.run_timeout_seconds", 3600)
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.apply_schema", true)
	v.SetDefault("sqlite.path", "catalog.db")
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", BackendLocal)
	v.SetDefault("archive.base_dir", "archive")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("purge.enabled", false)
	v.SetDefault("purge.backend", BackendMemory)
	v.SetDefault("purge.index_tag", "catalog")
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.exporter", "otlp")
	v.SetDefault("telemetry.service_name", "repack-catalog")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	base, err := url.Parse(c.Source.BaseURL)
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return fmt.Errorf("source.base_url must be an absolute http(s) URL")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	if c.Sync.MaxListingPages < 0 {
		return fmt.Errorf("sync.max_listing_pages must be >= 0")
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres store")
		}
	case StoreSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path must be set for the sqlite store")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case BackendMemory:
		case BackendLocal:
			if c.Archive.BaseDir == "" {
				return fmt.Errorf("archive.base_dir must be set for the local archive")
			}
		case BackendGCS:
			if c.Archive.GCSBucket == "" {
				return fmt.Errorf("archive.gcs_bucket must be set for the gcs archive")
			}
		default:
			return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
		}
	}
	if c.Purge.Enabled {
		switch c.Purge.Backend {
		case BackendMemory:
		case BackendPubSub:
			if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
				return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set for pubsub purging")
			}
		default:
			return fmt.Errorf("purge.backend %q is not supported", c.Purge.Backend)
		}
	}
	return nil
}

// FetchTimeout is the per-request fetch deadline.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RunTimeout bounds one sync run; zero means no bound.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Sync.RunTimeoutSeconds) * time.Second
}

// FeedURL joins the base URL and feed path.
func (c Config) FeedURL() string {
	return strings.TrimRight(c.Source.BaseURL, "/") + "/" + strings.TrimLeft(c.Source.FeedPath, "/")
}
