// Package config loads site-indexer settings from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Driver names accepted by the pluggable backends.
const (
	DriverNone     = "none"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverQdrant   = "qdrant"
	DriverLocal    = "local"
	DriverGCS      = "gcs"
	DriverPubSub   = "pubsub"
)

// Config aggregates all tunables for the service.
type Config struct {
	Server    ServerConfig   `mapstructure:"server"`
	Auth      AuthConfig     `mapstructure:"auth"`
	Crawler   CrawlerConfig  `mapstructure:"crawler"`
	HTTP      HTTPConfig     `mapstructure:"http"`
	Headless  HeadlessConfig `mapstructure:"headless"`
	Store     StoreConfig    `mapstructure:"store"`
	Vector    VectorConfig   `mapstructure:"vector"`
	Embedding ServiceConfig  `mapstructure:"embedding"`
	Chat      ServiceConfig  `mapstructure:"chat"`
	Archive   ArchiveConfig  `mapstructure:"archive"`
	Events    EventsConfig   `mapstructure:"events"`
	Logging   LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig toggles API key enforcement.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig holds crawl defaults and the background job pool size.
type CrawlerConfig struct {
	MaxDepthDefault   int      `mapstructure:"max_depth_default"`
	MaxPagesDefault   int      `mapstructure:"max_pages_default"`
	JSHosts           []string `mapstructure:"js_hosts"`
	QueueDepth        int      `mapstructure:"queue_depth"`
	Workers           int      `mapstructure:"workers"`
	JobTimeoutSeconds int      `mapstructure:"job_timeout_seconds"`
}

// HTTPConfig configures the static fetcher.
type HTTPConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRedirects   int    `mapstructure:"max_redirects"`
}

// HeadlessConfig configures the Chrome fetcher.
type HeadlessConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	UserAgent         string `mapstructure:"user_agent"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	SettleMS          int    `mapstructure:"settle_ms"`
	NoSandbox         bool   `mapstructure:"no_sandbox"`
	MaxParallel       int    `mapstructure:"max_parallel"`
}

// StoreConfig selects the KV/status backend.
type StoreConfig struct {
	Driver   string              `mapstructure:"driver"`
	Redis    RedisConfig         `mapstructure:"redis"`
	Postgres PostgresStoreConfig `mapstructure:"postgres"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// PostgresStoreConfig configures the Postgres store.
type PostgresStoreConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// VectorConfig selects the vector backend.
type VectorConfig struct {
	Driver string       `mapstructure:"driver"`
	Qdrant QdrantConfig `mapstructure:"qdrant"`
}

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	APIKey           string `mapstructure:"api_key"`
	UseTLS           bool   `mapstructure:"use_tls"`
	CollectionPrefix string `mapstructure:"collection_prefix"`
}

// ServiceConfig describes an OpenAI-compatible model endpoint.
type ServiceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ArchiveConfig selects where raw HTML snapshots go.
type ArchiveConfig struct {
	Driver    string `mapstructure:"driver"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// EventsConfig selects the crawl lifecycle event sink.
type EventsConfig struct {
	Driver    string `mapstructure:"driver"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig tunes zap.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load reads configuration from the optional file path plus environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEINDEXER")
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

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")

	v.SetDefault("crawler.max_depth_default", 2)
	v.SetDefault("crawler.max_pages_default", 30)
	v.SetDefault("crawler.js_hosts", []string{})
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.workers", 2)
	v.SetDefault("crawler.job_timeout_seconds", 1800)

	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.timeout_seconds", 5)
	v.SetDefault("http.max_redirects", 5)

	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.user_agent", "")
	v.SetDefault("headless.nav_timeout_seconds", 15)
	v.SetDefault("headless.settle_ms", 2000)
	v.SetDefault("headless.no_sandbox", false)
	v.SetDefault("headless.max_parallel", 0)

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.key_prefix", "")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_conns", 10)

	v.SetDefault("vector.driver", DriverMemory)
	v.SetDefault("vector.qdrant.host", "localhost")
	v.SetDefault("vector.qdrant.port", 6334)
	v.SetDefault("vector.qdrant.api_key", "")
	v.SetDefault("vector.qdrant.use_tls", false)
	v.SetDefault("vector.qdrant.collection_prefix", "site_")

	v.SetDefault("embedding.base_url", "https://api.mistral.ai")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.model", "mistral-embed")
	v.SetDefault("embedding.timeout_seconds", 30)

	v.SetDefault("chat.base_url", "https://api.mistral.ai")
	v.SetDefault("chat.api_key", "")
	v.SetDefault("chat.model", "mistral-small-latest")
	v.SetDefault("chat.timeout_seconds", 120)

	v.SetDefault("archive.driver", DriverNone)
	v.SetDefault("archive.base_dir", "data/archive")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "")

	v.SetDefault("events.driver", DriverNone)
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic", "")

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate performs basic sanity checks on the config values.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be positive")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key required when auth.enabled")
	}
	if c.Crawler.Workers <= 0 {
		return errors.New("crawler.workers must be positive")
	}
	if c.Crawler.QueueDepth <= 0 {
		return errors.New("crawler.queue_depth must be positive")
	}
	if c.Crawler.MaxDepthDefault < 0 || c.Crawler.MaxPagesDefault <= 0 {
		return errors.New("crawler max_depth_default must be >= 0 and max_pages_default positive")
	}
	if err := oneOf("store.driver", c.Store.Driver, DriverMemory, DriverRedis, DriverPostgres); err != nil {
		return err
	}
	if c.Store.Driver == DriverPostgres && c.Store.Postgres.DSN == "" {
		return errors.New("store.postgres.dsn required when store.driver is postgres")
	}
	if c.Store.Driver == DriverRedis && c.Store.Redis.Addr == "" {
		return errors.New("store.redis.addr required when store.driver is redis")
	}
	if err := oneOf("vector.driver", c.Vector.Driver, DriverMemory, DriverQdrant); err != nil {
		return err
	}
	if err := oneOf("archive.driver", c.Archive.Driver, DriverNone, DriverMemory, DriverLocal, DriverGCS); err != nil {
		return err
	}
	if c.Archive.Driver == DriverGCS && c.Archive.GCSBucket == "" {
		return errors.New("archive.gcs_bucket required when archive.driver is gcs")
	}
	if c.Archive.Driver == DriverLocal && c.Archive.BaseDir == "" {
		return errors.New("archive.base_dir required when archive.driver is local")
	}
	if err := oneOf("events.driver", c.Events.Driver, DriverNone, DriverMemory, DriverPubSub); err != nil {
		return err
	}
	if c.Events.Driver == DriverPubSub && (c.Events.ProjectID == "" || c.Events.Topic == "") {
		return errors.New("events.project_id and events.topic required when events.driver is pubsub")
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), value)
}

// RequestTimeout returns the per-request deadline for the API.
func (c Config) RequestTimeout() time.Duration {
	return seconds(c.Server.RequestTimeoutSeconds)
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return seconds(c.Server.ShutdownTimeoutSeconds)
}

// JobTimeout bounds one background crawl.
func (c Config) JobTimeout() time.Duration {
	return seconds(c.Crawler.JobTimeoutSeconds)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
