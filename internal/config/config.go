// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	DB       DBConfig       `mapstructure:"db"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Maps     MapsConfig     `mapstructure:"maps"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Verify   VerifyConfig   `mapstructure:"verify"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Events   EventsConfig   `mapstructure:"events"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the health/metrics HTTP listener used in serve mode.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxConns     int32  `mapstructure:"max_conns"`
	MinConns     int32  `mapstructure:"min_conns"`
	LifetimeMins int    `mapstructure:"conn_lifetime_minutes"`
}

// PollerConfig governs the job orchestrator loop.
type PollerConfig struct {
	IntervalSeconds     int `mapstructure:"interval_seconds"`
	FailureThreshold    int `mapstructure:"failure_threshold"`
	CooldownSeconds     int `mapstructure:"cooldown_seconds"`
	StallTimeoutMinutes int `mapstructure:"stall_timeout_minutes"`
}

// WorkerConfig governs the deep-crawl worker loop.
type WorkerConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	LeadsPerSession     int `mapstructure:"leads_per_session"`
	StallTimeoutMinutes int `mapstructure:"stall_timeout_minutes"`
}

// BrowserConfig configures the automation engine sessions.
type BrowserConfig struct {
	Headless      bool `mapstructure:"headless"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// MapsConfig tunes the map-search scraper.
type MapsConfig struct {
	ScrollDelayMs   int `mapstructure:"scroll_delay_ms"`
	MaxScrolls      int `mapstructure:"max_scrolls"`
	FeedTimeoutSec  int `mapstructure:"feed_timeout_seconds"`
	TitleTimeoutSec int `mapstructure:"title_timeout_seconds"`
}

// CrawlConfig tunes the deep website crawl.
type CrawlConfig struct {
	MaxPages int  `mapstructure:"max_pages"`
	FastMode bool `mapstructure:"fast_mode"`
}

// ExtractConfig controls the optional model-assisted extraction fallback.
type ExtractConfig struct {
	ModelEndpoint string `mapstructure:"model_endpoint"`
	ModelAPIKey   string `mapstructure:"model_api_key"`
	Model         string `mapstructure:"model"`
	AllowModel    bool   `mapstructure:"allow_model"`
}

// VerifyConfig selects the DNS resolvers used for MX lookups.
type VerifyConfig struct {
	Resolvers []string `mapstructure:"resolvers"`
}

// SnapshotConfig sets the blob archive for raw crawled pages.
type SnapshotConfig struct {
	Provider  string `mapstructure:"provider"` // "gcs" or "noop"
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// EventsConfig sets the lifecycle-event publisher.
type EventsConfig struct {
	Provider  string `mapstructure:"provider"` // "pubsub" or "noop"
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEADENGINE")
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
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("poller.interval_seconds", 5)
	v.SetDefault("poller.failure_threshold", 3)
	v.SetDefault("poller.cooldown_seconds", 30)
	v.SetDefault("poller.stall_timeout_minutes", 10)
	v.SetDefault("worker.poll_interval_seconds", 5)
	v.SetDefault("worker.leads_per_session", 50)
	v.SetDefault("worker.stall_timeout_minutes", 10)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("maps.scroll_delay_ms", 1200)
	v.SetDefault("maps.max_scrolls", 30)
	v.SetDefault("maps.feed_timeout_seconds", 60)
	v.SetDefault("maps.title_timeout_seconds", 15)
	v.SetDefault("crawl.max_pages", 3)
	v.SetDefault("crawl.fast_mode", false)
	v.SetDefault("extract.allow_model", false)
	v.SetDefault("extract.model", "extraction-small")
	v.SetDefault("verify.resolvers", []string{"8.8.8.8:53", "1.1.1.1:53"})
	v.SetDefault("snapshot.provider", "noop")
	v.SetDefault("snapshot.prefix", "pages")
	v.SetDefault("events.provider", "noop")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Poller.IntervalSeconds <= 0 {
		return fmt.Errorf("poller.interval_seconds must be > 0")
	}
	if c.Poller.FailureThreshold <= 0 {
		return fmt.Errorf("poller.failure_threshold must be > 0")
	}
	if c.Worker.LeadsPerSession <= 0 {
		return fmt.Errorf("worker.leads_per_session must be > 0")
	}
	if c.Crawl.MaxPages <= 0 {
		return fmt.Errorf("crawl.max_pages must be > 0")
	}
	if c.Extract.AllowModel && c.Extract.ModelEndpoint == "" {
		return fmt.Errorf("extract.model_endpoint must be set when extract.allow_model is enabled")
	}
	if len(c.Verify.Resolvers) == 0 {
		return fmt.Errorf("verify.resolvers must not be empty")
	}
	if c.Snapshot.Provider == "gcs" && c.Snapshot.GCSBucket == "" {
		return fmt.Errorf("snapshot.gcs_bucket must be set when snapshot.provider is gcs")
	}
	if c.Events.Provider == "pubsub" && (c.Events.ProjectID == "" || c.Events.Topic == "") {
		return fmt.Errorf("events.project_id and events.topic must be set when events.provider is pubsub")
	}
	return nil
}

// PollInterval returns the orchestrator tick interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Poller.IntervalSeconds) * time.Second
}

// Cooldown returns the circuit-breaker sleep applied after repeated failures.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.Poller.CooldownSeconds) * time.Second
}

// NavTimeout returns the per-navigation browser timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSec) * time.Second
}
