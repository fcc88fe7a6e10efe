// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cs2watch/results-crawler/internal/logging"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   logging.Config  `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs stage controller and run behavior.
type CrawlerConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	BatchSize      int    `mapstructure:"batch_size"`
	DelayMs        int    `mapstructure:"delay_ms"`
	JitterMs       int    `mapstructure:"jitter_ms"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	// RunRetries bounds full-cycle attempts per pipeline run.
	RunRetries    int `mapstructure:"run_retries"`
	RunBackoffSec int `mapstructure:"run_backoff_seconds"`
	// RunIntervalMin, when positive, makes serve mode run the pipeline
	// on a timer alongside the ops server.
	RunIntervalMin int `mapstructure:"run_interval_minutes"`
}

// DiscoveryConfig governs the results listing walk.
type DiscoveryConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	PageSize int    `mapstructure:"page_size"`
	MaxItems int    `mapstructure:"max_items"`
	MaxPages int    `mapstructure:"max_pages"`
	// From and To bound the crawl window, formatted as 2006-01-02. An empty
	// From means "To minus window_days"; an empty To means today.
	From       string `mapstructure:"from"`
	To         string `mapstructure:"to"`
	WindowDays int    `mapstructure:"window_days"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// StorageConfig selects where demo archives land.
type StorageConfig struct {
	// Backend is one of gcs, local, memory.
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for run and item completion events.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
	// ItemTopicName, when set, receives one event per parsed item.
	ItemTopicName string `mapstructure:"item_topic_name"`
}

// DateLayout is the accepted format for window bounds.
const DateLayout = "2006-01-02"

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("crawler.user_agent", "cs2watch-results-crawler/1.0")
	v.SetDefault("crawler.batch_size", 50)
	v.SetDefault("crawler.delay_ms", 1000)
	v.SetDefault("crawler.jitter_ms", 500)
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.run_retries", 3)
	v.SetDefault("crawler.run_backoff_seconds", 30)
	v.SetDefault("discovery.base_url", "https://www.hltv.org")
	v.SetDefault("discovery.page_size", 100)
	v.SetDefault("discovery.max_pages", 100)
	v.SetDefault("discovery.window_days", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "./demos")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("logging.development", false)
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Crawler.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be positive")
	}
	if c.Crawler.MaxRetries <= 0 {
		return fmt.Errorf("crawler.max_retries must be positive")
	}
	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if _, _, err := c.Window(time.Now().UTC()); err != nil {
		return err
	}
	return nil
}

// Window resolves the discovery date window against "now". Bounds are
// truncated to whole days to match the listing's date sections.
func (c Config) Window(now time.Time) (time.Time, time.Time, error) {
	to := now.Truncate(24 * time.Hour)
	if c.Discovery.To != "" {
		parsed, err := time.Parse(DateLayout, c.Discovery.To)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse discovery.to: %w", err)
		}
		to = parsed
	}

	var from time.Time
	switch {
	case c.Discovery.From != "":
		parsed, err := time.Parse(DateLayout, c.Discovery.From)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse discovery.from: %w", err)
		}
		from = parsed
	case c.Discovery.WindowDays > 0:
		from = to.AddDate(0, 0, -c.Discovery.WindowDays)
	default:
		from = to
	}

	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("discovery window ends (%s) before it starts (%s)",
			to.Format(DateLayout), from.Format(DateLayout))
	}
	return from, to, nil
}
