// Package config loads and validates collector configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/contentcollector/collector/internal/crawler"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlConfig governs frontier policy and scheduling.
type CrawlConfig struct {
	Mode             string `mapstructure:"mode"`
	MaxDepth         int    `mapstructure:"max_depth"`
	MaxPages         int    `mapstructure:"max_pages"`
	AllowCrossDomain bool   `mapstructure:"allow_cross_domain"`
	UserAgent        string `mapstructure:"user_agent"`
}

// HTTPConfig configures the fetcher pool and retry policy.
type HTTPConfig struct {
	MaxRetries       int   `mapstructure:"max_retries"`
	BackoffInitialMs int   `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int   `mapstructure:"backoff_max_ms"`
	JitterMs         int   `mapstructure:"jitter_ms"`
	MaxBodyBytes     int64 `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures browser promotion.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxTabs       int  `mapstructure:"max_tabs"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	MinBodyBytes  int  `mapstructure:"min_body_bytes"`
}

// StorageConfig sets where page artifacts land.
type StorageConfig struct {
	ArtifactDir string `mapstructure:"artifact_dir"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment. Environment variables use
// the COLLECTOR_ prefix with dots replaced by underscores, e.g.
// COLLECTOR_DB_DSN.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COLLECTOR")
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
	v.SetDefault("crawl.mode", string(crawler.ModeBalanced))
	v.SetDefault("crawl.max_depth", 2)
	v.SetDefault("crawl.max_pages", 1000)
	v.SetDefault("crawl.allow_cross_domain", false)
	v.SetDefault("crawl.user_agent", "content-collector/1.0")
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.jitter_ms", 250)
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_tabs", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.min_body_bytes", 2048)
	v.SetDefault("storage.artifact_dir", "./data/pages")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !crawler.ValidMode(crawler.PerformanceMode(c.Crawl.Mode)) {
		return fmt.Errorf("crawl.mode %q is not one of conservative, balanced, aggressive, maximum", c.Crawl.Mode)
	}
	if c.Crawl.MaxDepth < 0 {
		return fmt.Errorf("crawl.max_depth must be >= 0")
	}
	if c.Crawl.MaxPages < 0 {
		return fmt.Errorf("crawl.max_pages must be >= 0")
	}
	if c.HTTP.MaxRetries <= 0 {
		return fmt.Errorf("http.max_retries must be > 0")
	}
	if c.Storage.ArtifactDir == "" {
		return fmt.Errorf("storage.artifact_dir is required")
	}
	if c.Headless.Enabled && c.Headless.MaxTabs <= 0 {
		return fmt.Errorf("headless.max_tabs must be > 0 when headless is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		return fmt.Errorf("metrics.port must be > 0 when metrics are enabled")
	}
	return nil
}

// Mode returns the parsed performance mode.
func (c Config) Mode() crawler.PerformanceMode {
	return crawler.PerformanceMode(c.Crawl.Mode)
}

// BackoffInitial converts the retry base delay knob.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax converts the retry delay cap knob.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// Jitter converts the retry jitter window knob.
func (c Config) Jitter() time.Duration {
	return time.Duration(c.HTTP.JitterMs) * time.Millisecond
}

// NavTimeout converts the headless navigation timeout knob.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}
