// Package config loads per-service configuration from an optional YAML
// file with environment variable overrides. A .env file is honored for
// local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoggerConfig controls structured logging.
type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Development bool     `mapstructure:"development"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig points at the shared relational store. A postgres://
// URL selects PostgreSQL; anything else is treated as a SQLite path.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// newViper builds a viper instance with env override plumbing and an
// optional config file.
func newViper() (*viper.Viper, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig()

	if err := bindCommonEnvVars(v); err != nil {
		return nil, err
	}
	setCommonDefaults(v)
	return v, nil
}

func bindCommonEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		"database.url":   {"DATABASE_URL"},
		"logger.level":   {"LOG_LEVEL"},
		"server.address": {"SERVER_ADDRESS"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

func setCommonDefaults(v *viper.Viper) {
	v.SetDefault("logger", map[string]any{
		"level":        "info",
		"development":  false,
		"output_paths": []string{"stdout"},
	})
	v.SetDefault("server", map[string]any{
		"address":       ":8080",
		"read_timeout":  "15s",
		"write_timeout": "15s",
		"idle_timeout":  "60s",
	})
	v.SetDefault("database", map[string]any{
		"url": "quarry.db",
	})
}

// CrawlerConfig configures the crawler service.
type CrawlerConfig struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`

	Crawler struct {
		RecrawlThresholdDays int           `mapstructure:"recrawl_threshold_days"`
		MinInterval          time.Duration `mapstructure:"min_interval"`
		MaxPerHost           int           `mapstructure:"max_per_host"`
		BatchSize            int           `mapstructure:"batch_size"`
		Concurrency          int           `mapstructure:"concurrency"`
		MaxOutlinks          int           `mapstructure:"max_outlinks"`
		MaxBodyBytes         int64         `mapstructure:"max_body_bytes"`
		RequestTimeout       time.Duration `mapstructure:"request_timeout"`
		UserAgent            string        `mapstructure:"user_agent"`
		RobotsCacheSize      int           `mapstructure:"robots_cache_size"`
		IndexerURL           string        `mapstructure:"indexer_url"`
		IndexerAPIKey        string        `mapstructure:"indexer_api_key"`
	} `mapstructure:"crawler"`
}

// RecrawlThreshold converts the day count to a duration.
func (c *CrawlerConfig) RecrawlThreshold() time.Duration {
	return time.Duration(c.Crawler.RecrawlThresholdDays) * 24 * time.Hour
}

// LoadCrawler loads the crawler service configuration.
func LoadCrawler() (*CrawlerConfig, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	v.SetDefault("crawler", map[string]any{
		"recrawl_threshold_days": 7,
		"min_interval":           "5s",
		"max_per_host":           1,
		"batch_size":             50,
		"concurrency":            2,
		"max_outlinks":           50,
		"max_body_bytes":         10 << 20,
		"request_timeout":        "10s",
		"user_agent":             "quarrybot/1.0",
		"robots_cache_size":      1000,
		"indexer_url":            "http://localhost:8081",
	})

	bindings := map[string][]string{
		"crawler.recrawl_threshold_days": {"CRAWLER_RECRAWL_THRESHOLD_DAYS"},
		"crawler.min_interval":           {"CRAWLER_MIN_INTERVAL"},
		"crawler.max_per_host":           {"CRAWLER_MAX_PER_HOST"},
		"crawler.concurrency":            {"CRAWLER_CONCURRENCY"},
		"crawler.max_outlinks":           {"CRAWLER_MAX_OUTLINKS"},
		"crawler.max_body_bytes":         {"CRAWLER_MAX_BODY_BYTES"},
		"crawler.request_timeout":        {"CRAWLER_REQUEST_TIMEOUT"},
		"crawler.user_agent":             {"CRAWLER_USER_AGENT"},
		"crawler.indexer_url":            {"INDEXER_URL"},
		"crawler.indexer_api_key":        {"INDEXER_API_KEY"},
	}
	for key, envs := range bindings {
		if bindErr := v.BindEnv(append([]string{key}, envs...)...); bindErr != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, bindErr)
		}
	}

	var cfg CrawlerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal crawler config: %w", err)
	}
	return &cfg, nil
}

// IndexerConfig configures the indexer service.
type IndexerConfig struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`

	Indexer struct {
		APIKey              string        `mapstructure:"api_key"`
		Workers             int           `mapstructure:"workers"`
		ClaimBatch          int           `mapstructure:"claim_batch"`
		LeaseWindow         time.Duration `mapstructure:"lease_window"`
		PollInterval        time.Duration `mapstructure:"poll_interval"`
		PageRankSchedule    string        `mapstructure:"pagerank_schedule"`
		MaintenanceSchedule string        `mapstructure:"maintenance_schedule"`
		PurgeDoneAfter      time.Duration `mapstructure:"purge_done_after"`
	} `mapstructure:"indexer"`
}

// Validate checks required indexer settings.
func (c *IndexerConfig) Validate() error {
	if c.Indexer.APIKey == "" {
		return fmt.Errorf("indexer API key is required (INDEXER_API_KEY)")
	}
	return nil
}

// LoadIndexer loads the indexer service configuration.
func LoadIndexer() (*IndexerConfig, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	v.SetDefault("server.address", ":8081")
	v.SetDefault("indexer", map[string]any{
		"workers":              2,
		"claim_batch":          10,
		"lease_window":         "2m",
		"poll_interval":        "1s",
		"pagerank_schedule":    "@every 1h",
		"maintenance_schedule": "@every 10m",
		"purge_done_after":     "168h",
	})

	bindings := map[string][]string{
		"indexer.api_key":              {"INDEXER_API_KEY"},
		"indexer.workers":              {"INDEXER_WORKERS"},
		"indexer.claim_batch":          {"INDEXER_CLAIM_BATCH"},
		"indexer.lease_window":         {"INDEXER_LEASE_WINDOW"},
		"indexer.pagerank_schedule":    {"INDEXER_PAGERANK_SCHEDULE"},
		"indexer.maintenance_schedule": {"INDEXER_MAINTENANCE_SCHEDULE"},
	}
	for key, envs := range bindings {
		if bindErr := v.BindEnv(append([]string{key}, envs...)...); bindErr != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, bindErr)
		}
	}

	var cfg IndexerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal indexer config: %w", err)
	}
	return &cfg, nil
}

// FrontendConfig configures the search frontend service.
type FrontendConfig struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`

	Frontend struct {
		CrawlerURL  string `mapstructure:"crawler_url"`
		SessionSalt string `mapstructure:"session_salt"`
		PerPage     int    `mapstructure:"per_page"`
	} `mapstructure:"frontend"`
}

// LoadFrontend loads the frontend service configuration.
func LoadFrontend() (*FrontendConfig, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	v.SetDefault("server.address", ":8082")
	v.SetDefault("frontend", map[string]any{
		"crawler_url":  "http://localhost:8080",
		"session_salt": "quarry",
		"per_page":     10,
	})

	bindings := map[string][]string{
		"frontend.crawler_url":  {"CRAWLER_URL"},
		"frontend.session_salt": {"SESSION_SALT"},
	}
	for key, envs := range bindings {
		if bindErr := v.BindEnv(append([]string{key}, envs...)...); bindErr != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, bindErr)
		}
	}

	var cfg FrontendConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frontend config: %w", err)
	}
	return &cfg, nil
}
