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
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Spider     SpiderConfig     `mapstructure:"spider"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int      `mapstructure:"port"`
	BasePath              string   `mapstructure:"base_path"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds"`
	CORSAllowedOrigins    []string `mapstructure:"cors_allowed_origins"`

	// Timezone names the location used for task and webhook timestamps.
	Timezone string `mapstructure:"timezone"`
}

// AuthConfig defines the shared-secret check on API routes.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

// RateLimitConfig controls per-client admission of crawl submissions.
type RateLimitConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Backend       string `mapstructure:"backend"`
	WindowSeconds int    `mapstructure:"window_seconds"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

// RedisConfig locates the Redis instance backing the rate limiter.
type RedisConfig struct {
	Address          string `mapstructure:"address"`
	Password         string `mapstructure:"password"`
	DB               int    `mapstructure:"db"`
	StaleKeyTTLHours int    `mapstructure:"stale_key_ttl_hours"`
}

// CrawlerConfig governs the background worker pool.
type CrawlerConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	QueueDepth  int    `mapstructure:"queue_depth"`
	TaskIDs     string `mapstructure:"task_ids"`

	// DrainSeconds bounds how long shutdown waits for queued and running tasks.
	DrainSeconds int `mapstructure:"drain_seconds"`
}

// SpiderConfig configures the link-discovery subprocess.
type SpiderConfig struct {
	// Command is the executable to launch. Empty means this binary.
	Command        string   `mapstructure:"command"`
	Args           []string `mapstructure:"args"`
	ArtifactDir    string   `mapstructure:"artifact_dir"`
	UserAgent      string   `mapstructure:"user_agent"`
	MaxDepth       int      `mapstructure:"max_depth"`
	RespectRobots  bool     `mapstructure:"respect_robots"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// ExtractionConfig controls page fetching in the extraction pipeline.
type ExtractionConfig struct {
	FetchTimeoutSeconds int     `mapstructure:"fetch_timeout_seconds"`
	LinkDelayMs         int     `mapstructure:"link_delay_ms"`
	MaxPageBytes        int64   `mapstructure:"max_page_bytes"`
	HostRPS             float64 `mapstructure:"host_rps"`
}

// WebhookConfig controls outbound notifications.
type WebhookConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// ArchiveConfig selects where cleaned pages are stored, if anywhere.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for task summary notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls OpenTelemetry span creation.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
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
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.base_path", "/api/v1/knowledge-base")
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.timezone", "UTC")
	v.SetDefault("server.cors_allowed_origins", []string{"*"})
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.token", "")
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.backend", "redis")
	v.SetDefault("ratelimit.window_seconds", 900)
	v.SetDefault("ratelimit.key_prefix", "rate_limit:")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stale_key_ttl_hours", 168)
	v.SetDefault("crawler.concurrency", 2)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.task_ids", "v4")
	v.SetDefault("crawler.drain_seconds", 30)
	v.SetDefault("spider.command", "")
	v.SetDefault("spider.artifact_dir", "")
	v.SetDefault("spider.user_agent", "knowledge-base-crawler/0.1")
	v.SetDefault("spider.max_depth", 0)
	v.SetDefault("spider.respect_robots", false)
	v.SetDefault("spider.timeout_seconds", 0)
	v.SetDefault("extraction.fetch_timeout_seconds", 10)
	v.SetDefault("extraction.link_delay_ms", 2000)
	v.SetDefault("extraction.max_page_bytes", 10<<20)
	v.SetDefault("extraction.host_rps", 0)
	v.SetDefault("webhook.timeout_seconds", 10)
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.local_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", true)
	v.SetDefault("tracing.service_name", "kb-crawler")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("server.timezone: %w", err)
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.DrainSeconds < 0 {
		return fmt.Errorf("crawler.drain_seconds must be >= 0")
	}
	if c.Crawler.QueueDepth < 0 {
		return fmt.Errorf("crawler.queue_depth must be >= 0")
	}
	switch c.Crawler.TaskIDs {
	case "", "v4", "v7":
	default:
		return fmt.Errorf("crawler.task_ids must be one of v4, v7")
	}
	if c.Auth.Enabled && c.Auth.Token == "" {
		return fmt.Errorf("auth.token must be set when auth is enabled")
	}
	if c.RateLimit.Enabled {
		switch c.RateLimit.Backend {
		case "redis":
			if c.Redis.Address == "" {
				return fmt.Errorf("redis.address must be set when ratelimit.backend is redis")
			}
		case "memory":
		default:
			return fmt.Errorf("ratelimit.backend must be one of redis, memory")
		}
		if c.RateLimit.WindowSeconds <= 0 {
			return fmt.Errorf("ratelimit.window_seconds must be > 0")
		}
	}
	if c.Extraction.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("extraction.fetch_timeout_seconds must be > 0")
	}
	if c.Extraction.LinkDelayMs < 0 {
		return fmt.Errorf("extraction.link_delay_ms must be >= 0")
	}
	if c.Extraction.HostRPS < 0 {
		return fmt.Errorf("extraction.host_rps must be >= 0")
	}
	if c.Webhook.TimeoutSeconds <= 0 {
		return fmt.Errorf("webhook.timeout_seconds must be > 0")
	}
	switch c.Archive.Provider {
	case "", "none", "memory":
	case "local":
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set when archive.provider is local")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.provider is gcs")
		}
	default:
		return fmt.Errorf("archive.provider must be one of none, memory, local, gcs")
	}
	if c.Tracing.Enabled && (c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1) {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// RateLimitWindow returns the admission window as a duration.
func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// StaleKeyTTL returns the expiry given to rate limit keys found without one.
func (c Config) StaleKeyTTL() time.Duration {
	return time.Duration(c.Redis.StaleKeyTTLHours) * time.Hour
}

// FetchTimeout returns the per-link fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Extraction.FetchTimeoutSeconds) * time.Second
}

// LinkDelay returns the pause after each link before the next one starts.
func (c Config) LinkDelay() time.Duration {
	return time.Duration(c.Extraction.LinkDelayMs) * time.Millisecond
}

// WebhookTimeout returns the per-delivery webhook timeout.
func (c Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Webhook.TimeoutSeconds) * time.Second
}

// RequestTimeout returns the HTTP handler timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// SpiderTimeout returns the link-discovery deadline, zero meaning none.
func (c Config) SpiderTimeout() time.Duration {
	return time.Duration(c.Spider.TimeoutSeconds) * time.Second
}

// Location resolves server.timezone, defaulting to UTC.
func (c Config) Location() (*time.Location, error) {
	if c.Server.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Server.Timezone)
}

// DrainTimeout returns how long shutdown waits for the worker pool.
func (c Config) DrainTimeout() time.Duration {
	return time.Duration(c.Crawler.DrainSeconds) * time.Second
}
