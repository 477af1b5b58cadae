package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Bluesky   BlueskyConfig
	Redis     RedisConfig
	Actor     ActorConfig
	UI        UIConfig
	Control   ServerConfig
	Logging   LoggingConfig
	Telemetry TelemetryConfig
}

// BlueskyConfig holds the remote PDS configuration
type BlueskyConfig struct {
	Host            string
	TimelineLimit   int
	AuthorFeedLimit int
	ThreadDepth     int
	RequestTimeout  time.Duration
	MaxBlobBytes    int64
}

// RedisConfig holds the optional blob cache configuration
type RedisConfig struct {
	URL     string
	Enabled bool
	TTL     time.Duration
}

// ActorConfig holds the network actor configuration
type ActorConfig struct {
	CommandQueue int
	EventQueue   int
	JobTimeout   time.Duration
}

// UIConfig holds frame loop and in-memory cache configuration
type UIConfig struct {
	FrameInterval   time.Duration
	ImageCacheBytes int64
}

// ServerConfig holds the local control server configuration
type ServerConfig struct {
	Enabled bool
	Port    int
	Host    string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
	File   string // empty means stderr
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled           bool
	JaegerURL         string
	PrometheusEnabled bool
	ServiceName       string
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	setDefaults()

	viper.SetEnvPrefix("REDSKY")
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.redsky")
	viper.AddConfigPath("/etc/redsky")

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found; this is OK if we have env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{
		Bluesky: BlueskyConfig{
			Host:            strings.TrimRight(getString("bluesky_host", "https://bsky.social"), "/"),
			TimelineLimit:   getInt("timeline_limit", 30),
			AuthorFeedLimit: getInt("author_feed_limit", 20),
			ThreadDepth:     getInt("thread_depth", 6),
			RequestTimeout:  getDuration("request_timeout", 30*time.Second),
			MaxBlobBytes:    int64(getInt("max_blob_bytes", 10<<20)),
		},
		Redis: RedisConfig{
			URL:     getString("redis_url", ""),
			Enabled: getString("redis_url", "") != "",
			TTL:     getDuration("redis_ttl", 24*time.Hour),
		},
		Actor: ActorConfig{
			CommandQueue: getInt("command_queue", 256),
			EventQueue:   getInt("event_queue", 256),
			JobTimeout:   getDuration("job_timeout", 45*time.Second),
		},
		UI: UIConfig{
			FrameInterval:   getDuration("frame_interval", 50*time.Millisecond),
			ImageCacheBytes: int64(getInt("image_cache_bytes", 64<<20)),
		},
		Control: ServerConfig{
			Enabled: getBool("control_enabled", false),
			Port:    getInt("control_port", 7878),
			Host:    getString("control_host", "127.0.0.1"),
		},
		Logging: LoggingConfig{
			Level:  getString("log_level", "INFO"),
			Format: getString("log_format", "text"),
			File:   getString("log_file", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:           getBool("telemetry_enabled", false),
			JaegerURL:         getString("jaeger_url", ""),
			PrometheusEnabled: getBool("prometheus_enabled", true),
			ServiceName:       getString("service_name", "redsky"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("bluesky_host", "https://bsky.social")
	viper.SetDefault("timeline_limit", 30)
	viper.SetDefault("author_feed_limit", 20)
	viper.SetDefault("thread_depth", 6)
	viper.SetDefault("request_timeout", "30s")
	viper.SetDefault("max_blob_bytes", 10<<20)
	viper.SetDefault("command_queue", 256)
	viper.SetDefault("event_queue", 256)
	viper.SetDefault("job_timeout", "45s")
	viper.SetDefault("frame_interval", "50ms")
	viper.SetDefault("image_cache_bytes", 64<<20)
	viper.SetDefault("redis_ttl", "24h")
	viper.SetDefault("control_enabled", false)
	viper.SetDefault("control_port", 7878)
	viper.SetDefault("control_host", "127.0.0.1")
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("telemetry_enabled", false)
	viper.SetDefault("prometheus_enabled", true)
	viper.SetDefault("service_name", "redsky")
}

func getString(key, defaultValue string) string {
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	// Also check environment variable directly
	if val := os.Getenv("REDSKY_" + toEnvKey(key)); val != "" {
		return val
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if viper.IsSet(key) {
		return viper.GetInt(key)
	}
	if val := os.Getenv("REDSKY_" + toEnvKey(key)); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	if val := os.Getenv("REDSKY_" + toEnvKey(key)); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if viper.IsSet(key) {
		return viper.GetDuration(key)
	}
	if val := os.Getenv("REDSKY_" + toEnvKey(key)); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultValue
}

// toEnvKey converts snake_case or kebab-case keys to UPPER_SNAKE_CASE
func toEnvKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Bluesky.Host == "" {
		return fmt.Errorf("bluesky_host is required")
	}
	if !strings.HasPrefix(c.Bluesky.Host, "http://") && !strings.HasPrefix(c.Bluesky.Host, "https://") {
		return fmt.Errorf("bluesky_host must be an http(s) URL")
	}
	if c.Bluesky.TimelineLimit <= 0 || c.Bluesky.TimelineLimit > 100 {
		return fmt.Errorf("timeline_limit must be between 1 and 100")
	}
	if c.Bluesky.AuthorFeedLimit <= 0 || c.Bluesky.AuthorFeedLimit > 100 {
		return fmt.Errorf("author_feed_limit must be between 1 and 100")
	}
	if c.Bluesky.ThreadDepth < 0 || c.Bluesky.ThreadDepth > 1000 {
		return fmt.Errorf("thread_depth must be between 0 and 1000")
	}
	if c.Bluesky.MaxBlobBytes <= 0 {
		return fmt.Errorf("max_blob_bytes must be positive")
	}
	if c.Actor.CommandQueue <= 0 || c.Actor.EventQueue <= 0 {
		return fmt.Errorf("command_queue and event_queue must be positive")
	}
	if c.Actor.JobTimeout <= 0 {
		return fmt.Errorf("job_timeout must be positive")
	}
	if c.UI.FrameInterval <= 0 {
		return fmt.Errorf("frame_interval must be positive")
	}
	if c.UI.ImageCacheBytes < 0 {
		return fmt.Errorf("image_cache_bytes must not be negative")
	}
	if c.Control.Enabled && (c.Control.Port <= 0 || c.Control.Port > 65535) {
		return fmt.Errorf("control_port must be between 1 and 65535")
	}
	return nil
}
