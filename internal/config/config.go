// Package config loads and validates server configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultBaseURL is the hosted WaterCrawl API.
const DefaultBaseURL = "https://app.watercrawl.dev"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Server   ServerConfig   `mapstructure:"server"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// APIConfig points the upstream client at a WaterCrawl deployment.
type APIConfig struct {
	BaseURL          string  `mapstructure:"base_url"`
	APIKey           string  `mapstructure:"api_key"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	RateLimitRPS     float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int     `mapstructure:"rate_limit_burst"`
}

// ServerConfig controls the SSE/HTTP transport host.
type ServerConfig struct {
	Port                     int    `mapstructure:"port"`
	Endpoint                 string `mapstructure:"endpoint"`
	StreamablePath           string `mapstructure:"streamable_path"`
	ReadHeaderTimeoutSeconds int    `mapstructure:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds   int    `mapstructure:"shutdown_timeout_seconds"`
}

// MonitorConfig holds the defaults applied to monitor-request calls.
type MonitorConfig struct {
	DefaultTimeoutSeconds int  `mapstructure:"default_timeout_seconds"`
	DefaultDownload       bool `mapstructure:"default_download"`
	// CrawlStopOnResult ends a crawl monitor at its first result event.
	CrawlStopOnResult     bool `mapstructure:"crawl_stop_on_result"`
}

// AuthConfig governs how HTTP callers' API keys are checked.
type AuthConfig struct {
	VerifyKeys      bool   `mapstructure:"verify_keys"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
	RedisAddr       string `mapstructure:"redis_addr"`
	RedisPassword   string `mapstructure:"redis_password"`
	RedisDB         int    `mapstructure:"redis_db"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TracingConfig configures the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Insecure     bool   `mapstructure:"insecure"`
}

// ProgressConfig sizes the monitor progress hub.
type ProgressConfig struct {
	BufferSize      int `mapstructure:"buffer_size"`
	MaxBatchEvents  int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs  int `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutSecs int `mapstructure:"sink_timeout_seconds"`
}

// legacyEnv maps config keys to the environment variable names used by
// earlier releases of the server. They are honored alongside the
// WATERCRAWL_<SECTION>_<KEY> form.
var legacyEnv = map[string]string{
	"api.base_url":    "WATERCRAWL_BASE_URL",
	"api.api_key":     "WATERCRAWL_API_KEY",
	"server.port":     "SSE_PORT",
	"server.endpoint": "SSE_ENDPOINT",
}

// Load builds a Config from disk/environment using a fresh Viper instance.
func Load(path string) (Config, error) {
	return LoadWithViper(viper.New(), path)
}

// LoadWithViper builds a Config from v, which may already carry bound CLI
// flags. Flags take precedence over the environment, which takes precedence
// over the config file.
func LoadWithViper(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix("WATERCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

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

// LoadDotEnv copies KEY=VALUE pairs from a dotenv file into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	dv := viper.New()
	dv.SetConfigFile(path)
	dv.SetConfigType("env")
	if err := dv.ReadInConfig(); err != nil {
		return fmt.Errorf("read dotenv: %w", err)
	}
	for _, key := range dv.AllKeys() {
		name := strings.ToUpper(key)
		if _, ok := os.LookupEnv(name); ok {
			continue
		}
		if err := os.Setenv(name, dv.GetString(key)); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", DefaultBaseURL)
	v.SetDefault("api.api_key", "")
	v.SetDefault("api.timeout_seconds", 60)
	v.SetDefault("api.max_retries", 2)
	v.SetDefault("api.backoff_initial_ms", 250)
	v.SetDefault("api.backoff_max_ms", 2000)
	v.SetDefault("api.rate_limit_rps", 0)
	v.SetDefault("api.rate_limit_burst", 5)
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.endpoint", "/sse")
	v.SetDefault("server.streamable_path", "/mcp")
	v.SetDefault("server.read_header_timeout_seconds", 10)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("monitor.default_timeout_seconds", 30)
	v.SetDefault("monitor.default_download", true)
	v.SetDefault("monitor.crawl_stop_on_result", true)
	v.SetDefault("auth.verify_keys", true)
	v.SetDefault("auth.cache_ttl_seconds", 300)
	v.SetDefault("auth.redis_addr", "")
	v.SetDefault("auth.redis_password", "")
	v.SetDefault("auth.redis_db", 0)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "watercrawl-mcp")
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait_ms", 250)
	v.SetDefault("progress.sink_timeout_seconds", 5)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must be set")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be > 0")
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must be >= 0")
	}
	if c.API.RateLimitRPS < 0 {
		return fmt.Errorf("api.rate_limit_rps must be >= 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if !strings.HasPrefix(c.Server.Endpoint, "/") {
		return fmt.Errorf("server.endpoint must start with /")
	}
	if c.Server.StreamablePath != "" && !strings.HasPrefix(c.Server.StreamablePath, "/") {
		return fmt.Errorf("server.streamable_path must start with /")
	}
	if c.Monitor.DefaultTimeoutSeconds <= 0 {
		return fmt.Errorf("monitor.default_timeout_seconds must be > 0")
	}
	if c.Auth.CacheTTLSeconds < 0 {
		return fmt.Errorf("auth.cache_ttl_seconds must be >= 0")
	}
	if c.Tracing.Enabled && c.Tracing.ServiceName == "" {
		return fmt.Errorf("tracing.service_name must be set when tracing is enabled")
	}
	return nil
}

// RequireAPIKey reports an error when no API key is configured. The stdio
// transport has no per-request credential, so it cannot run without one.
func (c Config) RequireAPIKey() error {
	if c.API.APIKey == "" {
		return fmt.Errorf("api.api_key must be set; use --api-key or WATERCRAWL_API_KEY")
	}
	return nil
}

// APITimeout converts the per-request upstream timeout into a duration.
func (c Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// CacheTTL is how long a verified API key stays trusted.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Auth.CacheTTLSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
