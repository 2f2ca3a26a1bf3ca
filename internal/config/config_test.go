package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
api:
  base_url: https://crawl.internal.example
  api_key: file-key
  timeout_seconds: 45
  max_retries: 4
  rate_limit_rps: 2.5
server:
  port: 9090
  endpoint: /events
monitor:
  default_timeout_seconds: 90
  default_download: false
auth:
  verify_keys: false
  cache_ttl_seconds: 60
  redis_addr: localhost:6379
logging:
  development: true
  level: debug
tracing:
  enabled: true
  otlp_endpoint: localhost:4318
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.BaseURL != "https://crawl.internal.example" || cfg.API.APIKey != "file-key" {
		t.Fatalf("expected api overrides to apply: %+v", cfg.API)
	}
	if cfg.Server.Port != 9090 || cfg.Server.Endpoint != "/events" {
		t.Fatalf("expected server overrides to apply: %+v", cfg.Server)
	}
	if cfg.Server.StreamablePath != "/mcp" {
		t.Fatalf("expected default streamable path, got %q", cfg.Server.StreamablePath)
	}
	if cfg.Monitor.DefaultTimeoutSeconds != 90 || cfg.Monitor.DefaultDownload {
		t.Fatalf("expected monitor overrides to apply: %+v", cfg.Monitor)
	}
	if cfg.Auth.VerifyKeys || cfg.Auth.RedisAddr != "localhost:6379" {
		t.Fatalf("expected auth overrides to apply: %+v", cfg.Auth)
	}
	if cfg.API.RateLimitRPS != 2.5 {
		t.Fatalf("expected rate limit 2.5, got %v", cfg.API.RateLimitRPS)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.ServiceName != "watercrawl-mcp" {
		t.Fatalf("expected tracing enabled with default service name: %+v", cfg.Tracing)
	}
	if got := cfg.APITimeout(); got != 45*time.Second {
		t.Fatalf("expected api timeout 45s, got %v", got)
	}
	if got := cfg.CacheTTL(); got != time.Minute {
		t.Fatalf("expected cache ttl 1m, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadWithViper(viper.New(), "")
	require.NoError(t, err)
	require.Equal(t, 3000, cfg.Server.Port)
	require.Equal(t, "/sse", cfg.Server.Endpoint)
	require.Equal(t, 30, cfg.Monitor.DefaultTimeoutSeconds)
	require.True(t, cfg.Monitor.DefaultDownload)
	require.True(t, cfg.Monitor.CrawlStopOnResult)
	require.True(t, cfg.Auth.VerifyKeys)
	require.Equal(t, 15*time.Second, cfg.ShutdownTimeout())
}

func TestLoadLegacyEnvironment(t *testing.T) {
	t.Setenv("WATERCRAWL_BASE_URL", "http://localhost:8000")
	t.Setenv("WATERCRAWL_API_KEY", "env-key")
	t.Setenv("SSE_PORT", "4000")
	t.Setenv("SSE_ENDPOINT", "/stream")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8000", cfg.API.BaseURL)
	require.Equal(t, "env-key", cfg.API.APIKey)
	require.Equal(t, 4000, cfg.Server.Port)
	require.Equal(t, "/stream", cfg.Server.Endpoint)
	require.NoError(t, cfg.RequireAPIKey())
}

func TestLoadPrefixedEnvironment(t *testing.T) {
	t.Setenv("WATERCRAWL_MONITOR_DEFAULT_TIMEOUT_SECONDS", "5")
	t.Setenv("WATERCRAWL_AUTH_VERIFY_KEYS", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Monitor.DefaultTimeoutSeconds)
	require.False(t, cfg.Auth.VerifyKeys)
}

func TestLoadFlagOverridesEnvironment(t *testing.T) {
	t.Setenv("WATERCRAWL_API_KEY", "env-key")

	v := viper.New()
	v.Set("api.api_key", "flag-key")
	cfg, err := LoadWithViper(v, "")
	require.NoError(t, err)
	require.Equal(t, "flag-key", cfg.API.APIKey)
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("WATERCRAWL_DOTENV_PROBE=from-file\nWATERCRAWL_DOTENV_KEEP=from-file\n"), 0o600))
	t.Setenv("WATERCRAWL_DOTENV_KEEP", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("WATERCRAWL_DOTENV_PROBE") })

	require.NoError(t, LoadDotEnv(path))
	require.Equal(t, "from-file", os.Getenv("WATERCRAWL_DOTENV_PROBE"))
	require.Equal(t, "from-env", os.Getenv("WATERCRAWL_DOTENV_KEEP"))
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	t.Parallel()

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		API:     APIConfig{BaseURL: DefaultBaseURL, TimeoutSeconds: 10},
		Server:  ServerConfig{Port: 3000, Endpoint: "/sse"},
		Monitor: MonitorConfig{DefaultTimeoutSeconds: 30},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "missing base url",
			cfg: func() Config {
				c := base
				c.API.BaseURL = ""
				return c
			}(),
			want: "api.base_url",
		},
		{
			name: "relative base url",
			cfg: func() Config {
				c := base
				c.API.BaseURL = "app.watercrawl.dev"
				return c
			}(),
			want: "api.base_url",
		},
		{
			name: "invalid api timeout",
			cfg: func() Config {
				c := base
				c.API.TimeoutSeconds = 0
				return c
			}(),
			want: "api.timeout_seconds",
		},
		{
			name: "negative retries",
			cfg: func() Config {
				c := base
				c.API.MaxRetries = -1
				return c
			}(),
			want: "api.max_retries",
		},
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "endpoint without slash",
			cfg: func() Config {
				c := base
				c.Server.Endpoint = "sse"
				return c
			}(),
			want: "server.endpoint",
		},
		{
			name: "invalid monitor timeout",
			cfg: func() Config {
				c := base
				c.Monitor.DefaultTimeoutSeconds = 0
				return c
			}(),
			want: "monitor.default_timeout_seconds",
		},
		{
			name: "tracing without service name",
			cfg: func() Config {
				c := base
				c.Tracing.Enabled = true
				return c
			}(),
			want: "tracing.service_name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestRequireAPIKey(t *testing.T) {
	t.Parallel()

	require.ErrorContains(t, Config{}.RequireAPIKey(), "api.api_key")
	require.NoError(t, Config{API: APIConfig{APIKey: "k"}}.RequireAPIKey())
}
