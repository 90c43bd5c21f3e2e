package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFromEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
	  "channels": {"lingr": {"enabled": true, "bot_id": "file-bot"}, "telegram": {}},
	  "worker": {"poll_interval_ms": 250},
	  "cache": {"enabled": true, "backend": "redis", "redis_url": "redis://localhost:6379/0"},
	  "gateway": {"host": "127.0.0.1", "port": 18790},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("UNFURLBOT_CONFIG", path)
	t.Setenv(envBotID, "")
	t.Setenv(envPort, "")
	t.Setenv(envRedisURL, "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format = %q, want %q", cfg.Logging.Format, "json")
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging.level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if !cfg.Logging.AddSource {
		t.Fatal("logging.add_source = false, want true")
	}
	if got := cfg.Worker.PollInterval(); got != 250*time.Millisecond {
		t.Fatalf("worker.PollInterval = %v, want 250ms", got)
	}
	if cfg.Channels.Lingr.BotID != "file-bot" {
		t.Fatalf("lingr.bot_id = %q, want %q", cfg.Channels.Lingr.BotID, "file-bot")
	}
	if cfg.Cache.Backend != "redis" {
		t.Fatalf("cache.backend = %q, want redis", cfg.Cache.Backend)
	}
	if cfg.Gateway.Port != 18790 {
		t.Fatalf("gateway.port = %d, want 18790", cfg.Gateway.Port)
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv("UNFURLBOT_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{Gateway: GatewayConfig{Port: -1}}
	cfg.ApplyDefaults()

	if got := cfg.Worker.PollInterval(); got != 500*time.Millisecond {
		t.Fatalf("PollInterval = %v, want 500ms", got)
	}
	if cfg.Fetch.UserAgent != DefaultUserAgent {
		t.Fatalf("user agent = %q, want default", cfg.Fetch.UserAgent)
	}
	if got := cfg.Fetch.Timeout(); got != 10*time.Second {
		t.Fatalf("Timeout = %v, want 10s", got)
	}
	if cfg.Cache.Backend != "memory" {
		t.Fatalf("cache backend = %q, want memory", cfg.Cache.Backend)
	}
	if cfg.Channels.Lingr.APIBaseURL != defaultLingrAPIBaseURL {
		t.Fatalf("lingr api = %q, want %q", cfg.Channels.Lingr.APIBaseURL, defaultLingrAPIBaseURL)
	}
	if cfg.Gateway.Port != defaultGatewayPort {
		t.Fatalf("gateway port = %d, want %d", cfg.Gateway.Port, defaultGatewayPort)
	}
	if got := cfg.Channels.Lingr.Timeout(); got != 10*time.Second {
		t.Fatalf("lingr timeout = %v, want 10s", got)
	}
}

func TestLoadConfigGatewayPortZeroIsEphemeral(t *testing.T) {
	t.Setenv(envPort, "")

	load := func(content string) *Config {
		t.Helper()
		path := filepath.Join(t.TempDir(), "config.json")
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write config file: %v", err)
		}
		t.Setenv("UNFURLBOT_CONFIG", path)

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig error: %v", err)
		}
		return cfg
	}

	if cfg := load(`{"gateway": {"port": 0}}`); cfg.Gateway.Port != 0 {
		t.Fatalf("explicit port 0 = %d, want 0", cfg.Gateway.Port)
	}
	if cfg := load(`{"gateway": {"host": "127.0.0.1"}}`); cfg.Gateway.Port != defaultGatewayPort {
		t.Fatalf("missing port = %d, want %d", cfg.Gateway.Port, defaultGatewayPort)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(envBotID, "env-bot")
	t.Setenv(envBotSecret, "s3cret")
	t.Setenv(envTelegramAllowFrom, " 1, ,2 ")
	t.Setenv(envRedisURL, "redis://cache:6379")
	t.Setenv(envPort, "8080")

	cfg := &Config{}
	applyEnvOverrides(cfg)

	if cfg.Channels.Lingr.BotID != "env-bot" || cfg.Channels.Lingr.BotSecret != "s3cret" {
		t.Fatalf("lingr credentials = %q/%q", cfg.Channels.Lingr.BotID, cfg.Channels.Lingr.BotSecret)
	}
	if len(cfg.Channels.Telegram.AllowFrom) != 2 {
		t.Fatalf("allow_from = %v, want 2 entries", cfg.Channels.Telegram.AllowFrom)
	}
	if cfg.Cache.RedisURL != "redis://cache:6379" {
		t.Fatalf("redis url = %q", cfg.Cache.RedisURL)
	}
	if cfg.Gateway.Port != 8080 {
		t.Fatalf("gateway port = %d, want 8080", cfg.Gateway.Port)
	}
}
