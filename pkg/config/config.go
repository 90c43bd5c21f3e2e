package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	envBotID             = "BOT_ID"
	envBotSecret         = "BOT_SECRET"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
	envRedisURL          = "REDISCLOUD_URL"
	envPort              = "PORT"
)

const (
	defaultPollIntervalMS    = 500
	defaultFetchTimeout      = 10
	defaultRequestsPerSecond = 2.0
	defaultBurst             = 4
	defaultMaxBodyBytes      = 4 << 20
	defaultCacheTTLSeconds   = 3600
	defaultCacheMaxEntries   = 512
	defaultLingrAPIBaseURL   = "http://lingr.com/api"
	defaultLingrPath         = "/"
	defaultLingrTimeout      = 10
	defaultGatewayHost       = "0.0.0.0"
	defaultGatewayPort       = 4567

	DefaultUserAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_9_4) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/38.0.2125.0 Safari/537.36"
	DefaultAcceptLanguage = "ja,en-US;q=0.8,en;q=0.6"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Channels ChannelsConfig `json:"channels"`
	Worker   WorkerConfig   `json:"worker"`
	Fetch    FetchConfig    `json:"fetch"`
	Cache    CacheConfig    `json:"cache"`
	Gateway  GatewayConfig  `json:"gateway"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Lingr    LingrConfig    `json:"lingr"`
	Telegram TelegramConfig `json:"telegram"`
}

// LingrConfig configures the webhook transport and the room/say sender.
type LingrConfig struct {
	Enabled    bool   `json:"enabled"`
	BotID      string `json:"bot_id"`
	BotSecret  string `json:"bot_secret"`
	APIBaseURL string `json:"api_base_url"`
	Path       string `json:"path"`
	// TimeoutSeconds bounds one room/say call.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
	// Mode is "queue" (default) or "sync". Sync handles events inline and
	// answers with the replies in the HTTP body instead of calling room/say.
	Mode string `json:"mode,omitempty"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allow_from"`
}

// WorkerConfig controls the queue consumer.
type WorkerConfig struct {
	PollIntervalMS int `json:"poll_interval_ms"`
	MaxPending     int `json:"max_pending"`
}

// FetchConfig controls outbound HTTP made by extractors.
type FetchConfig struct {
	UserAgent         string  `json:"user_agent"`
	AcceptLanguage    string  `json:"accept_language"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
	MaxBodyBytes      int64   `json:"max_body_bytes"`
}

// CacheConfig controls extraction result caching.
type CacheConfig struct {
	Enabled    bool   `json:"enabled"`
	Backend    string `json:"backend"`
	RedisURL   string `json:"redis_url"`
	TTLSeconds int    `json:"ttl_seconds"`
	MaxEntries int    `json:"max_entries"`
}

// GatewayConfig configures HTTP gateway bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// PollInterval returns the worker poll cadence.
func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMS) * time.Millisecond
}

// Timeout returns the per-request extractor timeout.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// Timeout returns the room/say request timeout.
func (l LingrConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// TTL returns how long cached extraction results stay valid.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// LoadConfig resolves config.json, unmarshals it, applies environment overrides and defaults.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// A port missing from the file stays negative and gets the default;
	// an explicit 0 asks for an ephemeral port.
	cfg := Config{Gateway: GatewayConfig{Port: -1}}
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills zero values with the built-in defaults.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}

	if c.Worker.PollIntervalMS <= 0 {
		c.Worker.PollIntervalMS = defaultPollIntervalMS
	}

	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		c.Fetch.UserAgent = DefaultUserAgent
	}
	if strings.TrimSpace(c.Fetch.AcceptLanguage) == "" {
		c.Fetch.AcceptLanguage = DefaultAcceptLanguage
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		c.Fetch.TimeoutSeconds = defaultFetchTimeout
	}
	if c.Fetch.RequestsPerSecond <= 0 {
		c.Fetch.RequestsPerSecond = defaultRequestsPerSecond
	}
	if c.Fetch.Burst <= 0 {
		c.Fetch.Burst = defaultBurst
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		c.Fetch.MaxBodyBytes = defaultMaxBodyBytes
	}

	if strings.TrimSpace(c.Cache.Backend) == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = defaultCacheTTLSeconds
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = defaultCacheMaxEntries
	}

	if strings.TrimSpace(c.Channels.Lingr.APIBaseURL) == "" {
		c.Channels.Lingr.APIBaseURL = defaultLingrAPIBaseURL
	}
	if strings.TrimSpace(c.Channels.Lingr.Path) == "" {
		c.Channels.Lingr.Path = defaultLingrPath
	}
	if c.Channels.Lingr.TimeoutSeconds <= 0 {
		c.Channels.Lingr.TimeoutSeconds = defaultLingrTimeout
	}

	if strings.TrimSpace(c.Gateway.Host) == "" {
		c.Gateway.Host = defaultGatewayHost
	}
	if c.Gateway.Port < 0 {
		c.Gateway.Port = defaultGatewayPort
	}
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if id := strings.TrimSpace(os.Getenv(envBotID)); id != "" {
		cfg.Channels.Lingr.BotID = id
	}
	if secret := strings.TrimSpace(os.Getenv(envBotSecret)); secret != "" {
		cfg.Channels.Lingr.BotSecret = secret
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}

	if redisURL := strings.TrimSpace(os.Getenv(envRedisURL)); redisURL != "" {
		cfg.Cache.RedisURL = redisURL
	}

	if rawPort := strings.TrimSpace(os.Getenv(envPort)); rawPort != "" {
		if port, err := strconv.Atoi(rawPort); err == nil && port > 0 {
			cfg.Gateway.Port = port
		}
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is UNFURLBOT_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv("UNFURLBOT_CONFIG")); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("UNFURLBOT_CONFIG does not point to a file: %s", value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
