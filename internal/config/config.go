// Package config loads the relay configuration from an optional YAML file
// and the process environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Upstream protocol variants.
const (
	ProtocolCaptcha = "captcha" // JSON check bound to a session cookie and captcha answer
	ProtocolForm    = "form"    // form-encoded check without captcha, HTML reply
)

// Config represents the complete application configuration
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Companies CompaniesConfig `yaml:"companies"`
	Stats     StatsConfig     `yaml:"stats"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// ListenConfig defines where the relay listens for requests
type ListenConfig struct {
	HTTP string `yaml:"http"` // HTTP server address (e.g., ":3000")
}

// UpstreamConfig describes the result-checking site being relayed.
type UpstreamConfig struct {
	BaseURL       string  `yaml:"base_url"`        // scheme + host, no trailing slash
	UserAgent     string  `yaml:"user_agent"`      // sent on every outbound call
	Timeout       int     `yaml:"timeout"`         // per-call timeout in seconds
	Protocol      string  `yaml:"protocol"`        // captcha or form
	CheckPath     string  `yaml:"check_path"`      // JSON result endpoint
	FormCheckPath string  `yaml:"form_check_path"` // form-encoded result endpoint
	RPS           float64 `yaml:"rps"`             // outbound pacing, 0 disables
	Burst         int     `yaml:"burst"`
}

// CacheConfig defines the result cache lifetime
type CacheConfig struct {
	TTL int `yaml:"ttl"` // seconds
}

// RateLimitConfig defines the global fixed-window limiter
type RateLimitConfig struct {
	Max    int `yaml:"max"`    // requests allowed per window
	Window int `yaml:"window"` // window length in seconds
}

// CompaniesConfig points at the static company list
type CompaniesConfig struct {
	File string `yaml:"file"`
}

// StatsConfig enables best-effort rate-limit decision counters in Redis.
// An empty address disables it.
type StatsConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Prefix        string `yaml:"prefix"`
	TTL           int    `yaml:"ttl"` // seconds for per-minute buckets
}

// TelemetryConfig enables OTLP/HTTP tracing. An empty endpoint disables it.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// envOverrides holds raw environment values. Zero values mean "not set".
type envOverrides struct {
	Port            int           `env:"PORT"`
	ListenHTTP      string        `env:"IPO_RELAY_LISTEN_HTTP"`
	UpstreamBaseURL string        `env:"IPO_RELAY_UPSTREAM_BASE_URL"`
	UpstreamTimeout time.Duration `env:"IPO_RELAY_UPSTREAM_TIMEOUT"`
	UpstreamProto   string        `env:"IPO_RELAY_UPSTREAM_PROTOCOL"`
	UpstreamRPS     float64       `env:"IPO_RELAY_UPSTREAM_RPS"`
	CacheTTL        time.Duration `env:"IPO_RELAY_CACHE_TTL"`
	RateLimitMax    int           `env:"IPO_RELAY_RATELIMIT_MAX"`
	RateLimitWindow time.Duration `env:"IPO_RELAY_RATELIMIT_WINDOW"`
	CompaniesFile   string        `env:"IPO_RELAY_COMPANIES_FILE"`
	StatsRedisAddr  string        `env:"IPO_RELAY_STATS_REDIS_ADDR"`
	StatsRedisPass  string        `env:"IPO_RELAY_STATS_REDIS_PASSWORD"`
	OTelEndpoint    string        `env:"IPO_RELAY_OTEL_ENDPOINT"`
	LogLevel        string        `env:"IPO_RELAY_LOG_LEVEL"`
	LogFormat       string        `env:"IPO_RELAY_LOG_FORMAT"`
}

// Load builds the configuration. An empty path skips the file and uses
// defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			HTTP: ":3000",
		},
		Upstream: UpstreamConfig{
			BaseURL:       "https://iporesult.cdsc.com.np",
			UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
			Timeout:       15,
			Protocol:      ProtocolCaptcha,
			CheckPath:     "/result/result/check",
			FormCheckPath: "/result/result/check",
			Burst:         1,
		},
		Cache: CacheConfig{
			TTL: 300, // 5 minutes
		},
		RateLimit: RateLimitConfig{
			Max:    100,
			Window: 60,
		},
		Companies: CompaniesConfig{
			File: "companies.json",
		},
		Stats: StatsConfig{
			Prefix: "ipo-relay:ratelimit",
			TTL:    86400,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "ipo-relay",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() error {
	var e envOverrides
	if err := env.Parse(&e); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	// PORT is the hosting-platform convention; an explicit address wins.
	if e.Port > 0 {
		c.Listen.HTTP = ":" + strconv.Itoa(e.Port)
	}
	if e.ListenHTTP != "" {
		c.Listen.HTTP = e.ListenHTTP
	}

	if e.UpstreamBaseURL != "" {
		c.Upstream.BaseURL = strings.TrimRight(e.UpstreamBaseURL, "/")
	}
	if e.UpstreamTimeout > 0 {
		c.Upstream.Timeout = durationSeconds(e.UpstreamTimeout)
	}
	if e.UpstreamProto != "" {
		c.Upstream.Protocol = strings.ToLower(e.UpstreamProto)
	}
	if e.UpstreamRPS > 0 {
		c.Upstream.RPS = e.UpstreamRPS
	}

	if e.CacheTTL > 0 {
		c.Cache.TTL = durationSeconds(e.CacheTTL)
	}
	if e.RateLimitMax > 0 {
		c.RateLimit.Max = e.RateLimitMax
	}
	if e.RateLimitWindow > 0 {
		c.RateLimit.Window = durationSeconds(e.RateLimitWindow)
	}

	if e.CompaniesFile != "" {
		c.Companies.File = e.CompaniesFile
	}
	if e.StatsRedisAddr != "" {
		c.Stats.RedisAddr = e.StatsRedisAddr
	}
	if e.StatsRedisPass != "" {
		c.Stats.RedisPassword = e.StatsRedisPass
	}
	if e.OTelEndpoint != "" {
		c.Telemetry.Endpoint = e.OTelEndpoint
	}

	if e.LogLevel != "" {
		c.Log.Level = e.LogLevel
	}
	if e.LogFormat != "" {
		c.Log.Format = e.LogFormat
	}

	return nil
}

// durationSeconds rounds up so that sub-second values never become zero.
func durationSeconds(d time.Duration) int {
	s := int(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Listen.HTTP == "" {
		return fmt.Errorf("listen.http is required")
	}

	// Validate upstream config
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if !strings.HasPrefix(c.Upstream.BaseURL, "http://") && !strings.HasPrefix(c.Upstream.BaseURL, "https://") {
		return fmt.Errorf("upstream.base_url must be a valid HTTP(S) URL")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if c.Upstream.Protocol != ProtocolCaptcha && c.Upstream.Protocol != ProtocolForm {
		return fmt.Errorf("upstream.protocol must be one of: captcha, form")
	}
	if !strings.HasPrefix(c.Upstream.CheckPath, "/") || !strings.HasPrefix(c.Upstream.FormCheckPath, "/") {
		return fmt.Errorf("upstream check paths must start with '/'")
	}
	if c.Upstream.RPS < 0 {
		return fmt.Errorf("upstream.rps must not be negative")
	}
	if c.Upstream.RPS > 0 && c.Upstream.Burst <= 0 {
		return fmt.Errorf("upstream.burst must be positive when upstream.rps is set")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}

	if c.RateLimit.Max <= 0 {
		return fmt.Errorf("rate_limit.max must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}

	if c.Companies.File == "" {
		return fmt.Errorf("companies.file is required")
	}

	// Validate log config
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: json, text")
	}

	return nil
}

// UpstreamTimeout returns the per-call upstream timeout.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.Timeout) * time.Second
}

// CacheTTL returns the result cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTL) * time.Second
}

// RateLimitWindow returns the fixed-window length.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.Window) * time.Second
}

// StatsTTL returns the expiry for per-minute stats buckets.
func (c *Config) StatsTTL() time.Duration {
	return time.Duration(c.Stats.TTL) * time.Second
}

// SetupLogging configures the global slog logger based on the LogConfig
// and returns it. A nil writer means stderr.
func SetupLogging(cfg *LogConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// Redact returns a copy of the config with secrets redacted for safe logging
func (c *Config) Redact() *Config {
	redacted := *c
	if redacted.Stats.RedisPassword != "" {
		redacted.Stats.RedisPassword = "[REDACTED]"
	}
	return &redacted
}
