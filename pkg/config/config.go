// Package config loads runtime settings: defaults, then an optional TOML
// file, then environment overrides, then validation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Server contains HTTP and gRPC listener settings.
type Server struct {
	Addr                   string `toml:"addr"`
	GRPCAddr               string `toml:"grpc_addr"`
	CORSOrigin             string `toml:"cors_origin"`
	ReadTimeoutSeconds     int    `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `toml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
	LogLevel               string `toml:"log_level"`
}

// Provider contains the remote browser-automation agent settings.
type Provider struct {
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	Agent             string  `toml:"agent"`
	Mode              string  `toml:"mode"`
	StepLimit         int     `toml:"step_limit"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	BreakerFailures   int     `toml:"breaker_failures"`
	BreakerCooldown   int     `toml:"breaker_cooldown_seconds"`
}

// Extractor selects and configures how raw answers become entries.
type Extractor struct {
	// Kind is one of "llm", "ollama" or "heuristic".
	Kind           string `toml:"kind"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Attempts       int    `toml:"attempts"`
	MaxInputChars  int    `toml:"max_input_chars"`
	OllamaURL      string `toml:"ollama_url"`
	OllamaModel    string `toml:"ollama_model"`
}

// Store contains the batch file store location.
type Store struct {
	DataDir string `toml:"data_dir"`
}

// Session contains search session lifetime settings.
type Session struct {
	TTLMinutes             int `toml:"ttl_minutes"`
	CleanupIntervalSeconds int `toml:"cleanup_interval_seconds"`
	Workers                int `toml:"workers"`
}

// NATS contains event publishing settings. An empty URL disables events.
type NATS struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
	Name    string `toml:"name"`
}

// Telemetry contains tracing and metrics settings.
type Telemetry struct {
	ServiceName    string `toml:"service_name"`
	MetricsEnabled bool   `toml:"metrics_enabled"`
}

// Config encapsulates all configuration values for the API server.
type Config struct {
	Server    Server    `toml:"server"`
	Provider  Provider  `toml:"provider"`
	Extractor Extractor `toml:"extractor"`
	Store     Store     `toml:"store"`
	Session   Session   `toml:"session"`
	NATS      NATS      `toml:"nats"`
	Telemetry Telemetry `toml:"telemetry"`
}

// Load parses path when it exists, applies environment overrides and
// validates the result. An empty path or a missing file yields defaults.
// The second return value reports whether a file was read.
func Load(path string) (*Config, bool, error) {
	cfg := Default()

	exists := false
	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, false, fmt.Errorf("open config: %w", err)
		default:
			defer file.Close()
			exists = true
			decoder := toml.NewDecoder(file)
			decoder.DisallowUnknownFields()
			if err := decoder.Decode(&cfg); err != nil {
				return nil, false, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, exists, err
	}
	return &cfg, exists, nil
}

func (c *Config) applyEnv() {
	if port := envOr("PORT", ""); port != "" {
		c.Server.Addr = ":" + port
	}
	c.Server.Addr = envOr("CLARITY_ADDR", c.Server.Addr)
	c.Server.GRPCAddr = envOr("CLARITY_GRPC_ADDR", c.Server.GRPCAddr)
	c.Server.CORSOrigin = envOr("CORS_ORIGIN", c.Server.CORSOrigin)
	c.Server.LogLevel = envOr("CLARITY_LOG_LEVEL", c.Server.LogLevel)

	c.Provider.APIKey = envOr("BROWSER_CASH_AGENT_API_KEY", c.Provider.APIKey)
	c.Provider.BaseURL = envOr("BROWSER_CASH_API_BASE", c.Provider.BaseURL)
	c.Provider.Agent = envOr("BROWSER_CASH_AGENT", c.Provider.Agent)

	c.Extractor.Kind = envOr("CLARITY_EXTRACTOR", c.Extractor.Kind)
	c.Extractor.APIKey = envOr("OPENROUTER_API_KEY", c.Extractor.APIKey)
	c.Extractor.Model = envOr("CLARITY_LLM_MODEL", c.Extractor.Model)
	c.Extractor.OllamaURL = envOr("OLLAMA_URL", c.Extractor.OllamaURL)

	c.Store.DataDir = envOr("CLARITY_DATA_DIR", c.Store.DataDir)
	c.Session.TTLMinutes = envIntOr("CLARITY_SESSION_TTL_MINUTES", c.Session.TTLMinutes)

	c.NATS.URL = envOr("NATS_URL", c.NATS.URL)
}

func (c *Config) normalize() {
	c.Server.LogLevel = strings.ToLower(strings.TrimSpace(c.Server.LogLevel))
	c.Extractor.Kind = strings.ToLower(strings.TrimSpace(c.Extractor.Kind))
	c.Provider.BaseURL = strings.TrimRight(strings.TrimSpace(c.Provider.BaseURL), "/")
	if c.Store.DataDir != "" {
		c.Store.DataDir = filepath.Clean(c.Store.DataDir)
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = defaultNATSSubject
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// SessionTTL returns the session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}

// CleanupInterval returns how often expired sessions are swept.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Session.CleanupIntervalSeconds) * time.Second
}

// LogLevel maps the configured level onto slog.
func (c *Config) LogLevel() slog.Level {
	switch c.Server.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CreateSample writes the commented sample configuration to path. It
// refuses to overwrite an existing file.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create sample config: %w", err)
	}
	if _, err := f.WriteString(sampleConfig); err != nil {
		f.Close()
		return fmt.Errorf("write sample config: %w", err)
	}
	return f.Close()
}
