// Package config loads the gateway's bootstrap configuration: file paths,
// listen port, rate-limit backend, logging and telemetry settings.
//
// This is distinct from the tunnel/credential/pipeline *state* the gateway
// enforces policy against (see internal/store) — this package only covers
// how the process itself is wired up, following the same three-layer
// priority the framework this gateway is descended from uses: defaults,
// then environment variables, then an optional config file, then functional
// options.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway's bootstrap configuration.
type Config struct {
	Port int `json:"port" yaml:"port"`

	CredentialsFile   string `json:"credentials_file" yaml:"credentials_file"`
	TunnelsFile       string `json:"tunnels_file" yaml:"tunnels_file"`
	PipelineStateFile string `json:"pipeline_state_file" yaml:"pipeline_state_file"`

	PublicViewerTunnel string `json:"public_viewer_tunnel" yaml:"public_viewer_tunnel"`

	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	HTTP      HTTPConfig      `json:"http" yaml:"http"`
}

// RateLimitConfig configures the daily-usage-cap backend (§4.1).
type RateLimitConfig struct {
	RedisURL     string `json:"redis_url" yaml:"redis_url"`
	PersistEvery int    `json:"persist_every" yaml:"persist_every"`

	// DefaultWorkerDailyLimit and DefaultOrchestratorDailyLimit seed the
	// daily cap for credentials the Orchestrator API issues without an
	// explicit limit. Orchestrator credentials are still counted (§9's
	// open question resolves "yes, uniformly") but get a cap high enough
	// to be effectively unbounded in practice.
	DefaultWorkerDailyLimit       int `json:"default_worker_daily_limit" yaml:"default_worker_daily_limit"`
	DefaultOrchestratorDailyLimit int `json:"default_orchestrator_daily_limit" yaml:"default_orchestrator_daily_limit"`
}

// LoggingConfig configures internal/gwlog.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// TelemetryConfig configures internal/telemetry.
type TelemetryConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Exporter     string `json:"exporter" yaml:"exporter"` // stdout | otlp
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
}

// HTTPConfig configures the gateway's HTTP server.
type HTTPConfig struct {
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	MaxBodyBytes int64         `json:"max_body_bytes" yaml:"max_body_bytes"`
}

// Option mutates a Config during construction; applied after env vars and
// any config file, so options take highest priority.
type Option func(*Config) error

// Default returns the gateway's zero-config defaults.
func Default() *Config {
	return &Config{
		Port:               8080,
		CredentialsFile:    "./data/credentials.json",
		TunnelsFile:        "./data/tunnels.json",
		PipelineStateFile:  "./data/pipeline_runs.json",
		PublicViewerTunnel: "PublicViewer",
		RateLimit: RateLimitConfig{
			PersistEvery:                  100,
			DefaultWorkerDailyLimit:       1000,
			DefaultOrchestratorDailyLimit: 1000000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Exporter: "stdout",
		},
		HTTP: HTTPConfig{
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodyBytes: 1 << 20,
		},
	}
}

// Load builds a Config from defaults, environment variables, an optional
// file (JSON or YAML, selected by extension, pointed to by
// AGENTTUNNEL_CONFIG_FILE or passed explicitly), and functional options, in
// that priority order.
func Load(configFile string, opts ...Option) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}

	if configFile == "" {
		configFile = os.Getenv("AGENTTUNNEL_CONFIG_FILE")
	}
	if configFile != "" {
		if err := cfg.loadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configFile, err)
		}
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("applying config option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile reads a JSON or YAML file into cfg, selected by extension.
// File settings override environment variables but are overridden by
// functional options. This completes the YAML branch the framework this
// gateway descends from left stubbed ("For YAML support, we'd need to
// import gopkg.in/yaml.v3" — never wired in).
func (c *Config) loadFromFile(path string) error {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return err
	}

	switch ext {
	case ".json":
		return json.Unmarshal(data, c)
	default:
		return yaml.Unmarshal(data, c)
	}
}

// loadFromEnv applies AGENTTUNNEL_* environment variables over the defaults.
func (c *Config) loadFromEnv() error {
	if v := os.Getenv("AGENTTUNNEL_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AGENTTUNNEL_PORT: %w", err)
		}
		c.Port = p
	}
	if v := os.Getenv("AGENTTUNNEL_CREDENTIALS_FILE"); v != "" {
		c.CredentialsFile = v
	}
	if v := os.Getenv("AGENTTUNNEL_TUNNELS_FILE"); v != "" {
		c.TunnelsFile = v
	}
	if v := os.Getenv("AGENTTUNNEL_PIPELINE_STATE_FILE"); v != "" {
		c.PipelineStateFile = v
	}
	if v := os.Getenv("AGENTTUNNEL_PUBLIC_VIEWER_TUNNEL"); v != "" {
		c.PublicViewerTunnel = v
	}
	if v := os.Getenv("AGENTTUNNEL_RATELIMIT_REDIS_URL"); v != "" {
		c.RateLimit.RedisURL = v
	}
	if v := os.Getenv("AGENTTUNNEL_RATELIMIT_PERSIST_EVERY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AGENTTUNNEL_RATELIMIT_PERSIST_EVERY: %w", err)
		}
		c.RateLimit.PersistEvery = n
	}
	if v := os.Getenv("AGENTTUNNEL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AGENTTUNNEL_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if os.Getenv("AGENTTUNNEL_K8S") != "" && os.Getenv("AGENTTUNNEL_LOG_FORMAT") == "" {
		c.Logging.Format = "json"
	}
	if v := os.Getenv("AGENTTUNNEL_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("AGENTTUNNEL_TELEMETRY_EXPORTER"); v != "" {
		c.Telemetry.Exporter = v
	}
	if v := os.Getenv("AGENTTUNNEL_TELEMETRY_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	return nil
}

// Validate checks invariants that must hold regardless of how the config
// was assembled.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.CredentialsFile == "" || c.TunnelsFile == "" || c.PipelineStateFile == "" {
		return fmt.Errorf("credentials_file, tunnels_file, and pipeline_state_file are required")
	}
	if c.RateLimit.PersistEvery <= 0 {
		return fmt.Errorf("rate_limit.persist_every must be positive")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
