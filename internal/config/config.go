// ABOUTME: Configuration loading and parsing for the otto client and fake backend
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultStreamPath is the backend's streaming endpoint.
	DefaultStreamPath = "/api/otto/stream"
	// DefaultFakeBackendAddr is where the fake backend listens by default.
	DefaultFakeBackendAddr = "127.0.0.1:8765"
	// EnvConfigPath names the environment variable pointing at a config file.
	EnvConfigPath = "OTTO_CONFIG"
)

// Config represents the complete otto configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Auth        AuthConfig        `yaml:"auth" toml:"auth"`
	Storage     StorageConfig     `yaml:"storage" toml:"storage"`
	Page        PageConfig        `yaml:"page" toml:"page"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	Tailscale   TailscaleConfig   `yaml:"tailscale" toml:"tailscale"`
	FakeBackend FakeBackendConfig `yaml:"fake_backend" toml:"fake_backend"`
}

// ServerConfig locates the Otto backend
type ServerConfig struct {
	URL        string `yaml:"url" toml:"url"`
	StreamPath string `yaml:"stream_path" toml:"stream_path"`

	// DialTimeout bounds connection setup only; streams have no timeout.
	DialTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	DialTimeoutRaw string `yaml:"dial_timeout" toml:"dial_timeout"`
}

// AuthConfig holds the bearer token sources
type AuthConfig struct {
	Token     string `yaml:"token" toml:"token"`
	TokenFile string `yaml:"token_file" toml:"token_file"`
}

// StorageConfig holds transcript persistence configuration. An empty path
// disables persistence.
type StorageConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// PageConfig holds the page context sent with each turn
type PageConfig struct {
	Key string `yaml:"key" toml:"key"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// TailscaleConfig holds Tailscale tsnet configuration for reaching a
// backend on a tailnet
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// FakeBackendConfig holds the development backend's settings
type FakeBackendConfig struct {
	Addr  string `yaml:"addr" toml:"addr"`
	Token string `yaml:"token" toml:"token"`
	// JWTSecret switches token checks to HS256 verification.
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`

	// StepDelay is the pause between streamed frames.
	StepDelay time.Duration `yaml:"-" toml:"-"`
	// ReplayWindow is how long repeated form submissions are detected.
	ReplayWindow time.Duration `yaml:"-" toml:"-"`

	StepDelayRaw    string `yaml:"step_delay" toml:"step_delay"`
	ReplayWindowRaw string `yaml:"replay_window" toml:"replay_window"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, FormatOf(path))
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Format is a config file syntax.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes data in the given format, expands environment variables,
// parses durations and fills defaults. It does not validate.
func Parse(data []byte, format Format) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// DefaultPath returns the config file to use when none is given: $OTTO_CONFIG,
// then ./otto.yaml or ./otto.toml, then $XDG_CONFIG_HOME/otto/config.yaml.
// The returned file may not exist.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	for _, p := range []string{"otto.yaml", "otto.toml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "otto.yaml"
	}
	return filepath.Join(dir, "otto", "config.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.StreamPath == "" {
		c.Server.StreamPath = DefaultStreamPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Tailscale.Hostname == "" {
		c.Tailscale.Hostname = "otto-cli"
	}
	if c.FakeBackend.Addr == "" {
		c.FakeBackend.Addr = DefaultFakeBackendAddr
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.url must be http or https, got %q", c.Server.URL)
	}
	if !strings.HasPrefix(c.Server.StreamPath, "/") {
		return fmt.Errorf("server.stream_path must start with /, got %q", c.Server.StreamPath)
	}
	if c.Server.DialTimeout < 0 {
		return fmt.Errorf("server.dial_timeout must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.DialTimeoutRaw != "" {
		cfg.Server.DialTimeout, err = time.ParseDuration(cfg.Server.DialTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing dial_timeout %q: %w", cfg.Server.DialTimeoutRaw, err)
		}
	}

	if cfg.FakeBackend.StepDelayRaw != "" {
		cfg.FakeBackend.StepDelay, err = time.ParseDuration(cfg.FakeBackend.StepDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing step_delay %q: %w", cfg.FakeBackend.StepDelayRaw, err)
		}
	}

	if cfg.FakeBackend.ReplayWindowRaw != "" {
		cfg.FakeBackend.ReplayWindow, err = time.ParseDuration(cfg.FakeBackend.ReplayWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing replay_window %q: %w", cfg.FakeBackend.ReplayWindowRaw, err)
		}
	}

	return nil
}
