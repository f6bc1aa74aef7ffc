// Package config handles DentalDesk configuration loading: a YAML file with
// ${VAR} environment expansion, plus environment variable overrides for
// secrets that should not live in files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all DentalDesk configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Database DatabaseConfig `yaml:"database"`
	Planner  PlannerConfig  `yaml:"planner"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Engine   EngineConfig   `yaml:"engine"`
	Log      LogConfig      `yaml:"log"`
}

// ListenConfig defines the webhook HTTP server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default "" = all interfaces)
	Port    int    `yaml:"port"`
}

// DatabaseConfig defines the SQLite database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PlannerConfig selects and configures the LLM backend.
type PlannerConfig struct {
	// Provider is one of "openai", "anthropic" or "mock".
	Provider string `yaml:"provider"`
	// Model overrides the provider's default model name.
	Model string `yaml:"model"`
	// APIKey overrides OPENAI_API_KEY / ANTHROPIC_API_KEY.
	APIKey string `yaml:"api_key"`
}

// WhatsAppConfig defines Meta Cloud API credentials.
type WhatsAppConfig struct {
	AccessToken   string `yaml:"access_token"`
	PhoneNumberID string `yaml:"phone_number_id"`
	APIVersion    string `yaml:"api_version"`
	VerifyToken   string `yaml:"verify_token"`
}

// EngineConfig tunes the orchestration engine.
type EngineConfig struct {
	MaxToolRounds      int `yaml:"max_tool_rounds"`
	IdleTimeoutMinutes int `yaml:"idle_timeout_minutes"`
	// SweepIntervalMinutes is how often the timeout sweep runs. Defaults to
	// the idle timeout.
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
}

// LogConfig defines logging behavior.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:   ListenConfig{Port: 8000},
		Database: DatabaseConfig{Path: "data/dentaldesk.db"},
		Planner:  PlannerConfig{Provider: "openai"},
		WhatsApp: WhatsAppConfig{APIVersion: "v21.0"},
		Engine: EngineConfig{
			MaxToolRounds:      8,
			IdleTimeoutMinutes: 30,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// DefaultSearchPaths returns the config file search order. An explicit path
// (from -config) is checked first by FindConfig; then ./config.yaml,
// ~/.config/dentaldesk/config.yaml, /etc/dentaldesk/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "dentaldesk", "config.yaml"))
	}
	paths = append(paths, "/etc/dentaldesk/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty it must exist.
// Otherwise the search paths are tried in order; not finding one is not an
// error-worthy state for the caller, so it returns "" then.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// Load reads a YAML config file, expanding ${VAR} references from the
// environment, then applies environment overrides on top. An empty path
// loads defaults plus environment overrides only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv maps the environment variables the deployment guide documents
// onto the config, overriding file values.
func (c *Config) applyEnv() {
	overrideString(&c.Database.Path, "DENTALDESK_DB_PATH")
	overrideString(&c.Planner.Provider, "DENTALDESK_PLANNER_PROVIDER")
	overrideString(&c.Planner.Model, "DENTALDESK_PLANNER_MODEL")
	overrideString(&c.WhatsApp.AccessToken, "META_ACCESS_TOKEN")
	overrideString(&c.WhatsApp.PhoneNumberID, "META_PHONE_NUMBER_ID")
	overrideString(&c.WhatsApp.APIVersion, "GRAPH_API_VERSION")
	overrideString(&c.WhatsApp.VerifyToken, "META_VERIFY_TOKEN")
	overrideString(&c.Log.Level, "DENTALDESK_LOG_LEVEL")

	if v := os.Getenv("FAST_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Listen.Port = port
		}
	}
	if v := os.Getenv("CONVERSATION_TIMEOUT_MINUTES"); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil && minutes > 0 {
			c.Engine.IdleTimeoutMinutes = minutes
		}
	}
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// IdleTimeout returns the engine idle timeout as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Engine.IdleTimeoutMinutes) * time.Minute
}

// SweepInterval returns how often the timeout sweep should run.
func (c *Config) SweepInterval() time.Duration {
	if c.Engine.SweepIntervalMinutes > 0 {
		return time.Duration(c.Engine.SweepIntervalMinutes) * time.Minute
	}
	return c.IdleTimeout()
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	switch c.Planner.Provider {
	case "openai", "anthropic", "mock":
	default:
		return fmt.Errorf("unknown planner provider %q", c.Planner.Provider)
	}
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("invalid listen port %d", c.Listen.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	return nil
}
