// Package config loads coordinator configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values exported for documentation and validation
const (
	DefaultBackendURL   = "http://127.0.0.1:8080"
	DefaultIPCBind      = "127.0.0.1:4490"
	DefaultFreeModel    = "atlas-lite"
	DefaultReclaimDelay = 2 * time.Second
	DefaultDBPath       = "switchboard.db"
	DefaultLogDir       = "logs"
)

// Config represents the complete coordinator configuration.
type Config struct {
	Backend Backend `yaml:"backend"`
	Presets Presets `yaml:"presets"`
	Reclaim Reclaim `yaml:"reclaim"`
	Bus     Bus     `yaml:"bus"`
	IPC     IPC     `yaml:"ipc"`
	Storage Storage `yaml:"storage"`
	Logging Logging `yaml:"logging"`
	Tracing Tracing `yaml:"tracing"`
}

// Backend points at the chat backend the coordinator consumes.
type Backend struct {
	// URL is the base URL for the model catalog, preferences,
	// conversations and the message pipeline.
	URL string `yaml:"url"`

	// CSRFToken is attached to every outbound request when set.
	CSRFToken string `yaml:"csrf_token"`
}

// Presets configures the slot bindings applied at startup.
type Presets struct {
	// FreeModel is the model pinned to the last slot. It must exist in
	// the catalog; startup fails otherwise.
	FreeModel string `yaml:"free_model"`

	// Defaults maps slot numbers (1-5) to model IDs. Unknown models
	// fall back to the free model at bind time.
	Defaults map[int]string `yaml:"defaults"`
}

// Reclaim configures the idle conversation sweeper.
type Reclaim struct {
	// Delay is the ceiling before a sweep runs when no idle signal
	// arrives first.
	Delay time.Duration `yaml:"delay"`
}

// Bus configures the internal message bus.
type Bus struct {
	// NATSURL enables the NATS-backed bus when set; empty selects the
	// in-memory bus.
	NATSURL string `yaml:"nats_url"`
}

// IPC configures the local control surface.
type IPC struct {
	Bind string `yaml:"bind"`
}

// Storage configures local persistence.
type Storage struct {
	DBPath string `yaml:"db_path"`
}

// Logging configures the JSONL log files.
type Logging struct {
	Dir      string `yaml:"dir"`
	MinLevel string `yaml:"min_level"`
}

// Tracing enables the stdout trace exporter.
type Tracing struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend: Backend{URL: DefaultBackendURL},
		Presets: Presets{FreeModel: DefaultFreeModel},
		Reclaim: Reclaim{Delay: DefaultReclaimDelay},
		IPC:     IPC{Bind: DefaultIPCBind},
		Storage: Storage{DBPath: DefaultDBPath},
		Logging: Logging{Dir: DefaultLogDir, MinLevel: "info"},
	}
}

// Load loads configuration from default locations with proper precedence:
// defaults, then ~/.switchboard/config.yaml, then ./.switchboard/config.yaml,
// then environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".switchboard", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	projectConfigPath := filepath.Join(".", ".switchboard", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SWITCHBOARD_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("SWITCHBOARD_CSRF_TOKEN"); v != "" {
		cfg.Backend.CSRFToken = v
	}
	if v := os.Getenv("SWITCHBOARD_FREE_MODEL"); v != "" {
		cfg.Presets.FreeModel = v
	}
	if v := strings.TrimSpace(os.Getenv("SWITCHBOARD_RECLAIM_DELAY")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Reclaim.Delay = d
		}
	}
	if v := os.Getenv("SWITCHBOARD_NATS_URL"); v != "" {
		cfg.Bus.NATSURL = v
	}
	if v := os.Getenv("SWITCHBOARD_IPC_BIND"); v != "" {
		cfg.IPC.Bind = v
	}
	if v := os.Getenv("SWITCHBOARD_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("SWITCHBOARD_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv("SWITCHBOARD_LOG_LEVEL"); v != "" {
		cfg.Logging.MinLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("SWITCHBOARD_TRACING")); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Tracing.Enabled = enabled
		}
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.URL) == "" {
		return fmt.Errorf("backend.url cannot be empty")
	}
	if strings.TrimSpace(c.Presets.FreeModel) == "" {
		return fmt.Errorf("presets.free_model cannot be empty")
	}
	for slot := range c.Presets.Defaults {
		if slot < 1 || slot > 5 {
			return fmt.Errorf("presets.defaults: slot %d out of range (the last slot is reserved for the free model)", slot)
		}
	}
	if c.Reclaim.Delay < 0 {
		return fmt.Errorf("reclaim.delay cannot be negative")
	}
	if c.IPC.Bind != "" {
		if _, _, err := net.SplitHostPort(c.IPC.Bind); err != nil {
			return fmt.Errorf("ipc.bind: %w", err)
		}
	}
	return nil
}

// ApplyEnvOverridesForTest exposes env override logic for tests without file I/O.
func ApplyEnvOverridesForTest(cfg *Config) {
	applyEnvOverrides(cfg)
}
