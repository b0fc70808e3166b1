// Package config provides unified configuration for schemaengine's CLI and
// test harnesses: an engine path, a default schema mode, async-open
// timeouts, and a log level, loadable from JSON, YAML, or environment
// variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arkilian/schemaengine/pkg/schema"
)

// Config holds the configuration for a schemaengine CLI invocation or test
// harness.
type Config struct {
	// DataDir is the base directory holding the SQLite-backed engine file.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// DefaultMode is the schema mode applied when a caller does not
	// specify one explicitly.
	DefaultMode string `json:"default_mode" yaml:"default_mode"`

	// LogLevel names a verbosity: "debug", "info", or "quiet". Validate
	// checks the value; no other code reads it.
	LogLevel string `json:"log_level" yaml:"log_level"`

	AsyncOpen AsyncOpenConfig `json:"async_open" yaml:"async_open"`
}

// AsyncOpenConfig holds async-open settings as loaded from a config file.
// No code in this module reads these fields: asyncopen.Task.Start takes
// its deadlines from the caller's context and its rerun flag from
// asyncopen.Config.
type AsyncOpenConfig struct {
	// DownloadTimeout is the configured limit for the initial-download wait.
	DownloadTimeout time.Duration `json:"download_timeout" yaml:"download_timeout"`

	// UploadTimeout is the configured limit for the upload-before-migration wait.
	UploadTimeout time.Duration `json:"upload_timeout" yaml:"upload_timeout"`

	// RerunInitSubscriptionOnOpen is the configured value for rerunning the
	// subscription initializer on a file that already has a completed
	// subscription.
	RerunInitSubscriptionOnOpen bool `json:"rerun_init_subscription_on_open" yaml:"rerun_init_subscription_on_open"`
}

// EnginePath returns the path to the SQLite-backed engine file.
func (c *Config) EnginePath() string {
	return filepath.Join(c.DataDir, "schemaengine.db")
}

// Mode parses DefaultMode into a schema.Mode.
func (c *Config) Mode() (schema.Mode, error) {
	switch strings.ToLower(c.DefaultMode) {
	case "automatic":
		return schema.ModeAutomatic, nil
	case "immutable":
		return schema.ModeImmutable, nil
	case "readonly":
		return schema.ModeReadOnly, nil
	case "softresetfile":
		return schema.ModeSoftResetFile, nil
	case "hardresetfile":
		return schema.ModeHardResetFile, nil
	case "additivediscovered":
		return schema.ModeAdditiveDiscovered, nil
	case "additiveexplicit":
		return schema.ModeAdditiveExplicit, nil
	case "manual":
		return schema.ModeManual, nil
	default:
		return 0, fmt.Errorf("config: unknown default_mode %q", c.DefaultMode)
	}
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir:     "./data/schemaengine",
		DefaultMode: "automatic",
		LogLevel:    "info",
		AsyncOpen: AsyncOpenConfig{
			DownloadTimeout: 5 * time.Minute,
			UploadTimeout:   5 * time.Minute,
		},
	}
}

// Resolve fills in DataDir-relative defaults left unset.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/schemaengine"
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if _, err := c.Mode(); err != nil {
		return err
	}
	switch c.LogLevel {
	case "debug", "info", "quiet":
	default:
		return fmt.Errorf("config: invalid log_level %q (must be debug, info, or quiet)", c.LogLevel)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file, layered over
// DefaultConfig.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported config file format: %s", ext)
	}

	cfg.Resolve()
	return cfg, nil
}

// LoadFromEnv overlays environment variables (SCHEMAENGINE_ prefix) onto
// an existing config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("SCHEMAENGINE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SCHEMAENGINE_DEFAULT_MODE"); v != "" {
		cfg.DefaultMode = v
	}
	if v := os.Getenv("SCHEMAENGINE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SCHEMAENGINE_ASYNC_OPEN_DOWNLOAD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AsyncOpen.DownloadTimeout = d
		}
	}
	if v := os.Getenv("SCHEMAENGINE_ASYNC_OPEN_UPLOAD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AsyncOpen.UploadTimeout = d
		}
	}
}

// EnsureDataDir creates the data directory if it does not already exist.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("config: failed to create data directory %s: %w", c.DataDir, err)
	}
	return nil
}
