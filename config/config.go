// ABOUTME: Client configuration: defaults, then a YAML file, then .env, then BUILDPILOT_* environment variables.
// ABOUTME: Command-line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every setting the client reads.
type Config struct {
	Server          string          `yaml:"server"`
	RequestTimeout  time.Duration   `yaml:"request_timeout"`
	RefreshInterval time.Duration   `yaml:"refresh_interval"`
	Log             LogConfig       `yaml:"log"`
	Telemetry       TelemetryConfig `yaml:"telemetry"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig controls the OpenTelemetry file exporters.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:          "http://localhost:5000",
		RequestTimeout:  30 * time.Second,
		RefreshInterval: 2 * time.Second,
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: TelemetryConfig{Dir: filepath.Join(stateDir(), "telemetry")},
	}
}

// DefaultPath is where Load looks when no config file is named.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "buildpilot", "config.yaml")
}

// DefaultLogFile is the log destination used when the terminal UI owns stderr.
func DefaultLogFile() string {
	return filepath.Join(stateDir(), "buildpilot.log")
}

func stateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "buildpilot")
	}
	return filepath.Join(os.TempDir(), "buildpilot")
}

// Load builds the configuration. An empty path falls back to DefaultPath
// and a missing default file is not an error; an explicitly named file must
// exist. An empty envFile means ".env" in the working directory, if present.
// Variables already set in the environment win over .env entries.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	if envFile == "" {
		envFile = ".env"
		if _, err := os.Stat(envFile); err != nil {
			envFile = ""
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("BUILDPILOT_SERVER"); v != "" {
		c.Server = v
	}
	if v := os.Getenv("BUILDPILOT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("BUILDPILOT_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("BUILDPILOT_TELEMETRY_DIR"); v != "" {
		c.Telemetry.Dir = v
	}
	if v := os.Getenv("BUILDPILOT_TELEMETRY"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BUILDPILOT_TELEMETRY: %w", err)
		}
		c.Telemetry.Enabled = on
	}
	if v := os.Getenv("BUILDPILOT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BUILDPILOT_TIMEOUT: %w", err)
		}
		c.RequestTimeout = d
	}
	if v := os.Getenv("BUILDPILOT_REFRESH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BUILDPILOT_REFRESH_INTERVAL: %w", err)
		}
		c.RefreshInterval = d
	}
	return nil
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server must be an http(s) URL, got %q", c.Server)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("refresh_interval must not be negative, got %s", c.RefreshInterval)
	}
	return nil
}
