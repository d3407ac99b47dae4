package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Identity IdentityConfig `toml:"identity"`
	Transfer TransferConfig `toml:"transfer"`
	Log      LogConfig      `toml:"log"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// IdentityConfig locates the PLC directory and the entryway used for shortcut resolution.
type IdentityConfig struct {
	PLCURL         string `toml:"plc_url"`
	EntrywayDomain string `toml:"entryway_domain"`
	EntrywayURL    string `toml:"entryway_url"`
}

// TransferConfig tunes blob transfer and HTTP behavior.
type TransferConfig struct {
	PageSize       int     `toml:"page_size"`
	ProgressEvery  int     `toml:"progress_every"`
	BlobRateLimit  float64 `toml:"blob_rate_limit"`
	BlobBurst      int     `toml:"blob_burst"`
	ListingRetries int     `toml:"listing_retries"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Timeout returns the HTTP client timeout; zero means no timeout.
func (t TransferConfig) Timeout() time.Duration {
	if t.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// Validate reports settings that would make a migration misbehave.
func (c *Config) Validate() error {
	if c.Identity.PLCURL == "" {
		return fmt.Errorf("%w: identity.plc_url is required", ErrInvalidConfig)
	}
	if c.Identity.EntrywayDomain != "" && c.Identity.EntrywayURL == "" {
		return fmt.Errorf("%w: identity.entryway_url is required when entryway_domain is set", ErrInvalidConfig)
	}
	if c.Transfer.PageSize <= 0 || c.Transfer.PageSize > 1000 {
		return fmt.Errorf("%w: transfer.page_size must be between 1 and 1000", ErrInvalidConfig)
	}
	if c.Transfer.BlobRateLimit < 0 {
		return fmt.Errorf("%w: transfer.blob_rate_limit must not be negative", ErrInvalidConfig)
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the values of [DefaultConfig].
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
