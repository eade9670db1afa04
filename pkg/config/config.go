package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config represents the complete DittoLoan configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOLOAN_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each inventory backend defines its own configuration type. The Config struct
// carries one untyped section per backend (inventory.flatfile, inventory.badger, ...)
// and only the section matching inventory.type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Channel configures the named channels and the session handshake
	Channel ChannelConfig `mapstructure:"channel" yaml:"channel"`

	// Queue configures the request queue between the accept loop and the worker
	Queue QueueConfig `mapstructure:"queue" yaml:"queue"`

	// Loan configures the lending rules
	Loan LoanConfig `mapstructure:"loan" yaml:"loan"`

	// Inventory selects and configures the inventory backend
	Inventory InventoryConfig `mapstructure:"inventory" yaml:"inventory"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for the worker to finish
	// its current request during shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// RateLimit throttles inbound messages
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig is a token bucket over the inbound channel.
// A zero MessagesPerSecond accepts messages as fast as they arrive.
type RateLimitConfig struct {
	MessagesPerSecond uint `mapstructure:"messages_per_second" yaml:"messages_per_second"`
	Burst             uint `mapstructure:"burst" yaml:"burst"`
}

// MetricsConfig controls the metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// ChannelConfig configures channel names and handshake timing.
type ChannelConfig struct {
	// InboundPath is the server's inbound channel
	InboundPath string `mapstructure:"inbound_path" yaml:"inbound_path" validate:"required"`

	// ClientPrefix is prepended to a client's id to name its outbound channel
	ClientPrefix string `mapstructure:"client_prefix" yaml:"client_prefix" validate:"required"`

	// HandshakeTimeout bounds both the client's wait for SUCCEEDED and the
	// server's open of the client channel
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout" validate:"gt=0"`

	// DisconnectTimeout bounds the client's wait for the server to close its channel
	DisconnectTimeout time.Duration `mapstructure:"disconnect_timeout" yaml:"disconnect_timeout" validate:"gt=0"`

	// WriteAttempts bounds how often the client writes START
	WriteAttempts int `mapstructure:"write_attempts" yaml:"write_attempts" validate:"gt=0"`

	// OpenRetryInterval spaces retries while a channel has no peer
	OpenRetryInterval time.Duration `mapstructure:"open_retry_interval" yaml:"open_retry_interval" validate:"gt=0"`
}

// QueueConfig configures the request queue.
type QueueConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity" validate:"gt=0"`
}

// LoanConfig configures lending rules.
type LoanConfig struct {
	// PeriodDays is the number of calendar days a borrow or renewal lasts
	PeriodDays int `mapstructure:"period_days" yaml:"period_days" validate:"gt=0,lte=3650"`
}

// InventoryConfig specifies the inventory backend.
//
// The Type field determines which backend is used.
// Only the corresponding type-specific configuration section is used.
type InventoryConfig struct {
	// Type specifies which backend to use
	// Valid values: flatfile, memory, badger, sqlite, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=flatfile memory badger sqlite s3"`

	// Flatfile contains flat-file configuration (path, output_path)
	Flatfile map[string]any `mapstructure:"flatfile" yaml:"flatfile,omitempty"`

	// Memory contains in-memory configuration (seed_path)
	Memory map[string]any `mapstructure:"memory" yaml:"memory,omitempty"`

	// Badger contains BadgerDB configuration (db_path, seed_path)
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`

	// Sqlite contains SQLite configuration (path, busy_timeout, seed_path)
	Sqlite map[string]any `mapstructure:"sqlite" yaml:"sqlite,omitempty"`

	// S3 contains S3 configuration (bucket, key, region, endpoint, credentials)
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// flagKeys maps CLI flag names to configuration keys. Only flags present in
// the flag set passed to Load and explicitly set by the user take effect.
var flagKeys = map[string]string{
	"pipe":      "channel.inbound_path",
	"database":  "inventory.flatfile.path",
	"output":    "inventory.flatfile.output_path",
	"log-level": "logging.level",
}

// Load loads configuration from file, environment, flags and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Flags in flags that were set on the command line
//  2. Environment variables (DITTOLOAN_*)
//  3. Configuration file
//  4. Default values
//
// Setting --database selects the flatfile backend regardless of inventory.type.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//   - flags: Parsed command-line flags, may be nil
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOLOAN_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOLOAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittoloan/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// An explicitly requested file that does not exist is an error.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}

	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}

	if f := flags.Lookup("database"); f != nil && f.Changed {
		v.Set("inventory.type", "flatfile")
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittoloan")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittoloan")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
