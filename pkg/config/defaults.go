package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittoloan/pkg/channel"
	"github.com/marmos91/dittoloan/pkg/inventory"
	"github.com/marmos91/dittoloan/pkg/server"
	"github.com/marmos91/dittoloan/pkg/session"
)

const (
	DefaultInboundPath   = "/tmp/dittoloan_server"
	DefaultInventoryPath = "inventory.txt"
	DefaultMetricsPort   = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults, explicit values are preserved.
// Backend-specific defaults beyond the ones below are handled by the backends.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyChannelDefaults(&cfg.Channel)
	applyQueueDefaults(&cfg.Queue)
	applyLoanDefaults(&cfg.Loan)
	applyInventoryDefaults(&cfg.Inventory)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = server.DefaultShutdownTimeout
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = DefaultMetricsPort
	}
}

func applyChannelDefaults(cfg *ChannelConfig) {
	if cfg.InboundPath == "" {
		cfg.InboundPath = DefaultInboundPath
	}
	if cfg.ClientPrefix == "" {
		cfg.ClientPrefix = session.DefaultClientPrefix
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = session.DefaultHandshakeTimeout
	}
	if cfg.DisconnectTimeout == 0 {
		cfg.DisconnectTimeout = session.DefaultDisconnectTimeout
	}
	if cfg.WriteAttempts == 0 {
		cfg.WriteAttempts = session.DefaultWriteAttempts
	}
	if cfg.OpenRetryInterval == 0 {
		cfg.OpenRetryInterval = channel.DefaultRetryInterval
	}
}

func applyQueueDefaults(cfg *QueueConfig) {
	if cfg.Capacity == 0 {
		cfg.Capacity = server.DefaultQueueCapacity
	}
}

func applyLoanDefaults(cfg *LoanConfig) {
	if cfg.PeriodDays == 0 {
		cfg.PeriodDays = inventory.DefaultLoanDays
	}
}

// applyInventoryDefaults sets the backend type and the flat-file path.
func applyInventoryDefaults(cfg *InventoryConfig) {
	if cfg.Type == "" {
		cfg.Type = "flatfile"
	}

	if cfg.Flatfile == nil {
		cfg.Flatfile = make(map[string]any)
	}
	if _, ok := cfg.Flatfile["path"]; !ok {
		cfg.Flatfile["path"] = DefaultInventoryPath
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{
		Inventory: InventoryConfig{
			Badger: map[string]any{
				"db_path": "/tmp/dittoloan-badger",
			},
			Sqlite: map[string]any{
				"path":         "/tmp/dittoloan.db",
				"busy_timeout": (5 * time.Second).String(),
			},
			S3: map[string]any{
				"bucket": "dittoloan",
				"key":    "inventory.txt",
				"region": "us-east-1",
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
