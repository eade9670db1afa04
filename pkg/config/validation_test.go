package config

import (
	"strings"
	"testing"
)

func TestValidate_Defaults(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "VERBOSE" },
			wantErr: "oneof",
		},
		{
			name:    "unknown inventory type",
			mutate:  func(c *Config) { c.Inventory.Type = "postgres" },
			wantErr: "oneof",
		},
		{
			name:    "zero queue capacity",
			mutate:  func(c *Config) { c.Queue.Capacity = 0 },
			wantErr: "Capacity",
		},
		{
			name:    "negative loan period",
			mutate:  func(c *Config) { c.Loan.PeriodDays = -1 },
			wantErr: "PeriodDays",
		},
		{
			name:    "metrics port out of range",
			mutate:  func(c *Config) { c.Server.Metrics.Port = 70000 },
			wantErr: "Port",
		},
		{
			name:    "inbound path equals client prefix",
			mutate:  func(c *Config) { c.Channel.ClientPrefix = c.Channel.InboundPath },
			wantErr: "must differ",
		},
		{
			name: "flatfile without path",
			mutate: func(c *Config) {
				c.Inventory.Flatfile = map[string]any{}
			},
			wantErr: "path is required",
		},
		{
			name: "badger without db_path",
			mutate: func(c *Config) {
				c.Inventory.Type = "badger"
				c.Inventory.Badger = map[string]any{}
			},
			wantErr: "db_path is required",
		},
		{
			name: "s3 without bucket",
			mutate: func(c *Config) {
				c.Inventory.Type = "s3"
				c.Inventory.S3 = map[string]any{"region": "eu-west-1"}
			},
			wantErr: "bucket is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}
