package config

import (
	"github.com/marmos91/dittoloan/pkg/metrics"
	promMetrics "github.com/marmos91/dittoloan/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// LoanMetrics is the collector used by the dispatcher and the server loop
	// (never nil, uses noop if disabled)
	LoanMetrics metrics.LoanMetrics
}

// InitializeMetrics creates all metrics components based on configuration.
//
// If metrics are enabled the global Prometheus registry is initialized and a
// metrics HTTP server is created. Otherwise the server is nil and the
// collector is a no-op.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			LoanMetrics: metrics.NewNoopLoanMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Server.Metrics.Port,
	})

	return &MetricsResult{
		Server:      server,
		LoanMetrics: promMetrics.NewLoanMetrics(),
	}
}
