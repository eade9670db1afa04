// Package metrics defines what the DittoLoan server reports about loans:
// book requests by operation and outcome, handshakes, open sessions, queue
// depth and late renewals (see LoanMetrics).
//
// Reporting is off unless server.metrics.enabled is set. The dispatcher and
// the server loop then receive a no-op LoanMetrics; otherwise
// config.InitializeMetrics registers the dittoloan_* collectors from the
// prometheus subpackage on a private registry and serves it over HTTP:
//
//	m := config.InitializeMetrics(cfg)
//	d := dispatch.New(reg, hs, inv, m.LoanMetrics)
//	srv := server.New(serverCfg, d, reg, m.LoanMetrics)
//	if m.Server != nil {
//		go m.Server.Start(ctx)
//	}
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// registry holds the dittoloan_* collectors. It is set once by
	// InitRegistry and nil while reporting is off.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the registry the loan collectors are registered on.
//
// It must run before prometheus.NewLoanMetrics; later calls do nothing.
// Without it NewLoanMetrics returns the no-op LoanMetrics and the /metrics
// endpoint has nothing to serve.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the loan metrics registry, or nil when reporting is off.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether loan metrics are being collected.
func IsEnabled() bool {
	return GetRegistry() != nil
}
