package config

import (
	"github.com/marmos91/dittochat/pkg/metrics"
	promMetrics "github.com/marmos91/dittochat/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// ClientMetrics records acceptor, handshake and session activity (never nil)
	ClientMetrics metrics.ClientMetrics

	// StorageMetrics records gate calls and syncs (never nil)
	StorageMetrics metrics.StorageMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			ClientMetrics:  metrics.NewNoopClientMetrics(),
			StorageMetrics: metrics.NewNoopStorageMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Server.Metrics.Port,
	})

	return &MetricsResult{
		Server:         server,
		ClientMetrics:  promMetrics.NewClientMetrics(),
		StorageMetrics: promMetrics.NewStorageMetrics(),
	}
}
