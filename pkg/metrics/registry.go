// Package metrics defines the observability hooks of the core components.
//
// Components take a ClientMetrics or StorageMetrics and substitute the no-op
// implementation for nil. The Prometheus implementations in
// pkg/metrics/prometheus register into the process-wide registry held here.
//
// Wiring, as done by config.InitializeMetrics when metrics are enabled:
//
//	metrics.InitRegistry()
//	clientMetrics := prometheus.NewClientMetrics()
//	storageMetrics := prometheus.NewStorageMetrics()
//	server := metrics.NewServer(metrics.ServerConfig{Port: 9090})
//
// Without InitRegistry, prometheus.NewClientMetrics and NewStorageMetrics
// hand back the no-op implementations and the metrics server answers
// /metrics with 503.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry. Later calls keep the first
// one. It must run before the Prometheus constructors for their collectors
// to be registered at all.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the registry, or nil before InitRegistry.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has run.
func IsEnabled() bool {
	return GetRegistry() != nil
}
