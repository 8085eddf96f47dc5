package prometheus

import (
	"time"

	"github.com/marmos91/dittochat/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storageMetrics is the Prometheus implementation of metrics.StorageMetrics.
type storageMetrics struct {
	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	lockWait     prometheus.Histogram
	syncsTotal   *prometheus.CounterVec
	syncDuration prometheus.Histogram
	configured   *prometheus.GaugeVec
}

// NewStorageMetrics creates a Prometheus-backed StorageMetrics.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewStorageMetrics() metrics.StorageMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopStorageMetrics()
	}

	reg := metrics.GetRegistry()
	buckets := []float64{
		0.0001, // 100µs
		0.001,  // 1ms
		0.005,  // 5ms
		0.025,  // 25ms
		0.1,    // 100ms
		0.5,    // 500ms
		2.5,    // 2.5s
	}

	return &storageMetrics{
		callsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittochat_storage_calls_total",
				Help: "Storage gate calls by operation and status",
			},
			[]string{"operation", "status"},
		),
		callDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dittochat_storage_call_duration_seconds",
				Help:    "Time spent inside the storage backend",
				Buckets: buckets,
			},
			[]string{"operation"},
		),
		lockWait: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittochat_storage_lock_wait_seconds",
				Help:    "Time spent waiting for the storage gate lock",
				Buckets: buckets,
			},
		),
		syncsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittochat_storage_syncs_total",
				Help: "Periodic storage flushes by status",
			},
			[]string{"status"},
		),
		syncDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittochat_storage_sync_duration_seconds",
				Help:    "Duration of periodic storage flushes",
				Buckets: buckets,
			},
		),
		configured: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dittochat_storage_configured",
				Help: "1 when the labelled backend is committed",
			},
			[]string{"backend"},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *storageMetrics) RecordCall(operation string, wait, duration time.Duration, err error) {
	m.callsTotal.WithLabelValues(operation, status(err)).Inc()
	m.callDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.lockWait.Observe(wait.Seconds())
}

func (m *storageMetrics) RecordSync(duration time.Duration, err error) {
	m.syncsTotal.WithLabelValues(status(err)).Inc()
	m.syncDuration.Observe(duration.Seconds())
}

func (m *storageMetrics) SetConfigured(backend string, configured bool) {
	v := 0.0
	if configured {
		v = 1
	}
	m.configured.WithLabelValues(backend).Set(v)
}
