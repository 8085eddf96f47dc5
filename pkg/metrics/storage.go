package metrics

import "time"

// StorageMetrics observes calls through the storage gate.
type StorageMetrics interface {
	// RecordCall records one backend call.
	//
	// Parameters:
	//   - operation: gate method name (e.g. "ValidateUser", "LogMessage")
	//   - wait: time spent waiting for the gate lock
	//   - duration: time spent inside the backend
	//   - err: the call's error, nil on success
	RecordCall(operation string, wait, duration time.Duration, err error)

	// RecordSync records one periodic flush.
	RecordSync(duration time.Duration, err error)

	// SetConfigured reports whether a backend has been committed.
	SetConfigured(backend string, configured bool)
}

// NewNoopStorageMetrics returns a StorageMetrics that discards everything.
func NewNoopStorageMetrics() StorageMetrics { return noopStorageMetrics{} }

type noopStorageMetrics struct{}

func (noopStorageMetrics) RecordCall(string, time.Duration, time.Duration, error) {}
func (noopStorageMetrics) RecordSync(time.Duration, error)                        {}
func (noopStorageMetrics) SetConfigured(string, bool)                             {}
