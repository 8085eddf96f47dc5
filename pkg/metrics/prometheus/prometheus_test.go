package prometheus

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marmos91/dittochat/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMetricsExposed verifies recorded values show up on /metrics.
func TestMetricsExposed(t *testing.T) {
	metrics.InitRegistry()

	client := NewClientMetrics()
	store := NewStorageMetrics()

	client.RecordConnectionAccepted()
	client.RecordHandshake("ClientInit", "ack")
	client.SetSessions(2)
	store.RecordCall("ValidateUser", time.Millisecond, 2*time.Millisecond, errors.New("boom"))
	store.SetConfigured("SQLite", true)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "dittochat_connections_accepted_total 1")
	assert.Contains(t, body, `dittochat_handshake_messages_total{kind="ClientInit",outcome="ack"} 1`)
	assert.Contains(t, body, "dittochat_sessions 2")
	assert.Contains(t, body, `dittochat_storage_calls_total{operation="ValidateUser",status="error"} 1`)
	assert.Contains(t, body, `dittochat_storage_configured{backend="SQLite"} 1`)
}
