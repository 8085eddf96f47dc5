package metrics

// ClientMetrics observes the client-facing listener: accepted sockets,
// pre-authentication connections, handshake outcomes and live sessions.
//
// The acceptor uses a no-op implementation when given nil.
type ClientMetrics interface {
	// RecordConnectionAccepted counts a socket accepted by the listener.
	RecordConnectionAccepted()

	// RecordConnectionRejected counts a socket refused before the handshake,
	// for instance by the connection limit or the accept rate limiter.
	RecordConnectionRejected(reason string)

	// SetPendingConnections reports the number of sockets still in the handshake.
	SetPendingConnections(count int)

	// RecordHandshake counts one handled handshake message.
	//
	// Parameters:
	//   - kind: message kind (e.g. "ClientInit", "ClientLogin")
	//   - outcome: "ack", "reject" or "closed"
	RecordHandshake(kind, outcome string)

	// RecordHandOff counts a socket delivered to a session.
	RecordHandOff()

	// SetSessions reports the number of live sessions.
	SetSessions(count int)
}

// NewNoopClientMetrics returns a ClientMetrics that discards everything.
func NewNoopClientMetrics() ClientMetrics { return noopClientMetrics{} }

type noopClientMetrics struct{}

func (noopClientMetrics) RecordConnectionAccepted()            {}
func (noopClientMetrics) RecordConnectionRejected(string)      {}
func (noopClientMetrics) SetPendingConnections(int)            {}
func (noopClientMetrics) RecordHandshake(kind, outcome string) {}
func (noopClientMetrics) RecordHandOff()                       {}
func (noopClientMetrics) SetSessions(int)                      {}
