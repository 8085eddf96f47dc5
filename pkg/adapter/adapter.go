package adapter

import (
	"context"

	"github.com/marmos91/dittochat/pkg/registry"
)

// Adapter is a network front-end managed by the core server.
//
// Each adapter accepts sockets for one protocol, performs whatever
// negotiation that protocol needs and hands authenticated connections to the
// shared session registry.
//
// Lifecycle:
//  1. Creation: the adapter is built with its protocol-specific configuration
//  2. Registry injection: SetRegistry() provides the session registry
//  3. Startup: Serve() binds the listener and blocks until shutdown
//  4. Shutdown: Stop() initiates graceful shutdown bounded by its context
//
// Thread safety:
// Implementations must be safe for concurrent use. SetRegistry() is called
// once before Serve(), but Stop() may be called concurrently with Serve().
type Adapter interface {
	// Serve binds the listener and blocks until the context is cancelled or
	// an unrecoverable error occurs.
	//
	// A bind failure is returned immediately and is fatal to startup. When
	// the context is cancelled Serve stops accepting, closes every socket
	// still in negotiation and returns nil.
	Serve(ctx context.Context) error

	// SetRegistry injects the registry authenticated connections are handed to.
	//
	// Called exactly once before Serve(), no synchronization needed.
	SetRegistry(reg *registry.Registry)

	// Stop initiates graceful shutdown.
	//
	// Implementations must be idempotent, safe to call concurrently with
	// Serve() and must respect the context deadline.
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging and metrics.
	Protocol() string

	// Port returns the TCP port the adapter listens on, or the configured
	// port before Serve() has bound it.
	Port() int
}
