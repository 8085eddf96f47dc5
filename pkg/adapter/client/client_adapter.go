package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittochat/internal/logger"
	"github.com/marmos91/dittochat/internal/protocol/frame"
	"github.com/marmos91/dittochat/internal/protocol/handshake"
	"github.com/marmos91/dittochat/internal/ratelimiter"
	"github.com/marmos91/dittochat/pkg/metrics"
	"github.com/marmos91/dittochat/pkg/registry"
)

// ClientAdapter accepts front-end client sockets and runs the handshake on
// them until they are rejected or handed to a session.
//
// Architecture:
// One acceptance goroutine (the one running Serve) owns every pending
// socket. Accepting and reading are done by small I/O pump goroutines that
// forward what they get as events; the acceptance goroutine answers each
// message before the pump reads the next one. This keeps per-socket message
// order, lets the acceptance goroutine switch a socket to TLS or compression
// while nothing is reading from it, and stops all reads the moment a socket
// is handed off.
//
// While the core is unconfigured the listener is closed as soon as one
// client connects, so first-run setup is done over a single connection. It
// reopens when that client disconnects or completes setup.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. Every pending socket is closed
//  4. Wait for pumps and in-flight hand-offs (up to ShutdownTimeout)
type ClientAdapter struct {
	config     Config
	handshaker *handshake.Handshaker
	tlsConfig  *tls.Config
	configured func() bool
	registry   *registry.Registry
	metrics    metrics.ClientMetrics
	limiter    *ratelimiter.Limiter

	// mu guards the listener fields, which Port and Stop read from other goroutines.
	mu        sync.Mutex
	listener  net.Listener
	boundPort int

	events chan event

	// pending is owned by the acceptance goroutine.
	pending map[string]*PendingConnection

	// connSemaphore bounds sockets in negotiation when MaxConnections > 0.
	connSemaphore chan struct{}

	// workers tracks pumps and hand-offs for graceful shutdown.
	workers sync.WaitGroup

	started        atomic.Bool
	shutdownOnce   sync.Once
	shutdown       chan struct{}
	loopDone       chan struct{}
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc
}

// Config holds the client listener settings.
//
// Default values (applied by New if zero):
//   - Port: 4242
//   - HandshakeTimeout: 2m (negative disables)
//   - MaxFrameSize: 16 MiB
//   - ShutdownTimeout: 30s
type Config struct {
	// Enabled controls whether the client listener is started.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// BindAddress restricts the listener to one address. Empty listens on
	// all interfaces, dual-stack when the host allows it.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the TCP port to listen on. 0 selects the default.
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`

	// MaxConnections limits sockets that have not completed the handshake.
	// 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"min=0"`

	// HandshakeTimeout bounds how long a socket may stay unauthenticated.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`

	// MaxFrameSize caps a single inbound payload in bytes.
	MaxFrameSize uint32 `mapstructure:"max_frame_size" yaml:"max_frame_size"`

	// AcceptRate limits accepted connections per second. 0 disables.
	AcceptRate float64 `mapstructure:"accept_rate" yaml:"accept_rate" validate:"min=0"`

	// AcceptBurst is the burst allowed above AcceptRate.
	AcceptBurst int `mapstructure:"accept_burst" yaml:"accept_burst" validate:"min=0"`

	// ShutdownTimeout bounds graceful shutdown when Stop has no deadline.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"min=0"`
}

// DefaultPort is the well-known client port.
const DefaultPort = 4242

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 2 * time.Minute
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = frame.DefaultMaxFrameSize
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Options carries the collaborators of a ClientAdapter.
type Options struct {
	Handshaker *handshake.Handshaker

	// TLSConfig is used for StartTLS. It must be non-nil whenever the
	// handshaker advertises TLS support.
	TLSConfig *tls.Config

	// Configured reports whether storage is committed. Nil means always.
	Configured func() bool

	Metrics metrics.ClientMetrics
}

// New creates a stopped ClientAdapter. Call SetRegistry and then Serve.
func New(config Config, opts Options) *ClientAdapter {
	config.applyDefaults()

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("Client connection limit: %d", config.MaxConnections)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopClientMetrics()
	}
	if opts.Configured == nil {
		opts.Configured = func() bool { return true }
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &ClientAdapter{
		config:         config,
		handshaker:     opts.Handshaker,
		tlsConfig:      opts.TLSConfig,
		configured:     opts.Configured,
		metrics:        opts.Metrics,
		limiter:        ratelimiter.New(config.AcceptRate, config.AcceptBurst),
		events:         make(chan event, 64),
		pending:        make(map[string]*PendingConnection),
		connSemaphore:  connSemaphore,
		shutdown:       make(chan struct{}),
		loopDone:       make(chan struct{}),
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

// SetRegistry injects the session registry.
func (a *ClientAdapter) SetRegistry(reg *registry.Registry) {
	a.registry = reg
}

// Serve binds the listener and runs the acceptance loop until ctx ends or
// Stop is called.
func (a *ClientAdapter) Serve(ctx context.Context) error {
	if a.handshaker == nil {
		return errors.New("client adapter has no handshaker")
	}
	if err := a.startListening(); err != nil {
		return err
	}
	a.started.Store(true)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Client listener shutdown signal received: %v", ctx.Err())
			a.initiateShutdown()
		case <-a.shutdown:
		}
	}()

	a.loop()
	return a.gracefulShutdown(a.config.ShutdownTimeout)
}

// Stop initiates shutdown and waits for pumps and hand-offs to finish.
func (a *ClientAdapter) Stop(ctx context.Context) error {
	a.initiateShutdown()
	if !a.started.Load() {
		return nil
	}

	done := make(chan struct{})
	go func() {
		<-a.loopDone
		a.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *ClientAdapter) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		logger.Debug("Client listener shutdown initiated")
		close(a.shutdown)
		a.stopListening()
		a.cancelRequests()
	})
}

func (a *ClientAdapter) gracefulShutdown(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		a.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Client listener shutdown complete")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("client listener shutdown timeout after %v", timeout)
	}
}

// Protocol returns the protocol name.
func (a *ClientAdapter) Protocol() string {
	return "Client"
}

// Port returns the bound port, or the configured one before Serve.
func (a *ClientAdapter) Port() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.boundPort != 0 {
		return a.boundPort
	}
	return a.config.Port
}

// Listening reports whether the listener is currently open.
func (a *ClientAdapter) Listening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listener != nil
}

// ============================================================================
// Listener management
// ============================================================================

// listen binds the port, preferring a dual-stack socket and falling back to
// IPv4 when the host has no IPv6 support.
func (a *ClientAdapter) listen(port int) (net.Listener, error) {
	if a.config.BindAddress != "" {
		return net.Listen("tcp", net.JoinHostPort(a.config.BindAddress, strconv.Itoa(port)))
	}

	l, err := net.Listen("tcp", net.JoinHostPort("::", strconv.Itoa(port)))
	if err == nil {
		return l, nil
	}
	logger.Debug("Dual-stack listen on port %d failed (%v), falling back to IPv4", port, err)

	l, v4err := net.Listen("tcp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if v4err != nil {
		return nil, fmt.Errorf("could not open client port %d: %w", port, errors.Join(err, v4err))
	}
	return l, nil
}

// startListening opens the listener unless it is already open. A port
// chosen by the kernel on first bind is kept across restarts.
func (a *ClientAdapter) startListening() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	select {
	case <-a.shutdown:
		return nil
	default:
	}
	if a.listener != nil {
		return nil
	}

	port := a.config.Port
	if a.boundPort != 0 {
		port = a.boundPort
	}
	l, err := a.listen(port)
	if err != nil {
		logger.Error("%v", err)
		return err
	}
	if tcpAddr, ok := l.Addr().(*net.TCPAddr); ok {
		a.boundPort = tcpAddr.Port
	}
	a.listener = l

	logger.Info("Listening for clients on %s using protocol version %d", l.Addr(), handshake.ProtocolVersion)
	a.workers.Add(1)
	go a.acceptLoop(l)
	return nil
}

func (a *ClientAdapter) stopListening() {
	a.mu.Lock()
	l := a.listener
	a.listener = nil
	a.mu.Unlock()

	if l == nil {
		return
	}
	if err := l.Close(); err != nil {
		logger.Debug("Error closing client listener: %v", err)
	}
	logger.Info("No longer listening for clients")
}

// acceptLoop pumps sockets from l into the acceptance goroutine until l is closed.
func (a *ClientAdapter) acceptLoop(l net.Listener) {
	defer a.workers.Done()

	for {
		if a.connSemaphore != nil {
			select {
			case a.connSemaphore <- struct{}{}:
			case <-a.shutdown:
				return
			}
		}

		conn, err := l.Accept()
		if err != nil {
			a.releaseSlot()
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-a.shutdown:
				return
			default:
			}
			logger.Debug("Error accepting client connection: %v", err)
			continue
		}

		if !a.limiter.Allow() {
			logger.Debug("Refusing client %s: accept rate exceeded", conn.RemoteAddr())
			a.metrics.RecordConnectionRejected("rate_limited")
			_ = conn.Close()
			a.releaseSlot()
			continue
		}

		if !a.post(event{kind: eventAccepted, raw: conn}) {
			a.metrics.RecordConnectionRejected("shutdown")
			_ = conn.Close()
			a.releaseSlot()
			return
		}
	}
}

func (a *ClientAdapter) releaseSlot() {
	if a.connSemaphore != nil {
		<-a.connSemaphore
	}
}

// post delivers an event to the acceptance goroutine. It fails once shutdown began.
func (a *ClientAdapter) post(ev event) bool {
	select {
	case a.events <- ev:
		return true
	case <-a.shutdown:
		return false
	}
}
