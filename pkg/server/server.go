package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittochat/internal/logger"
	"github.com/marmos91/dittochat/pkg/adapter"
	"github.com/marmos91/dittochat/pkg/gate"
	"github.com/marmos91/dittochat/pkg/metrics"
	"github.com/marmos91/dittochat/pkg/registry"
	"github.com/marmos91/dittochat/pkg/session"
	"github.com/marmos91/dittochat/pkg/settings"
	"github.com/marmos91/dittochat/pkg/storage"
)

// ErrAlreadyServed is returned by a second call to Serve.
var ErrAlreadyServed = errors.New("core has already been served")

// Options wires a Core to its collaborators.
type Options struct {
	// Gate holds the registered storage backends (required).
	Gate *gate.Gate

	// Settings is the state file holding storage settings and CoreState (required).
	Settings *settings.Store

	// PresetStorage is tried when the state file has no storage settings.
	// On success it is persisted like settings chosen through setup.
	PresetStorage map[string]any

	// SyncInterval is how often the active backend is flushed.
	SyncInterval time.Duration

	// ShutdownTimeout bounds stopping adapters and sessions.
	ShutdownTimeout time.Duration

	Connector session.NetworkConnector
	Handler   session.MessageHandler
	Metrics   metrics.ClientMetrics
}

// Core owns the process-wide state of the chat core: the storage gate, the
// state file, the session registry and the protocol adapters that feed it.
//
// Architecture:
// Adapters accept and authenticate sockets, then hand them to the shared
// session registry. Core answers the questions the handshake asks
// (configured? which backends? setup, login) by delegating to the gate, and
// it persists the storage choice made during setup.
//
// Lifecycle:
//  1. Creation: New() with the gate and the settings store
//  2. Registration: AddAdapter() for each protocol
//  3. Startup: Serve() initializes storage, restores the previous sessions,
//     starts periodic sync and all adapters
//  4. Shutdown: context cancellation stops adapters, then sessions, saves the
//     list of active sessions and closes storage
//
// Example usage:
//
//	core := server.New(server.Options{Gate: g, Settings: state})
//	hs := handshake.NewHandshaker(core, info, nil)
//	_ = core.AddAdapter(client.New(cfg, client.Options{Handshaker: hs, Configured: core.Configured}))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := core.Serve(ctx); err != nil && err != context.Canceled {
//	    log.Fatal(err)
//	}
type Core struct {
	opts     Options
	gate     *gate.Gate
	settings *settings.Store
	registry *registry.Registry

	// sessionsCtx outlives the serve context so sessions can be stopped
	// in order after the adapters.
	sessionsCtx    context.Context
	cancelSessions context.CancelFunc

	// mu protects the adapters slice and the served flag
	mu       sync.RWMutex
	adapters []adapter.Adapter
	served   bool
}

// New creates a Core. It panics when Gate or Settings is nil.
func New(opts Options) *Core {
	if opts.Gate == nil {
		panic("storage gate cannot be nil")
	}
	if opts.Settings == nil {
		panic("settings store cannot be nil")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopClientMetrics()
	}

	c := &Core{
		opts:     opts,
		gate:     opts.Gate,
		settings: opts.Settings,
		adapters: make([]adapter.Adapter, 0, 2),
	}
	c.sessionsCtx, c.cancelSessions = context.WithCancel(context.Background())
	c.registry = registry.NewRegistry(c.sessionsCtx, registry.Config{
		Store:      opts.Gate,
		Connector:  opts.Connector,
		Handler:    opts.Handler,
		Configured: opts.Gate.Configured,
		Metrics:    opts.Metrics,
	})
	return c
}

// Registry returns the session registry.
func (c *Core) Registry() *registry.Registry {
	return c.registry
}

// ============================================================================
// Handshake collaborator
// ============================================================================

// Configured reports whether a storage backend is committed.
func (c *Core) Configured() bool {
	return c.gate.Configured()
}

// Backends lists the backends a first-run client may choose from.
func (c *Core) Backends() []storage.Descriptor {
	return c.gate.Backends()
}

// SetupCore configures storage from client setup data, creates the admin
// account and persists the backend settings for the next start.
//
// Failing to write the state file does not undo the setup: storage is live
// and the admin exists, so the error is logged and the client is told the
// setup succeeded.
func (c *Core) SetupCore(ctx context.Context, setupData map[string]any) error {
	persisted, err := c.gate.SetupCore(ctx, setupData)
	if err != nil {
		return err
	}
	if err := c.settings.SetStorageSettings(persisted); err != nil {
		logger.Error("Storage is configured but its settings could not be saved to %s: %v", c.settings.Path(), err)
	}
	return nil
}

// ValidateUser checks credentials against the active backend.
func (c *Core) ValidateUser(ctx context.Context, user, password string) (storage.UserID, error) {
	return c.gate.ValidateUser(ctx, user, password)
}

// ============================================================================
// Startup
// ============================================================================

// initStorage commits the backend recorded in the state file. When there is
// none, or it cannot be opened, the preset from the configuration is tried
// and saved on success. Failing both leaves the core unconfigured, waiting
// for a client to run setup.
func (c *Core) initStorage(ctx context.Context) {
	if saved := c.settings.StorageSettings(); saved != nil {
		err := c.gate.InitStorage(ctx, saved, false)
		if err == nil {
			return
		}
		logger.Error("Could not init storage: %v", err)
	}

	logger.Warn("Core is currently not configured! Please connect with a client for basic setup.")

	preset := c.opts.PresetStorage
	if preset == nil {
		return
	}
	if err := c.gate.InitStorage(ctx, preset, false); err != nil {
		logger.Warn("Preset storage %v could not be initialized: %v", preset[storage.BackendKey], err)
		return
	}
	logger.Warn("...but the configuration names an existing %v store, using it", preset[storage.BackendKey])
	if err := c.settings.SetStorageSettings(preset); err != nil {
		logger.Error("Could not save storage settings to %s: %v", c.settings.Path(), err)
	}
}

// restoreState recreates the sessions that were active at the last shutdown.
func (c *Core) restoreState() {
	state, err := c.settings.CoreState()
	if err != nil {
		logger.Warn("Ignoring saved core state: %v", err)
		return
	}
	created, err := c.registry.RestoreActive(state)
	if err != nil {
		logger.Warn("Could not restore core state: %v", err)
		return
	}
	if created > 0 {
		logger.Info("Restored %d session(s)", created)
	}
}

// saveState records the users with a live session.
func (c *Core) saveState() error {
	users := c.registry.ActiveUsers()
	if err := c.settings.SetCoreState(users); err != nil {
		return fmt.Errorf("save core state: %w", err)
	}
	logger.Debug("Saved core state with %d active session(s)", len(users))
	return nil
}

// ============================================================================
// Adapters
// ============================================================================

// AddAdapter registers a protocol adapter and injects the session registry.
//
// Duplicate protocols or port conflicts are detected and return an error.
// It panics if a is nil or Serve() has already been called.
func (c *Core) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.served {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range c.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	a.SetRegistry(c.registry)
	c.adapters = append(c.adapters, a)

	logger.Info("Registered %s adapter on port %d", protocol, port)
	return nil
}

// Adapters returns a snapshot of currently registered adapters.
func (c *Core) Adapters() []adapter.Adapter {
	c.mu.RLock()
	defer c.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(c.adapters))
	copy(adapters, c.adapters)
	return adapters
}

// ============================================================================
// Serve
// ============================================================================

// Serve starts the core and blocks until ctx is cancelled or an adapter fails.
//
// Shutdown behavior:
// Adapters are stopped in reverse registration order, then every session is
// stopped, the active session list is written to the state file and storage
// is flushed and closed.
//
// Returns:
//   - context.Canceled (or the context's error) after a signalled shutdown
//   - an error if an adapter failed to start or failed while running
//   - ErrAlreadyServed on a second call
func (c *Core) Serve(ctx context.Context) error {
	c.mu.Lock()
	if c.served {
		c.mu.Unlock()
		return ErrAlreadyServed
	}
	c.served = true
	if len(c.adapters) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(c.adapters))
	copy(adapters, c.adapters)
	c.mu.Unlock()

	if err := c.gate.Validate(); err != nil {
		return err
	}

	c.initStorage(ctx)
	c.restoreState()

	syncCtx, stopSync := context.WithCancel(context.Background())
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		c.gate.RunSync(syncCtx, c.opts.SyncInterval)
	}()

	serveErr := c.serveAdapters(ctx, adapters)

	stopSync()
	<-syncDone

	if err := c.shutdown(); err != nil {
		logger.Error("Core shutdown: %v", err)
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

// serveAdapters runs every adapter until ctx ends or one of them fails.
func (c *Core) serveAdapters(ctx context.Context, adapters []adapter.Adapter) error {
	logger.Info("Starting core with %d adapter(s)", len(adapters))

	// Buffered so no adapter goroutine leaks if several fail at once
	errChan := make(chan adapterError, len(adapters))

	var wg sync.WaitGroup
	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Info("Starting %s adapter on port %d", protocol, a.Port())

			if err := a.Serve(ctx); err != nil {
				// context.Canceled is expected during shutdown
				if !errors.Is(err, context.Canceled) && ctx.Err() == nil {
					logger.Error("%s adapter failed: %v", protocol, err)
					errChan <- adapterError{protocol: protocol, err: err}
				} else {
					logger.Debug("%s adapter stopped gracefully", protocol)
				}
			} else {
				logger.Info("%s adapter stopped", protocol)
			}
		}(adp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		c.stopAllAdapters(adapters)
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		c.stopAllAdapters(adapters)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()
	return shutdownErr
}

// adapterError pairs an adapter protocol name with its error for better error reporting.
type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters signals every adapter to stop, in reverse registration order.
func (c *Core) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ShutdownTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		logger.Debug("Stopping %s adapter (port %d)", protocol, adp.Port())
		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
		}
	}
}

// shutdown stops sessions, saves CoreState and closes storage.
func (c *Core) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := c.registry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.saveState(); err != nil {
		errs = append(errs, err)
	}
	c.cancelSessions()
	if err := c.gate.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}

	logger.Info("Core stopped")
	return errors.Join(errs...)
}
