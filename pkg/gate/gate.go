// Package gate serializes every call into the active storage backend behind
// one lock and owns backend selection.
//
// The gate starts with a set of candidate backends. InitStorage commits to
// exactly one of them and closes the rest. Until then every data call fails
// with ErrNotConfigured.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittochat/internal/logger"
	"github.com/marmos91/dittochat/pkg/metrics"
	"github.com/marmos91/dittochat/pkg/storage"
)

var (
	// ErrNoBackends means no compiled-in backend is usable on this host.
	ErrNoBackends = errors.New("no storage backend available")

	// ErrNotConfigured is returned by data calls made before a backend is committed.
	ErrNotConfigured = errors.New("storage is not configured")

	// ErrAlreadyConfigured is returned when a different backend is requested
	// after one has been committed.
	ErrAlreadyConfigured = errors.New("storage is already configured")

	// ErrUnknownBackend means the requested backend name was never registered.
	ErrUnknownBackend = errors.New("unknown storage backend")

	// ErrInvalidSetup means the setup data lacks administrator credentials.
	ErrInvalidSetup = errors.New("admin user or password not set")
)

// Setup data keys sent by a client configuring an empty core.
const (
	SetupBackendKey    = "Backend"
	SetupAdminUserKey  = "AdminUser"
	SetupAdminPassKey  = "AdminPasswd"
	SetupPropertiesKey = "ConnectionProperties"
)

// DefaultSyncInterval is how often RunSync flushes the backend.
const DefaultSyncInterval = 10 * time.Minute

// Gate guards the active backend.
type Gate struct {
	mu sync.Mutex

	// candidates holds registered backends in registration order until one
	// is committed.
	candidates []storage.Backend
	active     storage.Backend

	metrics metrics.StorageMetrics
}

// New creates an empty gate. A nil m disables metrics.
func New(m metrics.StorageMetrics) *Gate {
	if m == nil {
		m = metrics.NewNoopStorageMetrics()
	}
	return &Gate{metrics: m}
}

// Register offers b as a candidate. Unavailable backends and duplicates of
// an already registered name are closed and dropped.
func (g *Gate) Register(b storage.Backend) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	name := b.DisplayName()
	if !b.IsAvailable() {
		logger.Warn("Storage backend %s is not available on this host", name)
		_ = b.Close()
		return false
	}
	if g.active != nil {
		logger.Warn("Storage already committed, ignoring backend %s", name)
		_ = b.Close()
		return false
	}
	for _, c := range g.candidates {
		if c.DisplayName() == name {
			logger.Warn("Storage backend %s registered twice, keeping the first", name)
			_ = b.Close()
			return false
		}
	}

	g.candidates = append(g.candidates, b)
	logger.Debug("Registered storage backend %s", name)
	return true
}

// Validate fails with ErrNoBackends when nothing could be registered.
func (g *Gate) Validate() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active == nil && len(g.candidates) == 0 {
		return ErrNoBackends
	}
	return nil
}

// Backends lists the descriptors of the uncommitted candidates.
func (g *Gate) Backends() []storage.Descriptor {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]storage.Descriptor, 0, len(g.candidates))
	for _, c := range g.candidates {
		out = append(out, storage.DescriptorOf(c))
	}
	return out
}

// Configured reports whether a backend has been committed.
func (g *Gate) Configured() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active != nil
}

// ActiveBackend returns the committed backend's name, or "" when unconfigured.
func (g *Gate) ActiveBackend() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		return ""
	}
	return g.active.DisplayName()
}

// InitStorage selects the backend named by settings["Backend"] and
// initializes it. When setup is true and Init fails, the backend's Setup runs
// and Init is retried once.
//
// Re-initializing with the committed backend's name is a no-op.
func (g *Gate) InitStorage(ctx context.Context, settings map[string]any, setup bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.initStorageLocked(context.WithoutCancel(ctx), settings, setup)
}

func (g *Gate) initStorageLocked(ctx context.Context, settings map[string]any, setup bool) error {
	if g.active != nil {
		name, _ := settings[storage.BackendKey].(string)
		if g.active.DisplayName() == name {
			return nil
		}
		return fmt.Errorf("%w: %s is active, %q requested", ErrAlreadyConfigured, g.active.DisplayName(), name)
	}

	backend, err := g.prepareLocked(ctx, settings, setup)
	if err != nil {
		return err
	}
	g.commitLocked(backend)
	return nil
}

// prepareLocked initializes the named candidate without committing to it.
func (g *Gate) prepareLocked(ctx context.Context, settings map[string]any, setup bool) (storage.Backend, error) {
	name, _ := settings[storage.BackendKey].(string)

	var backend storage.Backend
	for _, c := range g.candidates {
		if c.DisplayName() == name {
			backend = c
			break
		}
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}

	if err := backend.Init(ctx, settings); err != nil {
		if !setup {
			return nil, fmt.Errorf("initialize %s storage: %w", name, err)
		}
		logger.Info("Storage backend %s is not initialized, running setup", name)
		if err := backend.Setup(ctx, settings); err != nil {
			return nil, fmt.Errorf("set up %s storage: %w", name, err)
		}
		if err := backend.Init(ctx, settings); err != nil {
			return nil, fmt.Errorf("initialize %s storage after setup: %w", name, err)
		}
	}
	return backend, nil
}

// commitLocked makes backend the active one and closes every other candidate.
func (g *Gate) commitLocked(backend storage.Backend) {
	for _, c := range g.candidates {
		if c == backend {
			continue
		}
		if err := c.Close(); err != nil {
			logger.Warn("Failed to close discarded storage backend %s: %v", c.DisplayName(), err)
		}
	}
	g.candidates = nil
	g.active = backend
	g.metrics.SetConfigured(backend.DisplayName(), true)
	logger.Info("Storage backend %s committed", backend.DisplayName())
}

// SetupCore configures an empty core from client-supplied setup data: it
// initializes the chosen backend in setup mode and creates the administrator
// account. It returns the backend settings to persist.
//
// The backend is committed only once the admin exists, so a failed setup
// leaves the core unconfigured and the client may try again.
func (g *Gate) SetupCore(ctx context.Context, setupData map[string]any) (map[string]any, error) {
	user, _ := setupData[SetupAdminUserKey].(string)
	password, _ := setupData[SetupAdminPassKey].(string)
	backend, _ := setupData[SetupBackendKey].(string)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active != nil {
		return nil, ErrAlreadyConfigured
	}
	if user == "" || password == "" {
		return nil, ErrInvalidSetup
	}

	settings := map[string]any{storage.BackendKey: backend}
	if props, ok := setupData[SetupPropertiesKey].(map[string]any); ok {
		for k, v := range props {
			if k != storage.BackendKey {
				settings[k] = v
			}
		}
	}

	ctx = context.WithoutCancel(ctx)
	b, err := g.prepareLocked(ctx, settings, true)
	if err != nil {
		return nil, err
	}
	if _, err := b.AddUser(ctx, user, password); err != nil {
		return nil, fmt.Errorf("create admin user: %w", err)
	}
	g.commitLocked(b)
	logger.Info("Core configured with %s storage, admin user %q created", backend, user)
	return settings, nil
}

// Sync flushes the active backend. It is a no-op when unconfigured.
func (g *Gate) Sync(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active == nil {
		return nil
	}
	start := time.Now()
	err := g.active.Sync(context.WithoutCancel(ctx))
	g.metrics.RecordSync(time.Since(start), err)
	return err
}

// RunSync calls Sync every interval until ctx ends. A non-positive interval
// uses DefaultSyncInterval.
func (g *Gate) RunSync(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.Sync(ctx); err != nil {
				logger.Warn("Storage sync failed: %v", err)
			}
		}
	}
}

// Close flushes and closes the active backend and every remaining candidate.
func (g *Gate) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	if g.active != nil {
		if err := g.active.Sync(context.Background()); err != nil {
			errs = append(errs, err)
		}
		if err := g.active.Close(); err != nil {
			errs = append(errs, err)
		}
		g.active = nil
	}
	for _, c := range g.candidates {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	g.candidates = nil
	return errors.Join(errs...)
}

// with runs fn against the active backend under the lock. The backend sees a
// context that is never cancelled, so an in-flight call always completes.
func with[T any](ctx context.Context, g *Gate, op string, fn func(ctx context.Context, b storage.Backend) (T, error)) (T, error) {
	start := time.Now()
	g.mu.Lock()
	acquired := time.Now()
	defer g.mu.Unlock()

	var zero T
	if g.active == nil {
		return zero, ErrNotConfigured
	}
	v, err := fn(context.WithoutCancel(ctx), g.active)
	g.metrics.RecordCall(op, acquired.Sub(start), time.Since(acquired), err)
	return v, err
}

func exec(ctx context.Context, g *Gate, op string, fn func(ctx context.Context, b storage.Backend) error) error {
	_, err := with(ctx, g, op, func(ctx context.Context, b storage.Backend) (struct{}, error) {
		return struct{}{}, fn(ctx, b)
	})
	return err
}
