package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/dittochat/internal/logger"
	"github.com/marmos91/dittochat/internal/protocol/frame"
	"github.com/marmos91/dittochat/pkg/metrics"
	"github.com/marmos91/dittochat/pkg/session"
	"github.com/marmos91/dittochat/pkg/settings"
	"github.com/marmos91/dittochat/pkg/storage"
)

var (
	// ErrSessionExists is returned by Create when the user already has a session.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionsActive is returned by RestoreActive when sessions were created
	// before the restore ran.
	ErrSessionsActive = errors.New("sessions already active")

	// ErrShutdown is returned once Shutdown has been called.
	ErrShutdown = errors.New("registry is shut down")
)

// Config wires a Registry to its collaborators.
type Config struct {
	// Store is handed to every session.
	Store session.Store

	Connector session.NetworkConnector
	Handler   session.MessageHandler

	// Configured reports whether storage is committed. RestoreActive does
	// nothing while it returns false. Nil means always configured.
	Configured func() bool

	Metrics metrics.ClientMetrics
}

// Registry maps users to their live Session. It holds at most one session
// per user; sessions are started as soon as they are created and live until
// Shutdown.
//
// Example usage:
//
//	reg := registry.NewRegistry(ctx, registry.Config{Store: gate})
//	if err := reg.AttachClient(ctx, uid, conn); err != nil {
//	    logger.Warn("attach failed: %v", err)
//	}
type Registry struct {
	ctx context.Context
	cfg Config

	mu       sync.Mutex
	sessions map[storage.UserID]*session.Session
	closed   bool
}

// NewRegistry creates an empty registry. Sessions run until ctx ends or
// Shutdown is called.
func NewRegistry(ctx context.Context, cfg Config) *Registry {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopClientMetrics()
	}
	if cfg.Configured == nil {
		cfg.Configured = func() bool { return true }
	}
	return &Registry{
		ctx:      ctx,
		cfg:      cfg,
		sessions: make(map[storage.UserID]*session.Session),
	}
}

// Create starts a new session for user. It fails with ErrSessionExists
// rather than merging into an existing one.
func (r *Registry) Create(user storage.UserID, restore bool) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(user, restore)
}

func (r *Registry) createLocked(user storage.UserID, restore bool) (*session.Session, error) {
	if r.closed {
		return nil, ErrShutdown
	}
	if _, exists := r.sessions[user]; exists {
		logger.Warn("Session for user %d already exists, not creating another", user)
		return nil, fmt.Errorf("%w: user %d", ErrSessionExists, user)
	}

	s := session.New(session.Config{
		User:      user,
		Restore:   restore,
		Store:     r.cfg.Store,
		Connector: r.cfg.Connector,
		Handler:   r.cfg.Handler,
	})
	r.sessions[user] = s
	s.Start(r.ctx)
	r.cfg.Metrics.SetSessions(len(r.sessions))
	logger.Debug("Created session for user %d (restore=%t)", user, restore)
	return s, nil
}

// GetOrCreate returns the user's session, creating it when absent. Repeated
// calls return the same session.
func (r *Registry) GetOrCreate(user storage.UserID) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[user]; ok {
		return s, nil
	}
	return r.createLocked(user, false)
}

// Get returns the user's session if one exists.
func (r *Registry) Get(user storage.UserID) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[user]
	return s, ok
}

// RestoreActive recreates a session for every user listed in state. It is
// skipped entirely for an unconfigured core and refused when sessions were
// already created. It returns the number of sessions created.
func (r *Registry) RestoreActive(state settings.CoreState) (int, error) {
	if !r.cfg.Configured() {
		logger.Debug("Core is not configured, not restoring sessions")
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) > 0 {
		logger.Warn("Restoring core state even though %d sessions exist, refusing", len(r.sessions))
		return 0, ErrSessionsActive
	}
	if len(state.ActiveSessions) == 0 {
		return 0, nil
	}

	logger.Info("Restoring previous core state (%d sessions)", len(state.ActiveSessions))
	created := 0
	for _, user := range state.ActiveSessions {
		if _, err := r.createLocked(user, true); err != nil {
			if errors.Is(err, ErrShutdown) {
				return created, err
			}
			continue
		}
		created++
	}
	return created, nil
}

// AttachClient hands an authenticated connection to the user's session,
// creating the session if needed. When the session failed to initialize the
// connection is closed, the session is dropped so a later login can retry,
// and the failure is returned.
func (r *Registry) AttachClient(ctx context.Context, user storage.UserID, conn *frame.Conn) error {
	s, err := r.GetOrCreate(user)
	if err != nil {
		_ = conn.Close()
		return err
	}

	if err := s.AddClient(ctx, conn); err != nil {
		logger.Warn("Could not initialize session for client %s: %v", conn.RemoteAddr(), err)
		if s.Failed() {
			r.drop(user, s)
		}
		return err
	}
	r.cfg.Metrics.RecordHandOff()
	return nil
}

func (r *Registry) drop(user storage.UserID, s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[user] == s {
		delete(r.sessions, user)
		r.cfg.Metrics.SetSessions(len(r.sessions))
	}
}

// ActiveUsers returns the users with a live session in ascending order.
// Sessions that failed to initialize are left out.
func (r *Registry) ActiveUsers() []storage.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]storage.UserID, 0, len(r.sessions))
	for u, s := range r.sessions {
		if s.Failed() {
			continue
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// Count returns the number of sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown stops every session and waits for them up to ctx's deadline.
// Sessions stay listed so ActiveUsers still reports them for CoreState.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop session %d: %w", s.User(), err))
		}
	}
	return errors.Join(errs...)
}
