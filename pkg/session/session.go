// Package session implements the per-user core session.
//
// A Session owns every front-end client a user has attached and drives that
// user's network connections. Each session runs on its own goroutine fed by
// an event channel, so a slow network or a chatty client of one user never
// stalls another user or the acceptor.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/marmos91/dittochat/internal/logger"
	"github.com/marmos91/dittochat/internal/protocol/frame"
	"github.com/marmos91/dittochat/pkg/storage"
)

var (
	// ErrStopped is returned when a client is offered to a session that has ended.
	ErrStopped = errors.New("session stopped")

	// ErrFailed is returned when a client is offered to a session whose
	// initialization failed.
	ErrFailed = errors.New("session failed to initialize")
)

// Store is the slice of the storage gate a session reads on start.
type Store interface {
	Networks(ctx context.Context, user storage.UserID) ([]storage.NetworkInfo, error)
	ConnectedNetworks(ctx context.Context, user storage.UserID) ([]storage.NetworkID, error)
	RequestBuffers(ctx context.Context, user storage.UserID) ([]storage.BufferInfo, error)
}

// NetworkConnector opens the IRC side of a network. The IRC layer lives
// outside this module.
type NetworkConnector interface {
	Connect(ctx context.Context, user storage.UserID, network storage.NetworkInfo) error
}

// MessageHandler receives every client message the session does not answer
// itself.
type MessageHandler interface {
	HandleClientMessage(ctx context.Context, s *Session, c *Client, msg frame.Message)
}

// Config configures a Session.
type Config struct {
	User storage.UserID

	// Restore reconnects the networks that were connected at the last shutdown.
	Restore bool

	Store     Store
	Connector NetworkConnector
	Handler   MessageHandler

	// EventBuffer is the capacity of the event channel. Default 64.
	EventBuffer int
}

type eventKind int

const (
	eventAddClient eventKind = iota
	eventClientMessage
	eventClientGone
)

type event struct {
	kind   eventKind
	client *Client
	msg    frame.Message
	err    error
	result chan error
}

// Session is the live state of one user.
type Session struct {
	user      storage.UserID
	restore   bool
	store     Store
	connector NetworkConnector
	handler   MessageHandler

	events chan event
	ready  chan struct{}
	done   chan struct{}
	start  sync.Once

	// initErr is written before ready is closed.
	initErr error

	mu       sync.RWMutex
	cancel   context.CancelFunc
	clients  map[string]*Client
	networks []storage.NetworkInfo
	buffers  []storage.BufferInfo
}

// New creates a stopped session. Call Start to run it.
func New(cfg Config) *Session {
	if cfg.Connector == nil {
		cfg.Connector = noopConnector{}
	}
	if cfg.Handler == nil {
		cfg.Handler = noopHandler{}
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	return &Session{
		user:      cfg.User,
		restore:   cfg.Restore,
		store:     cfg.Store,
		connector: cfg.Connector,
		handler:   cfg.Handler,
		events:    make(chan event, cfg.EventBuffer),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		clients:   make(map[string]*Client),
	}
}

// User returns the owning user.
func (s *Session) User() storage.UserID { return s.user }

// Start launches the session goroutine. Later calls are no-ops.
func (s *Session) Start(ctx context.Context) {
	s.start.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.cancel = cancel
		s.mu.Unlock()
		go s.run(ctx)
	})
}

// Ready blocks until initialization finished and returns its error.
func (s *Session) Ready(ctx context.Context) error {
	select {
	case <-s.ready:
		return s.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failed reports whether initialization finished with an error.
func (s *Session) Failed() bool {
	select {
	case <-s.ready:
		return s.initErr != nil
	default:
		return false
	}
}

// Done is closed when the session goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop ends the session and waits for it, detaching every client.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClientCount returns the number of attached clients.
func (s *Session) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Networks returns the networks loaded on start.
func (s *Session) Networks() []storage.NetworkInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]storage.NetworkInfo(nil), s.networks...)
}

// AddClient transfers an authenticated connection to the session. The
// session owns conn afterwards, also when an error is returned.
func (s *Session) AddClient(ctx context.Context, conn *frame.Conn) error {
	if err := s.Ready(ctx); err != nil {
		conn.Close()
		if errors.Is(err, ctx.Err()) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}

	ev := event{kind: eventAddClient, client: newClient(conn), result: make(chan error, 1)}
	select {
	case s.events <- ev:
	case <-s.done:
		conn.Close()
		return ErrStopped
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	}

	select {
	case err := <-ev.result:
		return err
	case <-s.done:
		select {
		case err := <-ev.result:
			return err
		default:
		}
		ev.client.Close()
		return ErrStopped
	}
}

// Broadcast writes msg to every attached client.
func (s *Session) Broadcast(msg frame.Message) {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if err := c.Send(msg); err != nil {
			logger.Debug("Session %d: write to client %s failed: %v", s.user, c.RemoteAddr(), err)
		}
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	if err := s.load(ctx); err != nil {
		logger.Error("Session %d failed to initialize: %v", s.user, err)
		s.initErr = err
		close(s.ready)
		return
	}
	close(s.ready)
	logger.Info("Session %d started (%d networks, %d buffers)", s.user, len(s.networks), len(s.buffers))

	if s.restore {
		s.restoreNetworks(ctx)
	}

	defer s.detachAll()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Session %d stopping", s.user)
			return
		case ev := <-s.events:
			s.handle(ctx, ev)
		}
	}
}

func (s *Session) load(ctx context.Context) error {
	if s.store == nil {
		return errors.New("no storage")
	}
	networks, err := s.store.Networks(ctx, s.user)
	if err != nil {
		return fmt.Errorf("load networks: %w", err)
	}
	buffers, err := s.store.RequestBuffers(ctx, s.user)
	if err != nil {
		return fmt.Errorf("load buffers: %w", err)
	}

	s.mu.Lock()
	s.networks = networks
	s.buffers = buffers
	s.mu.Unlock()
	return nil
}

func (s *Session) restoreNetworks(ctx context.Context) {
	connected, err := s.store.ConnectedNetworks(ctx, s.user)
	if err != nil {
		logger.Warn("Session %d: cannot list connected networks: %v", s.user, err)
		return
	}

	byID := make(map[storage.NetworkID]storage.NetworkInfo, len(s.networks))
	for _, n := range s.Networks() {
		byID[n.NetworkID] = n
	}
	for _, id := range connected {
		network, ok := byID[id]
		if !ok {
			logger.Warn("Session %d: connected network %d no longer exists", s.user, id)
			continue
		}
		logger.Info("Session %d: restoring connection to %s", s.user, network.NetworkName)
		if err := s.connector.Connect(ctx, s.user, network); err != nil {
			logger.Warn("Session %d: reconnecting %s failed: %v", s.user, network.NetworkName, err)
		}
	}
}

func (s *Session) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case eventAddClient:
		ev.result <- s.attach(ctx, ev.client)
	case eventClientMessage:
		s.dispatch(ctx, ev.client, ev.msg)
	case eventClientGone:
		s.detach(ev.client, ev.err)
	}
}

func (s *Session) attach(ctx context.Context, c *Client) error {
	if err := c.Send(s.sessionInit()); err != nil {
		c.Close()
		return fmt.Errorf("send session state: %w", err)
	}

	s.mu.Lock()
	s.clients[c.ID()] = c
	count := len(s.clients)
	s.mu.Unlock()

	logger.Info("Session %d: client %s attached (%d clients)", s.user, c.RemoteAddr(), count)
	go c.readLoop(s)
	return nil
}

func (s *Session) dispatch(ctx context.Context, c *Client, msg frame.Message) {
	s.mu.RLock()
	_, attached := s.clients[c.ID()]
	s.mu.RUnlock()
	if !attached {
		return
	}

	if msg.Type() == MsgHeartBeat {
		reply := frame.Message{frame.MsgTypeKey: MsgHeartBeatReply}
		if v, ok := msg[FieldTimestamp]; ok {
			reply[FieldTimestamp] = v
		}
		if err := c.Send(reply); err != nil {
			logger.Debug("Session %d: heartbeat reply to %s failed: %v", s.user, c.RemoteAddr(), err)
		}
		return
	}
	s.handler.HandleClientMessage(ctx, s, c, msg)
}

func (s *Session) detach(c *Client, err error) {
	s.mu.Lock()
	_, attached := s.clients[c.ID()]
	delete(s.clients, c.ID())
	count := len(s.clients)
	s.mu.Unlock()
	if !attached {
		return
	}

	c.Close()
	if err != nil && !isRemoteClose(err) {
		logger.Warn("Session %d: client %s socket error: %v", s.user, c.RemoteAddr(), err)
	}
	logger.Info("Session %d: client %s detached (%d clients)", s.user, c.RemoteAddr(), count)
}

func (s *Session) detachAll() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[string]*Client)
	s.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

// post queues an event from a client reader. It gives up once the session ended.
func (s *Session) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

type noopConnector struct{}

func (noopConnector) Connect(ctx context.Context, user storage.UserID, network storage.NetworkInfo) error {
	logger.Debug("No network connector configured, not connecting user %d to %s", user, network.NetworkName)
	return nil
}

type noopHandler struct{}

func (noopHandler) HandleClientMessage(ctx context.Context, s *Session, c *Client, msg frame.Message) {
	logger.Debug("Session %d: dropping unhandled %q from %s", s.User(), msg.Type(), c.RemoteAddr())
}
