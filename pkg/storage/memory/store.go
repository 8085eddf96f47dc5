package memory

import (
	"context"
	"sync"

	"github.com/marmos91/dittochat/pkg/storage"
)

// DisplayName is the key clients use to select this backend.
const DisplayName = "Memory"

type userData struct {
	name     string
	hash     string
	settings map[string]any
}

type channelData struct {
	name string
	key  string
}

type networkData struct {
	owner     storage.UserID
	info      storage.NetworkInfo
	connected bool

	// channels is keyed by the normalized channel name
	channels map[string]channelData
}

type bufferData struct {
	owner    storage.UserID
	info     storage.BufferInfo
	lastSeen storage.MsgID
}

// MemoryStore implements storage.Backend using in-memory maps.
//
// It is suitable for tests and ephemeral deployments. Everything is lost when
// the process exits, so a restarted core sees an uninitialized store and
// enters setup again.
//
// Thread Safety:
// All operations are protected by a single mutex. The gate already serializes
// access, the lock keeps the store usable on its own in tests.
type MemoryStore struct {
	mu sync.Mutex

	initialized bool
	closed      bool

	users      map[storage.UserID]*userData
	userByName map[string]storage.UserID
	networks   map[storage.NetworkID]*networkData
	buffers    map[storage.BufferID]*bufferData

	// messages holds each buffer's backlog in ascending id order
	messages map[storage.BufferID][]storage.Message

	nextUser    storage.UserID
	nextNetwork storage.NetworkID
	nextBuffer  storage.BufferID
	nextMsg     storage.MsgID
}

// NewMemoryStore creates an empty, uninitialized store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.reset()
	return s
}

func (s *MemoryStore) reset() {
	s.users = make(map[storage.UserID]*userData)
	s.userByName = make(map[string]storage.UserID)
	s.networks = make(map[storage.NetworkID]*networkData)
	s.buffers = make(map[storage.BufferID]*bufferData)
	s.messages = make(map[storage.BufferID][]storage.Message)
	s.nextUser, s.nextNetwork, s.nextBuffer, s.nextMsg = 0, 0, 0, 0
}

func (s *MemoryStore) DisplayName() string { return DisplayName }

func (s *MemoryStore) Description() string {
	return "Keeps all data in memory. Nothing survives a restart."
}

func (s *MemoryStore) IsAvailable() bool { return true }

// Init succeeds only after Setup has run on this instance.
func (s *MemoryStore) Init(ctx context.Context, settings map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.NewError(storage.ErrIOError, "store is closed")
	}
	if !s.initialized {
		return storage.NewError(storage.ErrNotInitialized, "memory store has not been set up")
	}
	return nil
}

func (s *MemoryStore) Setup(ctx context.Context, settings map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.NewError(storage.ErrIOError, "store is closed")
	}
	if !s.initialized {
		s.reset()
		s.initialized = true
	}
	return nil
}

func (s *MemoryStore) Sync(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.initialized = false
	s.reset()
	return nil
}

// ready must be called with mu held.
func (s *MemoryStore) ready() error {
	if !s.initialized {
		return storage.NewError(storage.ErrNotInitialized, "memory store has not been set up")
	}
	return nil
}

// ownedUser must be called with mu held.
func (s *MemoryStore) ownedUser(user storage.UserID) (*userData, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	u, ok := s.users[user]
	if !ok {
		return nil, storage.NewError(storage.ErrNotFound, "user %d not found", user)
	}
	return u, nil
}

// ownedNetwork must be called with mu held.
func (s *MemoryStore) ownedNetwork(user storage.UserID, network storage.NetworkID) (*networkData, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	n, ok := s.networks[network]
	if !ok || n.owner != user {
		return nil, storage.NewError(storage.ErrNotFound, "network %d not found", network)
	}
	return n, nil
}

// ownedBuffer must be called with mu held.
func (s *MemoryStore) ownedBuffer(user storage.UserID, buffer storage.BufferID) (*bufferData, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	b, ok := s.buffers[buffer]
	if !ok || b.owner != user {
		return nil, storage.NewError(storage.ErrNotFound, "buffer %d not found", buffer)
	}
	return b, nil
}

var _ storage.Backend = (*MemoryStore)(nil)
