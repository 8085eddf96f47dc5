package registry

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/marmos91/dittochat/internal/protocol/frame"
	"github.com/marmos91/dittochat/pkg/session"
	"github.com/marmos91/dittochat/pkg/settings"
	"github.com/marmos91/dittochat/pkg/storage"
	"github.com/marmos91/dittochat/pkg/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// newStore returns a ready memory store holding users alice, bob and carol.
func newStore(t *testing.T) (*memory.MemoryStore, []storage.UserID) {
	t.Helper()
	storage.PasswordCost = bcrypt.MinCost

	ctx := context.Background()
	store := memory.NewMemoryStore()
	opts := map[string]any{storage.BackendKey: memory.DisplayName}
	require.NoError(t, store.Setup(ctx, opts))
	require.NoError(t, store.Init(ctx, opts))

	var users []storage.UserID
	for _, name := range []string{"alice", "bob", "carol"} {
		id, err := store.AddUser(ctx, name, "pw")
		require.NoError(t, err)
		users = append(users, id)
	}
	return store, users
}

func newRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	r := NewRegistry(context.Background(), cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func TestCreate_RejectsDuplicate(t *testing.T) {
	store, users := newStore(t)
	r := newRegistry(t, Config{Store: store})

	s, err := r.Create(users[0], false)
	require.NoError(t, err)
	require.NotNil(t, s)

	again, err := r.Create(users[0], false)
	assert.ErrorIs(t, err, ErrSessionExists)
	assert.Nil(t, again)
	assert.Equal(t, 1, r.Count())
}

// TestGetOrCreate_SingleSessionPerUser verifies concurrent lookups converge
// on one session.
func TestGetOrCreate_SingleSessionPerUser(t *testing.T) {
	store, users := newStore(t)
	r := newRegistry(t, Config{Store: store})

	results := make(chan *session.Session, 16)
	for i := 0; i < cap(results); i++ {
		go func() {
			s, err := r.GetOrCreate(users[1])
			assert.NoError(t, err)
			results <- s
		}()
	}

	first := <-results
	for i := 1; i < cap(results); i++ {
		assert.Same(t, first, <-results)
	}
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, []storage.UserID{users[1]}, r.ActiveUsers())
}

func TestSessionsStartEagerly(t *testing.T) {
	store, users := newStore(t)
	r := newRegistry(t, Config{Store: store})

	s, err := r.Create(users[0], false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Ready(ctx))
}

// TestRestoreActive_RoundTrip verifies a saved CoreState recreates exactly
// the saved sessions.
func TestRestoreActive_RoundTrip(t *testing.T) {
	store, users := newStore(t)
	path := t.TempDir() + "/core.yaml"

	first := newRegistry(t, Config{Store: store})
	_, err := first.GetOrCreate(users[0])
	require.NoError(t, err)
	_, err = first.GetOrCreate(users[2])
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, first.Shutdown(ctx))

	saved, err := settings.Open(path)
	require.NoError(t, err)
	require.NoError(t, saved.SetCoreState(first.ActiveUsers()))

	reloaded, err := settings.Open(path)
	require.NoError(t, err)
	state, err := reloaded.CoreState()
	require.NoError(t, err)

	second := newRegistry(t, Config{Store: store})
	created, err := second.RestoreActive(state)
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Equal(t, []storage.UserID{users[0], users[2]}, second.ActiveUsers())
}

func TestRestoreActive_Unconfigured(t *testing.T) {
	store, users := newStore(t)
	r := newRegistry(t, Config{Store: store, Configured: func() bool { return false }})

	created, err := r.RestoreActive(settings.CoreState{Version: settings.CoreStateVersion, ActiveSessions: users})
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Zero(t, r.Count())
}

func TestRestoreActive_RefusedWithExistingSessions(t *testing.T) {
	store, users := newStore(t)
	r := newRegistry(t, Config{Store: store})
	_, err := r.Create(users[0], false)
	require.NoError(t, err)

	created, err := r.RestoreActive(settings.CoreState{Version: settings.CoreStateVersion, ActiveSessions: users[1:]})
	assert.ErrorIs(t, err, ErrSessionsActive)
	assert.Zero(t, created)
	assert.Equal(t, []storage.UserID{users[0]}, r.ActiveUsers())
}

func TestAttachClient(t *testing.T) {
	store, users := newStore(t)
	r := newRegistry(t, Config{Store: store})

	server, client := net.Pipe()
	peer := frame.NewConn(client, 0)
	defer peer.Close()

	errc := make(chan error, 1)
	go func() { errc <- r.AttachClient(context.Background(), users[0], frame.NewConn(server, 0)) }()

	init, err := peer.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, session.MsgSessionInit, init.Type())
	require.NoError(t, <-errc)

	s, ok := r.Get(users[0])
	require.True(t, ok)
	assert.Equal(t, 1, s.ClientCount())
}

// TestAttachClient_FailedSession verifies the socket is closed and the broken
// session dropped when the session cannot load its user.
func TestAttachClient_FailedSession(t *testing.T) {
	store, _ := newStore(t)
	r := newRegistry(t, Config{Store: store})

	server, client := net.Pipe()
	peer := frame.NewConn(client, 0)
	defer peer.Close()

	err := r.AttachClient(context.Background(), storage.UserID(999), frame.NewConn(server, 0))
	assert.ErrorIs(t, err, session.ErrFailed)

	_, err = peer.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, r.Count())
	assert.Empty(t, r.ActiveUsers())
}

func TestShutdown(t *testing.T) {
	store, users := newStore(t)
	r := NewRegistry(context.Background(), Config{Store: store})

	s, err := r.Create(users[0], false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	select {
	case <-s.Done():
	default:
		t.Fatal("session still running after shutdown")
	}
	assert.Equal(t, []storage.UserID{users[0]}, r.ActiveUsers())

	_, err = r.Create(users[1], false)
	assert.ErrorIs(t, err, ErrShutdown)
}
