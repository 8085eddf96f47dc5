package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittochat/pkg/storage"
	"github.com/marmos91/dittochat/pkg/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	storage.PasswordCost = bcrypt.MinCost
}

// fakeBackend is a memory store with a configurable name that counts calls.
type fakeBackend struct {
	*memory.MemoryStore
	name      string
	available bool
	initErr   error
	addErr    error

	mu     sync.Mutex
	closes int
	syncs  int
	setups int
}

func newFake(name string) *fakeBackend {
	return &fakeBackend{MemoryStore: memory.NewMemoryStore(), name: name, available: true}
}

func (f *fakeBackend) DisplayName() string { return f.name }
func (f *fakeBackend) IsAvailable() bool   { return f.available }

func (f *fakeBackend) Init(ctx context.Context, settings map[string]any) error {
	if f.initErr != nil {
		return f.initErr
	}
	return f.MemoryStore.Init(ctx, settings)
}

func (f *fakeBackend) AddUser(ctx context.Context, user, password string) (storage.UserID, error) {
	if f.addErr != nil {
		return 0, f.addErr
	}
	return f.MemoryStore.AddUser(ctx, user, password)
}

func (f *fakeBackend) Setup(ctx context.Context, settings map[string]any) error {
	f.mu.Lock()
	f.setups++
	f.mu.Unlock()
	return f.MemoryStore.Setup(ctx, settings)
}

func (f *fakeBackend) Sync(ctx context.Context) error {
	f.mu.Lock()
	f.syncs++
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return f.MemoryStore.Close()
}

func (f *fakeBackend) counts() (closes, syncs, setups int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes, f.syncs, f.setups
}

func settingsFor(name string) map[string]any {
	return map[string]any{storage.BackendKey: name}
}

func TestRegisterAndValidate(t *testing.T) {
	g := New(nil)
	assert.ErrorIs(t, g.Validate(), ErrNoBackends)

	broken := newFake("Broken")
	broken.available = false
	assert.False(t, g.Register(broken))
	closes, _, _ := broken.counts()
	assert.Equal(t, 1, closes)
	assert.ErrorIs(t, g.Validate(), ErrNoBackends)

	assert.True(t, g.Register(newFake("A")))
	dup := newFake("A")
	assert.False(t, g.Register(dup))
	assert.True(t, g.Register(newFake("B")))
	require.NoError(t, g.Validate())

	assert.Equal(t, []storage.Descriptor{
		{DisplayName: "A", Description: memory.NewMemoryStore().Description()},
		{DisplayName: "B", Description: memory.NewMemoryStore().Description()},
	}, g.Backends())
}

func TestUnconfiguredCallsFail(t *testing.T) {
	g := New(nil)
	g.Register(newFake("A"))

	assert.False(t, g.Configured())
	_, err := g.ValidateUser(context.Background(), "alice", "pw")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, g.Sync(context.Background()))
}

func TestInitStorage_UnknownBackend(t *testing.T) {
	g := New(nil)
	g.Register(newFake("A"))

	err := g.InitStorage(context.Background(), settingsFor("Z"), true)
	assert.ErrorIs(t, err, ErrUnknownBackend)
	assert.False(t, g.Configured())
}

// TestInitStorage_SetupOnlyWhenRequested verifies Setup runs only in
// first-run mode.
func TestInitStorage_SetupOnlyWhenRequested(t *testing.T) {
	ctx := context.Background()
	g := New(nil)
	a := newFake("A")
	g.Register(a)

	err := g.InitStorage(ctx, settingsFor("A"), false)
	require.Error(t, err)
	assert.True(t, storage.IsNotInitialized(err))
	_, _, setups := a.counts()
	assert.Equal(t, 0, setups)
	assert.False(t, g.Configured())

	require.NoError(t, g.InitStorage(ctx, settingsFor("A"), true))
	_, _, setups = a.counts()
	assert.Equal(t, 1, setups)
	assert.True(t, g.Configured())
	assert.Equal(t, "A", g.ActiveBackend())
}

// TestInitStorage_InitAndSetupFail verifies a broken backend leaves the gate
// unconfigured and still selectable.
func TestInitStorage_InitAndSetupFail(t *testing.T) {
	g := New(nil)
	a := newFake("A")
	a.initErr = errors.New("disk on fire")
	g.Register(a)

	err := g.InitStorage(context.Background(), settingsFor("A"), true)
	require.Error(t, err)
	assert.False(t, g.Configured())
	assert.Len(t, g.Backends(), 1)
}

// TestInitStorage_CommitDiscardsOthers verifies the losing candidates are
// closed exactly once and a retry with the same name is a no-op.
func TestInitStorage_CommitDiscardsOthers(t *testing.T) {
	ctx := context.Background()
	g := New(nil)
	a, b, c := newFake("A"), newFake("B"), newFake("C")
	g.Register(a)
	g.Register(b)
	g.Register(c)

	require.NoError(t, g.InitStorage(ctx, settingsFor("B"), true))
	require.NoError(t, g.InitStorage(ctx, settingsFor("B"), true))

	for _, f := range []*fakeBackend{a, c} {
		closes, _, _ := f.counts()
		assert.Equal(t, 1, closes, f.name)
	}
	closes, _, setups := b.counts()
	assert.Equal(t, 0, closes)
	assert.Equal(t, 1, setups)
	assert.Empty(t, g.Backends())

	err := g.InitStorage(ctx, settingsFor("A"), true)
	assert.ErrorIs(t, err, ErrAlreadyConfigured)
	assert.Equal(t, "B", g.ActiveBackend())
}

func TestSetupCore(t *testing.T) {
	ctx := context.Background()

	t.Run("missing credentials", func(t *testing.T) {
		g := New(nil)
		g.Register(newFake("A"))
		_, err := g.SetupCore(ctx, map[string]any{SetupBackendKey: "A", SetupAdminUserKey: "admin"})
		assert.ErrorIs(t, err, ErrInvalidSetup)
		assert.False(t, g.Configured())
	})

	t.Run("creates admin", func(t *testing.T) {
		g := New(nil)
		g.Register(newFake("A"))
		settings, err := g.SetupCore(ctx, map[string]any{
			SetupBackendKey:    "A",
			SetupAdminUserKey:  "admin",
			SetupAdminPassKey:  "hunter2",
			SetupPropertiesKey: map[string]any{"path": "/tmp/x"},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{storage.BackendKey: "A", "path": "/tmp/x"}, settings)

		id, err := g.ValidateUser(ctx, "admin", "hunter2")
		require.NoError(t, err)
		assert.True(t, id.IsValid())
	})

	t.Run("admin failure leaves core unconfigured", func(t *testing.T) {
		g := New(nil)
		a := newFake("A")
		b := newFake("B")
		a.addErr = errors.New("disk full")
		g.Register(a)
		g.Register(b)

		data := map[string]any{SetupBackendKey: "A", SetupAdminUserKey: "admin", SetupAdminPassKey: "pw"}
		_, err := g.SetupCore(ctx, data)
		require.Error(t, err)
		assert.False(t, g.Configured())
		closes, _, _ := b.counts()
		assert.Zero(t, closes, "other candidates stay open until a backend is committed")

		a.addErr = nil
		_, err = g.SetupCore(ctx, data)
		require.NoError(t, err)
		assert.Equal(t, "A", g.ActiveBackend())

		_, err = g.ValidateUser(ctx, "admin", "pw")
		assert.NoError(t, err)
	})

	t.Run("second setup refused", func(t *testing.T) {
		g := New(nil)
		g.Register(newFake("A"))
		g.Register(newFake("B"))
		_, err := g.SetupCore(ctx, map[string]any{SetupBackendKey: "A", SetupAdminUserKey: "admin", SetupAdminPassKey: "pw"})
		require.NoError(t, err)

		_, err = g.SetupCore(ctx, map[string]any{SetupBackendKey: "B", SetupAdminUserKey: "root", SetupAdminPassKey: "pw"})
		assert.ErrorIs(t, err, ErrAlreadyConfigured)
		assert.Equal(t, "A", g.ActiveBackend())
	})
}

// TestCallsIgnoreCancellation verifies a cancelled caller context does not
// abort a storage call.
func TestCallsIgnoreCancellation(t *testing.T) {
	g := New(nil)
	g.Register(newFake("A"))
	require.NoError(t, g.InitStorage(context.Background(), settingsFor("A"), true))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	id, err := g.AddUser(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.True(t, id.IsValid())
}

func TestConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	g := New(nil)
	g.Register(newFake("A"))
	require.NoError(t, g.InitStorage(ctx, settingsFor("A"), true))
	user, err := g.AddUser(ctx, "alice", "pw")
	require.NoError(t, err)
	network, err := g.CreateNetwork(ctx, user, storage.NetworkInfo{NetworkName: "freenode"})
	require.NoError(t, err)
	buffer, err := g.BufferInfo(ctx, user, network, storage.ChannelBuffer, "#go")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.LogMessage(ctx, user, storage.Message{Timestamp: time.Now(), BufferInfo: buffer, Contents: "hi"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	msgs, err := g.RequestMsgs(ctx, user, buffer.BufferID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 20)
}

func TestRunSync(t *testing.T) {
	g := New(nil)
	a := newFake("A")
	g.Register(a)
	require.NoError(t, g.InitStorage(context.Background(), settingsFor("A"), true))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.RunSync(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, syncs, _ := a.counts()
		return syncs >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestClose(t *testing.T) {
	g := New(nil)
	a, b := newFake("A"), newFake("B")
	g.Register(a)
	g.Register(b)
	require.NoError(t, g.InitStorage(context.Background(), settingsFor("A"), true))

	require.NoError(t, g.Close())
	closesA, syncsA, _ := a.counts()
	closesB, _, _ := b.counts()
	assert.Equal(t, 1, closesA)
	assert.Equal(t, 1, syncsA)
	assert.Equal(t, 1, closesB)
	assert.False(t, g.Configured())
}
