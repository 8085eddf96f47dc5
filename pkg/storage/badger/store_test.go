package badger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittochat/pkg/storage"
	storetest "github.com/marmos91/dittochat/pkg/storage/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBadgerStore(t *testing.T) {
	suite := &storetest.StoreTestSuite{
		NewStore: func(t *testing.T) (storage.Backend, map[string]any) {
			return NewBadgerStore(filepath.Join(t.TempDir(), "badger")), map[string]any{
				storage.BackendKey: DisplayName,
			}
		},
	}
	suite.Run(t)
}

func TestBadgerStore_InMemory(t *testing.T) {
	storage.PasswordCost = bcrypt.MinCost
	ctx := context.Background()
	settings := map[string]any{"in_memory": true}

	store := NewBadgerStore("")
	require.NoError(t, store.Setup(ctx, settings))
	require.NoError(t, store.Init(ctx, settings))
	defer store.Close()

	_, err := store.AddUser(ctx, "alice", "pw")
	assert.NoError(t, err)
}

// TestBadgerStore_Reopen verifies data and id sequences survive a restart.
func TestBadgerStore_Reopen(t *testing.T) {
	storage.PasswordCost = bcrypt.MinCost
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "badger")

	first := NewBadgerStore(path)
	require.NoError(t, first.Setup(ctx, nil))
	require.NoError(t, first.Init(ctx, nil))
	alice, err := first.AddUser(ctx, "alice", "pw")
	require.NoError(t, err)
	require.NoError(t, first.Sync(ctx))
	require.NoError(t, first.Close())

	second := NewBadgerStore(path)
	require.NoError(t, second.Init(ctx, nil))
	defer second.Close()

	got, err := second.ValidateUser(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	bob, err := second.AddUser(ctx, "bob", "pw")
	require.NoError(t, err)
	assert.Greater(t, int64(bob), int64(alice))
}
