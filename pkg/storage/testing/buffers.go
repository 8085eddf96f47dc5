package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittochat/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunBufferTests(test *testing.T) {
	test.Run("BufferInfo_GetOrCreate", suite.TestBufferInfo_GetOrCreate)
	test.Run("RequestBuffers", suite.TestRequestBuffers)
	test.Run("RemoveBuffer", suite.TestRemoveBuffer)
	test.Run("RenameBuffer", suite.TestRenameBuffer)
	test.Run("LastSeen", suite.TestLastSeen)
}

// TestBufferInfo_GetOrCreate verifies lookups are case-insensitive and a
// second lookup returns the existing buffer.
func (suite *StoreTestSuite) TestBufferInfo_GetOrCreate(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")
	network := addNetwork(test, store, alice, "freenode")

	created, err := store.BufferInfo(ctx, alice, network, storage.ChannelBuffer, "#Go")
	require.NoError(test, err)
	assert.Equal(test, network, created.NetworkID)
	assert.Equal(test, storage.ChannelBuffer, created.Type)
	assert.Equal(test, "#Go", created.Name)

	again, err := store.BufferInfo(ctx, alice, network, storage.ChannelBuffer, "#go")
	require.NoError(test, err)
	assert.Equal(test, created, again)

	status, err := store.BufferInfo(ctx, alice, network, storage.StatusBuffer, "")
	require.NoError(test, err)
	assert.NotEqual(test, created.BufferID, status.BufferID)
	assert.Equal(test, storage.StatusBuffer, status.Type)

	byID, err := store.GetBufferInfo(ctx, alice, created.BufferID)
	require.NoError(test, err)
	assert.Equal(test, created, byID)

	_, err = store.GetBufferInfo(ctx, alice, created.BufferID+100)
	assert.True(test, storage.IsNotFound(err), "got %v", err)
}

func (suite *StoreTestSuite) TestRequestBuffers(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")
	bob := addUser(test, store, "bob")
	freenode := addNetwork(test, store, alice, "freenode")
	oftc := addNetwork(test, store, alice, "oftc")
	bobNet := addNetwork(test, store, bob, "freenode")

	a := addBuffer(test, store, alice, freenode, "#go")
	b := addBuffer(test, store, alice, oftc, "#debian")
	c := addBuffer(test, store, alice, freenode, "#rust")
	addBuffer(test, store, bob, bobNet, "#go")

	buffers, err := store.RequestBuffers(ctx, alice)
	require.NoError(test, err)
	assert.Equal(test, []storage.BufferInfo{a, b, c}, buffers)

	ids, err := store.RequestBufferIDsForNetwork(ctx, alice, freenode)
	require.NoError(test, err)
	assert.Equal(test, []storage.BufferID{a.BufferID, c.BufferID}, ids)
}

func (suite *StoreTestSuite) TestRemoveBuffer(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")
	network := addNetwork(test, store, alice, "freenode")
	buffer := addBuffer(test, store, alice, network, "#go")

	require.NoError(test, store.RemoveBuffer(ctx, alice, buffer.BufferID))

	_, err := store.GetBufferInfo(ctx, alice, buffer.BufferID)
	assert.True(test, storage.IsNotFound(err), "got %v", err)

	err = store.RemoveBuffer(ctx, alice, buffer.BufferID)
	assert.True(test, storage.IsNotFound(err), "got %v", err)
}

func (suite *StoreTestSuite) TestRenameBuffer(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")
	network := addNetwork(test, store, alice, "freenode")
	buffer, err := store.BufferInfo(ctx, alice, network, storage.QueryBuffer, "bob")
	require.NoError(test, err)
	addBuffer(test, store, alice, network, "carol")

	id, err := store.RenameBuffer(ctx, alice, network, "robert", "BOB")
	require.NoError(test, err)
	assert.Equal(test, buffer.BufferID, id)

	got, err := store.GetBufferInfo(ctx, alice, id)
	require.NoError(test, err)
	assert.Equal(test, "robert", got.Name)

	_, err = store.RenameBuffer(ctx, alice, network, "carol", "robert")
	assert.True(test, storage.IsAlreadyExists(err), "got %v", err)

	_, err = store.RenameBuffer(ctx, alice, network, "dave", "nobody")
	assert.True(test, storage.IsNotFound(err), "got %v", err)

	// Case-only renames are allowed.
	_, err = store.RenameBuffer(ctx, alice, network, "Robert", "robert")
	assert.NoError(test, err)
}

func (suite *StoreTestSuite) TestLastSeen(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")
	network := addNetwork(test, store, alice, "freenode")
	goBuf := addBuffer(test, store, alice, network, "#go")
	addBuffer(test, store, alice, network, "#rust")

	seen, err := store.BufferLastSeenMsgIDs(ctx, alice)
	require.NoError(test, err)
	assert.Empty(test, seen)

	require.NoError(test, store.SetBufferLastSeenMsg(ctx, alice, goBuf.BufferID, 42))
	seen, err = store.BufferLastSeenMsgIDs(ctx, alice)
	require.NoError(test, err)
	assert.Equal(test, map[storage.BufferID]storage.MsgID{goBuf.BufferID: 42}, seen)

	err = store.SetBufferLastSeenMsg(ctx, alice, goBuf.BufferID+100, 1)
	assert.True(test, storage.IsNotFound(err), "got %v", err)
}
