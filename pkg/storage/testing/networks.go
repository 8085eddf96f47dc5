package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittochat/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunNetworkTests(test *testing.T) {
	test.Run("CreateNetwork_RoundTrip", suite.TestCreateNetwork_RoundTrip)
	test.Run("CreateNetwork_Duplicate", suite.TestCreateNetwork_Duplicate)
	test.Run("UpdateNetwork", suite.TestUpdateNetwork)
	test.Run("RemoveNetwork", suite.TestRemoveNetwork)
	test.Run("NetworkOwnership", suite.TestNetworkOwnership)
	test.Run("ConnectedNetworks", suite.TestConnectedNetworks)
	test.Run("PersistentChannels", suite.TestPersistentChannels)
}

func (suite *StoreTestSuite) TestCreateNetwork_RoundTrip(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")

	id := addNetwork(test, store, alice, "freenode")

	networks, err := store.Networks(ctx, alice)
	require.NoError(test, err)
	require.Len(test, networks, 1)

	want := SampleNetwork("freenode")
	want.NetworkID = id
	assert.Equal(test, want, networks[0])

	byName, err := store.NetworkID(ctx, alice, "freenode")
	require.NoError(test, err)
	assert.Equal(test, id, byName)

	_, err = store.NetworkID(ctx, alice, "efnet")
	assert.True(test, storage.IsNotFound(err), "got %v", err)
}

func (suite *StoreTestSuite) TestCreateNetwork_Duplicate(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")
	bob := addUser(test, store, "bob")
	addNetwork(test, store, alice, "freenode")

	_, err := store.CreateNetwork(ctx, alice, SampleNetwork("freenode"))
	assert.True(test, storage.IsAlreadyExists(err), "got %v", err)

	// Names are scoped per user.
	addNetwork(test, store, bob, "freenode")
}

func (suite *StoreTestSuite) TestUpdateNetwork(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")
	id := addNetwork(test, store, alice, "freenode")

	info := SampleNetwork("libera")
	info.NetworkID = id
	info.Perform = nil
	info.ServerList = []storage.ServerEntry{{Host: "irc.libera.chat", Port: 6697, UseSSL: true}}
	require.NoError(test, store.UpdateNetwork(ctx, alice, info))

	networks, err := store.Networks(ctx, alice)
	require.NoError(test, err)
	require.Len(test, networks, 1)
	assert.Equal(test, "libera", networks[0].NetworkName)
	assert.Equal(test, info.ServerList, networks[0].ServerList)
	assert.Empty(test, networks[0].Perform)

	info.NetworkID = id + 100
	err = store.UpdateNetwork(ctx, alice, info)
	assert.True(test, storage.IsNotFound(err), "got %v", err)
}

// TestRemoveNetwork verifies buffers and backlog go with the network.
func (suite *StoreTestSuite) TestRemoveNetwork(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")
	id := addNetwork(test, store, alice, "freenode")
	buffer := addBuffer(test, store, alice, id, "#go")

	require.NoError(test, store.RemoveNetwork(ctx, alice, id))

	networks, err := store.Networks(ctx, alice)
	require.NoError(test, err)
	assert.Empty(test, networks)

	_, err = store.GetBufferInfo(ctx, alice, buffer.BufferID)
	assert.True(test, storage.IsNotFound(err), "got %v", err)

	err = store.RemoveNetwork(ctx, alice, id)
	assert.True(test, storage.IsNotFound(err), "got %v", err)
}

// TestNetworkOwnership verifies one user cannot touch another user's network.
func (suite *StoreTestSuite) TestNetworkOwnership(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")
	bob := addUser(test, store, "bob")
	id := addNetwork(test, store, alice, "freenode")

	err := store.SetNetworkConnected(ctx, bob, id, true)
	assert.True(test, storage.IsNotFound(err), "got %v", err)

	err = store.RemoveNetwork(ctx, bob, id)
	assert.True(test, storage.IsNotFound(err), "got %v", err)

	_, err = store.BufferInfo(ctx, bob, id, storage.ChannelBuffer, "#go")
	assert.True(test, storage.IsNotFound(err), "got %v", err)

	networks, err := store.Networks(ctx, bob)
	require.NoError(test, err)
	assert.Empty(test, networks)
}

func (suite *StoreTestSuite) TestConnectedNetworks(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")
	first := addNetwork(test, store, alice, "freenode")
	second := addNetwork(test, store, alice, "oftc")
	addNetwork(test, store, alice, "efnet")

	connected, err := store.ConnectedNetworks(ctx, alice)
	require.NoError(test, err)
	assert.Empty(test, connected)

	require.NoError(test, store.SetNetworkConnected(ctx, alice, second, true))
	require.NoError(test, store.SetNetworkConnected(ctx, alice, first, true))

	connected, err = store.ConnectedNetworks(ctx, alice)
	require.NoError(test, err)
	assert.Equal(test, []storage.NetworkID{first, second}, connected)

	require.NoError(test, store.SetNetworkConnected(ctx, alice, first, false))
	connected, err = store.ConnectedNetworks(ctx, alice)
	require.NoError(test, err)
	assert.Equal(test, []storage.NetworkID{second}, connected)
}

func (suite *StoreTestSuite) TestPersistentChannels(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")
	id := addNetwork(test, store, alice, "freenode")

	require.NoError(test, store.SetChannelPersistent(ctx, alice, id, "#Go", true))
	require.NoError(test, store.SetChannelPersistent(ctx, alice, id, "#rust", true))
	require.NoError(test, store.SetPersistentChannelKey(ctx, alice, id, "#go", "hunter2"))

	// Keys for channels that are not joined are ignored.
	require.NoError(test, store.SetPersistentChannelKey(ctx, alice, id, "#java", "x"))

	channels, err := store.PersistentChannels(ctx, alice, id)
	require.NoError(test, err)
	assert.Equal(test, map[string]string{"#Go": "hunter2", "#rust": ""}, channels)

	require.NoError(test, store.SetChannelPersistent(ctx, alice, id, "#RUST", false))
	channels, err = store.PersistentChannels(ctx, alice, id)
	require.NoError(test, err)
	assert.Equal(test, map[string]string{"#Go": "hunter2"}, channels)
}
