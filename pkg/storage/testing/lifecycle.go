package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittochat/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunLifecycleTests(test *testing.T) {
	test.Run("Descriptor", suite.TestDescriptor)
	test.Run("Init_Uninitialized", suite.TestInit_Uninitialized)
	test.Run("Setup_ThenInit", suite.TestSetup_ThenInit)
	test.Run("Setup_Idempotent", suite.TestSetup_Idempotent)
	test.Run("Sync", suite.TestSync)
}

// TestDescriptor verifies the backend advertises a usable descriptor.
func (suite *StoreTestSuite) TestDescriptor(test *testing.T) {
	store, _ := suite.NewStore(test)
	defer store.Close()

	assert.NotEmpty(test, store.DisplayName())
	assert.NotEmpty(test, store.Description())
	assert.True(test, store.IsAvailable())

	desc := storage.DescriptorOf(store)
	assert.Equal(test, store.DisplayName(), desc.DisplayName)
}

// TestInit_Uninitialized verifies Init on a fresh store asks for setup.
func (suite *StoreTestSuite) TestInit_Uninitialized(test *testing.T) {
	store, settings := suite.NewStore(test)
	defer store.Close()

	err := store.Init(context.Background(), settings)
	require.Error(test, err)
	assert.True(test, storage.IsNotInitialized(err), "got %v", err)
}

func (suite *StoreTestSuite) TestSetup_ThenInit(test *testing.T) {
	store := suite.openStore(test)

	_, err := store.AddUser(context.Background(), "alice", "pw")
	assert.NoError(test, err)
}

// TestSetup_Idempotent verifies a second Setup keeps existing data.
func (suite *StoreTestSuite) TestSetup_Idempotent(test *testing.T) {
	ctx := context.Background()
	store, settings := suite.NewStore(test)
	defer store.Close()

	require.NoError(test, store.Setup(ctx, settings))
	require.NoError(test, store.Init(ctx, settings))
	id := addUser(test, store, "alice")

	require.NoError(test, store.Setup(ctx, settings))
	got, err := store.ValidateUser(ctx, "alice", "alice-secret")
	require.NoError(test, err)
	assert.Equal(test, id, got)
}

func (suite *StoreTestSuite) TestSync(test *testing.T) {
	store := suite.openStore(test)
	addUser(test, store, "alice")
	assert.NoError(test, store.Sync(context.Background()))
}
