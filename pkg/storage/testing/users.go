package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittochat/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunUserTests(test *testing.T) {
	test.Run("AddUser_Success", suite.TestAddUser_Success)
	test.Run("AddUser_Duplicate", suite.TestAddUser_Duplicate)
	test.Run("AddUser_EmptyName", suite.TestAddUser_EmptyName)
	test.Run("ValidateUser_Failures", suite.TestValidateUser_Failures)
	test.Run("UpdateUserPassword", suite.TestUpdateUserPassword)
	test.Run("RenameUser", suite.TestRenameUser)
	test.Run("DelUser", suite.TestDelUser)
	test.Run("UserSettings", suite.TestUserSettings)
}

func (suite *StoreTestSuite) TestAddUser_Success(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()

	alice := addUser(test, store, "alice")
	bob := addUser(test, store, "bob")
	assert.NotEqual(test, alice, bob)

	got, err := store.ValidateUser(ctx, "alice", "alice-secret")
	require.NoError(test, err)
	assert.Equal(test, alice, got)
}

func (suite *StoreTestSuite) TestAddUser_Duplicate(test *testing.T) {
	store := suite.openStore(test)
	addUser(test, store, "alice")

	_, err := store.AddUser(context.Background(), "alice", "other")
	require.Error(test, err)
	assert.True(test, storage.IsAlreadyExists(err), "got %v", err)
}

func (suite *StoreTestSuite) TestAddUser_EmptyName(test *testing.T) {
	store := suite.openStore(test)

	_, err := store.AddUser(context.Background(), "", "pw")
	require.Error(test, err)
	code, ok := storage.CodeOf(err)
	require.True(test, ok)
	assert.Equal(test, storage.ErrInvalidArgument, code)
}

// TestValidateUser_Failures verifies an unknown user and a wrong password
// produce the same error.
func (suite *StoreTestSuite) TestValidateUser_Failures(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	addUser(test, store, "alice")

	_, wrongPassword := store.ValidateUser(ctx, "alice", "nope")
	_, unknownUser := store.ValidateUser(ctx, "mallory", "nope")

	require.Error(test, wrongPassword)
	require.Error(test, unknownUser)
	assert.True(test, storage.IsInvalidCredentials(wrongPassword))
	assert.True(test, storage.IsInvalidCredentials(unknownUser))
	assert.Equal(test, wrongPassword.Error(), unknownUser.Error())
}

func (suite *StoreTestSuite) TestUpdateUserPassword(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")

	require.NoError(test, store.UpdateUserPassword(ctx, alice, "fresh"))

	_, err := store.ValidateUser(ctx, "alice", "alice-secret")
	assert.True(test, storage.IsInvalidCredentials(err))

	got, err := store.ValidateUser(ctx, "alice", "fresh")
	require.NoError(test, err)
	assert.Equal(test, alice, got)

	err = store.UpdateUserPassword(ctx, alice+1000, "x")
	assert.True(test, storage.IsNotFound(err), "got %v", err)
}

func (suite *StoreTestSuite) TestRenameUser(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")
	addUser(test, store, "bob")

	require.NoError(test, store.RenameUser(ctx, alice, "alicia"))

	got, err := store.ValidateUser(ctx, "alicia", "alice-secret")
	require.NoError(test, err)
	assert.Equal(test, alice, got)

	_, err = store.ValidateUser(ctx, "alice", "alice-secret")
	assert.True(test, storage.IsInvalidCredentials(err))

	err = store.RenameUser(ctx, alice, "bob")
	assert.True(test, storage.IsAlreadyExists(err), "got %v", err)
}

// TestDelUser verifies deleting a user removes the account and its data.
func (suite *StoreTestSuite) TestDelUser(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")
	network := addNetwork(test, store, alice, "freenode")
	addBuffer(test, store, alice, network, "#go")

	require.NoError(test, store.DelUser(ctx, alice))

	_, err := store.ValidateUser(ctx, "alice", "alice-secret")
	assert.True(test, storage.IsInvalidCredentials(err))

	_, err = store.Networks(ctx, alice)
	assert.True(test, storage.IsNotFound(err), "got %v", err)

	err = store.DelUser(ctx, alice)
	assert.True(test, storage.IsNotFound(err), "got %v", err)

	// The name can be reused.
	addUser(test, store, "alice")
}

func (suite *StoreTestSuite) TestUserSettings(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")

	got, err := store.GetUserSetting(ctx, alice, "theme", "light")
	require.NoError(test, err)
	assert.Equal(test, "light", got)

	require.NoError(test, store.SetUserSetting(ctx, alice, "theme", "dark"))
	got, err = store.GetUserSetting(ctx, alice, "theme", "light")
	require.NoError(test, err)
	assert.Equal(test, "dark", got)

	require.NoError(test, store.SetUserSetting(ctx, alice, "theme", "solarized"))
	got, err = store.GetUserSetting(ctx, alice, "theme", "light")
	require.NoError(test, err)
	assert.Equal(test, "solarized", got)
}
