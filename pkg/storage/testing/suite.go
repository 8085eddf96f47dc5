package testing

import (
	"testing"

	"github.com/marmos91/dittochat/pkg/storage"
	"golang.org/x/crypto/bcrypt"
)

// StoreTestSuite is a conformance suite for storage.Backend implementations.
// It tests the interface contract, not implementation details, so every
// backend (memory, sqlite, badger) runs the same cases.
type StoreTestSuite struct {
	// NewStore creates a fresh, uninitialized backend for each test together
	// with the settings to pass to Setup and Init. Use test.TempDir for any
	// on-disk state so tests stay isolated.
	NewStore func(test *testing.T) (storage.Backend, map[string]any)
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(test *testing.T) {
	storage.PasswordCost = bcrypt.MinCost

	test.Run("Lifecycle", suite.RunLifecycleTests)
	test.Run("Users", suite.RunUserTests)
	test.Run("Networks", suite.RunNetworkTests)
	test.Run("Buffers", suite.RunBufferTests)
	test.Run("Messages", suite.RunMessageTests)
}
