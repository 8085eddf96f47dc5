package e2e

import (
	"github.com/marmos91/dittochat/pkg/storage/badger"
	"github.com/marmos91/dittochat/pkg/storage/sqlite"
)

// TestConfig names one backend the first client picks during setup.
type TestConfig struct {
	Name    string
	Backend string
}

// String returns a string representation of the configuration
func (tc *TestConfig) String() string {
	return tc.Name
}

// AllConfigurations returns the on-disk backends. The memory backend is left
// out because it cannot survive a restart.
func AllConfigurations() []*TestConfig {
	return []*TestConfig{
		{Name: "sqlite", Backend: sqlite.DisplayName},
		{Name: "badger", Backend: badger.DisplayName},
	}
}
