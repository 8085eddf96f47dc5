package memory

import (
	"testing"

	"github.com/marmos91/dittochat/pkg/storage"
	storetest "github.com/marmos91/dittochat/pkg/storage/testing"
)

func TestMemoryStore(t *testing.T) {
	suite := &storetest.StoreTestSuite{
		NewStore: func(t *testing.T) (storage.Backend, map[string]any) {
			return NewMemoryStore(), map[string]any{storage.BackendKey: DisplayName}
		},
	}
	suite.Run(t)
}
