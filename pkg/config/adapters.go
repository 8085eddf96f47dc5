package config

import (
	"fmt"

	"github.com/marmos91/dittochat/pkg/adapter"
	"github.com/marmos91/dittochat/pkg/adapter/client"
)

// CreateAdapters creates all enabled protocol adapters from the configuration.
//
// Parameters:
//   - cfg: The complete DittoChat configuration
//   - clientOpts: Collaborators of the client adapter (handshaker, TLS, metrics)
//
// Returns:
//   - []adapter.Adapter: List of enabled adapters ready to be added to the server
//   - error: Any error during adapter creation
func CreateAdapters(cfg *Config, clientOpts client.Options) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.Client.Enabled {
		if clientOpts.Handshaker == nil {
			return nil, fmt.Errorf("client adapter requires a handshaker")
		}
		adapters = append(adapters, client.New(cfg.Adapters.Client, clientOpts))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}
