package config

import (
	"fmt"
	"maps"
	"path/filepath"

	"github.com/marmos91/dittochat/pkg/storage"
	"github.com/marmos91/dittochat/pkg/storage/badger"
	"github.com/marmos91/dittochat/pkg/storage/memory"
	"github.com/marmos91/dittochat/pkg/storage/sqlite"
	"github.com/mitchellh/mapstructure"
)

// CreateBackends creates every backend listed in cfg.Storage.Backends, in order.
//
// File-based backends default to a path under the data directory; the
// settings chosen at setup time may still point them elsewhere.
//
// Supported names:
//   - "SQLite": pkg/storage/sqlite (single database file, the default)
//   - "Badger": pkg/storage/badger (embedded key-value store)
//   - "Memory": pkg/storage/memory (volatile, for tests and demos)
func CreateBackends(cfg *Config) ([]storage.Backend, error) {
	backends := make([]storage.Backend, 0, len(cfg.Storage.Backends))
	for _, name := range cfg.Storage.Backends {
		b, err := createBackend(name, cfg.Server.DataDir)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}
	return backends, nil
}

func createBackend(name, dataDir string) (storage.Backend, error) {
	switch name {
	case sqlite.DisplayName:
		return sqlite.NewSQLiteStore(filepath.Join(dataDir, "dittochat.sqlite")), nil
	case badger.DisplayName:
		return badger.NewBadgerStore(filepath.Join(dataDir, "badger")), nil
	case memory.DisplayName:
		return memory.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", name)
	}
}

// PresetStorageSettings returns the storage settings map for the backend
// pre-selected in the configuration, or nil when none is.
//
// The backend-specific keys are decoded strictly so a typo in the config
// file fails at startup instead of being silently ignored by the backend.
func PresetStorageSettings(cfg *Config) (map[string]any, error) {
	if cfg.Storage.Backend == "" {
		return nil, nil
	}

	var target any
	switch cfg.Storage.Backend {
	case sqlite.DisplayName:
		target = &sqlite.Settings{}
	case badger.DisplayName:
		target = &badger.Settings{}
	case memory.DisplayName:
		target = &struct{}{}
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Storage.Backend)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      target,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(cfg.Storage.Settings); err != nil {
		return nil, fmt.Errorf("invalid storage.settings for %s: %w", cfg.Storage.Backend, err)
	}

	settings := make(map[string]any, len(cfg.Storage.Settings)+1)
	maps.Copy(settings, cfg.Storage.Settings)
	settings[storage.BackendKey] = cfg.Storage.Backend
	return settings, nil
}
