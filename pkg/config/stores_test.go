package config

import (
	"path/filepath"
	"testing"

	"github.com/marmos91/dittochat/pkg/storage"
)

func TestCreateBackends_Order(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.DataDir = t.TempDir()
	cfg.Storage.Backends = []string{"Memory", "SQLite"}

	backends, err := CreateBackends(cfg)
	if err != nil {
		t.Fatalf("CreateBackends failed: %v", err)
	}
	if len(backends) != 2 {
		t.Fatalf("Expected 2 backends, got %d", len(backends))
	}
	if backends[0].DisplayName() != "Memory" || backends[1].DisplayName() != "SQLite" {
		t.Errorf("Unexpected order: %s, %s", backends[0].DisplayName(), backends[1].DisplayName())
	}
	for _, b := range backends {
		if !b.IsAvailable() {
			t.Errorf("Expected %s to be available", b.DisplayName())
		}
	}
}

func TestCreateBackends_Unknown(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Backends = []string{"Postgres"}

	if _, err := CreateBackends(cfg); err == nil {
		t.Fatal("Expected error for unknown backend")
	}
}

func TestPresetStorageSettings_None(t *testing.T) {
	settings, err := PresetStorageSettings(GetDefaultConfig())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if settings != nil {
		t.Errorf("Expected nil settings without preset, got %v", settings)
	}
}

func TestPresetStorageSettings_SQLite(t *testing.T) {
	cfg := GetDefaultConfig()
	path := filepath.Join(t.TempDir(), "chat.db")
	cfg.Storage.Backend = "SQLite"
	cfg.Storage.Settings = map[string]any{"path": path}

	settings, err := PresetStorageSettings(cfg)
	if err != nil {
		t.Fatalf("PresetStorageSettings failed: %v", err)
	}
	if settings[storage.BackendKey] != "SQLite" {
		t.Errorf("Expected backend key set, got %v", settings[storage.BackendKey])
	}
	if settings["path"] != path {
		t.Errorf("Expected path preserved, got %v", settings["path"])
	}
	if _, ok := cfg.Storage.Settings[storage.BackendKey]; ok {
		t.Error("PresetStorageSettings modified the config map")
	}
}

func TestPresetStorageSettings_UnknownKey(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Backend = "Badger"
	cfg.Storage.Settings = map[string]any{"pth": "/tmp/badger"}

	if _, err := PresetStorageSettings(cfg); err == nil {
		t.Fatal("Expected error for misspelled setting")
	}
}
