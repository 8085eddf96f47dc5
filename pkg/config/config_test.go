package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "info"

server:
  data_dir: "` + tmpDir + `"

adapters:
  client:
    enabled: true
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify defaults were applied
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Adapters.Client.Port != 4242 {
		t.Errorf("Expected default client port 4242, got %d", cfg.Adapters.Client.Port)
	}
	if cfg.Adapters.Client.HandshakeTimeout != 2*time.Minute {
		t.Errorf("Expected default handshake timeout 2m, got %v", cfg.Adapters.Client.HandshakeTimeout)
	}
	if got := cfg.StatePath(); got != filepath.Join(tmpDir, "core.yaml") {
		t.Errorf("Expected state path under data dir, got %q", got)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// A non-existent explicit path keeps the user's own config out of the test.
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if len(cfg.Storage.Backends) != 3 || cfg.Storage.Backends[0] != "SQLite" {
		t.Errorf("Expected default backends, got %v", cfg.Storage.Backends)
	}
	if !cfg.Adapters.Client.Enabled {
		t.Error("Expected client adapter enabled by default")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	if err := os.WriteFile(configPath, []byte("logging:\n  level: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
storage:
  backends: ["SQLite", "Postgres"]
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown backend")
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("DITTOCHAT_LOGGING_LEVEL", "DEBUG")
	t.Setenv("DITTOCHAT_ADAPTERS_CLIENT_PORT", "5000")
	t.Setenv("DITTOCHAT_SERVER_DATA_DIR", tmpDir)
	t.Setenv("DITTOCHAT_STORAGE_SYNC_INTERVAL", "30s")

	cfg, err := Load(filepath.Join(tmpDir, "none.yaml"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level from env, got %q", cfg.Logging.Level)
	}
	if cfg.Adapters.Client.Port != 5000 {
		t.Errorf("Expected port from env, got %d", cfg.Adapters.Client.Port)
	}
	if cfg.Server.DataDir != tmpDir {
		t.Errorf("Expected data dir from env, got %q", cfg.Server.DataDir)
	}
	if cfg.Storage.SyncInterval != 30*time.Second {
		t.Errorf("Expected sync interval from env, got %v", cfg.Storage.SyncInterval)
	}
}

func TestLoad_PresetBackend(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
storage:
  backend: "SQLite"
  settings:
    path: "/var/lib/dittochat/chat.db"
    busy_timeout: 1000
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Storage.Backend != "SQLite" {
		t.Errorf("Expected preset backend SQLite, got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Settings["path"] != "/var/lib/dittochat/chat.db" {
		t.Errorf("Expected preset path, got %v", cfg.Storage.Settings["path"])
	}
}

func TestStatePath_Absolute(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.StateFile = "/etc/dittochat/core.yaml"

	if got := cfg.StatePath(); got != "/etc/dittochat/core.yaml" {
		t.Errorf("Expected absolute state path unchanged, got %q", got)
	}
}

func TestCertPaths(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.DataDir = "/var/lib/dittochat"
	cfg.TLS.KeyFile = "/etc/ssl/core.key"

	cert, key := cfg.CertPaths()
	if cert != "/var/lib/dittochat/core.crt" {
		t.Errorf("Expected relative cert path under data dir, got %q", cert)
	}
	if key != "/etc/ssl/core.key" {
		t.Errorf("Expected absolute key path unchanged, got %q", key)
	}
}
