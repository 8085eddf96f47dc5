package config

import (
	"testing"
	"time"

	"github.com/marmos91/dittochat/internal/protocol/frame"
	"github.com/marmos91/dittochat/pkg/adapter/client"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_LogLevelNormalization(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"debug", "DEBUG"},
		{"Info", "INFO"},
		{"WARN", "WARN"},
		{"error", "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cfg := &Config{Logging: LoggingConfig{Level: tt.input}}
			ApplyDefaults(cfg)

			if cfg.Logging.Level != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, cfg.Logging.Level)
			}
		})
	}
}

func TestApplyDefaults_Server(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.DataDir == "" {
		t.Error("Expected default data dir")
	}
	if cfg.Server.StateFile != "core.yaml" {
		t.Errorf("Expected default state file 'core.yaml', got %q", cfg.Server.StateFile)
	}
	if cfg.Server.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Server.Metrics.Port)
	}
}

func TestApplyDefaults_Storage(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if len(cfg.Storage.Backends) != len(DefaultBackends) {
		t.Fatalf("Expected %d default backends, got %v", len(DefaultBackends), cfg.Storage.Backends)
	}
	if cfg.Storage.SyncInterval != 10*time.Minute {
		t.Errorf("Expected default sync interval 10m, got %v", cfg.Storage.SyncInterval)
	}

	// The defaults slice must not be shared with the config.
	cfg.Storage.Backends[0] = "Memory"
	if DefaultBackends[0] != "SQLite" {
		t.Error("ApplyDefaults aliased DefaultBackends")
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{ShutdownTimeout: 5 * time.Second},
		Storage: StorageConfig{
			Backends:     []string{"Memory"},
			SyncInterval: time.Minute,
		},
		Adapters: AdaptersConfig{
			Client: client.Config{Enabled: true, Port: 9999, HandshakeTimeout: -1},
		},
	}
	ApplyDefaults(cfg)

	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected explicit shutdown timeout preserved, got %v", cfg.Server.ShutdownTimeout)
	}
	if len(cfg.Storage.Backends) != 1 || cfg.Storage.Backends[0] != "Memory" {
		t.Errorf("Expected explicit backends preserved, got %v", cfg.Storage.Backends)
	}
	if cfg.Adapters.Client.Port != 9999 {
		t.Errorf("Expected explicit port preserved, got %d", cfg.Adapters.Client.Port)
	}
	if cfg.Adapters.Client.HandshakeTimeout != -1 {
		t.Errorf("Expected disabled handshake timeout preserved, got %v", cfg.Adapters.Client.HandshakeTimeout)
	}
}

func TestApplyDefaults_ClientAdapter(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	c := cfg.Adapters.Client
	if !c.Enabled {
		t.Error("Expected client adapter enabled by default")
	}
	if c.Port != client.DefaultPort {
		t.Errorf("Expected default port %d, got %d", client.DefaultPort, c.Port)
	}
	if c.MaxConnections != 0 {
		t.Errorf("Expected unlimited connections by default, got %d", c.MaxConnections)
	}
	if c.MaxFrameSize != frame.DefaultMaxFrameSize {
		t.Errorf("Expected default frame size, got %d", c.MaxFrameSize)
	}
	if c.AcceptBurst != 0 {
		t.Errorf("Expected no burst without a rate, got %d", c.AcceptBurst)
	}
}

func TestApplyDefaults_AcceptBurst(t *testing.T) {
	cfg := &Config{Adapters: AdaptersConfig{Client: client.Config{AcceptRate: 5}}}
	ApplyDefaults(cfg)

	if cfg.Adapters.Client.AcceptBurst != 10 {
		t.Errorf("Expected default burst 10 with a rate set, got %d", cfg.Adapters.Client.AcceptBurst)
	}
}

func TestApplyDefaults_ExplicitlyDisabledAdapter(t *testing.T) {
	cfg := &Config{Adapters: AdaptersConfig{Client: client.Config{Enabled: false, Port: 4242}}}
	ApplyDefaults(cfg)

	if cfg.Adapters.Client.Enabled {
		t.Error("Expected explicitly configured adapter to stay disabled")
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if !cfg.TLS.Enabled || !cfg.TLS.GenerateSelfSigned {
		t.Error("Expected TLS with self-signed generation in the default config")
	}
	if cfg.TLS.CertFile != "core.crt" || cfg.TLS.KeyFile != "core.key" {
		t.Errorf("Unexpected default TLS files %q %q", cfg.TLS.CertFile, cfg.TLS.KeyFile)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}
