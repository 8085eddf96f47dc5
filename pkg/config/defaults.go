package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittochat/internal/protocol/frame"
	"github.com/marmos91/dittochat/pkg/adapter/client"
	"github.com/marmos91/dittochat/pkg/storage/badger"
	"github.com/marmos91/dittochat/pkg/storage/memory"
	"github.com/marmos91/dittochat/pkg/storage/sqlite"
)

// DefaultBackends is the backend order offered to first-run clients.
var DefaultBackends = []string{sqlite.DisplayName, badger.DisplayName, memory.DisplayName}

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are handled by the backends themselves
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	applyTLSDefaults(&cfg.TLS)
	applyAdaptersDefaults(&cfg.Adapters)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.DataDir == "" {
		cfg.DataDir = getDataDir()
	}
	if cfg.StateFile == "" {
		cfg.StateFile = "core.yaml"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyStorageDefaults sets storage defaults.
func applyStorageDefaults(cfg *StorageConfig) {
	if len(cfg.Backends) == 0 {
		cfg.Backends = append([]string(nil), DefaultBackends...)
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = 10 * time.Minute
	}
}

// applyTLSDefaults sets TLS defaults.
func applyTLSDefaults(cfg *TLSConfig) {
	if cfg.CertFile == "" {
		cfg.CertFile = "core.crt"
	}
	if cfg.KeyFile == "" {
		cfg.KeyFile = "core.key"
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
}

// applyAdaptersDefaults sets adapter defaults.
func applyAdaptersDefaults(cfg *AdaptersConfig) {
	// Enable the client adapter by default if no adapters are configured.
	// A freshly loaded config (no file) then passes validation. Users can
	// still set enabled: false together with an explicit port.
	if !cfg.Client.Enabled && cfg.Client.Port == 0 {
		cfg.Client.Enabled = true
	}

	applyClientDefaults(&cfg.Client)
}

// applyClientDefaults sets client adapter defaults.
func applyClientDefaults(cfg *client.Config) {
	if cfg.Port == 0 {
		cfg.Port = client.DefaultPort
	}

	// MaxConnections defaults to 0 (unlimited)
	// AcceptRate defaults to 0 (unlimited)

	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 2 * time.Minute
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = frame.DefaultMaxFrameSize
	}
	if cfg.AcceptRate > 0 && cfg.AcceptBurst == 0 {
		cfg.AcceptBurst = 10
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		TLS: TLSConfig{
			Enabled:            true,
			GenerateSelfSigned: true,
		},
		Adapters: AdaptersConfig{
			Client: client.Config{
				Enabled: true,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
