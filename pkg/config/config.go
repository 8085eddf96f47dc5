package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittochat/pkg/adapter/client"
	"github.com/spf13/viper"
)

// Config represents the complete DittoChat core configuration.
//
// This structure captures all configurable aspects of the core including:
//   - Logging configuration
//   - Server-wide settings (data directory, state file, metrics)
//   - Storage backend selection and sync interval
//   - TLS certificate for opportunistic client encryption
//   - Protocol adapter configurations
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOCHAT_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// The storage backend itself is normally chosen by the first client through
// the setup wizard and persisted in the state file. Storage.Backend only
// pre-selects one for unattended deployments.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Storage lists the offered backends and optional unattended settings
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// TLS configures the certificate offered to clients that ask for TLS
	TLS TLSConfig `mapstructure:"tls" yaml:"tls"`

	// Adapters contains protocol adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters" yaml:"adapters"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// DataDir holds the state file and the default database paths
	DataDir string `mapstructure:"data_dir" yaml:"data_dir" validate:"required"`

	// StateFile stores the storage settings and CoreState. A relative path
	// is resolved against DataDir.
	StateFile string `mapstructure:"state_file" yaml:"state_file" validate:"required"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig controls the metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
}

// StorageConfig specifies storage backend configuration.
type StorageConfig struct {
	// Backends lists the backends offered to first-run clients, in order.
	// Valid values: SQLite, Badger, Memory
	Backends []string `mapstructure:"backends" yaml:"backends" validate:"required,min=1,dive,oneof=SQLite Badger Memory"`

	// Backend optionally pre-selects a backend when no storage settings
	// have been persisted yet. It must appear in Backends.
	Backend string `mapstructure:"backend" yaml:"backend,omitempty"`

	// Settings are the connection properties passed to Backend.
	Settings map[string]any `mapstructure:"settings" yaml:"settings,omitempty"`

	// SyncInterval is how often the active backend is flushed
	SyncInterval time.Duration `mapstructure:"sync_interval" yaml:"sync_interval" validate:"gt=0"`
}

// TLSConfig controls the certificate used for StartTLS.
type TLSConfig struct {
	// Enabled advertises TLS support when a valid certificate is loaded
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// CertFile and KeyFile are PEM files. Relative paths resolve against DataDir.
	CertFile string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file"`

	// GenerateSelfSigned writes a self-signed pair when the files are missing
	GenerateSelfSigned bool `mapstructure:"generate_self_signed" yaml:"generate_self_signed"`

	// Host is the certificate subject for generated pairs
	Host string `mapstructure:"host" yaml:"host"`
}

// AdaptersConfig contains all protocol adapter configurations.
type AdaptersConfig struct {
	// Client contains the front-end client listener configuration.
	// Uses the client.Config type directly to avoid duplication.
	Client client.Config `mapstructure:"client" yaml:"client"`
}

// StatePath returns the absolute state file path.
func (c *Config) StatePath() string {
	return c.resolve(c.Server.StateFile)
}

// CertPaths returns the absolute certificate and key paths.
func (c *Config) CertPaths() (certFile, keyFile string) {
	return c.resolve(c.TLS.CertFile), c.resolve(c.TLS.KeyFile)
}

func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Server.DataDir, path)
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOCHAT_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOCHAT_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only overrides keys viper already knows about.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittochat/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// envKeys are the scalar settings that may be given only through the environment.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.data_dir",
	"server.state_file",
	"server.shutdown_timeout",
	"server.metrics.enabled",
	"server.metrics.port",
	"storage.backend",
	"storage.sync_interval",
	"tls.enabled",
	"tls.cert_file",
	"tls.key_file",
	"adapters.client.enabled",
	"adapters.client.bind_address",
	"adapters.client.port",
	"adapters.client.max_connections",
	"adapters.client.handshake_timeout",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittochat")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittochat")
}

// getDataDir returns the default data directory, $XDG_DATA_HOME/dittochat
// or ~/.local/share/dittochat.
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "dittochat")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".local", "share", "dittochat")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
