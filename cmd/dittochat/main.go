// dittochat is the core of a detachable chat client: it keeps the user's
// sessions alive while front-end clients come and go.
//
// Usage:
//
//	dittochat [--config path] [--log-level LEVEL] [--port N]
//	dittochat init [--config path] [--force]
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/marmos91/dittochat/internal/logger"
	"github.com/marmos91/dittochat/internal/protocol/handshake"
	"github.com/marmos91/dittochat/internal/tlsutil"
	"github.com/marmos91/dittochat/pkg/adapter/client"
	"github.com/marmos91/dittochat/pkg/config"
	"github.com/marmos91/dittochat/pkg/gate"
	"github.com/marmos91/dittochat/pkg/server"
	"github.com/marmos91/dittochat/pkg/settings"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   = "0.1.0-dev"
	buildDate = "unknown"
)

// selfSignedValidity is the lifetime of generated certificates.
const selfSignedValidity = 365 * 24 * time.Hour

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) > 0 && args[0] == "init" {
		return runInit(args[1:])
	}

	var (
		configPath  string
		logLevel    string
		port        int
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("dittochat", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to config file (default: "+config.GetDefaultConfigPath()+")")
	flagSet.StringVar(&logLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR), overrides the config file")
	flagSet.IntVar(&port, "port", 0, "client listen port, overrides the config file")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("dittochat %s (%s)\n", version, buildDate)
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flagSet.Changed("port") {
		cfg.Adapters.Client.Port = port
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return serve(ctx, cfg)
}

func serve(ctx context.Context, cfg *config.Config) error {
	fmt.Println("DittoChat - Detachable Chat Core")
	logger.Info("DittoChat %s starting, data directory %s", version, cfg.Server.DataDir)

	if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	m := config.InitializeMetrics(cfg)

	backends, err := config.CreateBackends(cfg)
	if err != nil {
		return err
	}
	g := gate.New(m.StorageMetrics)
	for _, b := range backends {
		g.Register(b)
	}

	state, err := settings.Open(cfg.StatePath())
	if err != nil {
		return fmt.Errorf("failed to open state file: %w", err)
	}

	preset, err := config.PresetStorageSettings(cfg)
	if err != nil {
		return err
	}

	tlsConfig := loadTLS(cfg)

	core := server.New(server.Options{
		Gate:            g,
		Settings:        state,
		PresetStorage:   preset,
		SyncInterval:    cfg.Storage.SyncInterval,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Metrics:         m.ClientMetrics,
	})

	hs := handshake.NewHandshaker(core, handshake.ServerInfo{
		CoreVersion:         version,
		CoreDate:            buildDate,
		StartTime:           time.Now(),
		SupportSsl:          tlsConfig != nil,
		SupportsCompression: true,
	}, m.ClientMetrics)

	adapters, err := config.CreateAdapters(cfg, client.Options{
		Handshaker: hs,
		TLSConfig:  tlsConfig,
		Configured: core.Configured,
		Metrics:    m.ClientMetrics,
	})
	if err != nil {
		return err
	}
	for _, a := range adapters {
		if err := core.AddAdapter(a); err != nil {
			return err
		}
	}

	if m.Server != nil {
		go func() {
			if err := m.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	logger.Info("Core is running. Press Ctrl+C to stop.")
	err = core.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("Core stopped gracefully")
		return nil
	}
	return err
}

// loadTLS returns the StartTLS configuration, or nil when TLS is disabled or
// no valid certificate is available. A missing pair is generated when the
// config asks for it.
func loadTLS(cfg *config.Config) *tls.Config {
	if !cfg.TLS.Enabled {
		logger.Info("TLS disabled")
		return nil
	}

	certFile, keyFile := cfg.CertPaths()
	if cfg.TLS.GenerateSelfSigned && !fileExists(certFile) && !fileExists(keyFile) {
		logger.Info("Generating self-signed certificate for %s in %s", cfg.TLS.Host, certFile)
		if err := tlsutil.WriteSelfSigned(certFile, keyFile, cfg.TLS.Host, selfSignedValidity); err != nil {
			logger.Warn("Could not generate certificate, TLS unavailable: %v", err)
			return nil
		}
	}

	tlsConfig, err := tlsutil.LoadServerConfig(certFile, keyFile, time.Now())
	if err != nil {
		logger.Warn("Could not load certificate from %s, TLS unavailable: %v", certFile, err)
		return nil
	}
	logger.Info("TLS enabled with certificate %s", certFile)
	return tlsConfig
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func runInit(args []string) error {
	var (
		configPath string
		force      bool
	)

	flagSet := pflag.NewFlagSet("dittochat init", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "where to write the sample config (default: "+config.GetDefaultConfigPath()+")")
	flagSet.BoolVarP(&force, "force", "f", false, "overwrite an existing config file")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if configPath == "" {
		path, err := config.InitConfig(force)
		if err != nil {
			return err
		}
		configPath = path
	} else if err := config.InitConfigToPath(configPath, force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", configPath)
	return nil
}
