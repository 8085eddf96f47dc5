package framework

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittochat/internal/logger"
	"github.com/marmos91/dittochat/internal/protocol/handshake"
	"github.com/marmos91/dittochat/internal/tlsutil"
	"github.com/marmos91/dittochat/pkg/adapter/client"
	"github.com/marmos91/dittochat/pkg/config"
	"github.com/marmos91/dittochat/pkg/gate"
	"github.com/marmos91/dittochat/pkg/server"
	"github.com/marmos91/dittochat/pkg/settings"
	"github.com/marmos91/dittochat/pkg/storage"
)

// TestServerConfig holds configuration for the test server.
// This is distinct from pkg/config.ServerConfig (application-level server settings).
type TestServerConfig struct {
	Port           int
	DataDir        string // Reuse a data directory to simulate a restart
	Backends       []string
	TLS            bool
	LogLevel       string
	StartupTimeout time.Duration
}

// TestServer wraps a fully wired core for testing
type TestServer struct {
	t       testing.TB
	config  TestServerConfig
	core    *server.Core
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex

	errMu sync.Mutex
	err   error
}

// NewTestServer creates a new test server instance. Nothing listens until Start.
func NewTestServer(t testing.TB, config TestServerConfig) *TestServer {
	t.Helper()

	if config.Port == 0 {
		config.Port = findFreePort(t)
	}
	if config.DataDir == "" {
		config.DataDir = t.TempDir()
	}
	if config.LogLevel == "" {
		config.LogLevel = "ERROR" // Keep tests quiet by default
	}
	if config.StartupTimeout == 0 {
		config.StartupTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &TestServer{
		t:      t,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start wires the core the same way the dittochat binary does and waits
// until the client port accepts connections.
func (ts *TestServer) Start() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.started {
		return fmt.Errorf("server already started")
	}
	ts.t.Helper()

	logger.SetLevel(ts.config.LogLevel)
	storage.PasswordCost = 4

	cfg := &config.Config{
		Server:  config.ServerConfig{DataDir: ts.config.DataDir},
		Storage: config.StorageConfig{Backends: ts.config.Backends},
		TLS:     config.TLSConfig{Enabled: ts.config.TLS, GenerateSelfSigned: ts.config.TLS},
		Adapters: config.AdaptersConfig{
			Client: client.Config{Enabled: true, BindAddress: "127.0.0.1", Port: ts.config.Port},
		},
	}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	backends, err := config.CreateBackends(cfg)
	if err != nil {
		return err
	}
	g := gate.New(nil)
	for _, b := range backends {
		g.Register(b)
	}

	state, err := settings.Open(cfg.StatePath())
	if err != nil {
		return fmt.Errorf("failed to open state file: %w", err)
	}

	var tlsConfig *tls.Config
	if ts.config.TLS {
		certFile, keyFile := cfg.CertPaths()
		if err := tlsutil.WriteSelfSigned(certFile, keyFile, "localhost", time.Hour); err != nil {
			return fmt.Errorf("failed to generate certificate: %w", err)
		}
		if tlsConfig, err = tlsutil.LoadServerConfig(certFile, keyFile, time.Now()); err != nil {
			return fmt.Errorf("failed to load certificate: %w", err)
		}
	}

	ts.core = server.New(server.Options{
		Gate:            g,
		Settings:        state,
		SyncInterval:    cfg.Storage.SyncInterval,
		ShutdownTimeout: 5 * time.Second,
	})

	hs := handshake.NewHandshaker(ts.core, handshake.ServerInfo{
		CoreVersion:         "e2e",
		CoreDate:            "today",
		StartTime:           time.Now(),
		SupportSsl:          tlsConfig != nil,
		SupportsCompression: true,
	}, nil)

	adapters, err := config.CreateAdapters(cfg, client.Options{
		Handshaker: hs,
		TLSConfig:  tlsConfig,
		Configured: ts.core.Configured,
	})
	if err != nil {
		return err
	}
	for _, a := range adapters {
		if err := ts.core.AddAdapter(a); err != nil {
			return err
		}
	}

	ts.wg.Add(1)
	go func() {
		defer ts.wg.Done()
		if err := ts.core.Serve(ts.ctx); err != nil && err != context.Canceled {
			ts.t.Logf("Server error: %v", err)
			ts.errMu.Lock()
			ts.err = err
			ts.errMu.Unlock()
		}
	}()

	ts.t.Logf("Waiting for server to start on port %d...", ts.config.Port)
	if err := ts.waitForServer(); err != nil {
		ts.cancel()
		ts.wg.Wait()
		return fmt.Errorf("server failed to start: %w", err)
	}

	ts.started = true
	ts.t.Logf("Server started successfully on port %d", ts.config.Port)
	return nil
}

// Stop stops the server. The data directory is kept so a new TestServer can
// be started on it.
func (ts *TestServer) Stop() error {
	ts.mu.Lock()
	if !ts.started {
		ts.mu.Unlock()
		return nil
	}
	ts.started = false
	ts.mu.Unlock()

	ts.t.Helper()
	ts.t.Logf("Stopping server...")
	ts.cancel()

	done := make(chan struct{})
	go func() {
		ts.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		ts.t.Logf("Server stopped gracefully")
	case <-time.After(10 * time.Second):
		return fmt.Errorf("server stop timeout")
	}

	ts.errMu.Lock()
	defer ts.errMu.Unlock()
	return ts.err
}

// Port returns the client port.
func (ts *TestServer) Port() int {
	return ts.config.Port
}

// DataDir returns the directory holding the state file and databases.
func (ts *TestServer) DataDir() string {
	return ts.config.DataDir
}

// StatePath returns the state file path.
func (ts *TestServer) StatePath() string {
	return filepath.Join(ts.config.DataDir, "core.yaml")
}

// Core returns the running core.
func (ts *TestServer) Core() *server.Core {
	return ts.core
}

// Dial opens a client connection to the server.
func (ts *TestServer) Dial(t testing.TB) *TestClient {
	t.Helper()
	return Dial(t, fmt.Sprintf("127.0.0.1:%d", ts.config.Port))
}

// waitForServer waits until the client adapter has bound its port.
//
// No probe connection is made: an unconfigured core stops listening after
// its first connection, which would race with the test's own client.
func (ts *TestServer) waitForServer() error {
	var listening interface{ Listening() bool }
	for _, a := range ts.core.Adapters() {
		if l, ok := a.(interface{ Listening() bool }); ok {
			listening = l
		}
	}
	if listening == nil {
		return fmt.Errorf("no client adapter registered")
	}

	deadline := time.Now().Add(ts.config.StartupTimeout)
	for time.Now().Before(deadline) {
		if listening.Listening() {
			ts.t.Logf("Server is accepting connections on port %d", ts.config.Port)
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for server to start")
}

// findFreePort finds an available port
func findFreePort(t testing.TB) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()
	return port
}
