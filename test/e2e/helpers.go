package e2e

import (
	"testing"

	"github.com/marmos91/dittochat/internal/protocol/handshake"
	"github.com/marmos91/dittochat/test/e2e/framework"
	"github.com/stretchr/testify/require"
)

const (
	adminUser     = "admin"
	adminPassword = "correct horse battery staple"
)

// runOnAllConfigs is a helper that runs a test on all configurations
func runOnAllConfigs(t *testing.T, testFunc func(t *testing.T, config *TestConfig)) {
	t.Helper()

	for _, config := range AllConfigurations() {
		t.Run(config.Name, func(t *testing.T) {
			testFunc(t, config)
		})
	}
}

// startServer starts an unconfigured core and stops it at the end of the test.
func startServer(t *testing.T, cfg framework.TestServerConfig) *framework.TestServer {
	t.Helper()
	srv := framework.NewTestServer(t, cfg)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

// configure runs first-run setup with backend and closes the connection.
func configure(t *testing.T, srv *framework.TestServer, backend string) {
	t.Helper()
	c := srv.Dial(t)
	ack := c.Init(nil)
	require.Equal(t, handshake.MsgClientInitAck, ack.Type())
	require.False(t, ack.Bool(handshake.FieldConfigured))

	reply := c.Setup(backend, adminUser, adminPassword, nil)
	require.Equal(t, handshake.MsgCoreSetupAck, reply.Type(), "setup rejected: %s", reply.String(handshake.FieldError))
	require.NoError(t, c.Close())
}
