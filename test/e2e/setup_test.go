package e2e

import (
	"testing"

	"github.com/marmos91/dittochat/internal/protocol/handshake"
	"github.com/marmos91/dittochat/test/e2e/framework"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFirstRunSetup walks an empty core through setup and a first login.
func TestFirstRunSetup(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, config *TestConfig) {
		srv := startServer(t, framework.TestServerConfig{})
		c := srv.Dial(t)

		ack := c.Init(nil)
		require.Equal(t, handshake.MsgClientInitAck, ack.Type())
		assert.False(t, ack.Bool(handshake.FieldConfigured))
		assert.False(t, ack.Bool(handshake.FieldLoginEnabled))

		backends, ok := ack[handshake.FieldStorageBackends].([]any)
		require.True(t, ok, "StorageBackends missing from ack")
		var names []string
		for _, b := range backends {
			entry, ok := b.(map[string]any)
			require.True(t, ok)
			names = append(names, entry[handshake.FieldDisplayName].(string))
		}
		assert.Contains(t, names, config.Backend)

		reply := c.Setup(config.Backend, adminUser, adminPassword, nil)
		require.Equal(t, handshake.MsgCoreSetupAck, reply.Type(), reply.String(handshake.FieldError))
		assert.True(t, srv.Core().Configured())

		// The same socket logs in after setup.
		c.LoginSession(adminUser, adminPassword)
		c.HeartBeat()
	})
}

func TestSetupWithoutAdminRejected(t *testing.T) {
	srv := startServer(t, framework.TestServerConfig{})
	c := srv.Dial(t)
	c.Init(nil)

	reply := c.Setup(AllConfigurations()[0].Backend, "", "", nil)
	assert.Equal(t, handshake.MsgCoreSetupReject, reply.Type())
	assert.NotEmpty(t, reply.String(handshake.FieldError))
	assert.False(t, srv.Core().Configured())
}

func TestSetupTwiceRejected(t *testing.T) {
	backend := AllConfigurations()[0].Backend
	srv := startServer(t, framework.TestServerConfig{})
	configure(t, srv, backend)

	c := srv.Dial(t)
	ack := c.Init(nil)
	assert.True(t, ack.Bool(handshake.FieldConfigured))

	reply := c.Setup(backend, "mallory", "secret", nil)
	assert.Equal(t, handshake.MsgCoreSetupReject, reply.Type())

	// The original admin still works, the second one was never created.
	rejected := c.Login("mallory", "secret")
	assert.Equal(t, handshake.MsgClientLoginReject, rejected.Type())
	c.LoginSession(adminUser, adminPassword)
}

func TestOldClientRejected(t *testing.T) {
	srv := startServer(t, framework.TestServerConfig{})
	c := srv.Dial(t)

	reply := c.Init(map[string]any{handshake.FieldProtocolVersion: handshake.MinProtocolVersion - 1})
	assert.Equal(t, handshake.MsgClientInitReject, reply.Type())
	c.ExpectClosed()
}

func TestWrongPasswordCanRetry(t *testing.T) {
	srv := startServer(t, framework.TestServerConfig{})
	configure(t, srv, AllConfigurations()[0].Backend)

	c := srv.Dial(t)
	c.Init(nil)

	reply := c.Login(adminUser, "wrong")
	assert.Equal(t, handshake.MsgClientLoginReject, reply.Type())
	assert.NotEmpty(t, reply.String(handshake.FieldError))

	c.LoginSession(adminUser, adminPassword)
}

func TestTLSAndCompression(t *testing.T) {
	srv := startServer(t, framework.TestServerConfig{TLS: true})
	c := srv.Dial(t)

	ack := c.Init(map[string]any{
		handshake.FieldUseSsl:         true,
		handshake.FieldUseCompression: true,
	})
	require.Equal(t, handshake.MsgClientInitAck, ack.Type())
	require.True(t, ack.Bool(handshake.FieldSupportSsl))
	require.True(t, ack.Bool(handshake.FieldSupportsCompression))

	c.StartTLS()
	c.EnableCompression()

	reply := c.Setup(AllConfigurations()[0].Backend, adminUser, adminPassword, nil)
	require.Equal(t, handshake.MsgCoreSetupAck, reply.Type())
	c.LoginSession(adminUser, adminPassword)
	c.HeartBeat()
}
