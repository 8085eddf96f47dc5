package e2e

import (
	"testing"
	"time"

	"github.com/marmos91/dittochat/internal/protocol/handshake"
	"github.com/marmos91/dittochat/pkg/settings"
	"github.com/marmos91/dittochat/test/e2e/framework"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDetachReattach verifies the session outlives its client.
func TestDetachReattach(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, config *TestConfig) {
		srv := startServer(t, framework.TestServerConfig{})
		configure(t, srv, config.Backend)

		first := srv.Dial(t)
		first.Init(nil)
		first.LoginSession(adminUser, adminPassword)
		require.NoError(t, first.Close())

		second := srv.Dial(t)
		second.Init(nil)
		second.LoginSession(adminUser, adminPassword)
		second.HeartBeat()

		assert.Equal(t, 1, srv.Core().Registry().Count())
	})
}

func TestConcurrentClientsShareSession(t *testing.T) {
	srv := startServer(t, framework.TestServerConfig{})
	configure(t, srv, AllConfigurations()[0].Backend)

	a := srv.Dial(t)
	a.Init(nil)
	a.LoginSession(adminUser, adminPassword)

	b := srv.Dial(t)
	b.Init(nil)
	b.LoginSession(adminUser, adminPassword)

	a.HeartBeat()
	b.HeartBeat()

	assert.Equal(t, 1, srv.Core().Registry().Count())
	users := srv.Core().Registry().ActiveUsers()
	require.Len(t, users, 1)
	s, ok := srv.Core().Registry().Get(users[0])
	require.True(t, ok)
	assert.Eventually(t, func() bool { return s.ClientCount() == 2 }, time.Second, 10*time.Millisecond)
}

// TestRestartRestoresSession stops a configured core with a live session and
// starts a new one on the same data directory.
func TestRestartRestoresSession(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, config *TestConfig) {
		first := framework.NewTestServer(t, framework.TestServerConfig{})
		require.NoError(t, first.Start())
		t.Cleanup(func() { _ = first.Stop() })
		configure(t, first, config.Backend)

		c := first.Dial(t)
		c.Init(nil)
		c.LoginSession(adminUser, adminPassword)
		require.NoError(t, first.Stop())

		state, err := settings.Open(first.StatePath())
		require.NoError(t, err)
		saved, err := state.CoreState()
		require.NoError(t, err)
		require.Len(t, saved.ActiveSessions, 1)
		assert.Equal(t, config.Backend, state.StorageSettings()["Backend"])

		second := startServer(t, framework.TestServerConfig{
			Port:    first.Port(),
			DataDir: first.DataDir(),
		})
		assert.True(t, second.Core().Configured())
		assert.Eventually(t, func() bool { return second.Core().Registry().Count() == 1 }, 2*time.Second, 10*time.Millisecond)

		again := second.Dial(t)
		ack := again.Init(nil)
		assert.True(t, ack.Bool(handshake.FieldConfigured))
		again.LoginSession(adminUser, adminPassword)
		again.HeartBeat()
	})
}
