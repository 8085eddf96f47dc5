package tlsutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfig(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, WriteSelfSigned(certFile, keyFile, "localhost", time.Hour))

	t.Run("Valid", func(t *testing.T) {
		cfg, err := LoadServerConfig(certFile, keyFile, time.Now())
		require.NoError(t, err)
		assert.Len(t, cfg.Certificates, 1)
	})

	t.Run("Expired", func(t *testing.T) {
		_, err := LoadServerConfig(certFile, keyFile, time.Now().Add(2*time.Hour))
		assert.ErrorIs(t, err, ErrCertificateExpired)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := LoadServerConfig(filepath.Join(dir, "nope.pem"), keyFile, time.Now())
		assert.Error(t, err)
	})
}
