package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittochat/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_MissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "core.yaml"))
	require.NoError(t, err)

	assert.Nil(t, s.StorageSettings())
	state, err := s.CoreState()
	require.NoError(t, err)
	assert.Equal(t, CoreStateVersion, state.Version)
	assert.Empty(t, state.ActiveSessions)
}

// TestCoreStateRoundTrip verifies saved users come back exactly once after
// a reload.
func TestCoreStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "core.yaml")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetCoreState([]storage.UserID{2, 1, 2, 0}))

	reopened, err := Open(path)
	require.NoError(t, err)
	state, err := reopened.CoreState()
	require.NoError(t, err)
	assert.Equal(t, []storage.UserID{1, 2}, state.ActiveSessions)
}

func TestStorageSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.yaml")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetStorageSettings(map[string]any{
		storage.BackendKey: "SQLite",
		"path":             "/var/lib/dittochat/core.db",
		"busy_timeout":     2500,
	}))
	require.NoError(t, s.SetCoreState([]storage.UserID{7}))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		storage.BackendKey: "SQLite",
		"path":             "/var/lib/dittochat/core.db",
		"busy_timeout":     2500,
	}, reopened.StorageSettings())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestStorageSettingsCopy(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "core.yaml"))
	require.NoError(t, err)
	require.NoError(t, s.SetStorageSettings(map[string]any{storage.BackendKey: "Memory"}))

	got := s.StorageSettings()
	got[storage.BackendKey] = "Badger"
	assert.Equal(t, "Memory", s.StorageSettings()[storage.BackendKey])
}

func TestCoreState_UnsupportedVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.yaml")
	require.NoError(t, os.WriteFile(path, []byte("core_state:\n  core_state_version: 9\n  active_sessions: [1]\n"), 0600))

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.CoreState()
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestOpen_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [unterminated\n"), 0600))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestSaveLeavesNoTemporaryFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "core.yaml"))
	require.NoError(t, err)
	require.NoError(t, s.SetCoreState([]storage.UserID{1}))
	require.NoError(t, s.SetCoreState([]storage.UserID{1, 3}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "core.yaml", entries[0].Name())
}
