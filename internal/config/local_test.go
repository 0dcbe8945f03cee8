package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigDir(t *testing.T) {
	t.Parallel()

	dir, err := ConfigDir()

	require.NoError(t, err)
	require.Contains(t, dir, ".donorsync")
}

func TestConfigFilePath(t *testing.T) {
	t.Parallel()

	path, err := ConfigFilePath()

	require.NoError(t, err)
	require.Contains(t, path, ".donorsync")
	require.Equal(t, "config.yaml", filepath.Base(path))
}

func TestConnectionsFilePath(t *testing.T) {
	t.Parallel()

	path, err := ConnectionsFilePath()

	require.NoError(t, err)
	require.Contains(t, path, ".donorsync")
	require.Equal(t, "connections.json", filepath.Base(path))
}

func TestLocalConfigExists(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv().
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	require.False(t, LocalConfigExists())

	dir := filepath.Join(tmpHome, ".donorsync")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log:\n  level: debug\n"), 0o600))

	require.True(t, LocalConfigExists())
}
