package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func withTempHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	prev, had := os.LookupEnv(envMCPPort)
	require.NoError(t, os.Unsetenv(envMCPPort))
	t.Cleanup(func() {
		if had {
			os.Setenv(envMCPPort, prev)
		}
	})
	return home
}

func TestLoadWritesDefaultFileOnFirstRun(t *testing.T) {
	home := withTempHome(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, defaultMCPPort, cfg.MCPPort)
	require.Equal(t, filepath.Join(home, ".nodespace", "database"), cfg.DatabaseDir)
	require.Equal(t, "info", cfg.LogLevel)

	_, statErr := os.Stat(filepath.Join(home, ".nodespace", "config.toml"))
	require.NoError(t, statErr)
}

func TestLoadReadsPersistedOverride(t *testing.T) {
	home := withTempHome(t)
	dir := filepath.Join(home, ".nodespace")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`mcp_port = 9999
database_dir = "/tmp/custom-db"
log_level = "debug"
schema_seed_path = "/tmp/custom-schemas.yaml"
`), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.MCPPort)
	require.Equal(t, "/tmp/custom-db", cfg.DatabaseDir)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadEnvOverridesMCPPort(t *testing.T) {
	withTempHome(t)
	t.Setenv(envMCPPort, "4321")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 4321, cfg.MCPPort)
}

func TestWriteDefaultFileDoesNotClobberExisting(t *testing.T) {
	home := t.TempDir()
	dir := filepath.Join(home, ".nodespace")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("mcp_port = 1\n"), 0o644))

	require.NoError(t, writeDefaultFile(dir))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "mcp_port = 1")
}
