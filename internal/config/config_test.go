package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "local", cfg.Backend)
	assert.Equal(t, int64(10), cfg.MaxSessions)
	assert.Equal(t, time.Hour, cfg.SessionTimeout)
	assert.Equal(t, 30*time.Second, cfg.NavigateTimeout)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BROWSERGATE_ADDR", ":9090")
	t.Setenv("BROWSERGATE_MAX_SESSIONS", "3")
	t.Setenv("BROWSERGATE_NAVIGATE_TIMEOUT", "10s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, int64(3), cfg.MaxSessions)
	assert.Equal(t, 10*time.Second, cfg.NavigateTimeout)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "browsergate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":7070\"\nbackend: docker\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Addr)
	assert.Equal(t, "docker", cfg.Backend)
}

func TestInvalidBackend(t *testing.T) {
	t.Setenv("BROWSERGATE_BACKEND", "cloud")

	_, err := Load("")
	assert.Error(t, err)
}

func TestPostgresRequiresDSN(t *testing.T) {
	t.Setenv("BROWSERGATE_STORE_DRIVER", "postgres")

	_, err := Load("")
	assert.Error(t, err)
}
