package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
  shutdownTimeout: 30s
database:
  driver: postgres
  dsn: "postgres://localhost/atoforge?sslmode=disable"
logLevel: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout.Std())
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Unset fields keep their defaults.
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadMissingFileAndBadDriver(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: oracle\n"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ATOFORGE_ADDR", ":7070")
	t.Setenv("ATOFORGE_DB_DRIVER", "postgres")
	t.Setenv("ATOFORGE_DB_DSN", "postgres://db/atoforge")
	t.Setenv("ATOFORGE_OTLP_ENDPOINT", "collector:4317")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://db/atoforge", cfg.Database.DSN)
	assert.True(t, cfg.Telemetry.Enabled, "setting an OTLP endpoint enables telemetry")
	assert.Equal(t, "collector:4317", cfg.Telemetry.Endpoint)
}
