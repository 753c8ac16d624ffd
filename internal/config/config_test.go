package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileAbsent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen_addr: ":9090"
  shutdown_timeout: 5s
store:
  driver: postgres
  postgres_dsn: "postgres://ledger@localhost/ledger?sslmode=disable"
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen_addr: \":9090\"\n"), 0o644))

	t.Setenv("LEDGER_LISTEN_ADDR", ":7070")
	t.Setenv("LEDGER_SQLITE_PATH", "/tmp/override.db")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.ListenAddr)
	assert.Equal(t, "/tmp/override.db", cfg.Store.SQLitePath)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "oracle"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Store.Driver = "postgres"
	cfg.Store.PostgresDSN = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Log.Level = "loud"
	assert.Error(t, cfg.Validate())

	assert.NoError(t, Default().Validate())
}
