package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddress)
	assert.Equal(t, 1000, cfg.Server.MaxConnections)
	assert.Equal(t, 10, cfg.Server.MaxConnsPerIP)
	assert.Equal(t, 30*time.Second, cfg.Server.PingInterval)

	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, "data", cfg.Storage.DataDir)

	assert.Equal(t, "backups", cfg.Backup.Dir)
	assert.Equal(t, 10, cfg.Backup.Retention)

	assert.Equal(t, time.Second, cfg.Game.EventTick)
	assert.Equal(t, 7*24*time.Hour, cfg.Game.TokenLifetime)
	assert.Equal(t, "town-square", cfg.Game.StartLocationID)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
server:
  http_address: ":9999"
  admin_key: "sekrit"
storage:
  backend: sqlite
  sqlite_path: /tmp/test.db
game:
  start_location: tavern
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.HTTPAddress)
	assert.Equal(t, "sekrit", cfg.Server.AdminKey)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/test.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "tavern", cfg.Game.StartLocationID)

	// Unset keys keep their defaults.
	assert.Equal(t, 1000, cfg.Server.MaxConnections)
}
