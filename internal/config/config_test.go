package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
database:
  path: `+filepath.Join(dir, "data", "engine.db")+`
redis:
  address: localhost:6379
  event_channel: custom:events
api:
  enabled: true
  port: 8081
engine:
  scan_interval_seconds: 30
  reconcile_interval_seconds: 120
  auto_checkout_grace_minutes: 15
  booking_timeout_seconds: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, "custom:events", cfg.Redis.EventChannel)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, 8081, cfg.API.Port)
	assert.Equal(t, 30*time.Second, cfg.ScanInterval())
	assert.Equal(t, 2*time.Minute, cfg.ReconcileInterval())
	assert.Equal(t, 15*time.Minute, cfg.AutoCheckoutGrace())
	assert.Equal(t, 3*time.Second, cfg.BookingTimeout())

	// The database directory is created on load.
	_, err = os.Stat(filepath.Join(dir, "data"))
	assert.NoError(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	path := writeConfig(t, "redis:\n  address: localhost:6379\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("data", "gymflow.db"), cfg.Database.Path)
	assert.Equal(t, "gymflow:events", cfg.Redis.EventChannel)
	assert.Equal(t, time.Minute, cfg.ScanInterval())
	assert.Equal(t, time.Minute, cfg.ReconcileInterval())
	assert.Equal(t, 10*time.Minute, cfg.AutoCheckoutGrace())
	assert.Equal(t, 5*time.Second, cfg.BookingTimeout())
}

func TestLoadExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("TEST_REDIS_ADDRESS", "redis.internal:6380")
	t.Setenv("TEST_API_KEY", "s3cret")

	dir := t.TempDir()
	path := writeConfig(t, `
database:
  path: `+filepath.Join(dir, "engine.db")+`
redis:
  address: ${TEST_REDIS_ADDRESS}
api:
  api_key: ${TEST_API_KEY}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Address)
	assert.Equal(t, "s3cret", cfg.API.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
