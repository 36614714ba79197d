package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	base := `
db:
  host: localhost
  port: 5432
  name: automation
jwt:
  secret: ${JWT_SECRET}
settings:
  encryption_key: ${SETTINGS_KEY}
provider:
  timeout: 5s
  circuit_breaker:
    failure_threshold: 3
dispatch:
  drain_interval: 30s
trial:
  platform_organization_id: 6f1c2b8e-1d2a-4a57-9a43-52b0f4c8e001
  windows: [14, 7]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(base), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secrets.env"), []byte("JWT_SECRET=s3cret\nSETTINGS_KEY=a2V5\n"), 0o600))

	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("DB_HOST", "db.internal")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, "a2V5", cfg.Settings.EncryptionKey)
	assert.Equal(t, 5*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 3, cfg.Provider.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.DrainInterval)
	assert.Equal(t, 100, cfg.Dispatch.DrainBatchSize)
	assert.Equal(t, 50, cfg.Dispatch.ReconcileMaxPages)
	assert.Equal(t, ":8081", cfg.Dispatch.HealthPort)
	assert.Equal(t, []int{14, 7}, cfg.Trial.Windows)
	assert.Equal(t, time.Hour, cfg.Trial.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_RequiresSecrets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte("db:\n  host: localhost\n"), 0o600))
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}
