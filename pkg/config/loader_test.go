package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadConfig_MergesEnvOverlayAndSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  host: localhost
  port: 5432
  password: ${DB_SECRET}
provider:
  base_url: https://api.example.com
  page_size: 100
`)
	writeFile(t, dir, "staging.yaml", `
db:
  host: db.staging
provider:
  page_size: 50
`)
	writeFile(t, dir, "secrets.env", "DB_SECRET=from-secrets\n")

	raw, err := LoadConfig("staging", dir)
	require.NoError(t, err)

	var out struct {
		DB       DBConfig `yaml:"db"`
		Provider struct {
			BaseURL  string `yaml:"base_url"`
			PageSize int    `yaml:"page_size"`
		} `yaml:"provider"`
	}
	require.NoError(t, Decode(raw, &out))

	assert.Equal(t, "db.staging", out.DB.Host)
	assert.Equal(t, 5432, out.DB.Port)
	assert.Equal(t, "from-secrets", out.DB.Password)
	assert.Equal(t, "https://api.example.com", out.Provider.BaseURL)
	assert.Equal(t, 50, out.Provider.PageSize)
}

func TestLoadConfig_ProcessEnvWinsOverSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "jwt:\n  secret: ${JWT_SIGNING_KEY}\n")
	writeFile(t, dir, "secrets.env", "JWT_SIGNING_KEY=file-value\n")
	t.Setenv("JWT_SIGNING_KEY", "env-value")

	raw, err := LoadConfig("local", dir)
	require.NoError(t, err)

	var out struct {
		JWT JWTConfig `yaml:"jwt"`
	}
	require.NoError(t, Decode(raw, &out))
	assert.Equal(t, "env-value", out.JWT.Secret)
}

func TestLoadConfig_MissingBase(t *testing.T) {
	_, err := LoadConfig("local", t.TempDir())
	require.Error(t, err)
}
