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
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, 50, cfg.Session.MaxHistory)
	assert.Equal(t, time.Minute, cfg.Session.IdleTimeout())
	assert.Equal(t, time.Minute, cfg.Session.SweepInterval())
	assert.Equal(t, "http", cfg.Gateway.Mode)
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout())
	assert.Equal(t, 30.0444, cfg.Weather.DefaultLatitude)
	assert.Equal(t, "https://oauth2.googleapis.com/token", cfg.Email.TokenURI)
	assert.Equal(t, ":8000", cfg.Server.Addr)
}

func TestLoadParsesYAML(t *testing.T) {
	path := writeConfig(t, `
model:
  provider: ollama
  model: llama3
  base_url: http://localhost:11434
session:
  max_history: 20
  idle_timeout_seconds: 300
gateway:
  mode: redis
  ttl_seconds: 120
server:
  addr: ":9000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.Model.Provider)
	assert.Equal(t, "llama3", cfg.Model.Model)
	assert.Equal(t, 20, cfg.Session.MaxHistory)
	assert.Equal(t, 5*time.Minute, cfg.Session.IdleTimeout())
	assert.Equal(t, "redis", cfg.Gateway.Mode)
	assert.Equal(t, 2*time.Minute, cfg.Gateway.TTL())
	assert.Equal(t, ":9000", cfg.Server.Addr)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	path := writeConfig(t, "model:\n  provider: openai\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Model.APIKey)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Gateway.RedisURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
