package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simpleton-llm/gateway/internal/cache"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  read_timeout: 10s
logging:
  level: debug
runtime:
  base_url: http://ollama:11434
  default_model: qwen2.5:7b
cache:
  enabled: true
  backend: memory
  namespace: test
  categories:
    embedding:
      enabled: true
      ttl: 48h
monitoring:
  retention_hours: 24
  alert_error_rate: 0.25
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "http://ollama:11434", cfg.Runtime.BaseURL)
	assert.Equal(t, "qwen2.5:7b", cfg.Runtime.DefaultModel)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "test", cfg.Cache.Namespace)
	assert.Equal(t, 48*time.Hour, cfg.Cache.Categories[cache.CategoryEmbedding].TTL)
	assert.Equal(t, 24, cfg.Monitoring.RetentionHours)
	assert.InDelta(t, 0.25, cfg.Monitoring.AlertErrorRate, 1e-9)

	// Unset fields keep defaults.
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "qwen2.5-coder:7b", cfg.Runtime.CompletionModel)
	assert.Equal(t, 10000, cfg.Monitoring.MaxRequestEvents)
}

func TestLoadFromFile_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("TEST_REDIS_PASSWORD", "s3cret")

	path := writeConfig(t, `
cache:
  redis:
    addr: ${TEST_REDIS_ADDR}
    password: ${TEST_REDIS_PASSWORD}
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", cfg.Cache.Redis.Addr)
	assert.Equal(t, "s3cret", cfg.Cache.Redis.Password)
}

func TestLoadFromFile_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := LoadFromFile(writeConfig(t, "server: [not a map"))
		assert.Error(t, err)
	})

	t.Run("invalid port", func(t *testing.T) {
		_, err := LoadFromFile(writeConfig(t, "server:\n  port: 70000\n"))
		assert.ErrorContains(t, err, "invalid server port")
	})

	t.Run("invalid log level", func(t *testing.T) {
		_, err := LoadFromFile(writeConfig(t, "logging:\n  level: verbose\n"))
		assert.ErrorContains(t, err, "invalid log level")
	})

	t.Run("unknown cache backend", func(t *testing.T) {
		_, err := LoadFromFile(writeConfig(t, "cache:\n  enabled: true\n  backend: memcached\n"))
		assert.ErrorContains(t, err, "unknown cache backend")
	})

	t.Run("bad alert rate", func(t *testing.T) {
		_, err := LoadFromFile(writeConfig(t, "monitoring:\n  alert_error_rate: 1.5\n"))
		assert.ErrorContains(t, err, "alert_error_rate")
	})
}

func TestDefaultConfig_Valid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}
