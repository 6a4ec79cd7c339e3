package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  port: 9090
  session: ops-desk
api:
  base_url: https://logistics.example.com/api
  timeout: 5s
batching:
  page_size: 100
  eligibility: order.branchId == "north"
  poll_interval: 1m
infra:
  kafka:
    brokers: k1:9092, k2:9092
`), 0o600))

	t.Setenv("API_TOKEN", "secret")
	t.Setenv("HTTP_PORT", "7070")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.App.Port)
	assert.Equal(t, "ops-desk", cfg.App.Session)
	assert.Equal(t, "https://logistics.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, "secret", cfg.API.Token)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, 100, cfg.Batching.PageSize)
	assert.Equal(t, 20, cfg.Batching.MaxPages)
	assert.Equal(t, time.Minute, cfg.Batching.PollInterval)
	assert.Equal(t, `order.branchId == "north"`, cfg.Batching.Eligibility)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers())
	assert.Equal(t, "dispatch-notices", cfg.Infra.Kafka.NoticeTopic)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.API.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Batching.PollInterval)
	assert.Empty(t, cfg.KafkaBrokers())
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app: [unclosed"), 0o600))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestOverlayDoesNotMutateBase(t *testing.T) {
	base := DefaultConfig()
	next, err := base.Overlay("app:\n  log_level: debug\nbatching:\n  concurrency: 8\n")
	require.NoError(t, err)
	assert.Equal(t, "debug", next.App.LogLevel)
	assert.Equal(t, 8, next.Batching.Concurrency)
	assert.Equal(t, "info", base.App.LogLevel)

	_, err = base.Overlay("app:\n  port: 0\n")
	assert.Error(t, err)
}

func TestSetCurrentConfigNotifies(t *testing.T) {
	var got *Config
	OnConfigChange(func(c *Config) { got = c })

	cfg := DefaultConfig()
	cfg.App.LogLevel = "warn"
	SetCurrentConfig(cfg)

	assert.Same(t, cfg, got)
	assert.Same(t, cfg, GetCurrentConfig())
}
