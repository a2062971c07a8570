package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LIZI_DATABASE_URL", "DATABASE_URL", "LIZI_STORAGE_DRIVER", "LIZI_LOG_LEVEL", "LOG_LEVEL",
		"LIZI_LOG_FILE", "LIZI_SOURCE_TIMEZONE", "MQTT_HOST", "MQTT_PORT", "MQTT_USER", "MQTT_PASS",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.yaml", `
log_level: debug
storage:
  driver: sqlite
  dsn: file:test.db
poller:
  interval: 2s
  source_timezone: Europe/Berlin
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.Poller.Interval)
	assert.Equal(t, 10*time.Second, cfg.Poller.CallTimeout)
	assert.Equal(t, "Europe/Berlin", cfg.SourceLocation().String())
	assert.Equal(t, "frigate/reviews", cfg.Ingest.MQTT.Topic)
	assert.Equal(t, 1000, cfg.Alerts.StoreLimit)
}

func TestLoadJSON(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.json", `{"storage":{"driver":"sqlite"},"api":{"enabled":false}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.False(t, cfg.API.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Poller.Interval)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://db/lizi")
	t.Setenv("LIZI_SOURCE_TIMEZONE", "America/New_York")
	t.Setenv("MQTT_HOST", "broker.local")
	t.Setenv("MQTT_USER", "frigate")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://db/lizi", cfg.Storage.DSN)
	assert.Equal(t, "America/New_York", cfg.Poller.SourceTimezone)
	assert.Equal(t, "tcp://broker.local:1883", cfg.Ingest.MQTT.Broker)
	assert.Equal(t, "frigate", cfg.Ingest.MQTT.Username)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	cases := map[string]func(*Config){
		"postgres without dsn": func(c *Config) {},
		"unknown driver":       func(c *Config) { c.Storage.Driver = "mysql"; c.Storage.DSN = "x" },
		"bad timezone":         func(c *Config) { c.Storage.DSN = "x"; c.Poller.SourceTimezone = "Mars/Olympus" },
		"mqtt without broker":  func(c *Config) { c.Storage.DSN = "x"; c.Ingest.MQTT.Enabled = true },
		"kafka without topic": func(c *Config) {
			c.Storage.DSN = "x"
			c.Ingest.Kafka.Enabled = true
			c.Ingest.Kafka.Brokers = []string{"localhost:9092"}
		},
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		assert.Error(t, Validate(cfg), name)
	}

	cfg := DefaultConfig()
	cfg.Storage.Driver = "sqlite"
	assert.NoError(t, Validate(cfg))
}

func TestManagerReload(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.yaml", "storage:\n  driver: sqlite\n")
	m, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, m.Get().Poller.Interval)

	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: sqlite\npoller:\n  interval: 9s\n"), 0o600))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	needs, err := m.NeedsReload()
	require.NoError(t, err)
	require.True(t, needs)
	cfg, err := m.Reload()
	require.NoError(t, err)
	assert.Equal(t, 9*time.Second, cfg.Poller.Interval)
	assert.Same(t, cfg, m.Get())
}

func TestLoadDotEnvIgnoresMissing(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, ".env", "LIZI_LOG_FILE=/tmp/lizi.log\n")
	t.Cleanup(func() { os.Unsetenv("LIZI_LOG_FILE") })
	os.Unsetenv("LIZI_LOG_FILE")
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "/tmp/lizi.log", os.Getenv("LIZI_LOG_FILE"))
}

func TestWriteDefault(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefault(path, false))
	assert.Error(t, WriteDefault(path, false), "existing file must not be overwritten")
	require.NoError(t, WriteDefault(path, true))

	t.Setenv("LIZI_STORAGE_DRIVER", "sqlite")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Poller.Interval)
	assert.Equal(t, ":8081", cfg.API.Addr)
	assert.Equal(t, "frigate/reviews", cfg.Ingest.MQTT.Topic)
}
