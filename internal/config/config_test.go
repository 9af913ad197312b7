package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 60, cfg.Device.TokenRenewalSeconds)

	// Multiplier defaults
	assert.Equal(t, 1.0, cfg.Multipliers["P"])
	assert.Equal(t, 1.0, cfg.Multipliers["S"])
	assert.InDelta(t, 1.0/3600000.0, cfg.Multipliers["E"], 1e-12)

	// Collector defaults
	assert.Equal(t, true, cfg.Collector.Enabled)
	assert.Equal(t, 60, cfg.Collector.IntervalSeconds)
	assert.Equal(t, 6, cfg.Collector.RoundDecimals)

	// CSV defaults
	assert.Equal(t, true, cfg.CSV.Enabled)
	assert.Equal(t, "data", cfg.CSV.Directory)

	// MQTT defaults
	assert.Equal(t, false, cfg.MQTT.Enabled)
	assert.Equal(t, "localhost", cfg.MQTT.Host)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "energy/egauge", cfg.MQTT.Topic)

	// API defaults
	assert.Equal(t, true, cfg.API.Enabled)
	assert.Equal(t, "0.0.0.0", cfg.API.Host)
	assert.Equal(t, 8080, cfg.API.Port)
}

func TestLoadConfigWithNonExistentFile(t *testing.T) {
	_, err := Load("nonexistent_config.yaml")

	// Should error when file doesn't exist
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config")
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
log_level: debug
device:
  id: meter1
  username: owner
  password: secret
  token_renewal_buffer_seconds: 120
multipliers:
  P: 1
  E: 0.001
collector:
  interval_seconds: 30
mqtt:
  enabled: true
  host: broker.local
  topic: site/egauge
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "meter1", cfg.Device.ID)
	assert.Equal(t, "owner", cfg.Device.Username)
	assert.Equal(t, 120, cfg.Device.TokenRenewalSeconds)
	assert.Equal(t, 0.001, cfg.Multipliers["E"])
	assert.Equal(t, 30, cfg.Collector.IntervalSeconds)
	assert.Equal(t, true, cfg.MQTT.Enabled)
	assert.Equal(t, "broker.local", cfg.MQTT.Host)
	assert.Equal(t, "site/egauge", cfg.MQTT.Topic)

	// Unset values keep their defaults
	assert.Equal(t, 6, cfg.Collector.RoundDecimals)
	assert.Equal(t, 8080, cfg.API.Port)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n  - not valid"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Device.ID = "meter1"
		cfg.Device.Username = "owner"
		cfg.Device.Password = "secret"
		return cfg
	}

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("MissingDeviceID", func(t *testing.T) {
		cfg := valid()
		cfg.Device.ID = ""
		assert.ErrorContains(t, cfg.Validate(), "device id")
	})

	t.Run("MissingCredentials", func(t *testing.T) {
		cfg := valid()
		cfg.Device.Password = ""
		assert.ErrorContains(t, cfg.Validate(), "credentials")
	})

	t.Run("BadInterval", func(t *testing.T) {
		cfg := valid()
		cfg.Collector.IntervalSeconds = 0
		assert.ErrorContains(t, cfg.Validate(), "interval")
	})

	t.Run("NegativeDecimals", func(t *testing.T) {
		cfg := valid()
		cfg.Collector.RoundDecimals = -1
		assert.ErrorContains(t, cfg.Validate(), "round_decimals")
	})
}
