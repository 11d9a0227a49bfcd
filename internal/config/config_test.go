package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rakerig/rakelog/internal/monitor"
)

// clearEnv unsets the override variables for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SENSOR_TYPE", "SENSOR_BUS", "GPS_TYPE", "GPS_PORT", "GPS_BAUD", "LOG_DIR",
		"LOG_PREFIX", "LOG_INTERVAL_MS", "MONITOR_MODE", "LISTEN_ADDR", "MQTT_BROKER",
		"MQTT_ENABLED",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	loop := cfg.Loop()
	assert.Equal(t, monitor.Unattended, loop.Mode)
	assert.Equal(t, time.Second, loop.Cadence)
	assert.Equal(t, 100*time.Millisecond, loop.Refresh)
	assert.Equal(t, []uint16{0x77, 0x76}, cfg.BME().Addresses)
	assert.True(t, cfg.Logger().GPSColumns)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sensor:
  type: demo
gps:
  type: disabled
  read_window: 40ms
logging:
  dir: /data/rake
  interval_ms: 500
monitor:
  mode: interactive
server:
  enabled: false
`), 0o644))

	cfg := Load(path)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "demo", cfg.Sensor.Type)
	assert.Equal(t, 40*time.Millisecond, cfg.GPS.ReadWindow)
	assert.Equal(t, "/data/rake", cfg.Logging.Dir)
	assert.False(t, cfg.Server.Enabled)
	// untouched keys keep their defaults
	assert.Equal(t, "rake_log", cfg.Logging.Prefix)
	assert.Equal(t, 9600, cfg.GPS.BaudRate)

	loop := cfg.Loop()
	assert.Equal(t, monitor.Interactive, loop.Mode)
	assert.Equal(t, 500*time.Millisecond, loop.Cadence)
	assert.False(t, cfg.Logger().GPSColumns, "no GPS columns without a GPS source")
}

func TestLoadBadYAMLFallsBack(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sensor: [unclosed"), 0o644))
	assert.Equal(t, Default(), Load(path))
}

func TestEnvOverridesAndDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(`
# rig overrides
GPS_PORT="/dev/ttyAMA0"
LOG_INTERVAL_MS=250
MONITOR_MODE=manual
garbage line
`), 0o644))
	t.Setenv("GPS_BAUD", "38400")
	t.Setenv("LOG_INTERVAL_MS", "2000") // real env wins over .env
	t.Setenv("MQTT_ENABLED", "yes")

	cfg := Load(filepath.Join(dir, "config.yaml"))
	assert.Equal(t, "/dev/ttyAMA0", cfg.GPS.PortPath)
	assert.Equal(t, 38400, cfg.GPS.BaudRate)
	assert.Equal(t, 2000, cfg.Logging.Interval)
	assert.Equal(t, "manual", cfg.Monitor.Mode)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, monitor.Interactive, cfg.Loop().Mode)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Sensor.Type = "dht22"
	cfg.GPS.Type = "gpsd"
	cfg.Monitor.Mode = "sometimes"
	cfg.Logging.Interval = 0
	cfg.Monitor.Refresh = -1
	cfg.Logging.Prefix = "a/b"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"sensor.type", "gps.type", "monitor.mode", "interval_ms", "refresh_ms", "prefix"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateRejectsReadWindowAtRefresh(t *testing.T) {
	cfg := Default()
	require.Less(t, cfg.GPS.ReadWindow, time.Duration(cfg.Monitor.Refresh)*time.Millisecond)

	cfg.GPS.ReadWindow = 1500 * time.Millisecond
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gps.read_window")

	cfg.GPS.Type = "disabled"
	assert.NoError(t, cfg.Validate())
}
