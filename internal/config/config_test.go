package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doorwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, "mode: occupancy\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeOccupancy, cfg.Mode)
	assert.Equal(t, "gpiochip0", cfg.Sensors.Chip)
	assert.Equal(t, 27, cfg.Sensors.DoorPin)
	assert.Equal(t, 15*time.Second, cfg.Traffic.Window.Std())
	assert.Equal(t, uint64(600), cfg.Connect.Attempts)
	assert.Equal(t, time.Second, cfg.Connect.Interval.Std())
	assert.Equal(t, BackendHTTP, cfg.Transmit.Backend)
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := writeConfig(t, `
mode: traffic
log_level: debug
sensors:
  motion_pin: 22
  door_pin: 23
  door_debounce: 50ms
traffic:
  window: 30s
transmit:
  backend: mqtt
  mqtt:
    broker: tcp://broker.lan:1883
    topic: home/hall
connect:
  attempts: 10
  failure_streak: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 22, cfg.Sensors.MotionPin)
	assert.Equal(t, 23, cfg.Sensors.DoorPin)
	assert.Equal(t, 50*time.Millisecond, cfg.Sensors.DoorDebounce.Std())
	assert.Equal(t, 30*time.Second, cfg.Traffic.Window.Std())
	assert.Equal(t, BackendMQTT, cfg.Transmit.Backend)
	assert.Equal(t, "tcp://broker.lan:1883", cfg.Transmit.MQTT.Broker)
	assert.Equal(t, "home/hall", cfg.Transmit.MQTT.Topic)
	assert.Equal(t, uint64(10), cfg.Connect.Attempts)
	assert.Equal(t, 3, cfg.Connect.FailureStreak)

	// Untouched sections keep their defaults.
	assert.Equal(t, "doorwatch", cfg.Transmit.MQTT.ClientID)
	assert.Equal(t, "/var/lib/doorwatch/state.bin", cfg.Retain.Path)
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, `{
  "mode": "traffic",
  "traffic": {"window": "20s"},
  "connect": {"cycle_timeout": 5000000000}
}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, cfg.Traffic.Window.Std())
	assert.Equal(t, 5*time.Second, cfg.Connect.CycleTimeout.Std())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "traffic:\n  window: soon\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	path := writeConfig(t, "mode: hybrid\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode")
}

func TestLoadRejectsSharedPin(t *testing.T) {
	path := writeConfig(t, "sensors:\n  motion_pin: 27\n  door_pin: 27\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "door_pin")
}

func TestLoadRejectsNegativeWindow(t *testing.T) {
	path := writeConfig(t, "traffic:\n  window: -5s\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateBackends(t *testing.T) {
	cfg := Default()
	cfg.Transmit.Backend = "carrier-pigeon"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Transmit.HTTP.URL = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Transmit.Backend = BackendMQTT
	cfg.Transmit.MQTT.Broker = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateJournalNeedsDSN(t *testing.T) {
	cfg := Default()
	cfg.Journal.Enabled = true
	cfg.Journal.DSN = ""
	assert.Error(t, cfg.Validate())
}

func TestDurationMarshalsAsString(t *testing.T) {
	b, err := Duration(90 * time.Second).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(b))
}
