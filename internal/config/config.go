// Package config loads and validates the doorwatch configuration from a
// YAML or JSON file. Settings not present in the file keep their
// defaults, so a minimal file only names what differs from a stock
// install.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Operating modes. Traffic mode correlates a motion and a door sensor
// into entry/exit emissions; occupancy mode reports level changes of a
// single door sensor.
const (
	ModeTraffic   = "traffic"
	ModeOccupancy = "occupancy"
)

// Transmit backends.
const (
	BackendHTTP = "http"
	BackendMQTT = "mqtt"
)

// Config is the root configuration for both the daemon and the
// power-cycled one-shot binary.
type Config struct {
	// Mode selects traffic correlation or single-sensor occupancy.
	Mode string `json:"mode" yaml:"mode"`

	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `json:"log_level" yaml:"log_level"`

	Sensors  SensorsConfig  `json:"sensors" yaml:"sensors"`
	Traffic  TrafficConfig  `json:"traffic" yaml:"traffic"`
	Transmit TransmitConfig `json:"transmit" yaml:"transmit"`
	Connect  ConnectConfig  `json:"connect" yaml:"connect"`
	Retain   RetainConfig   `json:"retain" yaml:"retain"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	Status   StatusConfig   `json:"status" yaml:"status"`

	// Heartbeat is how often the daemon publishes a heartbeat system
	// event. Zero disables heartbeats.
	Heartbeat Duration `json:"heartbeat" yaml:"heartbeat"`
}

// SensorsConfig names the GPIO lines the sensors are wired to.
type SensorsConfig struct {
	Chip string `json:"chip" yaml:"chip"`

	// MotionPin carries the PIR output. Unused in occupancy mode.
	MotionPin int `json:"motion_pin" yaml:"motion_pin"`

	// DoorPin carries the reed contact. In occupancy mode this is the
	// single observed sensor.
	DoorPin int `json:"door_pin" yaml:"door_pin"`

	// ActiveLow flips the logical sense of a line. Reed contacts
	// wired to ground with a pull-up read low when the circuit
	// closes, so the door sensor defaults to active-low.
	MotionActiveLow bool `json:"motion_active_low" yaml:"motion_active_low"`
	DoorActiveLow   bool `json:"door_active_low" yaml:"door_active_low"`

	// DoorDebounce suppresses contact chatter on the reed switch.
	DoorDebounce Duration `json:"door_debounce" yaml:"door_debounce"`

	// EventBuffer is the channel depth between the GPIO edge handler
	// and the daemon loop.
	EventBuffer int `json:"event_buffer" yaml:"event_buffer"`
}

// TrafficConfig tunes the correlator.
type TrafficConfig struct {
	// Window is how long a lone sensor activation stays eligible for
	// pairing with the other sensor.
	Window Duration `json:"window" yaml:"window"`
}

// TransmitConfig selects and configures the reading backend.
type TransmitConfig struct {
	Backend string     `json:"backend" yaml:"backend"`
	HTTP    HTTPConfig `json:"http" yaml:"http"`
	MQTT    MQTTConfig `json:"mqtt" yaml:"mqtt"`
}

// Endpoint returns the raw endpoint address of the active backend.
func (t TransmitConfig) Endpoint() string {
	if t.Backend == BackendMQTT {
		return t.MQTT.Broker
	}
	return t.HTTP.URL
}

// HTTPConfig configures the form-POST backend.
type HTTPConfig struct {
	URL     string   `json:"url" yaml:"url"`
	APIKey  string   `json:"api_key" yaml:"api_key"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

// MQTTConfig configures the MQTT backend.
type MQTTConfig struct {
	Broker      string `json:"broker" yaml:"broker"`
	ClientID    string `json:"client_id" yaml:"client_id"`
	Topic       string `json:"topic" yaml:"topic"`
	SystemTopic string `json:"system_topic" yaml:"system_topic"`
	Buffer      int    `json:"buffer" yaml:"buffer"`
}

// ConnectConfig bounds the connectivity gate that runs before any
// transmission is attempted.
type ConnectConfig struct {
	// ProbeAddr is the host:port the reachability probe dials. Empty
	// means derive it from the transmit backend address.
	ProbeAddr string `json:"probe_addr" yaml:"probe_addr"`

	// Interval and Attempts bound the daemon's boot gate. The
	// defaults allow ten minutes of one-second probes.
	Interval Duration `json:"interval" yaml:"interval"`
	Attempts uint64   `json:"attempts" yaml:"attempts"`

	// CycleTimeout bounds the whole connect-and-send phase of the
	// one-shot binary. A power-cycled unit cannot spend minutes
	// retrying on battery.
	CycleTimeout Duration `json:"cycle_timeout" yaml:"cycle_timeout"`

	// FailureStreak is how many consecutive send failures the daemon
	// tolerates before it exits for the supervisor to restart it.
	// Zero disables the escalation.
	FailureStreak int `json:"failure_streak" yaml:"failure_streak"`
}

// RetainConfig names the files that survive a power cycle.
type RetainConfig struct {
	// Path holds the correlator snapshot written before power-down.
	Path string `json:"path" yaml:"path"`

	// PlanPath holds the wake plan for the power controller.
	PlanPath string `json:"plan_path" yaml:"plan_path"`
}

// JournalConfig configures the optional on-device emission journal.
type JournalConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DSN     string `json:"dsn" yaml:"dsn"`

	// Keep caps the journal at the newest N rows.
	Keep int `json:"keep" yaml:"keep"`
}

// StatusConfig configures the daemon's status page.
type StatusConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Mode:     ModeTraffic,
		LogLevel: "info",
		Sensors: SensorsConfig{
			Chip:          "gpiochip0",
			MotionPin:     17,
			DoorPin:       27,
			DoorActiveLow: true,
			DoorDebounce:  Duration(20 * time.Millisecond),
			EventBuffer:   64,
		},
		Traffic: TrafficConfig{
			Window: Duration(15 * time.Second),
		},
		Transmit: TransmitConfig{
			Backend: BackendHTTP,
			HTTP: HTTPConfig{
				URL:     "http://127.0.0.1:5000/sensors/add",
				Timeout: Duration(10 * time.Second),
			},
			MQTT: MQTTConfig{
				Broker:   "tcp://127.0.0.1:1883",
				ClientID: "doorwatch",
				Buffer:   64,
			},
		},
		Connect: ConnectConfig{
			Interval:      Duration(time.Second),
			Attempts:      600,
			CycleTimeout:  Duration(15 * time.Second),
			FailureStreak: 10,
		},
		Retain: RetainConfig{
			Path:     "/var/lib/doorwatch/state.bin",
			PlanPath: "/var/lib/doorwatch/wake.json",
		},
		Journal: JournalConfig{
			DSN:  "file:/var/lib/doorwatch/journal.db",
			Keep: 1000,
		},
		Status: StatusConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Heartbeat: Duration(15 * time.Minute),
	}
}

// Load reads the file at path, fills unset fields with defaults and
// validates the result. Both YAML and JSON are accepted.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if looksLikeJSON(data) {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func (c *Config) applyDefaults() {
	def := Default()

	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Sensors.Chip == "" {
		c.Sensors.Chip = def.Sensors.Chip
	}
	if c.Sensors.MotionPin == 0 {
		c.Sensors.MotionPin = def.Sensors.MotionPin
	}
	if c.Sensors.DoorPin == 0 {
		c.Sensors.DoorPin = def.Sensors.DoorPin
	}
	if c.Sensors.DoorDebounce == 0 {
		c.Sensors.DoorDebounce = def.Sensors.DoorDebounce
	}
	if c.Sensors.EventBuffer <= 0 {
		c.Sensors.EventBuffer = def.Sensors.EventBuffer
	}
	if c.Traffic.Window == 0 {
		c.Traffic.Window = def.Traffic.Window
	}
	if c.Transmit.Backend == "" {
		c.Transmit.Backend = def.Transmit.Backend
	}
	if c.Transmit.HTTP.URL == "" {
		c.Transmit.HTTP.URL = def.Transmit.HTTP.URL
	}
	if c.Transmit.HTTP.Timeout == 0 {
		c.Transmit.HTTP.Timeout = def.Transmit.HTTP.Timeout
	}
	if c.Transmit.MQTT.Broker == "" {
		c.Transmit.MQTT.Broker = def.Transmit.MQTT.Broker
	}
	if c.Transmit.MQTT.ClientID == "" {
		c.Transmit.MQTT.ClientID = def.Transmit.MQTT.ClientID
	}
	if c.Transmit.MQTT.Buffer <= 0 {
		c.Transmit.MQTT.Buffer = def.Transmit.MQTT.Buffer
	}
	if c.Connect.Interval == 0 {
		c.Connect.Interval = def.Connect.Interval
	}
	if c.Connect.Attempts == 0 {
		c.Connect.Attempts = def.Connect.Attempts
	}
	if c.Connect.CycleTimeout == 0 {
		c.Connect.CycleTimeout = def.Connect.CycleTimeout
	}
	if c.Retain.Path == "" {
		c.Retain.Path = def.Retain.Path
	}
	if c.Retain.PlanPath == "" {
		c.Retain.PlanPath = def.Retain.PlanPath
	}
	if c.Journal.DSN == "" {
		c.Journal.DSN = def.Journal.DSN
	}
	if c.Journal.Keep <= 0 {
		c.Journal.Keep = def.Journal.Keep
	}
	if c.Status.Addr == "" {
		c.Status.Addr = def.Status.Addr
	}
}

// Validate reports the first problem that would prevent the daemon or
// the one-shot binary from starting.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeTraffic, ModeOccupancy:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeTraffic, ModeOccupancy, c.Mode)
	}

	if c.Sensors.MotionPin < 0 {
		return fmt.Errorf("sensors.motion_pin must not be negative, got %d", c.Sensors.MotionPin)
	}
	if c.Sensors.DoorPin < 0 {
		return fmt.Errorf("sensors.door_pin must not be negative, got %d", c.Sensors.DoorPin)
	}
	if c.Mode == ModeTraffic && c.Sensors.MotionPin == c.Sensors.DoorPin {
		return fmt.Errorf("sensors.motion_pin and sensors.door_pin are both %d", c.Sensors.DoorPin)
	}
	if c.Sensors.DoorDebounce < 0 {
		return fmt.Errorf("sensors.door_debounce must not be negative, got %s", c.Sensors.DoorDebounce)
	}

	if c.Traffic.Window.Std() <= 0 {
		return fmt.Errorf("traffic.window must be positive, got %s", c.Traffic.Window)
	}

	switch c.Transmit.Backend {
	case BackendHTTP:
		if c.Transmit.HTTP.URL == "" {
			return fmt.Errorf("transmit.http.url is required for the http backend")
		}
	case BackendMQTT:
		if c.Transmit.MQTT.Broker == "" {
			return fmt.Errorf("transmit.mqtt.broker is required for the mqtt backend")
		}
	default:
		return fmt.Errorf("transmit.backend must be %q or %q, got %q", BackendHTTP, BackendMQTT, c.Transmit.Backend)
	}

	if c.Connect.Interval.Std() <= 0 {
		return fmt.Errorf("connect.interval must be positive, got %s", c.Connect.Interval)
	}
	if c.Connect.CycleTimeout.Std() <= 0 {
		return fmt.Errorf("connect.cycle_timeout must be positive, got %s", c.Connect.CycleTimeout)
	}
	if c.Connect.FailureStreak < 0 {
		return fmt.Errorf("connect.failure_streak must not be negative, got %d", c.Connect.FailureStreak)
	}

	if c.Retain.Path == "" {
		return fmt.Errorf("retain.path is required")
	}
	if c.Retain.PlanPath == "" {
		return fmt.Errorf("retain.plan_path is required")
	}

	if c.Journal.Enabled && c.Journal.DSN == "" {
		return fmt.Errorf("journal.dsn is required when the journal is enabled")
	}
	if c.Status.Enabled && c.Status.Addr == "" {
		return fmt.Errorf("status.addr is required when the status page is enabled")
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("heartbeat must not be negative, got %s", c.Heartbeat)
	}
	return nil
}
