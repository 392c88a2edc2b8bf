package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete pulse-bridge configuration
type Config struct {
	InstanceID       string            `yaml:"instance_id"`
	ShutdownTimeoutS int               `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Device           DeviceConfig      `yaml:"device"`
	Rate             RateConfig        `yaml:"rate"`
	API              APIConfig         `yaml:"api"`
	Parameters       []ParameterConfig `yaml:"parameters"`
	MQTT             MQTTConfig        `yaml:"mqtt"`
}

// DeviceConfig contains stream endpoint settings
type DeviceConfig struct {
	Path                   string          `yaml:"path"`                     // stream endpoint, empty = simulator
	PollIntervalMS         int             `yaml:"poll_interval_ms"`         // read deadline per attempt (default: 100)
	FailureReportThreshold int             `yaml:"failure_report_threshold"` // consecutive failures before backoff (default: 10)
	BackoffInitialMS       int             `yaml:"backoff_initial_ms"`       // default: 10
	BackoffMaxMS           int             `yaml:"backoff_max_ms"`           // default: 1000
	Simulator              SimulatorConfig `yaml:"simulator"`
}

// SimulatorConfig contains synthetic stream settings
type SimulatorConfig struct {
	RateHz    int    `yaml:"rate_hz"` // default: 100
	Seed      uint64 `yaml:"seed"`
	Amplitude int32  `yaml:"amplitude"` // nominal Ch1 peak (default: 567)
}

// RateConfig contains rate computation settings
type RateConfig struct {
	IntervalMS int `yaml:"interval_ms"` // default: 1000
	Window     int `yaml:"window"`      // intervals kept for statistics (default: 60)
}

// APIConfig contains HTTP value API settings
type APIConfig struct {
	Listen string `yaml:"listen"` // default: ":10001"
}

// ParameterConfig declares a writable configuration variable
type ParameterConfig struct {
	Name        string `yaml:"name"`    // variable name, e.g. pulse_enable
	Node        string `yaml:"node"`    // parameter service path
	Type        string `yaml:"type"`    // bool (token encoded) or int32
	Default     string `yaml:"default"` // initial value (textual)
	Description string `yaml:"description"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker              string          `yaml:"broker"`
	Topics              MQTTTopics      `yaml:"topics"`
	QoS                 map[string]byte `yaml:"qos"`
	Encoding            string          `yaml:"encoding"`              // json or msgpack (default: json)
	TelemetryIntervalMS int             `yaml:"telemetry_interval_ms"` // default: 1000
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control   string `yaml:"control"`
	Telemetry string `yaml:"telemetry"`
	Responses string `yaml:"responses"`
	Health    string `yaml:"health"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates YAML configuration
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ShutdownTimeout returns the graceful shutdown budget
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// PollInterval returns the capture read deadline
func (d DeviceConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalMS) * time.Millisecond
}

// Interval returns the rate computation period
func (r RateConfig) Interval() time.Duration {
	return time.Duration(r.IntervalMS) * time.Millisecond
}

// TelemetryInterval returns the MQTT telemetry period
func (m MQTTConfig) TelemetryInterval() time.Duration {
	return time.Duration(m.TelemetryIntervalMS) * time.Millisecond
}

// Enabled reports whether MQTT is configured
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}
