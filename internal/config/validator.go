package config

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/e7canasta/pulse-bridge/internal/device"
)

var (
	instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)
	variablePattern   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	telemetryPattern  = regexp.MustCompile(`^(Ch[1-4]_(rss|peak|avg|sum)|pulse_rate)$`)
)

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS < 0 {
		return fmt.Errorf("shutdown_timeout_s must be >= 0")
	}
	if cfg.ShutdownTimeoutS == 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if err := validateDevice(&cfg.Device); err != nil {
		return err
	}

	// Rate
	if cfg.Rate.IntervalMS < 0 {
		return fmt.Errorf("rate.interval_ms must be > 0")
	}
	if cfg.Rate.IntervalMS == 0 {
		cfg.Rate.IntervalMS = 1000
	}
	if cfg.Rate.Window <= 0 {
		cfg.Rate.Window = 60
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = ":10001"
	}

	// Default parameter table: the pulse processing enable flag and threshold
	if len(cfg.Parameters) == 0 {
		cfg.Parameters = []ParameterConfig{
			{
				Name:        "pulse_enable",
				Node:        "application.pulse.enable",
				Type:        "bool",
				Default:     "false",
				Description: "Pulse processing enabled",
			},
			{
				Name:        "pulse_threshold",
				Node:        "application.pulse.threshold",
				Type:        "int32",
				Default:     "100",
				Description: "Pulse detection threshold",
			},
		}
	}
	if err := ValidateParameters(cfg.Parameters); err != nil {
		return fmt.Errorf("parameter validation failed: %w", err)
	}

	return validateMQTT(cfg)
}

func validateDevice(d *DeviceConfig) error {
	if d.PollIntervalMS < 0 {
		return fmt.Errorf("device.poll_interval_ms must be > 0")
	}
	if d.PollIntervalMS == 0 {
		d.PollIntervalMS = 100
	}
	if d.FailureReportThreshold <= 0 {
		d.FailureReportThreshold = 10
	}
	if d.BackoffInitialMS <= 0 {
		d.BackoffInitialMS = 10
	}
	if d.BackoffMaxMS <= 0 {
		d.BackoffMaxMS = 1000
	}
	if d.BackoffMaxMS < d.BackoffInitialMS {
		return fmt.Errorf("device.backoff_max_ms (%d) must be >= backoff_initial_ms (%d)",
			d.BackoffMaxMS, d.BackoffInitialMS)
	}

	if d.Simulator.RateHz < 0 {
		return fmt.Errorf("device.simulator.rate_hz must be > 0")
	}
	if d.Simulator.RateHz == 0 {
		d.Simulator.RateHz = 100
	}
	if d.Simulator.Amplitude < 0 || d.Simulator.Amplitude > device.MaxAmplitude {
		return fmt.Errorf("device.simulator.amplitude must be in [0, %d], got %d",
			device.MaxAmplitude, d.Simulator.Amplitude)
	}
	return nil
}

// ValidateParameters validates the configuration variable table
func ValidateParameters(params []ParameterConfig) error {
	names := make(map[string]bool)
	nodes := make(map[string]bool)

	for i, p := range params {
		if !variablePattern.MatchString(p.Name) {
			return fmt.Errorf("parameter %d: name %q must match [A-Za-z][A-Za-z0-9_]*", i, p.Name)
		}
		if telemetryPattern.MatchString(p.Name) {
			return fmt.Errorf("parameter '%s': name is reserved for telemetry", p.Name)
		}
		if names[p.Name] {
			return fmt.Errorf("parameter '%s': duplicate name", p.Name)
		}
		names[p.Name] = true

		if p.Node == "" {
			return fmt.Errorf("parameter '%s': node is required", p.Name)
		}
		if nodes[p.Node] {
			return fmt.Errorf("parameter '%s': node '%s' already bound", p.Name, p.Node)
		}
		nodes[p.Node] = true

		switch p.Type {
		case "bool":
			if p.Default != "" && p.Default != "true" && p.Default != "false" {
				return fmt.Errorf("parameter '%s': bool default must be 'true' or 'false', got '%s'",
					p.Name, p.Default)
			}
		case "int32":
			if p.Default != "" {
				if _, err := strconv.ParseInt(p.Default, 10, 32); err != nil {
					return fmt.Errorf("parameter '%s': invalid int32 default '%s'", p.Name, p.Default)
				}
			}
		default:
			return fmt.Errorf("parameter '%s': unknown type '%s' (must be 'bool' or 'int32')",
				p.Name, p.Type)
		}
	}

	return nil
}

func validateMQTT(cfg *Config) error {
	m := &cfg.MQTT

	switch m.Encoding {
	case "":
		m.Encoding = "json"
	case "json", "msgpack":
	default:
		return fmt.Errorf("mqtt.encoding must be 'json' or 'msgpack', got '%s'", m.Encoding)
	}

	if m.TelemetryIntervalMS < 0 {
		return fmt.Errorf("mqtt.telemetry_interval_ms must be > 0")
	}
	if m.TelemetryIntervalMS == 0 {
		m.TelemetryIntervalMS = 1000
	}

	// Set default topics if not provided
	if m.Topics.Control == "" {
		m.Topics.Control = fmt.Sprintf("pulse/control/%s", cfg.InstanceID)
	}
	if m.Topics.Telemetry == "" {
		m.Topics.Telemetry = fmt.Sprintf("pulse/telemetry/%s", cfg.InstanceID)
	}
	if m.Topics.Responses == "" {
		m.Topics.Responses = fmt.Sprintf("pulse/responses/%s", cfg.InstanceID)
	}
	if m.Topics.Health == "" {
		m.Topics.Health = fmt.Sprintf("pulse/health/%s", cfg.InstanceID)
	}

	// Set default QoS if not provided
	if m.QoS == nil {
		m.QoS = map[string]byte{
			"control":   1,
			"telemetry": 0,
			"responses": 1,
			"health":    0,
		}
	}
	for name, qos := range m.QoS {
		if qos > 2 {
			return fmt.Errorf("mqtt.qos.%s must be 0, 1 or 2", name)
		}
	}

	return nil
}
