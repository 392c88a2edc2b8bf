package config_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/e7canasta/pulse-bridge/internal/config"
	"github.com/e7canasta/pulse-bridge/internal/device"
)

func TestLoadMinimalAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse-bridge.yaml")
	if err := os.WriteFile(path, []byte("instance_id: libera-01\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ShutdownTimeout() != 5*time.Second {
		t.Errorf("ShutdownTimeout: got %v", cfg.ShutdownTimeout())
	}
	if cfg.Device.Path != "" {
		t.Errorf("Device.Path: got %q, want empty (simulator)", cfg.Device.Path)
	}
	if cfg.Device.PollInterval() != 100*time.Millisecond {
		t.Errorf("PollInterval: got %v", cfg.Device.PollInterval())
	}
	if cfg.Rate.Interval() != time.Second {
		t.Errorf("Rate.Interval: got %v", cfg.Rate.Interval())
	}
	if cfg.API.Listen != ":10001" {
		t.Errorf("API.Listen: got %q", cfg.API.Listen)
	}
	if len(cfg.Parameters) != 2 || cfg.Parameters[0].Name != "pulse_enable" || cfg.Parameters[1].Name != "pulse_threshold" {
		t.Errorf("default parameters: got %+v", cfg.Parameters)
	}
	if cfg.MQTT.Enabled() {
		t.Error("MQTT enabled without broker")
	}
	if cfg.MQTT.Topics.Control != "pulse/control/libera-01" {
		t.Errorf("control topic: got %q", cfg.MQTT.Topics.Control)
	}
	if cfg.MQTT.Encoding != "json" {
		t.Errorf("encoding: got %q", cfg.MQTT.Encoding)
	}
}

func TestParseFullConfig(t *testing.T) {
	data := `
instance_id: libera-02
shutdown_timeout_s: 3
device:
  path: /dev/libera.strm0
  poll_interval_ms: 50
  backoff_initial_ms: 20
  backoff_max_ms: 500
rate:
  interval_ms: 500
  window: 10
api:
  listen: "127.0.0.1:9000"
parameters:
  - name: pulse_enable
    node: application.pulse.enable
    type: bool
    default: "true"
  - name: pulse_gain
    node: application.pulse.gain
    type: int32
    default: "-3"
mqtt:
  broker: localhost:1883
  encoding: msgpack
  qos:
    telemetry: 1
`
	cfg, err := config.Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	if cfg.Device.Path != "/dev/libera.strm0" || cfg.Device.BackoffMaxMS != 500 {
		t.Errorf("device: got %+v", cfg.Device)
	}
	if cfg.Rate.Interval() != 500*time.Millisecond || cfg.Rate.Window != 10 {
		t.Errorf("rate: got %+v", cfg.Rate)
	}
	if len(cfg.Parameters) != 2 || cfg.Parameters[1].Default != "-3" {
		t.Errorf("parameters: got %+v", cfg.Parameters)
	}
	if !cfg.MQTT.Enabled() || cfg.MQTT.Encoding != "msgpack" {
		t.Errorf("mqtt: got %+v", cfg.MQTT)
	}
	if cfg.MQTT.QoS["telemetry"] != 1 {
		t.Errorf("telemetry qos: got %d", cfg.MQTT.QoS["telemetry"])
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{"missing instance", "device: {}", "instance_id is required"},
		{"bad instance", "instance_id: Libera_01", "instance_id must match"},
		{"negative poll", "instance_id: a\ndevice: {poll_interval_ms: -1}", "poll_interval_ms"},
		{"backoff inverted", "instance_id: a\ndevice: {backoff_initial_ms: 100, backoff_max_ms: 10}", "backoff_max_ms"},
		{"bad encoding", "instance_id: a\nmqtt: {encoding: xml}", "mqtt.encoding"},
		{"bad qos", "instance_id: a\nmqtt: {qos: {control: 3}}", "mqtt.qos.control"},
		{"telemetry name", "instance_id: a\nparameters: [{name: Ch1_peak, node: x, type: int32}]", "reserved"},
		{"duplicate name", "instance_id: a\nparameters: [{name: p, node: x, type: int32}, {name: p, node: y, type: int32}]", "duplicate"},
		{"duplicate node", "instance_id: a\nparameters: [{name: p, node: x, type: int32}, {name: q, node: x, type: int32}]", "already bound"},
		{"unknown type", "instance_id: a\nparameters: [{name: p, node: x, type: float}]", "unknown type"},
		{"bad bool default", "instance_id: a\nparameters: [{name: p, node: x, type: bool, default: maybe}]", "bool default"},
		{"bad int default", "instance_id: a\nparameters: [{name: p, node: x, type: int32, default: ten}]", "invalid int32"},
		{"missing node", "instance_id: a\nparameters: [{name: p, type: int32}]", "node is required"},
		{"negative amplitude", "instance_id: a\ndevice: {simulator: {amplitude: -1}}", "device.simulator.amplitude"},
		{"amplitude overflow", "instance_id: a\ndevice: {simulator: {amplitude: 600000000}}", "device.simulator.amplitude"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestSimulatorAmplitudeBound(t *testing.T) {
	yaml := fmt.Sprintf("instance_id: a\ndevice: {simulator: {amplitude: %d}}", device.MaxAmplitude)
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("amplitude at the bound rejected: %v", err)
	}
	if cfg.Device.Simulator.Amplitude != device.MaxAmplitude {
		t.Errorf("amplitude: got %d, want %d", cfg.Device.Simulator.Amplitude, device.MaxAmplitude)
	}

	yaml = fmt.Sprintf("instance_id: a\ndevice: {simulator: {amplitude: %d}}", device.MaxAmplitude+1)
	if _, err := config.Parse([]byte(yaml)); err == nil {
		t.Fatal("amplitude above the bound accepted")
	}
	t.Logf("✅ simulator amplitude bounded at %d", device.MaxAmplitude)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("expected read error, got %v", err)
	}
}
