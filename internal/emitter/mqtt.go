package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/pulse-bridge/internal/config"
	"github.com/e7canasta/pulse-bridge/internal/types"
)

// Snapshotter provides the latest published state
type Snapshotter interface {
	Snapshot() types.PublishedState
}

// Telemetry is the payload published on the telemetry topic
type Telemetry struct {
	InstanceID string                           `json:"instance_id" msgpack:"instance_id"`
	RunID      string                           `json:"run_id,omitempty" msgpack:"run_id,omitempty"`
	Version    uint64                           `json:"version" msgpack:"version"`
	Timestamp  int64                            `json:"timestamp_ms" msgpack:"timestamp_ms"`
	Rate       types.RateValue                  `json:"pulse_rate" msgpack:"pulse_rate"`
	Channels   [types.NumChannels]types.Channel `json:"channels" msgpack:"channels"`
}

// NewTelemetry builds a telemetry payload from a snapshot
func NewTelemetry(instanceID, runID string, state types.PublishedState, now time.Time) Telemetry {
	return Telemetry{
		InstanceID: instanceID,
		RunID:      runID,
		Version:    state.Version,
		Timestamp:  now.UnixMilli(),
		Rate:       state.Rate,
		Channels:   state.Sample.Channels,
	}
}

// Encode marshals t with the given encoding ("json" or "msgpack")
func Encode(encoding string, t Telemetry) ([]byte, error) {
	switch encoding {
	case "", "json":
		return json.Marshal(t)
	case "msgpack":
		return msgpack.Marshal(t)
	default:
		return nil, fmt.Errorf("emitter: unknown encoding %q", encoding)
	}
}

// MQTTEmitter publishes telemetry to an MQTT broker
type MQTTEmitter struct {
	cfg    *config.Config
	Client mqtt.Client // Exported for control plane

	mu        sync.RWMutex
	runID     string
	published map[string]uint64 // count per topic
	skipped   uint64            // ticks with no new version
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// SetRunID tags subsequent telemetry with the bridge run ID
func (e *MQTTEmitter) SetRunID(runID string) {
	e.mu.Lock()
	e.runID = runID
	e.mu.Unlock()
}

// Connect establishes connection to MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.MQTT.Broker))
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.InstanceID,
			"auto_reconnect", "enabled")
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker,
			"max_retry_interval", "30s")
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Publish publishes payload on topic. It is also the response path of the
// control plane.
func (e *MQTTEmitter) Publish(topic string, payload []byte, qos byte) error {
	if !e.IsConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	token := e.Client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("mqtt message published",
		"topic", topic,
		"qos", qos,
		"size", len(payload),
	)
	return nil
}

// PublishTelemetry encodes a snapshot and publishes it on the telemetry topic
func (e *MQTTEmitter) PublishTelemetry(state types.PublishedState) error {
	e.mu.RLock()
	runID := e.runID
	e.mu.RUnlock()

	payload, err := Encode(e.cfg.MQTT.Encoding, NewTelemetry(e.cfg.InstanceID, runID, state, time.Now()))
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal telemetry: %w", err)
	}

	return e.Publish(e.cfg.MQTT.Topics.Telemetry, payload, e.getQoS("telemetry"))
}

// PublishHealth publishes a health message
func (e *MQTTEmitter) PublishHealth(payload []byte) error {
	return e.Publish(e.cfg.MQTT.Topics.Health, payload, e.getQoS("health"))
}

// Run publishes the store snapshot every telemetry interval until ctx is
// cancelled. Ticks that observe no new version are skipped.
func (e *MQTTEmitter) Run(ctx context.Context, src Snapshotter) {
	ticker := time.NewTicker(e.cfg.MQTT.TelemetryInterval())
	defer ticker.Stop()

	var lastVersion uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := src.Snapshot()
			if state.Version == lastVersion {
				e.mu.Lock()
				e.skipped++
				e.mu.Unlock()
				continue
			}
			if err := e.PublishTelemetry(state); err != nil {
				slog.Debug("telemetry publish failed", "error", err, "version", state.Version)
				continue
			}
			lastVersion = state.Version
		}
	}
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}

	e.setConnected(false)
	return nil
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Skipped   uint64            `json:"skipped"`
	Errors    uint64            `json:"errors"`
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Skipped:   e.skipped,
		Errors:    e.errors,
	}
}

// IsConnected returns connection status
func (e *MQTTEmitter) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// getQoS returns the QoS level for a topic kind
func (e *MQTTEmitter) getQoS(kind string) byte {
	if qos, ok := e.cfg.MQTT.QoS[kind]; ok {
		return qos
	}
	return 0
}
