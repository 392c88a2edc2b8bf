package core

import (
	"encoding/json"
	"time"

	"github.com/e7canasta/pulse-bridge/internal/api"
	"github.com/e7canasta/pulse-bridge/internal/bridge"
)

// HealthCheck returns the current health status of the service.
//
// unhealthy: not running, or the bridge left the Running state.
// degraded: parameter service offline, MQTT configured but disconnected,
// or the capture loop is backing off after repeated read failures.
func (s *Service) HealthCheck() api.HealthStatus {
	s.mu.RLock()
	running := s.isRunning
	started := s.started
	s.mu.RUnlock()

	status := api.HealthStatus{
		Status:       "healthy",
		InstanceID:   s.cfg.InstanceID,
		StoreVersion: s.store.Version(),
		ParamsOnline: s.params.Online(),
		MQTTEnabled:  s.emitter != nil,
		Bridge:       s.bridge.Status(),
	}
	if running {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	if s.emitter != nil {
		status.MQTTConnected = s.emitter.IsConnected()
	}

	switch {
	case !running || status.Bridge.State != bridge.StateRunning.String():
		status.Status = "unhealthy"
	case !status.ParamsOnline,
		status.MQTTEnabled && !status.MQTTConnected,
		status.Bridge.Capture.ConsecutiveFailures >= int64(s.cfg.Device.FailureReportThreshold):
		status.Status = "degraded"
	}

	return status
}

// getStatus returns the service status for the control plane
func (s *Service) getStatus() map[string]any {
	health := s.HealthCheck()
	snap := s.store.Snapshot()

	status := map[string]any{
		"instance_id":    s.cfg.InstanceID,
		"status":         health.Status,
		"uptime_s":       health.UptimeSeconds,
		"bridge":         health.Bridge,
		"store_version":  snap.Version,
		"pulse_rate":     snap.Rate,
		"params_online":  health.ParamsOnline,
		"variable_count": len(s.values.Variables()),
		"config": map[string]any{
			"device":           deviceLabel(s.cfg.Device.Path),
			"poll_interval_ms": s.cfg.Device.PollIntervalMS,
			"rate_interval_ms": s.cfg.Rate.IntervalMS,
			"api_listen":       s.cfg.API.Listen,
			"mqtt": map[string]any{
				"broker":          s.cfg.MQTT.Broker,
				"control_topic":   s.cfg.MQTT.Topics.Control,
				"telemetry_topic": s.cfg.MQTT.Topics.Telemetry,
				"encoding":        s.cfg.MQTT.Encoding,
			},
		},
	}
	if s.emitter != nil {
		status["mqtt"] = s.emitter.Stats()
	}

	return status
}

func (s *Service) publishHealth(health api.HealthStatus) error {
	payload, err := json.Marshal(health)
	if err != nil {
		return err
	}
	return s.emitter.PublishHealth(payload)
}
