package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/e7canasta/pulse-bridge/internal/config"
	"github.com/e7canasta/pulse-bridge/internal/provider"
)

// Command represents a control plane command
type Command struct {
	Command   string         `json:"command"`
	RequestID string         `json:"request_id,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string         `json:"command_ack"`
	RequestID  string         `json:"request_id"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// Publisher sends response payloads
type Publisher interface {
	Publish(topic string, payload []byte, qos byte) error
}

// ValueProvider is the variable access used by commands
type ValueProvider interface {
	ReadMany(names ...string) provider.Reading
	Write(name string, val provider.Value) error
	Lookup(name string) (provider.VariableInfo, bool)
	Variables() []provider.VariableInfo
}

// CommandCallbacks contains callback functions for service-level commands
type CommandCallbacks struct {
	OnGetStatus func() map[string]any
	OnShutdown  func() error
}

// Handler handles control plane commands
type Handler struct {
	cfg      *config.Config
	client   mqtt.Client
	pub      Publisher
	values   ValueProvider
	commands chan Command

	callbacks CommandCallbacks

	mu      sync.RWMutex
	stopped bool

	// shutdownDelay lets the response leave before the shutdown callback runs
	shutdownDelay time.Duration
}

// NewHandler creates a new control plane handler. client is used for the
// subscription; responses go through pub.
func NewHandler(cfg *config.Config, client mqtt.Client, pub Publisher, values ValueProvider, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:           cfg,
		client:        client,
		pub:           pub,
		values:        values,
		commands:      make(chan Command, 10),
		callbacks:     callbacks,
		shutdownDelay: 500 * time.Millisecond,
	}
}

// Start starts listening for control commands
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	go h.processCommands(ctx)

	return nil
}

// Stop stops the control plane handler
func (h *Handler) Stop() error {
	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.MQTT.Topics.Control)
		token.WaitTimeout(2 * time.Second)
	}

	// paho may still deliver an in-flight message after unsubscribe
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.stopped = true
	close(h.commands)

	slog.Info("control plane handler stopped")
	return nil
}

func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	h.Enqueue(msg.Payload())
}

// Enqueue parses a raw command and queues it for processing. Invalid JSON is
// answered immediately; a full queue drops the command.
func (h *Handler) Enqueue(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}

	slog.Info("control command received", "command", cmd.Command, "request_id", cmd.RequestID)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}
	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command, "request_id", cmd.RequestID)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.handleCommand(cmd)
		}
	}
}

func (h *Handler) handleCommand(cmd Command) {
	resp := Response{
		CommandAck: cmd.Command,
		RequestID:  cmd.RequestID,
	}

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus != nil {
			resp.Status = "success"
			resp.Data = h.callbacks.OnGetStatus()
		} else {
			resp.Status = "error"
			resp.Error = "get_status not implemented"
		}

	case "list_variables":
		resp.Status = "success"
		resp.Data = map[string]any{"variables": h.values.Variables()}

	case "read":
		names, err := stringList(cmd.Params["names"])
		if err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
			break
		}
		resp.Status = "success"
		resp.Data = readingData(h.values.ReadMany(names...))

	case "write":
		name, ok := cmd.Params["name"].(string)
		if !ok || name == "" {
			resp.Status = "error"
			resp.Error = "missing or invalid 'name' parameter (expected string)"
			break
		}
		raw, ok := cmd.Params["value"]
		if !ok {
			resp.Status = "error"
			resp.Error = "missing 'value' parameter"
			break
		}
		if err := h.write(name, raw); err != nil {
			slog.Warn("control write rejected", "name", name, "error", err)
			resp.Status = "error"
			resp.Error = err.Error()
			resp.Data = map[string]any{"status_code": provider.StatusOf(err).String()}
			break
		}
		resp.Status = "success"
		resp.Data = map[string]any{"name": name, "value": raw}

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			resp.Status = "error"
			resp.Error = "shutdown not implemented"
			break
		}
		slog.Warn("shutdown command received via MQTT control plane")
		resp.Status = "success"
		resp.Data = map[string]any{
			"shutdown_initiated": true,
			"message":            "graceful shutdown in progress",
		}
		// Respond before triggering shutdown
		h.sendResponse(resp)

		go func() {
			time.Sleep(h.shutdownDelay)
			if err := h.callbacks.OnShutdown(); err != nil {
				slog.Error("shutdown callback failed", "error", err)
			}
		}()
		return

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

func (h *Handler) write(name string, raw any) error {
	info, ok := h.values.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", provider.ErrUnknownVariable, name)
	}
	val, err := provider.Coerce(info.Kind, raw)
	if err != nil {
		return err
	}
	return h.values.Write(name, val)
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	topic := h.cfg.MQTT.Topics.Responses
	if err := h.pub.Publish(topic, payload, h.cfg.MQTT.QoS["responses"]); err != nil {
		slog.Error("failed to publish response", "error", err, "command_ack", resp.CommandAck)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "request_id", resp.RequestID, "status", resp.Status)
}

// readingData flattens a Reading into the response payload
func readingData(r provider.Reading) map[string]any {
	values := make(map[string]any, len(r.Results))
	for _, res := range r.Results {
		entry := map[string]any{"status": provider.StatusOf(res.Err).String()}
		if res.Err != nil {
			entry["error"] = res.Err.Error()
		} else {
			entry["value"] = res.Value.Interface()
		}
		values[res.Name] = entry
	}
	return map[string]any{
		"version": r.Version,
		"values":  values,
	}
}

func stringList(raw any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("invalid 'names' parameter (expected array of strings)")
	}
	names := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("names[%d] is not a string", i)
		}
		names = append(names, s)
	}
	return names, nil
}
