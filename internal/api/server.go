// Package api serves variable reads and writes plus health endpoints over
// HTTP/2 cleartext (h2c). HTTP/1.1 clients are served as well.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/e7canasta/pulse-bridge/internal/bridge"
	"github.com/e7canasta/pulse-bridge/internal/provider"
)

// ValueProvider is the variable access used by the API
type ValueProvider interface {
	Read(name string) (provider.Value, error)
	ReadMany(names ...string) provider.Reading
	Write(name string, val provider.Value) error
	Lookup(name string) (provider.VariableInfo, bool)
	Variables() []provider.VariableInfo
}

// HealthStatus represents the health state of the service
type HealthStatus struct {
	Status        string        `json:"status"` // "healthy", "degraded", "unhealthy"
	InstanceID    string        `json:"instance_id"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StoreVersion  uint64        `json:"store_version"`
	ParamsOnline  bool          `json:"params_online"`
	MQTTEnabled   bool          `json:"mqtt_enabled"`
	MQTTConnected bool          `json:"mqtt_connected"`
	Bridge        bridge.Status `json:"bridge"`
}

// HealthReporter reports service health
type HealthReporter interface {
	HealthCheck() HealthStatus
}

// ValueJSON is the wire form of one variable reading
type ValueJSON struct {
	Name       string          `json:"name"`
	Value      *provider.Value `json:"value,omitempty"`
	Status     string          `json:"status"`
	StatusCode uint32          `json:"status_code"`
	Error      string          `json:"error,omitempty"`
}

// ValuesJSON is the wire form of a multi-variable reading
type ValuesJSON struct {
	Version uint64      `json:"version"`
	Values  []ValueJSON `json:"values"`
}

// WriteRequest is the body of PUT /v1/values/{name}
type WriteRequest struct {
	Value any `json:"value"`
}

// Server is the HTTP API server
type Server struct {
	addr   string
	values ValueProvider
	health HealthReporter

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// NewServer creates an API server for addr
func NewServer(addr string, values ValueProvider, health HealthReporter) *Server {
	return &Server{
		addr:   addr,
		values: values,
		health: health,
	}
}

// Handler returns the h2c-capable request handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/values", s.handleReadMany)
	mux.HandleFunc("GET /v1/values/{name}", s.handleRead)
	mux.HandleFunc("PUT /v1/values/{name}", s.handleWrite)
	mux.HandleFunc("GET /v1/variables", s.handleVariables)

	mux.HandleFunc("GET /health", s.handleLiveness)
	mux.HandleFunc("GET /readiness", s.handleReadiness)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	return h2c.NewHandler(mux, &http2.Server{})
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.mu.Lock()
	s.srv = srv
	s.listener = ln
	s.mu.Unlock()

	slog.Info("starting api server",
		"addr", ln.Addr().String(),
		"protocol", "h2c",
		"endpoints", []string{"/v1/values", "/v1/variables", "/health", "/readiness", "/metrics"},
	)

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api server failed", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	slog.Info("api server stopped")
	return nil
}

func (s *Server) handleReadMany(w http.ResponseWriter, r *http.Request) {
	var names []string
	if q := r.URL.Query().Get("names"); q != "" {
		names = strings.Split(q, ",")
	}

	reading := s.values.ReadMany(names...)
	resp := ValuesJSON{
		Version: reading.Version,
		Values:  make([]ValueJSON, 0, len(reading.Results)),
	}
	for _, res := range reading.Results {
		resp.Values = append(resp.Values, toValueJSON(res.Name, res.Value, res.Err))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	val, err := s.values.Read(name)
	writeJSON(w, httpStatus(err), toValueJSON(name, val, err))
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	info, ok := s.values.Lookup(name)
	if !ok {
		err := fmt.Errorf("%w: %q", provider.ErrUnknownVariable, name)
		writeJSON(w, httpStatus(err), toValueJSON(name, provider.Value{}, err))
		return
	}

	var req WriteRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ValueJSON{
			Name:       name,
			Status:     provider.StatusBadTypeMismatch.String(),
			StatusCode: uint32(provider.StatusBadTypeMismatch),
			Error:      "invalid JSON body",
		})
		return
	}

	val, err := provider.Coerce(info.Kind, req.Value)
	if err == nil {
		err = s.values.Write(name, val)
	}
	if err != nil {
		slog.Warn("api: write rejected", "name", name, "error", err)
		writeJSON(w, httpStatus(err), toValueJSON(name, provider.Value{}, err))
		return
	}

	writeJSON(w, http.StatusOK, toValueJSON(name, val, nil))
}

func (s *Server) handleVariables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.values.Variables())
}

// handleLiveness returns 200 if the process is serving requests
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	health := s.health.HealthCheck()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": health.UptimeSeconds,
	})
}

// handleReadiness returns 503 while the service is unhealthy
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	health := s.health.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, health)
}

// handleMetrics renders counters in Prometheus text exposition format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	h := s.health.HealthCheck()
	c := h.Bridge.Capture
	label := fmt.Sprintf("{instance=%q}", h.InstanceID)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "# TYPE pulse_bridge_uptime_seconds gauge\npulse_bridge_uptime_seconds%s %d\n", label, h.UptimeSeconds)
	fmt.Fprintf(w, "# TYPE pulse_bridge_store_version counter\npulse_bridge_store_version%s %d\n", label, h.StoreVersion)
	fmt.Fprintf(w, "# TYPE pulse_bridge_blocks_published_total counter\npulse_bridge_blocks_published_total%s %d\n", label, c.BlocksPublished)
	fmt.Fprintf(w, "# TYPE pulse_bridge_blocks_dropped_total counter\npulse_bridge_blocks_dropped_total%s %d\n", label, c.BlocksDropped)
	fmt.Fprintf(w, "# TYPE pulse_bridge_read_timeouts_total counter\npulse_bridge_read_timeouts_total%s %d\n", label, c.Timeouts)
	fmt.Fprintf(w, "# TYPE pulse_bridge_read_errors_total counter\n")
	for category, n := range c.Errors {
		fmt.Fprintf(w, "pulse_bridge_read_errors_total{instance=%q,category=%q} %d\n", h.InstanceID, category, n)
	}
	fmt.Fprintf(w, "# TYPE pulse_bridge_rate gauge\npulse_bridge_rate%s %d\n", label, h.Bridge.Rate.Last)
	fmt.Fprintf(w, "# TYPE pulse_bridge_rate_mean gauge\npulse_bridge_rate_mean%s %g\n", label, h.Bridge.Rate.Mean)
}

func toValueJSON(name string, val provider.Value, err error) ValueJSON {
	status := provider.StatusOf(err)
	v := ValueJSON{
		Name:       name,
		Status:     status.String(),
		StatusCode: uint32(status),
	}
	if err != nil {
		v.Error = err.Error()
		return v
	}
	v.Value = &val
	return v
}

// httpStatus maps adapter errors to HTTP status codes
func httpStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, provider.ErrUnknownVariable):
		return http.StatusNotFound
	case errors.Is(err, provider.ErrNotWritable):
		return http.StatusForbidden
	case errors.Is(err, provider.ErrTypeMismatch), errors.Is(err, provider.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrInvalidToken):
		return http.StatusBadGateway
	case errors.Is(err, provider.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("api: failed to write response", "error", err)
	}
}
