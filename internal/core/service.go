package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/pulse-bridge/internal/api"
	"github.com/e7canasta/pulse-bridge/internal/bridge"
	"github.com/e7canasta/pulse-bridge/internal/capture"
	"github.com/e7canasta/pulse-bridge/internal/config"
	"github.com/e7canasta/pulse-bridge/internal/control"
	"github.com/e7canasta/pulse-bridge/internal/device"
	"github.com/e7canasta/pulse-bridge/internal/emitter"
	"github.com/e7canasta/pulse-bridge/internal/params"
	"github.com/e7canasta/pulse-bridge/internal/provider"
	"github.com/e7canasta/pulse-bridge/internal/rate"
	"github.com/e7canasta/pulse-bridge/internal/store"
)

// healthReportInterval is the period of the stats log line and MQTT health message
const healthReportInterval = 10 * time.Second

// Service is the main service orchestrator
type Service struct {
	cfg *config.Config

	// Core components
	store          *store.Store
	params         *params.Memory
	values         *provider.Adapter
	bridge         *bridge.Bridge
	api            *api.Server
	emitter        *emitter.MQTTEmitter // nil when MQTT is disabled
	controlHandler *control.Handler

	// Lifecycle management
	started   time.Time
	ready     chan struct{}
	readyOnce sync.Once
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	cancelCtx context.CancelFunc // For MQTT shutdown command
}

// NewService loads configuration from configPath and builds the service
func NewService(configPath string) (*Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("configuration loaded",
		"instance_id", cfg.InstanceID,
		"device", deviceLabel(cfg.Device.Path),
		"parameters", len(cfg.Parameters),
		"mqtt_enabled", cfg.MQTT.Enabled(),
	)

	return New(cfg)
}

// New builds the service from a validated configuration.
// A parameter service that cannot be connected is fatal.
func New(cfg *config.Config) (*Service, error) {
	tree, parameters, err := initParams(cfg.Parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize parameter service: %w", err)
	}

	st := store.New()
	values, err := provider.New(st, tree, parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to build variable table: %w", err)
	}

	s := &Service{
		cfg:    cfg,
		store:  st,
		params: tree,
		values: values,
		ready:  make(chan struct{}),
	}

	s.bridge = bridge.New(bridgeConfig(cfg), st, device.NewOpener(cfg.Device.Path, device.SimulatorConfig{
		RateHz:    cfg.Device.Simulator.RateHz,
		Seed:      cfg.Device.Simulator.Seed,
		Amplitude: cfg.Device.Simulator.Amplitude,
	}))
	s.api = api.NewServer(cfg.API.Listen, values, s)

	if cfg.MQTT.Enabled() {
		s.emitter = emitter.NewMQTTEmitter(cfg)
	}

	slog.Info("variables registered", "count", len(values.Variables()))

	return s, nil
}

// initParams defines one node per configured parameter and connects the tree
func initParams(cfgParams []config.ParameterConfig) (*params.Memory, []provider.Parameter, error) {
	tree := params.NewMemory()
	parameters := make([]provider.Parameter, 0, len(cfgParams))
	required := make([]string, 0, len(cfgParams))

	for _, p := range cfgParams {
		kind, err := provider.ParseKind(p.Type)
		if err != nil {
			return nil, nil, err
		}

		spec := params.NodeSpec{Path: p.Node, Kind: params.KindInt, Initial: p.Default}
		if kind == provider.KindBool {
			spec.Kind = params.KindToken
			spec.Initial = provider.TokenFalse
			if p.Default == "true" {
				spec.Initial = provider.TokenTrue
			}
		}
		if err := tree.Define(spec); err != nil {
			return nil, nil, err
		}

		parameters = append(parameters, provider.Parameter{
			Name:        p.Name,
			Node:        p.Node,
			Kind:        kind,
			Description: p.Description,
		})
		required = append(required, p.Node)
	}

	if err := tree.Connect(required...); err != nil {
		return nil, nil, err
	}
	return tree, parameters, nil
}

func bridgeConfig(cfg *config.Config) bridge.Config {
	return bridge.Config{
		Capture: capture.Config{
			PollInterval:           cfg.Device.PollInterval(),
			FailureReportThreshold: cfg.Device.FailureReportThreshold,
			BackoffInitial:         time.Duration(cfg.Device.BackoffInitialMS) * time.Millisecond,
			BackoffMax:             time.Duration(cfg.Device.BackoffMaxMS) * time.Millisecond,
		},
		Rate: rate.Config{
			Interval: cfg.Rate.Interval(),
			Window:   cfg.Rate.Window,
		},
	}
}

// Run starts the service and blocks until ctx is cancelled or a shutdown
// command arrives
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancelCtx = cancel
	s.mu.Unlock()

	slog.Info("pulse bridge starting", "instance_id", s.cfg.InstanceID)

	// Device open failure is fatal
	if err := s.bridge.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}

	if err := s.api.Start(); err != nil {
		return fmt.Errorf("failed to start api server: %w", err)
	}

	if s.emitter != nil {
		if err := s.emitter.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}
		s.emitter.SetRunID(s.bridge.Status().RunID)

		handler := control.NewHandler(s.cfg, s.emitter.Client, s.emitter, s.values, control.CommandCallbacks{
			OnGetStatus: s.getStatus,
			OnShutdown:  s.shutdownViaControl,
		})
		s.mu.Lock()
		s.controlHandler = handler
		s.mu.Unlock()
		if err := handler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.emitter.Run(ctx, s.store)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reportHealth(ctx, healthReportInterval)
	}()

	s.readyOnce.Do(func() { close(s.ready) })
	slog.Info("pulse bridge running",
		"api", s.api.Addr(),
		"variables", len(s.values.Variables()),
	)

	<-ctx.Done()

	slog.Info("pulse bridge run loop exiting")
	return nil
}

// Ready is closed once Run has started every component
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// APIAddr returns the bound API address
func (s *Service) APIAddr() string {
	return s.api.Addr()
}

// Shutdown performs graceful shutdown of all components
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancelCtx
	handler := s.controlHandler
	s.mu.Unlock()

	slog.Info("shutting down pulse bridge")

	// 1. Stop control plane (no more writes from the broker)
	if handler != nil {
		if err := handler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	if cancel != nil {
		cancel()
	}

	// 2. Stop the bridge: cancel, interrupt, join, then close the device
	var errs []error
	if err := s.bridge.Stop(ctx); err != nil {
		slog.Error("failed to stop bridge", "error", err)
		errs = append(errs, err)
	}

	// 3. Stop the API server
	if err := s.api.Shutdown(ctx); err != nil {
		slog.Error("failed to stop api server", "error", err)
		errs = append(errs, err)
	}

	// 4. Wait for goroutines
	s.wg.Wait()

	// 5. Disconnect MQTT
	if s.emitter != nil {
		if err := s.emitter.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("pulse bridge shutdown complete", "uptime", uptime)

	return errors.Join(errs...)
}

// ShutdownTimeout returns the configured graceful shutdown budget
func (s *Service) ShutdownTimeout() time.Duration {
	return s.cfg.ShutdownTimeout()
}

// reportHealth logs loop statistics and publishes health over MQTT
func (s *Service) reportHealth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			health := s.HealthCheck()
			slog.Info("bridge stats",
				"status", health.Status,
				"store_version", health.StoreVersion,
				"capture", health.Bridge.Capture.String(),
				"rate_mean", health.Bridge.Rate.Mean,
				"rate_stable", health.Bridge.Rate.IsStable,
			)
			if s.emitter != nil && s.emitter.IsConnected() {
				if err := s.publishHealth(health); err != nil {
					slog.Debug("health publish failed", "error", err)
				}
			}
		}
	}
}

func (s *Service) shutdownViaControl() error {
	s.mu.RLock()
	cancel := s.cancelCtx
	s.mu.RUnlock()

	if cancel == nil {
		return fmt.Errorf("service is not running")
	}
	slog.Info("shutdown requested via control plane")
	cancel()
	return nil
}

func deviceLabel(path string) string {
	if path == "" {
		return "simulator"
	}
	return path
}
