// Package bridge coordinates the capture and rate loops over one device
// handle.
//
// Lifecycle: Created → Running → Stopping → Stopped. A failed device open
// moves Created → Failed, which is fatal for the caller. On Stop the loops
// are cancelled and joined before the handle is closed, and the handle is
// closed exactly once.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/pulse-bridge/internal/capture"
	"github.com/e7canasta/pulse-bridge/internal/device"
	"github.com/e7canasta/pulse-bridge/internal/rate"
)

var (
	// ErrDeviceOpen is returned by Start when the stream endpoint cannot be opened
	ErrDeviceOpen = errors.New("bridge: device open failed")
	// ErrInvalidTransition is returned for lifecycle calls in the wrong state
	ErrInvalidTransition = errors.New("bridge: invalid state transition")
	// ErrShutdownTimeout is returned by Stop when the loops did not exit in
	// time; the device handle is left open
	ErrShutdownTimeout = errors.New("bridge: loops did not stop before deadline")
)

// Publisher is the store both loops publish to
type Publisher interface {
	capture.SamplePublisher
	rate.RatePublisher
}

// Config contains loop settings
type Config struct {
	Capture capture.Config
	Rate    rate.Config
}

// Status is a point-in-time view of the bridge
type Status struct {
	State         string           `json:"state"`
	RunID         string           `json:"run_id,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Capture       capture.Stats    `json:"capture"`
	Rate          rate.WindowStats `json:"rate"`
}

// Bridge is the lifecycle coordinator
type Bridge struct {
	cfg  Config
	pub  Publisher
	open device.Opener

	mu      sync.Mutex
	state   State
	dev     device.Stream
	cancel  context.CancelFunc
	done    chan struct{} // closed once both loops returned
	capture *capture.Loop
	rate    *rate.Loop
	runID   string
	started time.Time

	closeOnce sync.Once
	closeErr  error
}

// New creates a bridge in the Created state
func New(cfg Config, pub Publisher, open device.Opener) *Bridge {
	return &Bridge{
		cfg:   cfg,
		pub:   pub,
		open:  open,
		state: StateCreated,
	}
}

// Start opens the device and launches both loops.
// A device open failure is fatal: the bridge moves to Failed and cannot be restarted.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !canTransition(b.state, StateRunning) {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, b.state)
	}

	dev, err := b.open()
	if err != nil {
		b.state = StateFailed
		slog.Error("bridge: failed to open device", "error", err)
		return fmt.Errorf("%w: %w", ErrDeviceOpen, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	counter := &capture.EventCounter{}

	b.dev = dev
	b.cancel = cancel
	b.capture = capture.NewLoop(dev, b.pub, counter, b.cfg.Capture)
	b.rate = rate.NewLoop(counter, b.pub, b.cfg.Rate)
	b.runID = uuid.NewString()
	b.started = time.Now()
	b.done = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := b.capture.Run(runCtx); err != nil {
			slog.Error("bridge: capture loop failed", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := b.rate.Run(runCtx); err != nil {
			slog.Error("bridge: rate loop failed", "error", err)
		}
	}()
	go func(done chan struct{}) {
		wg.Wait()
		close(done)
	}(b.done)

	b.state = StateRunning
	slog.Info("bridge: running",
		"run_id", b.runID,
		"rate_interval", b.rate.Interval(),
	)

	return nil
}

// Stop cancels both loops, waits for them to return (bounded by ctx), then
// closes the device. It is safe to call more than once; a call that times out
// may be retried.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case StateCreated, StateFailed:
		b.state = StateStopped
		b.mu.Unlock()
		return nil
	case StateStopped:
		b.mu.Unlock()
		return nil
	case StateRunning:
		b.state = StateStopping
		slog.Info("bridge: stopping", "run_id", b.runID)
		b.cancel()
		b.interrupt()
	}
	done := b.done
	b.mu.Unlock()

	start := time.Now()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Error("bridge: loops did not stop in time, leaving device open",
			"waited", time.Since(start),
			"error", ctx.Err(),
		)
		return fmt.Errorf("%w: %v", ErrShutdownTimeout, ctx.Err())
	}

	// Both loops have returned; nothing reads the handle any more
	closed, err := b.closeDevice()

	b.mu.Lock()
	b.state = StateStopped
	uptime := time.Since(b.started)
	b.mu.Unlock()

	// Concurrent callers all reach this point; only the one that closed reports
	if !closed {
		return err
	}
	slog.Info("bridge: stopped",
		"run_id", b.runID,
		"join_duration", time.Since(start),
		"uptime", uptime,
		"capture", b.capture.Stats().String(),
	)

	return err
}

// interrupt wakes a pending read by moving its deadline to now.
// Must be called with mu held.
func (b *Bridge) interrupt() {
	if err := b.dev.SetReadDeadline(time.Now()); err != nil && !errors.Is(err, os.ErrNoDeadline) {
		slog.Debug("bridge: could not interrupt pending read", "error", err)
	}
}

// closeDevice closes the handle once and reports whether this call closed it
func (b *Bridge) closeDevice() (bool, error) {
	closed := false
	b.closeOnce.Do(func() {
		closed = true
		b.closeErr = b.dev.Close()
		if b.closeErr != nil {
			slog.Warn("bridge: device close failed", "error", b.closeErr)
			b.closeErr = fmt.Errorf("bridge: close device: %w", b.closeErr)
		}
	})
	return closed, b.closeErr
}

// State returns the current lifecycle state
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns the current state and loop statistics
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Status{
		State: b.state.String(),
		RunID: b.runID,
	}
	if b.capture != nil {
		st.Capture = b.capture.Stats()
		st.Rate = b.rate.Stats()
	}
	if b.state == StateRunning {
		st.UptimeSeconds = int64(time.Since(b.started).Seconds())
	}
	return st
}

// RateInterval returns the rate computation period in effect
func (b *Bridge) RateInterval() time.Duration {
	if b.cfg.Rate.Interval > 0 {
		return b.cfg.Rate.Interval
	}
	return time.Second
}

// CaptureStats returns capture loop statistics of the current run
func (b *Bridge) CaptureStats() capture.Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.capture == nil {
		return capture.Stats{}
	}
	return b.capture.Stats()
}

// RateStats returns rate window statistics of the current run
func (b *Bridge) RateStats() rate.WindowStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rate == nil {
		return rate.WindowStats{}
	}
	return b.rate.Stats()
}
