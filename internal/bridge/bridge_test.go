package bridge_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/e7canasta/pulse-bridge/internal/bridge"
	"github.com/e7canasta/pulse-bridge/internal/capture"
	"github.com/e7canasta/pulse-bridge/internal/device"
	"github.com/e7canasta/pulse-bridge/internal/rate"
	"github.com/e7canasta/pulse-bridge/internal/store"
)

// trackedStream wraps a stream, counting closes and flagging a close that
// happens while a read is still in progress.
type trackedStream struct {
	device.Stream
	reading        atomic.Int32
	closes         atomic.Int32
	closeWhileRead atomic.Bool
}

func (s *trackedStream) Read(p []byte) (int, error) {
	s.reading.Add(1)
	defer s.reading.Add(-1)
	return s.Stream.Read(p)
}

func (s *trackedStream) Close() error {
	s.closes.Add(1)
	if s.reading.Load() > 0 {
		s.closeWhileRead.Store(true)
	}
	return s.Stream.Close()
}

// stuckStream ignores deadlines and blocks until released
type stuckStream struct {
	release chan struct{}
	closes  atomic.Int32
}

func (s *stuckStream) Read(p []byte) (int, error) {
	<-s.release
	return 0, os.ErrClosed
}

func (s *stuckStream) SetReadDeadline(time.Time) error { return os.ErrNoDeadline }

func (s *stuckStream) Close() error {
	s.closes.Add(1)
	return nil
}

func testConfig() bridge.Config {
	return bridge.Config{
		Capture: capture.Config{PollInterval: 20 * time.Millisecond},
		Rate:    rate.Config{Interval: 200 * time.Millisecond},
	}
}

func simulatorOpener(ts **trackedStream) device.Opener {
	return func() (device.Stream, error) {
		*ts = &trackedStream{Stream: device.NewSimulator(device.SimulatorConfig{RateHz: 200})}
		return *ts, nil
	}
}

func TestStartStop(t *testing.T) {
	st := store.New()
	var dev *trackedStream
	b := bridge.New(testConfig(), st, simulatorOpener(&dev))

	if b.State() != bridge.StateCreated {
		t.Fatalf("initial state: got %s", b.State())
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if b.State() != bridge.StateRunning {
		t.Fatalf("state after Start: got %s", b.State())
	}

	// Wait for at least one sample and one rate publish
	deadline := time.Now().Add(2 * time.Second)
	for st.Snapshot().RateAt.IsZero() || st.Snapshot().SampleAt.IsZero() {
		if time.Now().After(deadline) {
			t.Fatalf("no sample/rate published: %+v", st.Snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}

	status := b.Status()
	if status.State != "running" || status.RunID == "" {
		t.Errorf("status: got %+v", status)
	}
	if b.CaptureStats().BlocksPublished == 0 {
		t.Error("CaptureStats: no blocks published")
	}
	// The window is updated right after the rate publish
	for b.RateStats().Samples == 0 {
		if time.Now().After(deadline) {
			t.Fatal("RateStats: no rate recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := b.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	elapsed := time.Since(start)

	// Shutdown bounded by 1.1 × rate interval
	bound := b.RateInterval() * 11 / 10
	if elapsed > bound {
		t.Errorf("Stop() took %v, want <= %v", elapsed, bound)
	}
	if b.State() != bridge.StateStopped {
		t.Errorf("state after Stop: got %s", b.State())
	}
	if n := dev.closes.Load(); n != 1 {
		t.Errorf("device closed %d times, want 1", n)
	}
	if dev.closeWhileRead.Load() {
		t.Error("device closed while a read was in progress")
	}

	// Second Stop is a no-op
	if err := b.Stop(ctx); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}
	if n := dev.closes.Load(); n != 1 {
		t.Errorf("device closed %d times after second Stop, want 1", n)
	}

	t.Logf("✅ stopped in %v, version %d", elapsed, st.Version())
}

func TestConcurrentStopReportsOnce(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	defer slog.SetDefault(prev)

	var dev *trackedStream
	b := bridge.New(testConfig(), store.New(), simulatorOpener(&dev))
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- b.Stop(ctx)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Stop() failed: %v", err)
		}
	}
	if n := dev.closes.Load(); n != 1 {
		t.Errorf("device closed %d times, want 1", n)
	}
	if n := strings.Count(logs.String(), "bridge: stopped"); n != 1 {
		t.Errorf("stopped logged %d times, want 1", n)
	}
	t.Logf("✅ %d concurrent Stop calls, one close and one report", callers)
}

func TestStartFailsWhenDeviceMissing(t *testing.T) {
	open := device.NewOpener("/nonexistent/libera.strm0", device.SimulatorConfig{})
	b := bridge.New(testConfig(), store.New(), open)

	err := b.Start(context.Background())
	if !errors.Is(err, bridge.ErrDeviceOpen) {
		t.Fatalf("expected ErrDeviceOpen, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist in chain, got %v", err)
	}
	if b.State() != bridge.StateFailed {
		t.Errorf("state: got %s, want failed", b.State())
	}

	if err := b.Start(context.Background()); !errors.Is(err, bridge.ErrInvalidTransition) {
		t.Errorf("restart after failure: expected ErrInvalidTransition, got %v", err)
	}
	if err := b.Stop(context.Background()); err != nil {
		t.Errorf("Stop() after failure: %v", err)
	}
	if b.State() != bridge.StateStopped {
		t.Errorf("state: got %s, want stopped", b.State())
	}
}

func TestStartTwice(t *testing.T) {
	var dev *trackedStream
	b := bridge.New(testConfig(), store.New(), simulatorOpener(&dev))

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer b.Stop(context.Background())

	if err := b.Start(context.Background()); !errors.Is(err, bridge.ErrInvalidTransition) {
		t.Errorf("second Start(): expected ErrInvalidTransition, got %v", err)
	}
}

func TestStopBeforeStart(t *testing.T) {
	opened := false
	b := bridge.New(testConfig(), store.New(), func() (device.Stream, error) {
		opened = true
		return nil, errors.New("unreachable")
	})

	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := b.Start(context.Background()); !errors.Is(err, bridge.ErrInvalidTransition) {
		t.Errorf("Start() after Stop(): expected ErrInvalidTransition, got %v", err)
	}
	if opened {
		t.Error("device opened after Stop()")
	}
}

// TestStopTimeoutLeavesDeviceOpen checks that a loop stuck in a read is never
// raced by Close, and that Stop can be retried once the read returns.
func TestStopTimeoutLeavesDeviceOpen(t *testing.T) {
	dev := &stuckStream{release: make(chan struct{})}
	b := bridge.New(testConfig(), store.New(), func() (device.Stream, error) { return dev, nil })

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := b.Stop(ctx)
	if !errors.Is(err, bridge.ErrShutdownTimeout) {
		t.Fatalf("expected ErrShutdownTimeout, got %v", err)
	}
	if n := dev.closes.Load(); n != 0 {
		t.Fatalf("device closed %d times before loops joined", n)
	}
	if b.State() != bridge.StateStopping {
		t.Errorf("state: got %s, want stopping", b.State())
	}

	close(dev.release)

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if err := b.Stop(ctx2); err != nil {
		t.Fatalf("retried Stop() failed: %v", err)
	}
	if n := dev.closes.Load(); n != 1 {
		t.Errorf("device closed %d times, want 1", n)
	}
	if b.State() != bridge.StateStopped {
		t.Errorf("state: got %s, want stopped", b.State())
	}
}
