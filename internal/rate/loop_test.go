package rate_test

import (
	"context"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/pulse-bridge/internal/capture"
	"github.com/e7canasta/pulse-bridge/internal/codec"
	"github.com/e7canasta/pulse-bridge/internal/rate"
	"github.com/e7canasta/pulse-bridge/internal/store"
	"github.com/e7canasta/pulse-bridge/internal/types"
)

// rateRecorder forwards to a store and records each published rate
type rateRecorder struct {
	*store.Store
	rates chan types.RateValue
}

func (r *rateRecorder) PublishRate(v types.RateValue) uint64 {
	version := r.Store.PublishRate(v)
	select {
	case r.rates <- v:
	default:
	}
	return version
}

// burstDevice delivers a fixed number of blocks and then stays silent
type burstDevice struct {
	mu        sync.Mutex
	remaining int
	block     [codec.BlockSize]byte
}

func (d *burstDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.remaining == 0 {
		time.Sleep(time.Millisecond)
		return 0, os.ErrDeadlineExceeded
	}
	d.remaining--
	return copy(p, d.block[:]), nil
}

func (d *burstDevice) SetReadDeadline(time.Time) error { return nil }
func (d *burstDevice) Close() error                    { return nil }

// TestRateAccuracy feeds exactly 100 blocks through the capture loop and
// expects the next computed rate to be 100, then 0.
func TestRateAccuracy(t *testing.T) {
	st := store.New()
	counter := &capture.EventCounter{}
	dev := &burstDevice{remaining: 100, block: codec.Encode(types.PulseSample{})}

	capLoop := capture.NewLoop(dev, st, counter, capture.Config{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		capLoop.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for capLoop.Stats().BlocksPublished < 100 {
		if time.Now().After(deadline) {
			t.Fatalf("capture published only %d blocks", capLoop.Stats().BlocksPublished)
		}
		time.Sleep(time.Millisecond)
	}

	rec := &rateRecorder{Store: st, rates: make(chan types.RateValue, 16)}
	rateLoop := rate.NewLoop(counter, rec, rate.Config{Interval: 20 * time.Millisecond})
	wg.Add(1)
	go func() {
		defer wg.Done()
		rateLoop.Run(ctx)
	}()

	if got := <-rec.rates; got != 100 {
		t.Errorf("first rate: got %d, want 100", got)
	}
	if got := <-rec.rates; got != 0 {
		t.Errorf("second rate: got %d, want 0", got)
	}

	cancel()
	wg.Wait()

	if st.Snapshot().Version < 102 {
		t.Errorf("version: got %d, want >= 102", st.Snapshot().Version)
	}
}

// fixedCounter drains scripted values, then blocks on hold (if set)
type fixedCounter struct {
	mu     sync.Mutex
	values []int32
	hold   chan struct{}
}

func (c *fixedCounter) Drain() int32 {
	c.mu.Lock()
	if len(c.values) == 0 {
		c.mu.Unlock()
		if c.hold != nil {
			<-c.hold
		}
		return 0
	}
	defer c.mu.Unlock()
	v := c.values[0]
	c.values = c.values[1:]
	return v
}

func TestRateLoopStopsWithinInterval(t *testing.T) {
	interval := 100 * time.Millisecond
	loop := rate.NewLoop(&fixedCounter{}, store.New(), rate.Config{Interval: interval})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	start := time.Now()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned %v", err)
		}
		if elapsed := time.Since(start); elapsed > interval {
			t.Errorf("shutdown took %v, want <= %v", elapsed, interval)
		}
	case <-time.After(time.Second):
		t.Fatal("rate loop did not stop")
	}
}

func TestRateLoopWindowStats(t *testing.T) {
	counter := &fixedCounter{values: []int32{100, 102, 98, 100}, hold: make(chan struct{})}
	loop := rate.NewLoop(counter, store.New(), rate.Config{Interval: 5 * time.Millisecond, Window: 4})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	defer func() {
		cancel()
		close(counter.hold)
		<-done
	}()

	deadline := time.Now().Add(time.Second)
	for loop.Stats().Samples < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("window filled to %d of 4", loop.Stats().Samples)
		}
		time.Sleep(time.Millisecond)
	}

	stats := loop.Stats()
	if stats.Mean != 100 {
		t.Errorf("Mean: got %v, want 100", stats.Mean)
	}
	if stats.Min != 98 || stats.Max != 102 {
		t.Errorf("Min/Max: got %d/%d, want 98/102", stats.Min, stats.Max)
	}
	if stats.Last != 100 {
		t.Errorf("Last: got %d, want 100", stats.Last)
	}
	if !stats.IsStable {
		t.Error("expected stable window")
	}
}

func TestWindowEviction(t *testing.T) {
	w := rate.NewWindow(3)
	for _, v := range []int32{10, 20, 30, 40} {
		w.Add(v)
	}

	stats := w.Stats()
	if stats.Samples != 3 {
		t.Errorf("Samples: got %d, want 3", stats.Samples)
	}
	if stats.Min != 20 || stats.Max != 40 {
		t.Errorf("Min/Max: got %d/%d, want 20/40", stats.Min, stats.Max)
	}
	if stats.Last != 40 {
		t.Errorf("Last: got %d, want 40", stats.Last)
	}
	if math.Abs(stats.Mean-30) > 1e-9 {
		t.Errorf("Mean: got %v, want 30", stats.Mean)
	}
	if w.Total() != 4 {
		t.Errorf("Total: got %d, want 4", w.Total())
	}
}

func TestWindowUnstable(t *testing.T) {
	w := rate.NewWindow(4)
	for _, v := range []int32{0, 200, 0, 200} {
		w.Add(v)
	}
	if w.Stats().IsStable {
		t.Error("expected unstable window")
	}

	empty := rate.NewWindow(4).Stats()
	if empty.Samples != 0 || empty.IsStable {
		t.Errorf("empty window: got %+v", empty)
	}
}
