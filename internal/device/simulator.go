package device

import (
	"math"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/pulse-bridge/internal/codec"
	"github.com/e7canasta/pulse-bridge/internal/types"
)

// MaxAmplitude is the largest Ch1 amplitude whose scaled peaks, averages and
// sums still fit in an int32 block field
const MaxAmplitude = math.MaxInt32 / (10 * types.NumChannels)

// SimulatorConfig configures the synthetic stream
type SimulatorConfig struct {
	RateHz    int    // blocks per second (default: 100)
	Seed      uint64 // random seed for reproducible pulses
	Amplitude int32  // nominal Ch1 peak (default: 567, capped at MaxAmplitude)
}

// Simulator produces synthetic pulse blocks at a fixed rate.
// It behaves like a record-oriented device: each Read returns one block.
type Simulator struct {
	cfg    SimulatorConfig
	ticker *time.Ticker
	done   chan struct{}
	kick   chan struct{}
	closed atomic.Bool

	mu       sync.Mutex
	deadline time.Time
	rng      *rand.Rand

	emitted atomic.Uint64
}

// NewSimulator creates a simulator emitting cfg.RateHz blocks per second
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.RateHz <= 0 {
		cfg.RateHz = 100
	}
	if cfg.Amplitude <= 0 {
		cfg.Amplitude = 567
	}
	cfg.Amplitude = min(cfg.Amplitude, MaxAmplitude)

	return &Simulator{
		cfg:    cfg,
		ticker: time.NewTicker(time.Second / time.Duration(cfg.RateHz)),
		done:   make(chan struct{}),
		kick:   make(chan struct{}, 1),
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
}

// Read blocks until the next block is due, the read deadline passes or the
// simulator is closed.
func (s *Simulator) Read(p []byte) (int, error) {
	for {
		if s.closed.Load() {
			return 0, os.ErrClosed
		}

		s.mu.Lock()
		deadline := s.deadline
		s.mu.Unlock()

		var timer *time.Timer
		var expired <-chan time.Time
		if !deadline.IsZero() {
			wait := time.Until(deadline)
			if wait <= 0 {
				return 0, os.ErrDeadlineExceeded
			}
			timer = time.NewTimer(wait)
			expired = timer.C
		}

		select {
		case <-s.done:
			stopTimer(timer)
			return 0, os.ErrClosed
		case <-expired:
			return 0, os.ErrDeadlineExceeded
		case <-s.kick:
			// Deadline changed, re-evaluate
			stopTimer(timer)
			continue
		case <-s.ticker.C:
			stopTimer(timer)
			block := codec.Encode(s.next())
			s.emitted.Add(1)
			return copy(p, block[:]), nil
		}
	}
}

// SetReadDeadline bounds pending and future reads. A zero value disables the deadline.
func (s *Simulator) SetReadDeadline(t time.Time) error {
	if s.closed.Load() {
		return os.ErrClosed
	}

	s.mu.Lock()
	s.deadline = t
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
	return nil
}

// Close releases the simulator. A second Close returns os.ErrClosed.
func (s *Simulator) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return os.ErrClosed
	}
	s.ticker.Stop()
	close(s.done)
	return nil
}

// Emitted returns the number of blocks handed out so far
func (s *Simulator) Emitted() uint64 {
	return s.emitted.Load()
}

// next builds a plausible sample: peaks scale with the channel index,
// averages sit around half the peak and sums accumulate both.
func (s *Simulator) next() types.PulseSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sample types.PulseSample
	for ch := range sample.Channels {
		nominal := s.cfg.Amplitude * int32(ch+1)
		noise := s.rng.Int32N(nominal/10+1) - nominal/20
		peak := nominal + noise
		avg := peak/2 + s.rng.Int32N(5)
		sample.Channels[ch] = types.Channel{
			RSS:  s.rng.Int32N(64),
			Peak: peak,
			Avg:  avg,
			Sum:  peak + avg,
		}
	}
	return sample
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
