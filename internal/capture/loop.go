// Package capture reads device blocks, decodes them and publishes samples.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/e7canasta/pulse-bridge/internal/codec"
	"github.com/e7canasta/pulse-bridge/internal/device"
	"github.com/e7canasta/pulse-bridge/internal/types"
)

// ErrAlreadyRunning is returned when Run is called on a running loop
var ErrAlreadyRunning = errors.New("capture: loop already running")

// SamplePublisher receives decoded samples
type SamplePublisher interface {
	PublishSample(sample types.PulseSample) uint64
}

// Config contains capture loop settings
type Config struct {
	PollInterval           time.Duration // read deadline per attempt (default: 100ms)
	FailureReportThreshold int           // consecutive failures before backing off (default: 10)
	BackoffInitial         time.Duration // first backoff delay (default: 10ms)
	BackoffMax             time.Duration // backoff cap (default: 1s)
}

// DefaultConfig returns default capture settings
func DefaultConfig() Config {
	return Config{
		PollInterval:           100 * time.Millisecond,
		FailureReportThreshold: 10,
		BackoffInitial:         10 * time.Millisecond,
		BackoffMax:             time.Second,
	}
}

// Stats contains capture loop statistics
type Stats struct {
	BlocksPublished     uint64            `json:"blocks_published"`
	BlocksDropped       uint64            `json:"blocks_dropped"`
	BytesRead           uint64            `json:"bytes_read"`
	Timeouts            uint64            `json:"timeouts"`
	Errors              map[string]uint64 `json:"errors,omitempty"`
	ConsecutiveFailures int64             `json:"consecutive_failures"`
	LastBlockAt         time.Time         `json:"last_block_at"`
	IsRunning           bool              `json:"is_running"`
}

// Loop is the stream capture loop
type Loop struct {
	dev     device.Stream
	pub     SamplePublisher
	counter *EventCounter
	cfg     Config

	running   atomic.Bool
	published atomic.Uint64
	dropped   atomic.Uint64
	bytesRead atomic.Uint64
	timeouts  atomic.Uint64
	failures  atomic.Int64
	lastBlock atomic.Int64 // unix nanos
	errors    [numCategories]atomic.Uint64
}

// NewLoop creates a capture loop. Zero config fields take defaults.
func NewLoop(dev device.Stream, pub SamplePublisher, counter *EventCounter, cfg Config) *Loop {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.FailureReportThreshold <= 0 {
		cfg.FailureReportThreshold = def.FailureReportThreshold
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = def.BackoffInitial
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = def.BackoffMax
	}

	return &Loop{
		dev:     dev,
		pub:     pub,
		counter: counter,
		cfg:     cfg,
	}
}

// Run reads blocks until ctx is cancelled or the handle is closed.
// It returns nil on both of those; any other read error is retried.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer l.running.Store(false)

	slog.Info("capture: loop started",
		"block_size", codec.BlockSize,
		"poll_interval", l.cfg.PollInterval,
	)

	buf := make([]byte, codec.BlockSize)
	useDeadline := true

	for {
		if ctx.Err() != nil {
			return l.exit("cancelled")
		}

		if useDeadline {
			if err := l.dev.SetReadDeadline(time.Now().Add(l.cfg.PollInterval)); err != nil {
				switch {
				case errors.Is(err, os.ErrNoDeadline):
					useDeadline = false
					slog.Debug("capture: device does not support read deadlines, relying on close to unblock")
				case errors.Is(err, os.ErrClosed):
					return l.exit("handle closed")
				default:
					slog.Warn("capture: failed to arm read deadline", "error", err)
				}
			}
		}

		n, err := l.dev.Read(buf)

		// Cancellation wins over whatever the read returned
		if ctx.Err() != nil {
			return l.exit("cancelled")
		}
		l.bytesRead.Add(uint64(n))

		if err != nil {
			category := ClassifyReadError(err)
			switch category {
			case ErrCategoryTimeout:
				l.timeouts.Add(1)
				continue
			case ErrCategoryClosed:
				return l.exit("handle closed")
			}
			if !l.recordFailure(ctx, category, err) {
				return l.exit("cancelled")
			}
			continue
		}

		sample, err := codec.Decode(buf[:n])
		if err != nil {
			l.dropped.Add(1)
			if !l.recordFailure(ctx, ErrCategoryShort, err) {
				return l.exit("cancelled")
			}
			continue
		}

		// Publish before counting so the rate never runs ahead of the store
		l.pub.PublishSample(sample)
		l.counter.Increment()

		l.published.Add(1)
		l.lastBlock.Store(time.Now().UnixNano())
		if l.failures.Load() != 0 {
			slog.Info("capture: stream recovered", "after_failures", l.failures.Load())
			l.failures.Store(0)
		}
	}
}

// recordFailure counts and logs a transient failure, backing off once the
// streak reaches the report threshold. It returns false if ctx was cancelled
// while waiting.
func (l *Loop) recordFailure(ctx context.Context, category ErrorCategory, err error) bool {
	l.errors[category].Add(1)
	failures := l.failures.Add(1)

	threshold := int64(l.cfg.FailureReportThreshold)
	if failures < threshold {
		slog.Warn("capture: read failed, retrying",
			"category", category.String(),
			"error", err,
			"consecutive_failures", failures,
		)
		return true
	}

	delay := calculateBackoff(int(failures-threshold+1), l.cfg)
	slog.Error("capture: repeated read failures, backing off",
		"category", category.String(),
		"error", err,
		"consecutive_failures", failures,
		"delay", delay,
	)

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *Loop) exit(reason string) error {
	slog.Info("capture: loop stopped",
		"reason", reason,
		"blocks_published", l.published.Load(),
		"blocks_dropped", l.dropped.Load(),
	)
	return nil
}

// Stats returns current capture statistics
func (l *Loop) Stats() Stats {
	errs := make(map[string]uint64)
	for c := ErrorCategory(0); c < numCategories; c++ {
		if n := l.errors[c].Load(); n > 0 {
			errs[c.String()] = n
		}
	}

	var lastBlock time.Time
	if ns := l.lastBlock.Load(); ns != 0 {
		lastBlock = time.Unix(0, ns)
	}

	return Stats{
		BlocksPublished:     l.published.Load(),
		BlocksDropped:       l.dropped.Load(),
		BytesRead:           l.bytesRead.Load(),
		Timeouts:            l.timeouts.Load(),
		Errors:              errs,
		ConsecutiveFailures: l.failures.Load(),
		LastBlockAt:         lastBlock,
		IsRunning:           l.running.Load(),
	}
}

// String implements fmt.Stringer for log lines
func (s Stats) String() string {
	return fmt.Sprintf("published=%d dropped=%d bytes=%d timeouts=%d errors=%v",
		s.BlocksPublished, s.BlocksDropped, s.BytesRead, s.Timeouts, s.Errors)
}
