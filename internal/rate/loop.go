// Package rate derives the per-interval sample rate from the event counter.
package rate

import (
	"context"
	"log/slog"
	"time"

	"github.com/e7canasta/pulse-bridge/internal/types"
)

// Drainer is read-and-reset access to the event counter
type Drainer interface {
	Drain() int32
}

// RatePublisher receives computed rates
type RatePublisher interface {
	PublishRate(rate types.RateValue) uint64
}

// Config contains rate loop settings
type Config struct {
	Interval time.Duration // computation period (default: 1s)
	Window   int           // rates kept for statistics (default: 60)
}

// Loop is the rate computation loop
type Loop struct {
	counter Drainer
	pub     RatePublisher
	cfg     Config
	window  *Window
}

// NewLoop creates a rate loop. Zero config fields take defaults.
func NewLoop(counter Drainer, pub RatePublisher, cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = 60
	}

	return &Loop{
		counter: counter,
		pub:     pub,
		cfg:     cfg,
		window:  NewWindow(cfg.Window),
	}
}

// Run publishes one rate per interval until ctx is cancelled.
// Cancellation is observed on every wake, so it returns within one interval.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	slog.Info("rate: loop started", "interval", l.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("rate: loop stopped", "intervals", l.window.Total())
			return nil
		case <-ticker.C:
			n := l.counter.Drain()
			version := l.pub.PublishRate(types.RateValue(n))
			l.window.Add(n)

			slog.Debug("rate: published",
				"rate", n,
				"version", version,
			)
		}
	}
}

// Stats returns statistics over the recent rate window
func (l *Loop) Stats() WindowStats {
	return l.window.Stats()
}

// Interval returns the effective computation period
func (l *Loop) Interval() time.Duration {
	return l.cfg.Interval
}
