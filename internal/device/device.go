// Package device opens the instrument stream endpoint.
package device

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// DefaultPath is the stream endpoint of the pulse processing application
const DefaultPath = "/dev/libera.strm0"

// Stream is an open stream handle.
// *os.File satisfies it; SetReadDeadline may return os.ErrNoDeadline for
// endpoints that cannot be polled.
type Stream interface {
	io.ReadCloser
	SetReadDeadline(t time.Time) error
}

// Opener opens a stream handle
type Opener func() (Stream, error)

// Open opens the stream endpoint at path for reading
func Open(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", path, err)
	}
	return f, nil
}

// NewOpener returns an Opener for path, or for a simulator when path is empty
func NewOpener(path string, sim SimulatorConfig) Opener {
	if path == "" {
		return func() (Stream, error) {
			slog.Info("device: using simulator (no device path configured)",
				"rate_hz", sim.RateHz,
				"seed", sim.Seed,
			)
			return NewSimulator(sim), nil
		}
	}

	return func() (Stream, error) {
		f, err := Open(path)
		if err != nil {
			return nil, err
		}
		slog.Info("device: stream opened", "path", path)
		return f, nil
	}
}
