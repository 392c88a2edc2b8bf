// Package store holds the latest published sample and rate.
//
// Writers (the capture and rate loops) replace an immutable state value
// behind an atomic pointer. Readers perform a single atomic load and never
// block, so a snapshot always reflects exactly one completed publish.
package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/pulse-bridge/internal/types"
)

// Store is the shared publish store
type Store struct {
	// mu serialises writers only; readers never take it
	mu    sync.Mutex
	state atomic.Pointer[types.PublishedState]

	now func() time.Time
}

// New creates a store holding a zero sample, rate 0 and version 0
func New() *Store {
	s := &Store{now: time.Now}
	s.state.Store(&types.PublishedState{})
	return s
}

// PublishSample replaces the latest sample and returns the committed version
func (s *Store) PublishSample(sample types.PulseSample) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.state.Load()
	next.Sample = sample
	next.SampleAt = s.now()
	next.Version++
	s.state.Store(&next)

	return next.Version
}

// PublishRate replaces the latest rate and returns the committed version
func (s *Store) PublishRate(rate types.RateValue) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.state.Load()
	next.Rate = rate
	next.RateAt = s.now()
	next.Version++
	s.state.Store(&next)

	return next.Version
}

// Snapshot returns a copy of the latest committed state
func (s *Store) Snapshot() types.PublishedState {
	return *s.state.Load()
}

// Version returns the latest committed version
func (s *Store) Version() uint64 {
	return s.state.Load().Version
}
