package rate

import (
	"math"
	"sync"
)

// stabilityThreshold is the maximum rate standard deviation as a fraction of
// the mean for the stream to count as stable.
// Example: 250 Hz mean → stable if stddev < 37.5
const stabilityThreshold = 0.15

// WindowStats summarises the recent rate history
type WindowStats struct {
	Samples  int     `json:"samples"`
	Last     int32   `json:"last"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"stddev"`
	Min      int32   `json:"min"`
	Max      int32   `json:"max"`
	IsStable bool    `json:"is_stable"`
}

// Window is a fixed-size ring of recent rate values
type Window struct {
	mu     sync.Mutex
	values []int32
	next   int
	filled bool
	total  uint64
}

// NewWindow creates a window holding up to size values
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{values: make([]int32, size)}
}

// Add records a rate value, evicting the oldest when full
func (w *Window) Add(v int32) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.values[w.next] = v
	w.next = (w.next + 1) % len(w.values)
	if w.next == 0 {
		w.filled = true
	}
	w.total++
}

// Total returns the number of values ever added
func (w *Window) Total() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}

// Stats computes mean, stddev, min, max and stability over the window.
// A window with fewer than two values is never stable.
func (w *Window) Stats() WindowStats {
	w.mu.Lock()
	n := w.next
	if w.filled {
		n = len(w.values)
	}
	values := make([]int32, n)
	copy(values, w.values[:n])
	var last int32
	if w.total > 0 {
		last = w.values[(w.next-1+len(w.values))%len(w.values)]
	}
	w.mu.Unlock()

	if n == 0 {
		return WindowStats{}
	}

	var sum float64
	min, max := values[0], values[0]
	for _, v := range values {
		sum += float64(v)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(n)

	var variance float64
	for _, v := range values {
		d := float64(v) - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(n))

	return WindowStats{
		Samples:  n,
		Last:     last,
		Mean:     mean,
		StdDev:   stddev,
		Min:      min,
		Max:      max,
		IsStable: n >= 2 && mean > 0 && stddev < stabilityThreshold*mean,
	}
}
