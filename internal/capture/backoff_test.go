package capture

import (
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	cfg := Config{BackoffInitial: 10 * time.Millisecond, BackoffMax: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Millisecond},
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{7, 640 * time.Millisecond},
		{8, time.Second},
		{1000, time.Second},
	}

	for _, tt := range tests {
		if got := calculateBackoff(tt.attempt, cfg); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
