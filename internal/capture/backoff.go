package capture

import "time"

// maxBackoffShift keeps the exponent well below overflow
const maxBackoffShift = 16

// calculateBackoff returns the delay before retrying after a failure streak.
//
// Formula: delay = BackoffInitial * 2^(attempt-1), capped at BackoffMax.
//
// Example with default config (10ms initial, 1s max):
//   - Attempt 1: 10ms
//   - Attempt 2: 20ms
//   - Attempt 4: 80ms
//   - Attempt 8: 1s (capped)
func calculateBackoff(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}

	delay := cfg.BackoffInitial * time.Duration(1<<uint(shift))
	if delay > cfg.BackoffMax {
		delay = cfg.BackoffMax
	}
	return delay
}
