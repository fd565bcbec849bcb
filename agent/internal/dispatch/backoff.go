package dispatch

import "time"

const (
	backoffUnit     = time.Second
	maxBackoffShift = 30
)

// Backoff returns the wait before retry number attempt (1-based):
// 2^attempt seconds plus delta. Attempts below zero are treated as zero.
func Backoff(attempt int, delta time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}
	return time.Duration(1<<attempt)*backoffUnit + delta
}
