package stream

import "time"

const (
	backoffBase = time.Second
	backoffMax  = 30 * time.Second
)

// Backoff returns the reconnect delay for the given attempt count:
// min(1s * 2^attempts, 30s).
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 5 {
		return backoffMax
	}
	d := backoffBase << uint(attempts)
	if d > backoffMax {
		return backoffMax
	}
	return d
}
