package provider

import (
	"context"
	"math"
	"math/rand"
	"time"
)

var retryableStatusCodes = map[int]bool{
	408: true, 409: true, 425: true, 429: true,
	500: true, 502: true, 503: true, 504: true,
}

// RetryableStatus reports whether an HTTP status code should trigger a
// retry per the provider invoker's retry policy.
func RetryableStatus(code int) bool {
	return retryableStatusCodes[code]
}

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 8 * time.Second
	maxAttempts    = 3
)

// Backoff computes the delay before retry attempt n (1-indexed), honoring a
// server-advertised Retry-After duration when non-zero, otherwise
// exponential backoff with jitter capped at maxBackoff.
func Backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	backoff := float64(initialBackoff) * math.Pow(2, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	jitter := backoff * 0.1
	backoff += (rand.Float64() * 2 * jitter) - jitter
	return time.Duration(backoff)
}

// MaxAttempts is the maximum number of HTTP attempts (initial + retries).
func MaxAttempts() int { return maxAttempts }

// Sleep waits for d or returns ctx.Err() if ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
