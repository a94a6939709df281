package migrate

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// retryable is implemented by errors that know whether another attempt
// could succeed. immich.StatusError implements it: 5xx and 429 are
// retryable, other 4xx are terminal.
type retryable interface {
	Retryable() bool
}

// IsRetryable classifies an upload or attach error for the retry loop.
// Errors that carry their own classification are trusted; cancellation is
// never retried; anything else (connection resets, timeouts, DNS failures)
// is assumed transient.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// backoffDelay computes the wait before the next attempt: the base delay
// doubled for each prior attempt, plus jitter drawn up to half the
// exponential delay.
func backoffDelay(attempt int, base time.Duration, jitter func(max time.Duration) time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	exponential := time.Duration(math.Pow(2, float64(attempt-1))) * base
	return exponential + jitter(exponential/2)
}

// defaultJitter draws a uniform delay in [0, max]. The shared math/rand
// source is safe for concurrent workers.
func defaultJitter(max time.Duration) time.Duration {
	return time.Duration(rand.Int63n(int64(max) + 1))
}
