package agbac

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// backoff calculates the next backoff interval given consecutive failures.
// It uses exponential backoff with jitter, capped at maxInterval.
func backoff(baseInterval, maxInterval time.Duration, consecutiveFailures int) time.Duration {
	if consecutiveFailures <= 0 {
		return baseInterval
	}

	// Exponential: base * 2^failures
	multiplier := math.Pow(2, float64(consecutiveFailures))
	interval := time.Duration(float64(baseInterval) * multiplier)

	if interval > maxInterval {
		interval = maxInterval
	}

	// Add jitter: +/- 25% of the interval
	jitter := time.Duration(float64(interval) * 0.25 * (rand.Float64()*2 - 1))
	interval += jitter

	// Never go below the base interval
	if interval < baseInterval {
		interval = baseInterval
	}

	return interval
}

// retryWithBackoff retries fn with exponential backoff until it succeeds,
// maxAttempts is exhausted (0 means retry forever), or the context is
// canceled. The last error is returned on exhaustion.
func retryWithBackoff(ctx context.Context, fn func(ctx context.Context) error, baseInterval, maxInterval time.Duration, maxAttempts int) error {
	var failures int
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		failures++
		if maxAttempts > 0 && failures >= maxAttempts {
			return err
		}
		wait := backoff(baseInterval, maxInterval, failures)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
