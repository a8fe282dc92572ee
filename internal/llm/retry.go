package llm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/fudanyi/agentflow/internal/model"
)

// maxAttempts is the bound on retries for transient provider errors, per
// SPEC_FULL.md §4.3 rule 8 (N≈6), grounded on app/llm.py's
// @retry(stop_after_attempt(6)).
const maxAttempts = 6

// isRetryable reports whether err should be retried, per SPEC_FULL.md §9's
// is_retryable discipline: token-limit (model.ErrTokenLimitExceeded) and
// authentication (model.ErrAuthFailed) errors are never retried; every other
// error, including an invalid request, is retried.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrTokenLimitExceeded) {
		return false
	}
	if errors.Is(err, model.ErrAuthFailed) {
		return false
	}
	return true
}

// withRetry runs fn with exponential-jitter backoff up to maxAttempts,
// matching app/llm.py's wait_random_exponential(min=1, max=60).
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}
		wait := expJitterBackoff(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

// expJitterBackoff mirrors tenacity's wait_random_exponential(min=1, max=60):
// a random wait in [0, min(60, 2^attempt)] seconds, floored at 1 second.
func expJitterBackoff(attempt int) time.Duration {
	capSeconds := math.Min(60, math.Pow(2, float64(attempt)))
	seconds := rand.Float64() * capSeconds
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds * float64(time.Second))
}
