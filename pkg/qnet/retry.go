package qnet

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig holds the configuration for the retry policy.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first).
	MaxAttempts int

	// BackoffStep scales the linear backoff: the wait after failed
	// attempt n (1-based) is n * BackoffStep.
	BackoffStep time.Duration
}

// DefaultRetryConfig returns the default retry configuration: three
// attempts, with waits of 2s, 4s and 6s after the failed ones.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BackoffStep: 2 * time.Second,
	}
}

// backoffFor returns the wait after the given 1-based failed attempt.
// The progression is linear (2s, 4s, 6s with the default step), not
// exponential.
func (c RetryConfig) backoffFor(attempt int) time.Duration {
	return time.Duration(attempt) * c.BackoffStep
}

// retryWithBackoff runs fn up to cfg.MaxAttempts times. fn reports the
// classification of its failure; terminal classes are returned
// immediately, retryable ones wait the linear backoff and try again.
// The wait also follows the final failed attempt, so three failing
// attempts observe the full 2s/4s/6s progression before exhaustion is
// reported.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, logger zerolog.Logger, endpoint string, fn func() (ErrorClass, error)) error {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		class, err := fn()
		if err == nil {
			// Success
			if attempt > 1 {
				logger.Info().
					Str("endpoint", endpoint).
					Int("attempt", attempt).
					Msg("Fetch succeeded after retry")
			}
			return nil
		}

		lastErr = err

		// Terminal failures surface immediately without consuming
		// further attempts
		if !shouldRetry(class) {
			return lastErr
		}

		wait := cfg.backoffFor(attempt)
		qnetRetriesTotal.WithLabelValues(endpoint).Inc()
		qnetRetryBackoffSeconds.WithLabelValues(endpoint).Observe(wait.Seconds())

		logger.Warn().
			Str("endpoint", endpoint).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Err(err).
			Msg("Attempt failed, backing off")

		// Wait with context cancellation support
		select {
		case <-ctx.Done():
			logger.Warn().
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(wait):
			// Continue to next attempt
		}
	}

	// All attempts exhausted
	qnetRetryExhaustedTotal.WithLabelValues(endpoint).Inc()
	logger.Error().
		Str("endpoint", endpoint).
		Int("max_attempts", cfg.MaxAttempts).
		Err(lastErr).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, cfg.MaxAttempts, lastErr)
}
