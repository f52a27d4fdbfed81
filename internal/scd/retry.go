package scd

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how upsert transactions are retried on transient
// store errors.
type RetryPolicy struct {
	MaxAttempts     int           // total attempts including the first
	InitialInterval time.Duration // first backoff delay
	MaxInterval     time.Duration // backoff delay ceiling
}

// DefaultRetryPolicy matches the bounded-retry requirement: a handful of
// quick attempts, then give up and report the record as transient.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// withRetry runs op, retrying transient errors with exponential backoff
// until the policy's attempts are exhausted or the context ends.
// Non-transient errors fail immediately. Returns the number of attempts
// made alongside the final error.
//
// A unique-index hit on the current-row backstop is retried like a
// serialization failure. Under read committed two writers racing on one
// key can both observe no current row; the loser's insert trips the
// index, and rerunning the transaction on a fresh snapshot sees the
// winner's row and chains (or no-ops) correctly.
func (e *Engine) withRetry(ctx context.Context, op func() error) (int, error) {
	attempts := 0

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.retry.InitialInterval
	bo.MaxInterval = e.retry.MaxInterval

	maxRetries := uint64(0)
	if e.retry.MaxAttempts > 1 {
		maxRetries = uint64(e.retry.MaxAttempts - 1)
	}

	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if IsTransient(err) || IsInvariantViolation(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))

	return attempts, err
}
