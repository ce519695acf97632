// Package retry runs an operation under a bounded retry policy.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy decides whether and how a failed operation is attempted again.
//
// The error returned by Do is always the first failure. When later attempts
// also fail, their error is appended as text so callers matching on the
// original cause with errors.Is/As still see it.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below one mean a single attempt.
	MaxAttempts int

	// Retryable reports whether err warrants another attempt. Nil retries
	// every error.
	Retryable func(err error) bool

	// BeforeRetry runs ahead of every attempt after the first, typically to
	// re-establish a connection. An error aborts the retry.
	BeforeRetry func(ctx context.Context, attempt int, err error) error

	// Notify observes each retryable failure before the next attempt.
	Notify func(err error, attempt int)

	// Backoff spaces attempts. Nil retries immediately.
	Backoff backoff.BackOff
}

// Do runs op until it succeeds, returns a non-retryable error, or the policy
// is exhausted.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.Backoff != nil {
		b = p.Backoff
	}
	b.Reset()
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	var first, last error
	attempt := 0

	err := backoff.RetryNotify(func() error {
		attempt++
		if attempt > 1 && p.BeforeRetry != nil {
			if err := p.BeforeRetry(ctx, attempt, first); err != nil {
				last = fmt.Errorf("prepare attempt %d: %w", attempt, err)
				return backoff.Permanent(last)
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if first == nil {
			first = err
		}
		last = err
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo, func(err error, _ time.Duration) {
		if p.Notify != nil {
			p.Notify(err, attempt)
		}
	})
	if err == nil {
		return nil
	}
	if first == nil {
		return err
	}
	if attempt <= 1 {
		return first
	}
	return fmt.Errorf("%w (retry: %v)", first, last)
}
