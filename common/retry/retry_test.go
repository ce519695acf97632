package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errConn  = errors.New("connection reset")
	errOther = errors.New("duplicate key")
)

func isConn(err error) bool { return errors.Is(err, errConn) }

func TestDo_SucceedsFirstTime(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 2, Retryable: isConn}.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesOnceAfterReconnect(t *testing.T) {
	var calls, reconnects int
	p := Policy{
		MaxAttempts: 2,
		Retryable:   isConn,
		BeforeRetry: func(ctx context.Context, attempt int, err error) error {
			reconnects++
			assert.Equal(t, 2, attempt)
			assert.ErrorIs(t, err, errConn)
			return nil
		},
	}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return errConn
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, reconnects)
}

func TestDo_NonRetryablePropagatesImmediately(t *testing.T) {
	var calls, reconnects int
	p := Policy{
		MaxAttempts: 2,
		Retryable:   isConn,
		BeforeRetry: func(context.Context, int, error) error {
			reconnects++
			return nil
		},
	}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errOther
	})

	assert.Equal(t, errOther, err)
	assert.Equal(t, 1, calls)
	assert.Zero(t, reconnects)
}

func TestDo_ExhaustedReturnsOriginalAnnotated(t *testing.T) {
	calls := 0
	second := errors.New("still down")

	err := Policy{MaxAttempts: 2, Retryable: isConn}.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return errConn
		}
		return second
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, errConn)
	assert.NotErrorIs(t, err, second)
	assert.Contains(t, err.Error(), "retry: still down")
}

func TestDo_NeverExceedsMaxAttempts(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 3}.Do(context.Background(), func(context.Context) error {
		calls++
		return errConn
	})

	assert.ErrorIs(t, err, errConn)
	assert.Equal(t, 3, calls)
}

func TestDo_FailedReconnectAbortsRetry(t *testing.T) {
	calls := 0
	p := Policy{
		MaxAttempts: 2,
		Retryable:   isConn,
		BeforeRetry: func(context.Context, int, error) error {
			return errors.New("dial tcp: refused")
		},
	}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errConn
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errConn)
	assert.Contains(t, err.Error(), "dial tcp: refused")
}

func TestDo_ZeroAttemptsMeansOne(t *testing.T) {
	calls := 0
	err := Policy{}.Do(context.Background(), func(context.Context) error {
		calls++
		return errConn
	})

	assert.Equal(t, errConn, err)
	assert.Equal(t, 1, calls)
}

func TestDo_NotifyAndBackoff(t *testing.T) {
	var notified []int
	p := Policy{
		MaxAttempts: 3,
		Backoff:     backoff.NewConstantBackOff(time.Millisecond),
		Notify: func(err error, attempt int) {
			notified = append(notified, attempt)
		},
	}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errConn
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDo_ContextCancelledStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Policy{MaxAttempts: 5, Backoff: backoff.NewConstantBackOff(time.Hour)}.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errConn
	})

	assert.ErrorIs(t, err, errConn)
	assert.Equal(t, 1, calls)
}
