package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type transientError struct{}

func (transientError) Error() string   { return "transient" }
func (transientError) Retryable() bool { return true }

type permanentError struct{}

func (permanentError) Error() string   { return "permanent" }
func (permanentError) Retryable() bool { return false }

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(transientError{}))
	require.False(t, IsRetryable(permanentError{}))

	// errors that don't classify themselves are treated as permanent
	require.False(t, IsRetryable(errors.New("unknown")))
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, IsRetryable, func() error {
		calls++
		if calls < 3 {
			return transientError{}
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, IsRetryable, func() error {
		calls++
		return permanentError{}
	})

	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, IsRetryable, func() error {
		calls++
		return transientError{}
	})

	var transient transientError
	require.ErrorAs(t, err, &transient)
	require.Equal(t, 3, calls)
}

func TestDo_HonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, 10, 10*time.Millisecond, IsRetryable, func() error {
		calls++
		return transientError{}
	})

	require.Error(t, err)
	require.LessOrEqual(t, calls, 2)
}
