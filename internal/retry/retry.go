// Package retry provides bounded retry with exponential backoff, parameterized
// by a retryable-error predicate. Business code decides what is worth retrying;
// this package only owns the loop, so no state machine ever embeds its own
// sleep-and-try-again logic.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retryabler is implemented by error types that know whether repeating the
// operation could possibly change the outcome. Malformed input never heals on
// retry; a dropped connection might.
type Retryabler interface {
	Retryable() bool
}

// IsRetryable is the default predicate: an error is retryable only when it
// says so itself. Unknown errors are treated as permanent, because retrying an
// operation whose effects we cannot classify is how funds get moved twice.
func IsRetryable(err error) bool {
	if r, ok := err.(Retryabler); ok {
		return r.Retryable()
	}
	return false
}

// Do runs op up to maxAttempts times, backing off exponentially from initial
// between attempts. The first error the predicate rejects is returned as-is;
// exhausting attempts returns the last error.
func Do(ctx context.Context, maxAttempts uint64, initial time.Duration, retryable func(error) bool, op func() error) error {
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxAttempts-1), ctx))
}
