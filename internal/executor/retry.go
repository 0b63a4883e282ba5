package executor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/skyliftcoin/gemini-web-browser/internal/browser"
)

// RetryPolicy is the single bounded-retry rule applied to every action.
// Only transient failures are retried; substrate failures surface at once.
type RetryPolicy struct {
	MaxRetries int
	Interval   time.Duration
}

func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return RetryPolicy{MaxRetries: maxRetries, Interval: 500 * time.Millisecond}
}

// transient reports whether an error is worth another in-place attempt.
func transient(err error) bool {
	if errors.Is(err, browser.ErrPageUnavailable) {
		return false
	}
	return errors.Is(err, ErrStaleTarget) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, browser.ErrLoadTimeout) ||
		errors.Is(err, browser.ErrActionTimeout)
}

// Do runs op under the policy and reports how many attempts were made.
func (p RetryPolicy) Do(ctx context.Context, op func() error) (int, error) {
	attempts := 0
	wrapped := func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(p.MaxRetries)),
		ctx,
	)
	err := backoff.Retry(wrapped, b)
	return attempts, err
}
