// Package retry runs an operation under a bounded, fixed-delay retry policy.
//
// The wrapper knows nothing about what it retries: callers supply the
// attempt budget, the delay between attempts and a predicate that decides
// whether a failed attempt may be repeated.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int
	// Delay is the fixed pause between two attempts.
	Delay time.Duration
	// Retryable reports whether a failed attempt may be repeated. A nil
	// predicate retries every error.
	Retryable func(error) bool
	// Notify, if set, is called after each failed attempt that will be retried.
	Notify func(attempt int, err error, next time.Duration)
}

// ErrExhausted is matched by *ExhaustedError via errors.Is.
var ErrExhausted = errors.New("retry budget exhausted")

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Operation is a single attempt. attempt starts at 1.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Do calls op until it succeeds, returns a non-retryable error, the attempt
// budget is spent or ctx is done. A spent budget yields *ExhaustedError
// wrapping the last attempt's error; a non-retryable error is returned as is.
func Do[T any](ctx context.Context, p Policy, op Operation[T]) (T, error) {
	var zero T
	if p.MaxAttempts <= 0 {
		return zero, fmt.Errorf("retry: max attempts must be positive, got %d", p.MaxAttempts)
	}

	attempt := 0
	var last error
	wrapped := func() (T, error) {
		attempt++
		res, err := op(ctx, attempt)
		if err == nil {
			return res, nil
		}
		last = err
		if p.Retryable != nil && !p.Retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if p.Notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, next time.Duration) {
			p.Notify(attempt, err, next)
		}))
	}

	res, err := backoff.Retry[T](ctx, wrapped, opts...)
	if err == nil {
		return res, nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return zero, permanent.Unwrap()
	}
	if last != nil && p.Retryable != nil && !p.Retryable(last) {
		return zero, last
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, last) {
		return zero, ctxErr
	}
	if attempt >= p.MaxAttempts && last != nil {
		return zero, &ExhaustedError{Attempts: attempt, Last: last}
	}
	return zero, err
}
