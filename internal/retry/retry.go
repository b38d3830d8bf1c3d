// Package retry runs a fallible step a bounded number of times with a
// delay between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCancelled is wrapped into the error returned when the context is
// cancelled between attempts
var ErrCancelled = errors.New("retry cancelled")

// Policy bounds the attempts. Backoff is constant unless Multiplier > 1.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Multiplier  float64       // Growth factor per retry; values <= 1 keep the delay constant
	MaxDelay    time.Duration // Cap for grown delays (0 = uncapped)

	// OnRetry is called after a failed attempt that will be retried
	OnRetry func(attempt int, err error)
}

// ExhaustedError is returned once every attempt has failed
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error as is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do invokes fn until it succeeds, returns a Permanent error, or MaxAttempts
// is reached. Attempts are numbered from 1. Cancellation is observed before
// each attempt and while sleeping, never while fn runs.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T

	limit := p.MaxAttempts
	if limit < 1 {
		limit = 1
	}
	delay := p.Delay

	var last error
	for attempt := 1; attempt <= limit; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, cancelled(attempt-1, last, err)
		}

		v, err := fn(ctx, attempt)
		if err == nil {
			return v, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		last = err

		if attempt == limit {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, cancelled(attempt, last, ctx.Err())
			case <-timer.C:
			}
		}
		delay = next(delay, p)
	}

	return zero, &ExhaustedError{Attempts: limit, Last: last}
}

func next(d time.Duration, p Policy) time.Duration {
	if p.Multiplier <= 1 {
		return d
	}
	d = time.Duration(float64(d) * p.Multiplier)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func cancelled(attempts int, last, cause error) error {
	if last == nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrCancelled, attempts, cause)
	}
	return fmt.Errorf("%w after %d attempts (last failure: %v): %w", ErrCancelled, attempts, last, cause)
}
