// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package retry is the explicit retry-with-backoff policy object named in
// spec.md §9, shared by internal/vectorstore and internal/embeddings'
// remote backend.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RateLimitError carries a server-provided Retry-After duration. Do waits
// it out and calls fn again within the same attempt, so a rate-limited
// call is not counted against the policy's MaxAttempts.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string { return e.Err.Error() }
func (e *RateLimitError) Unwrap() error { return e.Err }

// PermanentError marks an error fn knows will never succeed on retry (bad
// request, malformed response, auth failure) so Do returns it immediately
// regardless of the policy's Retriable predicate.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do stops retrying and returns it on the next
// attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Policy is an explicit retry policy: attempts, base delay, backoff
// factor, jitter, and a predicate distinguishing retriable from fatal
// errors.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
	Retriable   func(error) bool
}

// DefaultPolicy is the vector-store/store-request policy: 3 attempts,
// exponential backoff off a 200ms base.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      true,
		Retriable:   func(error) bool { return true },
	}
}

// RemotePolicy is the remote-embedder policy: 3 attempts, exponential
// backoff, honoring Retry-After on rate limits, 30s per-request timeout is
// applied by the caller via context.
func RemotePolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
		Retriable:   func(error) bool { return true },
	}
}

// Do runs fn, retrying per the policy on top of
// github.com/cenkalti/backoff/v5's exponential backoff. A RateLimitError
// is honored via its own Retry-After wait and does not count against
// MaxAttempts; fn should wrap any other fatal, non-retriable error in
// backoff.Permanent so Do returns immediately.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		MaxInterval:         p.MaxDelay,
		Multiplier:          2.0,
		RandomizationFactor: jitterFactor(p.Jitter),
	}
	b.Reset()

	operation := func() (T, error) {
		result, err := fn(ctx)
		var rl *RateLimitError
		for err != nil && errors.As(err, &rl) {
			select {
			case <-ctx.Done():
				return result, backoff.Permanent(ctx.Err())
			case <-time.After(rl.RetryAfter):
			}
			result, err = fn(ctx)
		}
		if err == nil {
			return result, nil
		}

		var perm *PermanentError
		if errors.As(err, &perm) {
			return result, backoff.Permanent(perm.Err)
		}

		if p.Retriable != nil && !p.Retriable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxInt(p.MaxAttempts, 1))),
	)
}

func jitterFactor(enabled bool) float64 {
	if enabled {
		return 0.5
	}
	return 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
