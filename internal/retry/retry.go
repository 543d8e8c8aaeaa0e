/*
Copyright 2026 The rowforge Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package retry wraps fallible operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"net"
	"time"
)

const (
	defaultInitialDelay = 1 * time.Second
	defaultMaxDelay     = 60 * time.Second
)

// Retryable is implemented by errors that carry their own retry
// classification, such as the LLM client error categories.
type Retryable interface {
	IsRetryable() bool
}

// Options controls a Do call.
type Options struct {
	// MaxRetries is the number of additional attempts after the first one,
	// so an operation runs at most MaxRetries+1 times. Zero disables retries.
	MaxRetries int

	// InitialDelay is the sleep before the first retry. Each subsequent
	// retry doubles it. Defaults to 1s.
	InitialDelay time.Duration

	// MaxDelay caps the computed backoff. Defaults to 60s.
	MaxDelay time.Duration

	// ShouldRetry decides whether an error is worth another attempt.
	// Defaults to DefaultShouldRetry.
	ShouldRetry func(error) bool

	// OnRetry is invoked before each sleep with the delay and the attempt
	// number (1-based) that just failed. Used for logging and metrics.
	OnRetry func(delay time.Duration, attempt int)
}

// DefaultShouldRetry retries errors that classify themselves as retryable
// and network timeouts. Context cancellation is never retried.
func DefaultShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var r Retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Do runs op until it succeeds, a non-retryable error occurs, the retry
// budget is exhausted, or ctx is done. The error returned after exhaustion
// is the last error observed, not a wrapper, so callers can still inspect
// the original failure kind.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	var zero T

	initialDelay := opts.InitialDelay
	if initialDelay <= 0 {
		initialDelay = defaultInitialDelay
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if attempt > opts.MaxRetries || !shouldRetry(err) {
			return zero, lastErr
		}

		delay := backoff(initialDelay, maxDelay, attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(delay, attempt)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}
}

// backoff computes initial * 2^(attempt-1), capped at max.
func backoff(initial, max time.Duration, attempt int) time.Duration {
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
