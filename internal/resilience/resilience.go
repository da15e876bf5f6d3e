// Package resilience wraps external calls with per-attempt timeouts and
// bounded exponential-backoff retries.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
)

// Policy bounds one external call.
type Policy struct {
	Attempts int           // Total attempts including the first (default 3)
	Delay    time.Duration // Base backoff delay (default 1s)
	MaxDelay time.Duration // Backoff cap (default 20s)
	Timeout  time.Duration // Per-attempt timeout (0 = none)
}

// DefaultPolicy is used when a component is configured without one.
var DefaultPolicy = Policy{
	Attempts: 3,
	Delay:    time.Second,
	MaxDelay: 20 * time.Second,
	Timeout:  60 * time.Second,
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultPolicy.Attempts
	}
	if p.Delay <= 0 {
		p.Delay = DefaultPolicy.Delay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}
	return p
}

// RetryAfterError is implemented by errors that carry a server-requested wait.
type RetryAfterError interface {
	error
	RetryAfterDuration() time.Duration
}

// Permanent marks err as not worth retrying (bad request, auth failure, ...).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return retry.Unrecoverable(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	return err != nil && !retry.IsRecoverable(err)
}

// Do runs fn under the policy and returns its value. Context cancellation and
// permanent errors stop retrying immediately.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	attemptFn := func() (T, error) {
		if p.Timeout <= 0 {
			return fn(ctx)
		}
		actx, cancel := context.WithTimeout(ctx, p.Timeout)
		defer cancel()
		v, err := fn(actx)
		if err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("attempt timed out after %s: %w", p.Timeout, err)
		}
		return v, err
	}

	return retry.DoWithData(attemptFn,
		retry.Context(ctx),
		retry.Attempts(uint(p.Attempts)),
		retry.Delay(p.Delay),
		retry.MaxDelay(p.MaxDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return retry.IsRecoverable(err) && !errors.Is(err, context.Canceled)
		}),
		retry.DelayType(func(n uint, err error, cfg *retry.Config) time.Duration {
			var ra RetryAfterError
			if errors.As(err, &ra) && ra.RetryAfterDuration() > 0 {
				return ra.RetryAfterDuration()
			}
			return retry.BackOffDelay(n, err, cfg)
		}),
	)
}

// Run is Do for calls without a result value.
func Run(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
