// Package retry runs an operation until it succeeds, the context ends, or the
// attempt budget is spent, sleeping with exponential backoff in between.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the total number of calls. Zero means unbounded.
	MaxAttempts int
	// BaseDelay is the sleep before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps the sleep between attempts.
	MaxDelay time.Duration
}

// DefaultPolicy retries forever with 1s..1m backoff.
func DefaultPolicy() Policy {
	return Policy{BaseDelay: time.Second, MaxDelay: time.Minute}
}

// Backoff returns the sleep before attempt n (1-based). Attempt 1 never waits.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	b := p.schedule()
	var d time.Duration
	for range attempt - 1 {
		d = b.NextBackOff()
	}
	return d
}

// schedule is the delay sequence between attempts: BaseDelay doubling up to
// MaxDelay, without jitter, and never giving up on its own.
func (p Policy) schedule() backoff.BackOff {
	if p.BaseDelay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// ErrExhausted wraps the last error when MaxAttempts is reached.
var ErrExhausted = errors.New("retry: attempts exhausted")

// permanent marks an error that must not be retried.
type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent wraps err so Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanent
	return errors.As(err, &p)
}

// Sleeper waits for d or until ctx ends. Tests replace it to avoid real sleeps.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do calls fn until it returns nil. fn receives the 1-based attempt number.
//
// A Permanent error ends the loop and is returned unwrapped. When the
// context ends the context error is returned joined with the last fn error.
// When MaxAttempts is reached the last error is returned wrapped in
// ErrExhausted.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	return DoWithSleeper(ctx, p, SleepContext, fn)
}

// DoWithSleeper is Do with an injected sleeper.
func DoWithSleeper(ctx context.Context, p Policy, sleep Sleeper, fn func(ctx context.Context, attempt int) error) error {
	var last error
	delays := p.schedule()
	for attempt := 1; p.MaxAttempts == 0 || attempt <= p.MaxAttempts; attempt++ {
		var wait time.Duration
		if attempt > 1 {
			wait = delays.NextBackOff()
		}
		if err := sleep(ctx, wait); err != nil {
			return errors.Join(err, last)
		}

		last = fn(ctx, attempt)
		if last == nil {
			return nil
		}
		var perm *permanent
		if errors.As(last, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return errors.Join(ctx.Err(), last)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxAttempts, last)
}
