// Package retry is the single retry/backoff implementation shared by
// provisioning status polls, connect loops, and destroy calls. Every loop in
// the system that waits on something flaky runs through a Policy, so backoff
// behavior is tuned (and tested) in one place.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultBase = 500 * time.Millisecond
	defaultCap  = 10 * time.Second
)

// Policy bounds one retry loop. The wait after attempt n is
// Base*2^(n-1), capped at Cap, with up to +/- Jitter randomization.
type Policy struct {
	// MaxAttempts is the total number of tries. Zero means unbounded, in
	// which case MaxElapsed or the context must bound the loop.
	MaxAttempts uint
	// Base is the wait before the second attempt.
	Base time.Duration
	// Cap is the ceiling any single wait can reach.
	Cap time.Duration
	// MaxElapsed bounds the total time spent, zero means no bound.
	MaxElapsed time.Duration
	// Jitter is the randomization factor in [0, 1]. Zero keeps the waits
	// deterministic, which the tests rely on.
	Jitter float64
}

// Notify observes one failed attempt and the wait before the next one.
type Notify func(err error, wait time.Duration)

// Do runs 'op' under 'p' until it succeeds, returns a permanent error, runs
// out of attempts or elapsed budget, or 'ctx' is done.
func Do[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	return DoNotify(ctx, p, op, nil)
}

// DoNotify is Do with a per-failure observer.
func DoNotify[T any](ctx context.Context, p Policy, op func() (T, error), notify Notify) (T, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.Base
	if p.Base == 0 {
		expo.InitialInterval = defaultBase
	}
	expo.MaxInterval = p.Cap
	if p.Cap == 0 {
		expo.MaxInterval = defaultCap
	}
	expo.Multiplier = 2
	expo.RandomizationFactor = p.Jitter

	opts := []backoff.RetryOption{backoff.WithBackOff(expo)}
	if p.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(p.MaxAttempts))
	}
	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(notify)))
	}
	return backoff.Retry(ctx, backoff.Operation[T](op), opts...)
}

// Permanent marks 'err' as not worth retrying; Do stops immediately and
// returns it.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
