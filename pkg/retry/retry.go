// Package retry re-runs an operation that failed on a transient dependency
// error, backing off exponentially between attempts.
//
// Nothing is retried unless a classifier says so: the caller decides which
// failures are transient (a dropped connection) and which are final (a
// missing user).
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy describes how an operation is retried.
type Policy struct {
	// Attempts is the total number of calls, including the first one.
	Attempts int

	// BaseDelay is the wait before the first retry. It doubles on every
	// further retry up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Jitter spreads each delay by ±Jitter of its value.
	Jitter float64

	// Transient reports whether err may go away on a retry.
	Transient func(err error) bool

	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Option adjusts a Policy.
type Option func(*Policy)

// WithAttempts sets the total number of calls.
func WithAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.Attempts = n
		}
	}
}

// WithBackoff sets the first and the largest delay.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(p *Policy) {
		if base > 0 {
			p.BaseDelay = base
		}
		if maxDelay >= p.BaseDelay {
			p.MaxDelay = maxDelay
		}
	}
}

// WithJitter sets the jitter fraction, between 0 and 1.
func WithJitter(j float64) Option {
	return func(p *Policy) {
		if j >= 0 && j <= 1 {
			p.Jitter = j
		}
	}
}

// WithOnRetry sets the retry callback.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(p *Policy) {
		p.OnRetry = fn
	}
}

// StorageFailures is the policy for calls into the storage backends: a few
// quick attempts, retrying only what transient classifies as an outage.
func StorageFailures(attempts int, transient func(error) bool, opts ...Option) Policy {
	p := Policy{
		Attempts:  1,
		BaseDelay: 200 * time.Millisecond,
		MaxDelay:  5 * time.Second,
		Jitter:    0.1,
		Transient: transient,
	}
	WithAttempts(attempts)(&p)
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Do runs op until it succeeds, fails with a non-transient error, runs out
// of attempts or ctx is done. The last error from op is returned.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= max(p.Attempts, 1); attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if p.Transient == nil || !p.Transient(err) || attempt >= p.Attempts {
			return err
		}

		delay := p.delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}

// delay is BaseDelay·2^(attempt-1), capped at MaxDelay, then jittered.
func (p Policy) delay(attempt int) time.Duration {
	d := p.MaxDelay
	if attempt <= 30 {
		if grown := p.BaseDelay << (attempt - 1); grown > 0 && (p.MaxDelay <= 0 || grown < p.MaxDelay) {
			d = grown
		}
	}
	if p.Jitter > 0 {
		d += time.Duration(float64(d) * p.Jitter * (rand.Float64()*2 - 1))
	}
	return max(d, 0)
}

// DoWithData is Do for operations that return a value. The value of the
// last attempt is returned even when it failed, so callers can report it.
func DoWithData[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}
