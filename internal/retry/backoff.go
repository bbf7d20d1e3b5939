// Package retry provides fixed and exponential backoff plus a circuit
// breaker.  Client dials retry on a fixed schedule, gateway listeners
// reconnect exponentially, and the proxy guards its remote leg with
// the breaker.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ── Permanent errors ─────────────────────────────────────────────────

// PermanentError wraps an error to signal that retrying will not help.
// Return [Permanent](err) from the operation function to stop retrying
// immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.  The backoff loop will return
// the inner error immediately without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err has been marked as permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ── Backoff ──────────────────────────────────────────────────────────

// Backoff implements exponential backoff with optional jitter.
type Backoff struct {
	// InitialDelay is the delay before the first retry (default 1s).
	InitialDelay time.Duration
	// MaxDelay caps the backoff duration (default 60s).
	MaxDelay time.Duration
	// Multiplier increases the delay each attempt (default 2.0).
	Multiplier float64
	// MaxAttempts is the total number of tries including the first;
	// 0 retries until the context is cancelled.
	MaxAttempts int
	// Jitter adds ±25% randomisation so reconnecting peers spread out.
	Jitter bool
	// OnRetry, when set, is called after a failed attempt that will be
	// retried, with the wait that precedes the next attempt.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Exponential returns a jittered Backoff that doubles from initial up
// to maxDelay and never gives up; only ctx ends it.  The gateway listener
// uses it to come back after the SSH connection drops.
func Exponential(initial, maxDelay time.Duration) *Backoff {
	return &Backoff{
		InitialDelay: initial,
		MaxDelay:     maxDelay,
		Multiplier:   2,
		Jitter:       true,
	}
}

// Fixed returns a Backoff that pauses delay between attempts without
// growth or jitter.  retries is the number of retries after the first
// attempt, so fn runs at most retries+1 times.  A non-positive delay
// falls back to the one second default of [Backoff.Do].
func Fixed(delay time.Duration, retries int) *Backoff {
	if retries < 0 {
		retries = 0
	}
	return &Backoff{
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1,
		MaxAttempts:  retries + 1,
	}
}

// Do calls fn until it succeeds, fails permanently, runs out of
// attempts or ctx is done.  fn receives the 1-based attempt number;
// wrap an error with [Permanent] to stop at once, in which case Do
// returns the wrapped cause.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	delay, growth, ceiling := b.schedule()
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		wait := delay
		if b.Jitter {
			wait = addJitter(delay)
		}
		if b.OnRetry != nil {
			b.OnRetry(attempt, err, wait)
		}

		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}

		if delay = time.Duration(float64(delay) * growth); delay > ceiling {
			delay = ceiling
		}
	}
}

// schedule fills in defaults: 1s initial delay, doubling, 60s cap.
func (b *Backoff) schedule() (initial time.Duration, growth float64, ceiling time.Duration) {
	initial, growth, ceiling = b.InitialDelay, b.Multiplier, b.MaxDelay
	if initial <= 0 {
		initial = time.Second
	}
	if growth <= 0 {
		growth = 2
	}
	if ceiling < initial {
		ceiling = 60 * time.Second
	}
	return initial, growth, ceiling
}

// addJitter adds ±25% randomisation to a duration.
func addJitter(d time.Duration) time.Duration {
	quarter := float64(d) * 0.25
	delta := (rand.Float64() * 2 * quarter) - quarter
	result := float64(d) + delta
	return time.Duration(math.Max(result, float64(time.Millisecond)))
}
