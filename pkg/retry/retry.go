package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy is a bounded retry policy with optional exponential backoff.
// A Multiplier of 0 or 1 gives a fixed inter-attempt delay.
type Policy struct {
	// Attempts is the maximum number of times the operation runs.
	Attempts int

	// Delay is the wait after the first failed attempt.
	Delay time.Duration

	// Multiplier scales the delay after every failed attempt.
	Multiplier float64

	// MaxDelay caps the backoff. Zero means uncapped.
	MaxDelay time.Duration
}

// Fixed returns a policy with a constant delay between attempts, the
// shape of most polling loops (health gate, container inspection).
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay}
}

// Exponential returns a doubling-backoff policy, used for cloud API
// calls that fail transiently (eventual-consistency races).
func Exponential(attempts int, initial, max time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: initial, Multiplier: 2, MaxDelay: max}
}

// stopError marks an error that must not be retried.
type stopError struct {
	err error
}

func (s *stopError) Error() string { return s.err.Error() }
func (s *stopError) Unwrap() error { return s.err }

// Stop wraps an error so Do returns it immediately instead of retrying.
// Used for fatal conditions such as crash-loop detection or quota
// exhaustion, where further attempts are provably pointless.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

// Do runs op until it succeeds, the attempt budget is exhausted, the
// error is marked with Stop, or ctx is done. The returned error is the
// last error seen, annotated with the attempt count on exhaustion.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.Delay
	var lastErr error

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		var stop *stopError
		if errors.As(err, &stop) {
			return stop.err
		}
		lastErr = err

		// No sleep after the final attempt
		if i == attempts-1 {
			break
		}

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if p.Multiplier > 1 {
			delay = time.Duration(float64(delay) * p.Multiplier)
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
	}

	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
