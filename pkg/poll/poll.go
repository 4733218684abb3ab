// Package poll implements bounded waiting for a condition to become true.
//
// Every wait point in hostops (container health, key-value save completion,
// database readiness) goes through Until, so no caller can block forever.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
)

// ErrExhausted is returned when the attempt budget runs out before the condition holds.
var ErrExhausted = errors.New("condition not satisfied within attempt budget")

var errNotYet = errors.New("condition not yet satisfied")

// Predicate reports whether the awaited condition holds.
// Returned errors count as a failed attempt; wrap them with Abort to stop polling immediately.
type Predicate func(ctx context.Context) (bool, error)

type Config struct {
	Interval    time.Duration
	MaxAttempts int
	// Clock defaults to the wall clock.
	Clock clock.Clock
	// Notify is called after every unsuccessful attempt.
	Notify func(err error, attempt int)
	// Delayed waits one interval before the first attempt, so the attempts span
	// MaxAttempts intervals instead of MaxAttempts-1.
	Delayed bool
}

// Attempts returns how many polls of the given interval fit in timeout, at least one.
func Attempts(timeout, interval time.Duration) int {
	if interval <= 0 {
		return 1
	}
	n := int(timeout / interval)
	if n < 1 {
		return 1
	}
	return n
}

type abortError struct {
	err error
}

func (e *abortError) Error() string {
	return e.err.Error()
}

func (e *abortError) Unwrap() error {
	return e.err
}

// Abort marks an error as terminal: Until returns it without further attempts.
func Abort(err error) error {
	return &abortError{err: err}
}

// Until evaluates predicate up to cfg.MaxAttempts times, cfg.Interval apart.
// It returns the number of attempts made, and nil when the predicate was satisfied.
// Running out of attempts yields an error wrapping ErrExhausted and the last predicate error, if any.
// Cancelling ctx stops the wait and returns ctx.Err().
func Until(ctx context.Context, cfg Config, predicate Predicate) (int, error) {
	if cfg.MaxAttempts < 1 {
		return 0, fmt.Errorf("poll: max attempts must be positive, got %d", cfg.MaxAttempts)
	}
	if cfg.Interval <= 0 {
		return 0, fmt.Errorf("poll: interval must be positive, got %s", cfg.Interval)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	if cfg.Delayed {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-clk.After(cfg.Interval):
		}
	}

	attempts := 0
	var lastErr error

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			if err := ctx.Err(); err != nil {
				return Abort(err)
			}
			ok, err := predicate(ctx)
			if err != nil {
				lastErr = err
				return err
			}
			if !ok {
				return errNotYet
			}
			return nil
		},
		IsFatalError: func(err error) bool {
			var abort *abortError
			return errors.As(err, &abort)
		},
		NotifyFunc: cfg.Notify,
		Attempts:   cfg.MaxAttempts,
		Delay:      cfg.Interval,
		Clock:      clk,
		Stop:       ctx.Done(),
	})

	switch {
	case err == nil:
		return attempts, nil
	case ctx.Err() != nil:
		return attempts, ctx.Err()
	case retry.IsAttemptsExceeded(err):
		if lastErr != nil {
			return attempts, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
		}
		return attempts, fmt.Errorf("%w after %d attempts", ErrExhausted, attempts)
	default:
		var abort *abortError
		if errors.As(err, &abort) {
			return attempts, abort.err
		}
		return attempts, err
	}
}
