package poll_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nais/hostops/pkg/poll"
	"github.com/stretchr/testify/assert"
)

func fastConfig(attempts int) poll.Config {
	return poll.Config{
		Interval:    time.Millisecond,
		MaxAttempts: attempts,
	}
}

func TestUntilSatisfied(t *testing.T) {
	calls := 0
	attempts, err := poll.Until(context.Background(), fastConfig(10), func(ctx context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestUntilExhausted(t *testing.T) {
	calls := 0
	attempts, err := poll.Until(context.Background(), fastConfig(5), func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})

	assert.ErrorIs(t, err, poll.ErrExhausted)
	assert.Equal(t, 5, attempts)
	assert.Equal(t, 5, calls)
}

func TestUntilKeepsLastError(t *testing.T) {
	connRefused := errors.New("connection refused")
	_, err := poll.Until(context.Background(), fastConfig(3), func(ctx context.Context) (bool, error) {
		return false, connRefused
	})

	assert.ErrorIs(t, err, poll.ErrExhausted)
	assert.ErrorIs(t, err, connRefused)
}

func TestUntilAbort(t *testing.T) {
	unhealthy := errors.New("container reported unhealthy")
	calls := 0
	attempts, err := poll.Until(context.Background(), fastConfig(10), func(ctx context.Context) (bool, error) {
		calls++
		return false, poll.Abort(unhealthy)
	})

	assert.Equal(t, unhealthy, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := poll.Until(ctx, fastConfig(10), func(ctx context.Context) (bool, error) {
		return false, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestUntilInvalidConfig(t *testing.T) {
	_, err := poll.Until(context.Background(), poll.Config{Interval: time.Second}, func(ctx context.Context) (bool, error) {
		return true, nil
	})
	assert.Error(t, err)

	_, err = poll.Until(context.Background(), poll.Config{MaxAttempts: 1}, func(ctx context.Context) (bool, error) {
		return true, nil
	})
	assert.Error(t, err)
}

func TestAttempts(t *testing.T) {
	assert.Equal(t, 120, poll.Attempts(120*time.Second, time.Second))
	assert.Equal(t, 1, poll.Attempts(time.Millisecond, time.Second))
	assert.Equal(t, 1, poll.Attempts(time.Second, 0))
}

func TestUntilDelayed(t *testing.T) {
	cfg := poll.Config{Interval: 20 * time.Millisecond, MaxAttempts: 2, Delayed: true}
	started := time.Now()
	var firstAt time.Duration

	attempts, err := poll.Until(context.Background(), cfg, func(ctx context.Context) (bool, error) {
		if firstAt == 0 {
			firstAt = time.Since(started)
		}
		return false, nil
	})

	assert.ErrorIs(t, err, poll.ErrExhausted)
	assert.Equal(t, 2, attempts)
	assert.GreaterOrEqual(t, firstAt, cfg.Interval)
	assert.GreaterOrEqual(t, time.Since(started), 2*cfg.Interval)
}

func TestUntilDelayedCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0

	attempts, err := poll.Until(ctx, poll.Config{Interval: time.Hour, MaxAttempts: 3, Delayed: true}, func(ctx context.Context) (bool, error) {
		calls++
		return true, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, attempts)
	assert.Equal(t, 0, calls)
}
