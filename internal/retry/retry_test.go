package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastConfig(attempts int) Config {
	return Config{MaxRetries: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return errTransient
	}, nil)

	assert.ErrorIs(t, err, errTransient)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return permanent
	}, func(err error) bool { return errors.Is(err, errTransient) })

	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestDoSingleAttempt(t *testing.T) {
	for _, n := range []int{0, 1} {
		calls := 0
		err := Do(context.Background(), fastConfig(n), func() error {
			calls++
			return errTransient
		}, nil)
		assert.Equal(t, errTransient, err)
		assert.Equal(t, 1, calls)
	}
}

func TestDoCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxRetries: 3, InitialBackoff: time.Hour}

	calls := 0
	err := DoNotify(ctx, cfg, func() error {
		calls++
		return errTransient
	}, nil, func(attempt int, err error, wait time.Duration) {
		assert.Equal(t, 1, attempt)
		assert.Equal(t, errTransient, err)
		assert.Equal(t, time.Hour, wait)
		cancel()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestCalculateBackoff(t *testing.T) {
	cfg := Config{MaxRetries: 4, InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}
	assert.Equal(t, 100*time.Millisecond, calculateBackoff(cfg, 1))
	assert.Equal(t, 200*time.Millisecond, calculateBackoff(cfg, 2))
	assert.Equal(t, 400*time.Millisecond, calculateBackoff(cfg, 3))
	assert.Equal(t, time.Second, calculateBackoff(cfg, 5))

	cfg.Jitter = 0.5
	assert.Equal(t, 250*time.Millisecond, calculateBackoff(cfg, 2))
}
