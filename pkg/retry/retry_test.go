package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("transient")
	errFatal     = errors.New("fatal")
)

func fastConfig(maxAttempts int) Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

// failing fails the first n calls with err.
func failing(n int, err error) (func() error, *int) {
	calls := 0
	return func() error {
		calls++
		if calls <= n {
			return err
		}
		return nil
	}, &calls
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		failures  int
		err       error
		wantCalls int
		wantErr   error
	}{
		{"first attempt", fastConfig(3), 0, errTransient, 1, nil},
		{"succeeds after retries", fastConfig(3), 2, errTransient, 3, nil},
		{"exhausted", fastConfig(2), 10, errTransient, 3, ErrExhausted},
		{"disabled runs once", Config{}, 10, errTransient, 1, errTransient},
		{"non retryable stops", func() Config {
			c := fastConfig(3)
			c.NonRetryableErrors = []error{errFatal}
			return c
		}(), 10, fmt.Errorf("wrapped: %w", errFatal), 1, errFatal},
		{"outside retryable list stops", func() Config {
			c := fastConfig(3)
			c.RetryableErrors = []error{errTransient}
			return c
		}(), 10, errFatal, 1, errFatal},
		{"inside retryable list retries", func() Config {
			c := fastConfig(3)
			c.RetryableErrors = []error{errTransient}
			return c
		}(), 1, fmt.Errorf("dial: %w", errTransient), 2, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, calls := failing(tt.failures, tt.err)
			err := Retry(context.Background(), tt.cfg, fn)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.wantCalls, *calls)
		})
	}
}

func TestRetry_ExhaustedKeepsLastError(t *testing.T) {
	fn, _ := failing(10, errTransient)
	err := Retry(context.Background(), fastConfig(1), fn)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errTransient)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestRetry_ContextCancelledDuringWait(t *testing.T) {
	cfg := fastConfig(5)
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	fn, calls := failing(10, errTransient)
	start := time.Now()
	err := Retry(ctx, cfg, fn)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, *calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetry_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fn, calls := failing(0, nil)
	assert.ErrorIs(t, Retry(ctx, fastConfig(3), fn), context.Canceled)
	assert.Zero(t, *calls)
}

func TestRetry_OnRetry(t *testing.T) {
	cfg := fastConfig(3)
	var attempts []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		assert.ErrorIs(t, err, errTransient)
		assert.Positive(t, delay)
		attempts = append(attempts, attempt)
	}
	fn, _ := failing(2, errTransient)
	require.NoError(t, Retry(context.Background(), cfg, fn))
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRetryWithResult(t *testing.T) {
	calls := 0
	v, err := RetryWithResult(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errTransient
		}
		return "conn", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "conn", v)
	assert.Equal(t, 2, calls)
}

func TestConfig_Delay(t *testing.T) {
	cfg := Config{InitialDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second, Multiplier: 2}
	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}
	for attempt, d := range want {
		assert.Equal(t, d, cfg.Delay(attempt), "attempt %d", attempt)
	}

	cfg.Multiplier = 0
	assert.Equal(t, 500*time.Millisecond, cfg.Delay(3))

	cfg = Config{InitialDelay: time.Second, Multiplier: 1, Jitter: true}
	for i := 0; i < 50; i++ {
		d := cfg.Delay(0)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.True(t, cfg.Jitter)
}
