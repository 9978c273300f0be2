package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("service down")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(cfg Config) (*CircuitBreaker, *clock) {
	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := New(cfg)
	cb.now = clk.Now
	cb.changedAt = clk.Now()
	return cb, clk
}

func testConfig() Config {
	return Config{FailureThreshold: 3, SuccessThreshold: 2, Timeout: time.Minute, MaxRequestsHalfOpen: 2}
}

func fail() error    { return errDown }
func succeed() error { return nil }

func trip(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), fail), errDown)
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(testConfig())

	trip(t, cb, 2)
	require.NoError(t, cb.Execute(context.Background(), succeed))
	trip(t, cb, 2)
	assert.Equal(t, StateClosed, cb.GetState(), "a success resets the failure count")

	trip(t, cb, 1)
	assert.Equal(t, StateOpen, cb.GetState())

	ran := false
	err := cb.Execute(context.Background(), func() error { ran = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, ran)
}

func TestCircuitBreaker_HalfOpenCloses(t *testing.T) {
	cb, clk := newTestBreaker(testConfig())
	trip(t, cb, 3)

	clk.Advance(time.Minute)
	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(testConfig())
	trip(t, cb, 3)

	clk.Advance(time.Minute)
	trip(t, cb, 1)
	assert.Equal(t, StateOpen, cb.GetState())

	clk.Advance(30 * time.Second)
	assert.ErrorIs(t, cb.Execute(context.Background(), succeed), ErrOpen)
}

func TestCircuitBreaker_HalfOpenLimitsTrials(t *testing.T) {
	cfg := testConfig()
	cfg.SuccessThreshold = 5
	cb, clk := newTestBreaker(cfg)
	trip(t, cb, 3)
	clk.Advance(time.Minute)

	require.NoError(t, cb.Execute(context.Background(), succeed))
	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.ErrorIs(t, cb.Execute(context.Background(), succeed), ErrOpen)
	assert.Equal(t, StateHalfOpen, cb.GetState())
}

func TestCircuitBreaker_IsFailureFiltersErrors(t *testing.T) {
	errBadRequest := errors.New("bad request")
	cfg := testConfig()
	cfg.IsFailure = func(err error) bool { return !errors.Is(err, errBadRequest) }
	cb, _ := newTestBreaker(cfg)

	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func() error { return errBadRequest })
		assert.ErrorIs(t, err, errBadRequest)
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_CancelledContextNotCounted(t *testing.T) {
	cb, _ := newTestBreaker(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), context.Canceled)
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestDo_ReturnsResult(t *testing.T) {
	cb, _ := newTestBreaker(testConfig())

	v, err := Do(context.Background(), cb, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = Do(context.Background(), cb, func() (int, error) { return 7, errDown })
	assert.ErrorIs(t, err, errDown)
	assert.Zero(t, v)
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb, clk := newTestBreaker(testConfig())

	type change struct{ from, to State }
	changes := make(chan change, 4)
	cb.OnStateChange(func(from, to State) { changes <- change{from, to} })

	trip(t, cb, 3)
	clk.Advance(time.Minute)
	require.NoError(t, cb.Execute(context.Background(), succeed))
	require.NoError(t, cb.Execute(context.Background(), succeed))

	var got []change
	for len(got) < 3 {
		select {
		case c := <-changes:
			got = append(got, c)
		case <-time.After(time.Second):
			t.Fatalf("only %d transitions seen", len(got))
		}
	}
	assert.ElementsMatch(t, []change{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, got)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
