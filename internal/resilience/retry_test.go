package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastPolicy(3), func(_ context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetriesTransient(t *testing.T) {
	calls := 0
	var retried []int
	p := fastPolicy(3)
	p.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	got, err := Retry(context.Background(), p, func(_ context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, NewTransientError(errors.New("busy"), 503)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(5), func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(2), func(_ context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("down"), 502)
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetry_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, fastPolicy(5), func(_ context.Context) (int, error) {
		calls++
		cancel()
		return 0, NewTransientError(errors.New("down"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestNewPolicy_KeepsDefaults(t *testing.T) {
	p := NewPolicy(0, 0, 0)
	assert.Equal(t, DefaultPolicy().Attempts, p.Attempts)

	p = NewPolicy(4, 10, 100)
	assert.Equal(t, 4, p.Attempts)
	assert.Equal(t, 10*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 100*time.Millisecond, p.MaxDelay)
}

func TestPolicy_DelayCapped(t *testing.T) {
	p := Policy{Attempts: 10, BaseDelay: time.Second, MaxDelay: 2 * time.Second, Multiplier: 10}.normalized()
	assert.Equal(t, 2*time.Second, p.delay(5))
}
