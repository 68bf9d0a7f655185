package embed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candlekeep/candlekeep/internal/kberr"
)

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithRetry_PlainErrorsAreTransient(t *testing.T) {
	// Given: a call that fails twice, then succeeds
	calls := 0
	err := withRetry(context.Background(), fastRetryConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_PermanentErrorStopsImmediately(t *testing.T) {
	// Given: a structured error marked non-retryable (bad credentials)
	calls := 0
	permanent := kberr.Newf(kberr.CodeEmbedderFailed, "invalid api key")
	err := withRetry(context.Background(), fastRetryConfig(3), func() error {
		calls++
		return permanent
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, permanent)
}

func TestWithRetry_RetryableStructuredErrorRetries(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), fastRetryConfig(2), func() error {
		calls++
		return kberr.Newf(kberr.CodeSourceUnreachable, "503 from provider")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial try plus two retries
}

func TestWithRetry_ExhaustionReturnsLastError(t *testing.T) {
	last := errors.New("still down")
	err := withRetry(context.Background(), fastRetryConfig(1), func() error {
		return last
	})

	assert.ErrorIs(t, err, last)
}

func TestWithRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := withRetry(ctx, fastRetryConfig(3), func() error {
		t.Fatal("fn must not run after cancellation")
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsPermanent(t *testing.T) {
	assert.False(t, isPermanent(errors.New("plain network error")))
	assert.False(t, isPermanent(kberr.Newf(kberr.CodeQueueUnavailable, "redis down")))
	assert.True(t, isPermanent(kberr.Newf(kberr.CodeEmbedderFailed, "model not found")))
}

func TestNormalizeVector(t *testing.T) {
	v := normalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	// Zero vectors pass through untouched.
	z := normalizeVector([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, z)
}
