package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SuccessFirstAttempt(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(context.Background(), func(int) error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	t.Parallel()

	var seen []int
	err := Do(context.Background(), func(attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errors.New("connection reset")
		}
		return nil
	}, WithInitialDelay(time.Millisecond))

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestDo_MaxRetries(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(context.Background(), func(int) error {
		attempts++
		return errors.New("persistent")
	}, WithMaxRetries(2), WithInitialDelay(time.Millisecond))

	require.Error(t, err)
	// MaxRetries counts retries after the first attempt.
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "giving up after 3 attempts")
}

func TestDo_FatalStopsImmediately(t *testing.T) {
	t.Parallel()

	attempts := 0
	notFound := errors.New("HTTP 404")
	err := Do(context.Background(), func(int) error {
		attempts++
		return Fatal(notFound)
	}, WithInitialDelay(time.Millisecond))

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, notFound)
}

func TestDo_OnRetryHook(t *testing.T) {
	t.Parallel()

	var hooked []int
	_ = Do(context.Background(), func(int) error {
		return errors.New("boom")
	},
		WithMaxRetries(2),
		WithInitialDelay(time.Millisecond),
		WithOnRetry(func(attempt int, _ error) { hooked = append(hooked, attempt) }),
	)

	// No hook after the final attempt.
	assert.Equal(t, []int{1, 2}, hooked)
}

func TestDo_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Do(ctx, func(int) error {
		attempts++
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, attempts)
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	attempts := 0
	err := Do(ctx, func(int) error {
		attempts++
		return errors.New("slow")
	}, WithInitialDelay(time.Second), WithMaxRetries(5))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, attempts)
}

func TestFatal_Nil(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Fatal(nil))
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(errors.New("plain")))
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		assert.True(t, RetryableStatus(code), code)
	}
	for _, code := range []int{200, 301, 400, 403, 404, 410, 501} {
		assert.False(t, RetryableStatus(code), code)
	}
}
