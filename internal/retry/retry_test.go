package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnFatal(t *testing.T) {
	p := fastPolicy()
	p.Classify = func(error) Class { return Fatal }

	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestDo_ReturnsLastErrorWhenExhausted(t *testing.T) {
	var retries []int
	p := fastPolicy()
	p.OnRetry = func(attempt int, _ time.Duration, _ error) { retries = append(retries, attempt) }

	err := Do(context.Background(), p, func(context.Context) error { return errBoom })
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestDo_CancelledContextKeepsLastError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}

	err := Do(ctx, p, func(context.Context) error {
		cancel()
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
}

func TestBackoff_HintIsCapped(t *testing.T) {
	p := Policy{BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond,
		Hint: func(error) time.Duration { return time.Minute }}
	assert.Equal(t, 10*time.Millisecond, p.backoff(1, errBoom))

	p.Hint = nil
	assert.Equal(t, 4*time.Millisecond, p.backoff(3, errBoom))
}
