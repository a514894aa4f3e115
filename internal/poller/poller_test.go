package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/accessportal/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntilReturnsOnceDone(t *testing.T) {
	calls := 0
	value, err := Until(context.Background(), Config{Interval: time.Millisecond, MaxAttempts: 5},
		func(context.Context) (string, bool, error) {
			calls++
			return "ready", calls == 3, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ready", value)
	assert.Equal(t, 3, calls)
}

func TestUntilIsBounded(t *testing.T) {
	calls := 0
	_, err := Until(context.Background(), Config{Interval: time.Millisecond, MaxAttempts: 4, Timeout: time.Second},
		func(context.Context) (int, bool, error) {
			calls++
			return 0, false, nil
		})
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 4, calls)
}

func TestUntilStopsOnCheckError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := Until(context.Background(), Config{Interval: time.Millisecond, MaxAttempts: 10},
		func(context.Context) (int, bool, error) {
			calls++
			return 0, false, boom
		})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestUntilHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Until(ctx, Config{Interval: time.Millisecond, MaxAttempts: 10},
		func(context.Context) (int, bool, error) {
			return 0, false, nil
		})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExhausted)
}

func TestUntilStopsAtTimeout(t *testing.T) {
	calls := 0
	_, err := Until(context.Background(), Config{Interval: 20 * time.Millisecond, MaxAttempts: 1000, Timeout: 50 * time.Millisecond},
		func(context.Context) (int, bool, error) {
			calls++
			return 0, false, nil
		})
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Less(t, calls, 10)
}

func TestFromSettingsCarriesTimeout(t *testing.T) {
	cfg := FromSettings(config.PollingSettings{Interval: 5 * time.Second, MaxAttempts: 60, Timeout: 6 * time.Minute})
	assert.Equal(t, Config{Interval: 5 * time.Second, MaxAttempts: 60, Timeout: 6 * time.Minute}, cfg)
}
