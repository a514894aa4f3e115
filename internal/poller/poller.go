// Package poller waits for remote state changes with a fixed interval, a
// bounded number of attempts and an overall deadline.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/accessportal/internal/config"
)

var (
	ErrNotReady  = errors.New("not_ready")
	ErrExhausted = errors.New("polling_exhausted")
)

type Config struct {
	Interval    time.Duration
	MaxAttempts uint
	// Timeout caps the total wait. Zero leaves MaxAttempts as the only bound.
	Timeout time.Duration
}

func FromSettings(s config.PollingSettings) Config {
	return Config{Interval: s.Interval, MaxAttempts: s.MaxAttempts, Timeout: s.Timeout}
}

func (c Config) normalized() Config {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 1
	}
	return c
}

// Check reports whether the awaited state was reached. A non-nil error stops
// polling immediately.
type Check[T any] func(ctx context.Context) (T, bool, error)

// Until calls check until it reports done, fails, the attempts run out or ctx
// is cancelled. Exhaustion yields ErrExhausted.
func Until[T any](ctx context.Context, cfg Config, check Check[T]) (T, error) {
	cfg = cfg.normalized()
	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(cfg.Interval)),
		backoff.WithMaxTries(cfg.MaxAttempts),
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		opts = append(opts, backoff.WithMaxElapsedTime(cfg.Timeout))
	}

	attempts := uint(0)
	op := func() (T, error) {
		attempts++
		value, done, err := check(ctx)
		if err != nil {
			return value, backoff.Permanent(err)
		}
		if !done {
			return value, ErrNotReady
		}
		return value, nil
	}

	value, err := backoff.Retry(ctx, op, opts...)
	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, ErrNotReady), errors.Is(err, context.DeadlineExceeded):
		return value, fmt.Errorf("%w after %d attempts", ErrExhausted, attempts)
	default:
		return value, err
	}
}
