package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"k8s.io/utils/clock"

	"github.com/c360/twinflow/errors"
)

// Config controls backoff between attempts.
type Config struct {
	MaxAttempts  int           // attempts including the first; values below 1 mean one attempt
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration // cap on any single delay
	Multiplier   float64       // growth factor per attempt
	Jitter       bool          // add up to 25% to each delay

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// DefaultConfig suits a service dependency that is expected to come up
// within a few seconds.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

func (c Config) normalize() (Config, error) {
	if c.InitialDelay < 0 || c.MaxDelay < 0 || c.Multiplier < 0 {
		return c, errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "negative backoff setting")
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.MaxDelay < c.InitialDelay {
		return c, errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "max delay below initial delay")
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2.0
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	return c, nil
}

// Do runs fn until it succeeds, attempts run out or ctx is done. Invalid and
// fatal errors end the loop at once; everything else is retried.
func Do(ctx context.Context, cfg Config, fn func(context.Context) error) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}

	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.IsInvalid(lastErr) || errors.IsFatal(lastErr) {
			return lastErr
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		wait := delay
		if cfg.Jitter && delay >= 4 {
			wait += time.Duration(rand.Int64N(int64(delay / 4)))
		}
		select {
		case <-ctx.Done():
			return errors.WrapTransient(fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr), "retry", "Do",
				fmt.Sprintf("cancelled after %d attempts", attempt))
		case <-cfg.Clock.After(wait):
		}

		delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
	}

	return errors.WrapTransient(lastErr, "retry", "Do", fmt.Sprintf("gave up after %d attempts", cfg.MaxAttempts))
}

// DoWithResult is Do for functions that produce a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	return result, err
}
