// Package timeout wraps a processing step with per-element deadline enforcement
// and elapsed-time measurement.
//
// Both wrappers feed each element to the wrapped step while tracking it on the
// side; neither alters, drops or reorders elements. The wrapped step must emit
// exactly one output per input, in input order.
package timeout

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/twinflow/envelope"
	"github.com/c360/twinflow/errors"
	"github.com/c360/twinflow/stream"
)

// Config configures Wrap.
type Config struct {
	// After is how long one element may take before the recipient is told.
	After time.Duration

	// Notification is sent, unchanged, once per overrunning element.
	Notification any

	// Recipient receives the notifications.
	Recipient envelope.Recipient

	// Scheduler defaults to the wall clock.
	Scheduler Scheduler

	// OnTimeout, when set, is called after each notification attempt.
	OnTimeout func()

	Logger *slog.Logger
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.After <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "timeout", "Validate", "after must be positive")
	}
	if c.Recipient == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "timeout", "Validate", "recipient required")
	}
	return nil
}

// Wrap sends cfg.Notification to cfg.Recipient whenever inner takes longer than
// cfg.After to produce the output for one element. The stream is never aborted:
// a late output still flows downstream, and each overrunning element produces
// exactly one notification.
func Wrap[In, Out any](inner stream.Flow[In, Out], cfg Config) (stream.Flow[In, Out], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewClockScheduler()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	begin := func(ctx context.Context) func(In) deadline {
		return func(In) deadline {
			timer := cfg.Scheduler.ScheduleOnce(cfg.After, func() {
				if ctx.Err() != nil {
					return
				}
				if err := cfg.Recipient.Tell(ctx, cfg.Notification); err != nil {
					cfg.Logger.Warn("timeout notification failed", "after", cfg.After, "error", err)
				}
				if cfg.OnTimeout != nil {
					cfg.OnTimeout()
				}
			})
			// A torn-down pipeline never delivers the output that would cancel it.
			stop := context.AfterFunc(ctx, func() { timer.Cancel() })
			return deadline{timer: timer, stop: stop}
		}
	}

	end := func(context.Context) func(Out, deadline) {
		return func(_ Out, d deadline) {
			d.stop()
			d.timer.Cancel()
		}
	}

	return around(inner, begin, end), nil
}

// deadline is the timer armed for one element.
type deadline struct {
	timer Cancellable
	stop  func() bool
}
