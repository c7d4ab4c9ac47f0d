package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/twinflow/envelope"
	"github.com/c360/twinflow/errors"
	"github.com/c360/twinflow/stream"
)

// Handler processes one message inside a lane.
type Handler[T, O any] func(ctx context.Context, env envelope.Envelope[T]) (O, error)

// InternalErrorBuilder builds the reply sent when processing a message failed.
type InternalErrorBuilder[T any] func(env envelope.Envelope[T], err error) any

// GuardConfig configures Guard.
type GuardConfig[T, O any] struct {
	// Lane is used for logging and failure accounting.
	Lane int

	// InternalError builds the reply told to the message's ReplyTo. Defaults to
	// the failure itself, which wraps errors.ErrInternal.
	InternalError InternalErrorBuilder[T]

	// Fallback, when set, turns a failure into an output in place of the failed
	// message, keeping the step one-to-one. Nothing is told to ReplyTo then; the
	// fallback output is expected to carry the error.
	Fallback func(env envelope.Envelope[T], err error) O

	// OnFailure is called once per failure.
	OnFailure func(lane int, err error)

	Logger *slog.Logger
}

// Guard runs handler for each message and isolates its failures. A returned
// error or a panic is logged and answered with an internal-error reply; the
// message is skipped and the lane carries on with the next one.
func Guard[T, O any](handler Handler[T, O], cfg GuardConfig[T, O]) stream.Flow[envelope.Envelope[T], O] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(ctx context.Context, in *stream.Pipe[envelope.Envelope[T]]) *stream.Pipe[O] {
		return stream.MapMaybe(func(env envelope.Envelope[T]) (O, bool) {
			out, err := invoke(ctx, handler, env)
			if err == nil {
				return out, true
			}

			cfg.Logger.Error("lane processing failed", "lane", cfg.Lane, "error", err)
			if cfg.OnFailure != nil {
				cfg.OnFailure(cfg.Lane, err)
			}

			if cfg.Fallback != nil {
				return cfg.Fallback(env, err), true
			}

			var reply any = err
			if cfg.InternalError != nil {
				reply = cfg.InternalError(env, err)
			}
			if _, tellErr := env.Tell(ctx, reply); tellErr != nil {
				cfg.Logger.Warn("internal error reply failed", "lane", cfg.Lane, "error", tellErr)
			}

			var zero O
			return zero, false
		})(ctx, in)
	}
}

// invoke calls handler, converting a panic into an error wrapping ErrInternal.
func invoke[T, O any](ctx context.Context, handler Handler[T, O], env envelope.Envelope[T]) (out O, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WrapFatal(fmt.Errorf("%w: panic: %v", errors.ErrInternal, r), "Guard", "invoke", "handler")
		}
	}()

	out, err = handler(ctx, env)
	if err != nil && !errors.Is(err, errors.ErrInternal) {
		err = fmt.Errorf("%w: %w", errors.ErrInternal, err)
	}
	return out, err
}
