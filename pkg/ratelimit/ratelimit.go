// Package ratelimit caps throughput with a fixed-window counter, rejecting rather
// than queuing the excess.
package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/c360/twinflow/either"
	"github.com/c360/twinflow/errors"
	"github.com/c360/twinflow/stream"
)

// RejectBuilder builds the value a rejected element is turned into.
type RejectBuilder[T, E any] func(elem T, retryAfter time.Duration) E

// RetryAfterError is the default rejection value.
type RetryAfterError struct {
	RetryAfter time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("%s, retry after %s", errors.ErrRateLimited, e.RetryAfter)
}

func (e *RetryAfterError) Unwrap() error {
	return errors.ErrRateLimited
}

// RejectWithRetryAfter builds a RetryAfterError for any element.
func RejectWithRetryAfter[T any](_ T, retryAfter time.Duration) error {
	return &RetryAfterError{RetryAfter: retryAfter}
}

// Limiter allows at most maxElements per window. Windows are fixed, not sliding:
// the first element at or after windowStart+windowSize opens a new window.
//
// A Limiter is owned by one stage; create one per pipeline.
type Limiter[T, E any] struct {
	clock       clock.PassiveClock
	windowSize  time.Duration
	maxElements int
	reject      RejectBuilder[T, E]

	windowStart time.Time
	count       int

	allowed  atomic.Int64
	rejected atomic.Int64
}

// Option configures a Limiter.
type Option[T, E any] func(*Limiter[T, E])

// WithClock replaces the wall clock, typically with a fake in tests.
func WithClock[T, E any](clk clock.PassiveClock) Option[T, E] {
	return func(l *Limiter[T, E]) {
		l.clock = clk
	}
}

// New creates a limiter.
func New[T, E any](windowSize time.Duration, maxElements int, reject RejectBuilder[T, E], opts ...Option[T, E]) (*Limiter[T, E], error) {
	if windowSize <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Limiter", "New", "window size must be positive")
	}
	if maxElements <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Limiter", "New", "max elements must be positive")
	}
	if reject == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Limiter", "New", "reject builder required")
	}

	l := &Limiter[T, E]{
		clock:       clock.RealClock{},
		windowSize:  windowSize,
		maxElements: maxElements,
		reject:      reject,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Classify counts elem against the current window. Allowed elements come back
// as Right, rejected ones as Left carrying the rejection value.
func (l *Limiter[T, E]) Classify(elem T) either.Either[E, T] {
	now := l.clock.Now()
	if now.Sub(l.windowStart) >= l.windowSize {
		l.windowStart = now
		l.count = 1
	} else {
		l.count++
	}

	if l.count <= l.maxElements {
		l.allowed.Add(1)
		return either.Right[E](elem)
	}
	l.rejected.Add(1)
	return either.Left[E, T](l.reject(elem, l.windowSize))
}

// Allowed returns the number of elements let through.
func (l *Limiter[T, E]) Allowed() int64 {
	return l.allowed.Load()
}

// Rejected returns the number of elements turned away.
func (l *Limiter[T, E]) Rejected() int64 {
	return l.rejected.Load()
}

// Limit routes in through l. Rejection values come out of the first pipe and
// allowed elements, in order, out of the second.
func Limit[T, E any](ctx context.Context, in *stream.Pipe[T], l *Limiter[T, E]) (*stream.Pipe[E], *stream.Pipe[T]) {
	return either.Split[T, E, T](ctx, in, l.Classify)
}
