// Package envelope pairs a message with the destination its reply should go to.
//
// An Envelope is the unit that flows through every twinflow stage. It is immutable:
// WithMessage returns a new envelope that keeps the original reply handle, so a
// transformed message can still be answered by whoever submitted it. A nil reply
// handle means fire-and-forget.
package envelope

import "context"

// Recipient receives out-of-band messages: replies, overload notifications,
// timeout notifications. Implementations must be safe for concurrent use because
// notifications may be sent from timer goroutines.
type Recipient interface {
	Tell(ctx context.Context, msg any) error
}

// RecipientFunc adapts a function to the Recipient interface.
type RecipientFunc func(ctx context.Context, msg any) error

// Tell calls f(ctx, msg).
func (f RecipientFunc) Tell(ctx context.Context, msg any) error {
	return f(ctx, msg)
}

// ChanRecipient delivers messages to a channel. Tell blocks until the channel
// accepts the message or ctx is done.
type ChanRecipient chan any

// Tell sends msg on the channel.
func (c ChanRecipient) Tell(ctx context.Context, msg any) error {
	select {
	case c <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Envelope carries a message together with an optional reply handle.
type Envelope[T any] struct {
	message T
	replyTo Recipient
}

// Of builds an envelope. replyTo may be nil.
func Of[T any](message T, replyTo Recipient) Envelope[T] {
	return Envelope[T]{message: message, replyTo: replyTo}
}

// Message returns the carried message.
func (e Envelope[T]) Message() T {
	return e.message
}

// ReplyTo returns the reply handle, or nil for fire-and-forget envelopes.
func (e Envelope[T]) ReplyTo() Recipient {
	return e.replyTo
}

// HasReplyTo reports whether the envelope can be answered.
func (e Envelope[T]) HasReplyTo() bool {
	return e.replyTo != nil
}

// WithMessage returns a new envelope with the same reply handle.
func (e Envelope[T]) WithMessage(message T) Envelope[T] {
	return Envelope[T]{message: message, replyTo: e.replyTo}
}

// Map re-types an envelope, keeping its reply handle.
func Map[T, U any](e Envelope[T], fn func(T) U) Envelope[U] {
	return Envelope[U]{message: fn(e.message), replyTo: e.replyTo}
}

// Tell sends msg to the envelope's reply handle. It is a no-op returning false
// when there is no reply handle.
func (e Envelope[T]) Tell(ctx context.Context, msg any) (bool, error) {
	if e.replyTo == nil {
		return false, nil
	}
	return true, e.replyTo.Tell(ctx, msg)
}
