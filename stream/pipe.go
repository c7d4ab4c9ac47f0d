package stream

import (
	"context"
	"fmt"
)

// Pipe is a single-producer, single-consumer connection between two stages.
type Pipe[T any] struct {
	demand chan struct{}
	data   chan T
	done   chan struct{}
	err    error // written before done is closed
}

func newPipe[T any]() *Pipe[T] {
	return &Pipe[T]{
		demand: make(chan struct{}, 1),
		data:   make(chan T),
		done:   make(chan struct{}),
	}
}

// Next requests one element and waits for it. It returns false once the producer
// has completed or ctx is done.
func (p *Pipe[T]) Next(ctx context.Context) (T, bool) {
	var zero T

	select {
	case p.demand <- struct{}{}:
	case <-p.done:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}

	select {
	case v := <-p.data:
		return v, true
	case <-p.done:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

// Done is closed when the producer has completed.
func (p *Pipe[T]) Done() <-chan struct{} {
	return p.done
}

// Err returns the error the producer failed with, or nil if it completed normally
// or has not completed yet.
func (p *Pipe[T]) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Inport is the input side of a stage as its logic sees it.
type Inport interface {
	Pull()
	HasBeenPulled() bool
	IsClosed() bool
}

// Outport is the output side of a stage as its logic sees it.
type Outport[T any] interface {
	Push(elem T)
	IsAvailable() bool
	Complete()
	IsClosed() bool
}

// Inlet reads from an upstream pipe on behalf of a stage driver.
type Inlet[T any] struct {
	pipe   *Pipe[T]
	pulled bool
	closed bool
}

// NewInlet attaches to upstream. A pipe must have exactly one inlet.
func NewInlet[T any](upstream *Pipe[T]) *Inlet[T] {
	return &Inlet[T]{pipe: upstream}
}

// Pull requests the next element from upstream. Pulling twice before the element
// arrives, or after upstream finished, is a no-op.
func (i *Inlet[T]) Pull() {
	if i.pulled || i.closed {
		return
	}
	select {
	case i.pipe.demand <- struct{}{}:
	default:
	}
	i.pulled = true
}

// HasBeenPulled reports whether a requested element has not arrived yet.
func (i *Inlet[T]) HasBeenPulled() bool {
	return i.pulled
}

// IsClosed reports whether upstream has finished.
func (i *Inlet[T]) IsClosed() bool {
	return i.closed
}

// Data is the channel to select on for the requested element; nil when nothing
// has been requested.
func (i *Inlet[T]) Data() <-chan T {
	if !i.pulled || i.closed {
		return nil
	}
	return i.pipe.data
}

// Done is the channel to select on for upstream completion; nil once observed.
func (i *Inlet[T]) Done() <-chan struct{} {
	if i.closed {
		return nil
	}
	return i.pipe.done
}

// Received records that the requested element arrived.
func (i *Inlet[T]) Received() {
	i.pulled = false
}

// Finish records that upstream completion was observed and returns the upstream
// failure, if any.
func (i *Inlet[T]) Finish() error {
	i.closed = true
	i.pulled = false
	return i.pipe.Err()
}

// Outlet writes to a downstream pipe on behalf of a stage driver. Push and
// Complete only record intent; Flush performs the hand-off.
type Outlet[T any] struct {
	pipe       *Pipe[T]
	available  bool
	pending    T
	hasPending bool
	completing bool
	closed     bool
}

// NewOutlet creates an outlet and the pipe it feeds.
func NewOutlet[T any]() *Outlet[T] {
	return &Outlet[T]{pipe: newPipe[T]()}
}

// Pipe returns the pipe downstream consumes.
func (o *Outlet[T]) Pipe() *Pipe[T] {
	return o.pipe
}

// Demand is the channel to select on for downstream readiness; nil while demand
// is already held or the outlet is completing.
func (o *Outlet[T]) Demand() <-chan struct{} {
	if o.available || o.hasPending || o.completing || o.closed {
		return nil
	}
	return o.pipe.demand
}

// Accept records that downstream demand was received.
func (o *Outlet[T]) Accept() {
	o.available = true
}

// IsAvailable reports whether downstream is ready for an element.
func (o *Outlet[T]) IsAvailable() bool {
	return o.available
}

// Push hands elem to downstream. Pushing without demand is a programming error.
func (o *Outlet[T]) Push(elem T) {
	if !o.available {
		panic(fmt.Sprintf("stream: push of %v without downstream demand", elem))
	}
	if o.completing || o.closed {
		panic("stream: push after complete")
	}
	o.available = false
	o.pending = elem
	o.hasPending = true
}

// Complete finishes the outlet after any pending element is delivered.
func (o *Outlet[T]) Complete() {
	o.completing = true
}

// IsClosed reports whether the outlet has completed or failed.
func (o *Outlet[T]) IsClosed() bool {
	return o.completing || o.closed
}

// Flush delivers a pending element and closes the pipe if completion was
// requested. It returns the context error if ctx ends while downstream has not
// taken the element.
func (o *Outlet[T]) Flush(ctx context.Context) error {
	if o.hasPending {
		select {
		case o.pipe.data <- o.pending:
			var zero T
			o.pending = zero
			o.hasPending = false
		case <-ctx.Done():
			o.Fail(ctx.Err())
			return ctx.Err()
		}
	}
	if o.completing && !o.closed {
		o.closed = true
		close(o.pipe.done)
	}
	return nil
}

// Done reports whether the pipe has been closed.
func (o *Outlet[T]) Done() bool {
	return o.closed
}

// Fail closes the pipe with err. Pending elements are discarded.
func (o *Outlet[T]) Fail(err error) {
	if o.closed {
		return
	}
	o.pipe.err = err
	o.completing = true
	o.closed = true
	o.hasPending = false
	close(o.pipe.done)
}
