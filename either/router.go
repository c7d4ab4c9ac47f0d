package either

import (
	"context"

	"github.com/c360/twinflow/stream"
)

// Split routes every element of in to exactly one of the two returned pipes.
// Order is preserved within each output. The outputs must be consumed
// concurrently: an element waiting for one output holds back the other.
func Split[A, L, R any](ctx context.Context, in *stream.Pipe[A], classify Classifier[A, L, R]) (*stream.Pipe[L], *stream.Pipe[R]) {
	inlet := stream.NewInlet(in)
	left := stream.NewOutlet[L]()
	right := stream.NewOutlet[R]()

	logic := &routerLogic[A, L, R]{
		classify: classify,
		in:       inlet,
		left:     left,
		right:    right,
	}

	go func() {
		for {
			if err := left.Flush(ctx); err != nil {
				right.Fail(err)
				return
			}
			if err := right.Flush(ctx); err != nil {
				left.Fail(err)
				return
			}
			if left.Done() && right.Done() {
				return
			}

			select {
			case elem := <-inlet.Data():
				inlet.Received()
				logic.onPush(elem)
			case <-inlet.Done():
				if err := inlet.Finish(); err != nil {
					left.Fail(err)
					right.Fail(err)
					return
				}
				logic.onUpstreamFinish()
			case <-left.Demand():
				left.Accept()
				logic.onPull()
			case <-right.Demand():
				right.Accept()
				logic.onPull()
			case <-ctx.Done():
				left.Fail(ctx.Err())
				right.Fail(ctx.Err())
				return
			}
		}
	}()

	return left.Pipe(), right.Pipe()
}

// routerLogic holds at most one classified element until its output is ready.
type routerLogic[A, L, R any] struct {
	classify Classifier[A, L, R]

	in    stream.Inport
	left  stream.Outport[L]
	right stream.Outport[R]

	pending    Either[L, R]
	hasPending bool
}

func (r *routerLogic[A, L, R]) onPush(elem A) {
	r.pending = r.classify(elem)
	r.hasPending = true
	r.emit()
}

func (r *routerLogic[A, L, R]) onPull() {
	r.emit()
}

func (r *routerLogic[A, L, R]) onUpstreamFinish() {
	r.emit()
}

func (r *routerLogic[A, L, R]) emit() {
	if r.hasPending {
		if value, ok := r.pending.Right(); ok && r.right.IsAvailable() {
			r.right.Push(value)
			r.hasPending = false
		} else if value, ok := r.pending.Left(); ok && r.left.IsAvailable() {
			r.left.Push(value)
			r.hasPending = false
		}
	}

	if r.hasPending {
		return
	}

	if r.in.IsClosed() {
		r.left.Complete()
		r.right.Complete()
		return
	}

	if !r.in.HasBeenPulled() && (r.left.IsAvailable() || r.right.IsAvailable()) {
		r.in.Pull()
	}
}
