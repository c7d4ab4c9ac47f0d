package timeout

import (
	"context"
	"sync"

	"github.com/c360/twinflow/pkg/buffer"
	"github.com/c360/twinflow/stream"
)

// pairing hands per-element state from the stage in front of a wrapped flow to
// the stage behind it. The wrapped flow must emit exactly one output per input,
// in order, so the oldest pending state always belongs to the next output.
type pairing[S any] struct {
	mu      sync.Mutex
	pending *buffer.Queue[S]
}

func newPairing[S any]() *pairing[S] {
	return &pairing[S]{pending: buffer.NewQueue[S](0)}
}

func (p *pairing[S]) put(state S) {
	p.mu.Lock()
	p.pending.Push(state)
	p.mu.Unlock()
}

func (p *pairing[S]) take() (S, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.Pop()
}

// around materializes inner between a stage that records state for each input
// and a stage that consumes it for each output.
func around[In, Out, S any](
	inner stream.Flow[In, Out],
	begin func(ctx context.Context) func(In) S,
	end func(ctx context.Context) func(Out, S),
) stream.Flow[In, Out] {
	return func(ctx context.Context, in *stream.Pipe[In]) *stream.Pipe[Out] {
		pairs := newPairing[S]()
		start := begin(ctx)
		finish := end(ctx)

		entered := stream.Map(func(elem In) In {
			pairs.put(start(elem))
			return elem
		})(ctx, in)

		return stream.Map(func(elem Out) Out {
			if state, ok := pairs.take(); ok {
				finish(elem, state)
			}
			return elem
		})(ctx, inner(ctx, entered))
	}
}
