// Package transistor gates consumption from a source by externally granted
// credits.
//
// A transistor has two inputs. The gate carries integer credit grants; the source
// carries elements. One source element is pulled per credit, and only while
// downstream is asking for output and nothing is already in flight, so the number
// of elements ever taken from the source never exceeds the credits granted so far.
package transistor

import (
	"context"

	"github.com/c360/twinflow/stream"
)

// Transistor returns the source's elements, released one credit at a time.
// The result completes when the source completes, or when the gate has completed
// and the credit it granted is used up. A failed source or gate fails the result.
func Transistor[T any](ctx context.Context, source *stream.Pipe[T], gate *stream.Pipe[int]) *stream.Pipe[T] {
	src := stream.NewInlet(source)
	gt := stream.NewInlet(gate)
	out := stream.NewOutlet[T]()

	logic := &transistorLogic[T]{source: src, gate: gt, out: out}

	go func() {
		logic.onStart()

		for {
			if err := out.Flush(ctx); err != nil || out.Done() {
				return
			}

			select {
			case elem := <-src.Data():
				src.Received()
				logic.onSourcePush(elem)
			case <-src.Done():
				if err := src.Finish(); err != nil {
					out.Fail(err)
					return
				}
				logic.onSourceFinish()
			case credits := <-gt.Data():
				gt.Received()
				logic.onGatePush(credits)
			case <-gt.Done():
				if err := gt.Finish(); err != nil {
					out.Fail(err)
					return
				}
				logic.onGateFinish()
			case <-out.Demand():
				out.Accept()
				logic.onPull()
			case <-ctx.Done():
				out.Fail(ctx.Err())
				return
			}
		}
	}()

	return out.Pipe()
}

type transistorLogic[T any] struct {
	source stream.Inport
	gate   stream.Inport
	out    stream.Outport[T]

	credits int
	demand  int

	inFlight    T
	hasInFlight bool

	// granted and pulled are totals over the stage's lifetime.
	granted int
	pulled  int
}

func (l *transistorLogic[T]) onStart() {
	l.gate.Pull()
}

func (l *transistorLogic[T]) onGatePush(credits int) {
	l.credits += credits
	l.granted += credits
	l.gate.Pull()
	l.considerPullSource()
}

func (l *transistorLogic[T]) onPull() {
	l.demand++
	l.deliver()
	l.considerPullSource()
}

func (l *transistorLogic[T]) onSourcePush(elem T) {
	l.inFlight = elem
	l.hasInFlight = true
	l.deliver()
	l.considerPullSource()
}

func (l *transistorLogic[T]) onSourceFinish() {
	if !l.hasInFlight {
		l.out.Complete()
	}
}

func (l *transistorLogic[T]) onGateFinish() {
	l.completeIfStarved()
}

// completeIfStarved completes the output once no further source element can be
// released: the gate is closed, no credit is left and nothing is on its way.
func (l *transistorLogic[T]) completeIfStarved() {
	if l.gate.IsClosed() && l.credits == 0 && !l.hasInFlight &&
		!l.source.HasBeenPulled() && !l.out.IsClosed() {
		l.out.Complete()
	}
}

func (l *transistorLogic[T]) deliver() {
	if !l.hasInFlight || l.demand == 0 {
		return
	}

	var zero T
	l.out.Push(l.inFlight)
	l.inFlight = zero
	l.hasInFlight = false
	l.demand--

	if l.source.IsClosed() {
		l.out.Complete()
		return
	}
	l.completeIfStarved()
}

func (l *transistorLogic[T]) considerPullSource() {
	if l.credits > 0 && l.demand > 0 && !l.hasInFlight &&
		!l.source.HasBeenPulled() && !l.source.IsClosed() {
		l.source.Pull()
		l.credits--
		l.pulled++
	}
}
