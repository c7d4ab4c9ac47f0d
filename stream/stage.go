package stream

import "context"

// Ports is the view a single-input, single-output stage has of its connections.
type Ports[Out any] interface {
	// Pull requests the next upstream element.
	Pull()
	HasBeenPulled() bool
	IsUpstreamClosed() bool

	// Push hands an element downstream; only legal while IsAvailable.
	Push(elem Out)
	IsAvailable() bool
	Complete()
}

// Logic is a single-writer state machine reacting to one event at a time.
type Logic[In, Out any] interface {
	OnPush(elem In, ports Ports[Out])
	OnPull(ports Ports[Out])
	OnUpstreamFinish(ports Ports[Out])
}

// Starter is implemented by logic that acts before the first event, typically to
// pull eagerly.
type Starter[Out any] interface {
	OnStart(ports Ports[Out])
}

type stagePorts[In, Out any] struct {
	in  *Inlet[In]
	out *Outlet[Out]
}

func (p stagePorts[In, Out]) Pull()                  { p.in.Pull() }
func (p stagePorts[In, Out]) HasBeenPulled() bool    { return p.in.HasBeenPulled() }
func (p stagePorts[In, Out]) IsUpstreamClosed() bool { return p.in.IsClosed() }
func (p stagePorts[In, Out]) Push(elem Out)          { p.out.Push(elem) }
func (p stagePorts[In, Out]) IsAvailable() bool      { return p.out.IsAvailable() }
func (p stagePorts[In, Out]) Complete()              { p.out.Complete() }

// Via runs logic between upstream and the returned pipe on its own goroutine.
func Via[In, Out any](ctx context.Context, upstream *Pipe[In], logic Logic[In, Out]) *Pipe[Out] {
	in := NewInlet(upstream)
	out := NewOutlet[Out]()
	go drive(ctx, in, out, logic)
	return out.Pipe()
}

func drive[In, Out any](ctx context.Context, in *Inlet[In], out *Outlet[Out], logic Logic[In, Out]) {
	ports := stagePorts[In, Out]{in: in, out: out}
	if s, ok := logic.(Starter[Out]); ok {
		s.OnStart(ports)
	}

	for {
		if err := out.Flush(ctx); err != nil || out.Done() {
			return
		}

		select {
		case elem := <-in.Data():
			in.Received()
			logic.OnPush(elem, ports)
		case <-in.Done():
			if err := in.Finish(); err != nil {
				out.Fail(err)
				return
			}
			logic.OnUpstreamFinish(ports)
		case <-out.Demand():
			out.Accept()
			logic.OnPull(ports)
		case <-ctx.Done():
			out.Fail(ctx.Err())
			return
		}
	}
}

// Flow is a reusable pipeline segment. Each invocation materializes fresh stages.
type Flow[In, Out any] func(ctx context.Context, in *Pipe[In]) *Pipe[Out]

// Join composes two flows.
func Join[A, B, C any](first Flow[A, B], second Flow[B, C]) Flow[A, C] {
	return func(ctx context.Context, in *Pipe[A]) *Pipe[C] {
		return second(ctx, first(ctx, in))
	}
}

// FromLogic turns a logic factory into a Flow. The factory runs once per
// materialization, so stage state is never shared between pipelines.
func FromLogic[In, Out any](newLogic func() Logic[In, Out]) Flow[In, Out] {
	return func(ctx context.Context, in *Pipe[In]) *Pipe[Out] {
		return Via(ctx, in, newLogic())
	}
}
