package stream

import "context"

// Merge interleaves two pipes of the same type into one. Each input keeps its
// own order; between inputs, elements are emitted as they arrive, alternating
// when both are waiting. The output completes once both inputs have.
func Merge[T any](ctx context.Context, a, b *Pipe[T]) *Pipe[T] {
	inlets := [2]*Inlet[T]{NewInlet(a), NewInlet(b)}
	out := NewOutlet[T]()
	logic := newMergeLogic[T](inlets[0], inlets[1], out)

	go func() {
		for {
			if err := out.Flush(ctx); err != nil || out.Done() {
				return
			}

			select {
			case elem := <-inlets[0].Data():
				inlets[0].Received()
				logic.onPush(0, elem)
			case elem := <-inlets[1].Data():
				inlets[1].Received()
				logic.onPush(1, elem)
			case <-inlets[0].Done():
				if err := inlets[0].Finish(); err != nil {
					out.Fail(err)
					return
				}
				logic.emit()
			case <-inlets[1].Done():
				if err := inlets[1].Finish(); err != nil {
					out.Fail(err)
					return
				}
				logic.emit()
			case <-out.Demand():
				out.Accept()
				logic.emit()
			case <-ctx.Done():
				out.Fail(ctx.Err())
				return
			}
		}
	}()

	return out.Pipe()
}

type mergeInput[T any] struct {
	port    Inport
	pending T
	has     bool
}

type mergeLogic[T any] struct {
	inputs [2]*mergeInput[T]
	out    Outport[T]
	next   int // input served first when both hold an element
}

func newMergeLogic[T any](a, b Inport, out Outport[T]) *mergeLogic[T] {
	m := &mergeLogic[T]{
		inputs: [2]*mergeInput[T]{{port: a}, {port: b}},
		out:    out,
	}
	m.emit()
	return m
}

func (m *mergeLogic[T]) onPush(i int, elem T) {
	m.inputs[i].pending = elem
	m.inputs[i].has = true
	m.emit()
}

func (m *mergeLogic[T]) emit() {
	if m.out.IsAvailable() {
		for k := 0; k < 2; k++ {
			i := (m.next + k) % 2
			in := m.inputs[i]
			if !in.has {
				continue
			}
			m.out.Push(in.pending)
			var zero T
			in.pending, in.has = zero, false
			m.next = (i + 1) % 2
			break
		}
	}

	finished := true
	for _, in := range m.inputs {
		if in.has {
			finished = false
			continue
		}
		if in.port.IsClosed() {
			continue
		}
		finished = false
		if !in.port.HasBeenPulled() {
			in.port.Pull()
		}
	}

	if finished {
		m.out.Complete()
	}
}
