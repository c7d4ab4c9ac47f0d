// Package mergesort merge-joins two individually sorted streams into a stream of
// compared pairs.
//
// Each output pair holds the current value of both sides, the same pair a merge
// sort compares at each step. After a pair is emitted the smaller side advances;
// on a tie both do. When one side runs out, its value is replaced by a maximal
// sentinel so the other side can drain. Every input element appears in at least
// one pair.
//
//	left  = 1 3 5 7 9
//	right = 2 3 4 5 6
//	pairs = (1,2) (3,2) (3,3) (5,4) (5,5) (7,6) (7,∞) (9,∞)
package mergesort

import (
	"context"

	"github.com/c360/twinflow/errors"
	"github.com/c360/twinflow/stream"
)

// Pair is one merge step.
type Pair[T any] struct {
	Left  T
	Right T
}

// Compare orders two values: negative when a < b, zero when equal, positive when
// a > b. cmp.Compare satisfies it for ordered types.
type Compare[T any] func(a, b T) int

// MergeAsPairs merges left and right, which must each be non-decreasing under
// compare. sentinel must compare greater than or equal to every real value.
//
// Inputs that break those preconditions are defects: the stage panics with an
// error wrapping errors.ErrContractViolation instead of silently dropping data.
func MergeAsPairs[T any](ctx context.Context, left, right *stream.Pipe[T], compare Compare[T], sentinel T) *stream.Pipe[Pair[T]] {
	l := stream.NewInlet(left)
	r := stream.NewInlet(right)
	out := stream.NewOutlet[Pair[T]]()

	logic := newMergeLogic[T](l, r, out, compare, sentinel)

	go func() {
		logic.onStart()

		for {
			if err := out.Flush(ctx); err != nil || out.Done() {
				return
			}

			select {
			case v := <-l.Data():
				l.Received()
				logic.onPush(&logic.left, v)
			case <-l.Done():
				if err := l.Finish(); err != nil {
					out.Fail(err)
					return
				}
				logic.onUpstreamFinish(&logic.left)
			case v := <-r.Data():
				r.Received()
				logic.onPush(&logic.right, v)
			case <-r.Done():
				if err := r.Finish(); err != nil {
					out.Fail(err)
					return
				}
				logic.onUpstreamFinish(&logic.right)
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

// side is one input's pending value. A synthetic value is the sentinel standing
// in for an exhausted input.
type side[T any] struct {
	name      string
	port      stream.Inport
	value     T
	has       bool
	synthetic bool
	done      bool
}

type mergeLogic[T any] struct {
	left     side[T]
	right    side[T]
	out      stream.Outport[Pair[T]]
	compare  Compare[T]
	sentinel T
}

func newMergeLogic[T any](left, right stream.Inport, out stream.Outport[Pair[T]], compare Compare[T], sentinel T) *mergeLogic[T] {
	return &mergeLogic[T]{
		left:     side[T]{name: "left", port: left},
		right:    side[T]{name: "right", port: right},
		out:      out,
		compare:  compare,
		sentinel: sentinel,
	}
}

func (m *mergeLogic[T]) onStart() {
	m.left.port.Pull()
	m.right.port.Pull()
}

func (m *mergeLogic[T]) onPush(s *side[T], v T) {
	s.value = v
	s.has = true
	m.emit()
}

func (m *mergeLogic[T]) onUpstreamFinish(s *side[T]) {
	s.done = true
	if !s.has {
		m.substitute(s)
	}
	m.emit()
}

func (m *mergeLogic[T]) onPull() {
	m.emit()
}

func (m *mergeLogic[T]) substitute(s *side[T]) {
	s.value = m.sentinel
	s.has = true
	s.synthetic = true
}

func (m *mergeLogic[T]) emit() {
	if !m.left.has || !m.right.has {
		return
	}

	if m.left.synthetic && m.right.synthetic {
		m.out.Complete()
		return
	}

	if !m.out.IsAvailable() {
		return
	}

	m.out.Push(Pair[T]{Left: m.left.value, Right: m.right.value})

	c := m.compare(m.left.value, m.right.value)
	switch {
	case c < 0:
		m.advance(&m.left, &m.right)
	case c > 0:
		m.advance(&m.right, &m.left)
	case m.left.synthetic:
		m.advance(&m.right, &m.left)
	case m.right.synthetic:
		m.advance(&m.left, &m.right)
	default:
		m.advance(&m.left, &m.right)
		m.advance(&m.right, &m.left)
	}

	// Both sides may now be exhausted without further demand arriving.
	if m.left.synthetic && m.right.synthetic {
		m.out.Complete()
	}
}

// advance moves s past its current value. other is the side it was compared
// against.
func (m *mergeLogic[T]) advance(s, other *side[T]) {
	if s.synthetic {
		// The sentinel compared below a real value on the other side: that value
		// can never be consumed.
		panic(errors.Violation("mergesort",
			"sentinel ranked below an unconsumed "+other.name+" value; inputs unsorted or sentinel not maximal"))
	}

	if s.done {
		m.substitute(s)
		return
	}

	var zero T
	s.value = zero
	s.has = false
	s.port.Pull()
}
