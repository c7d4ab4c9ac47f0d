package stream

// Map applies fn to every element.
func Map[In, Out any](fn func(In) Out) Flow[In, Out] {
	return MapMaybe(func(in In) (Out, bool) {
		return fn(in), true
	})
}

// MapMaybe applies fn to every element and drops the ones it rejects.
func MapMaybe[In, Out any](fn func(In) (Out, bool)) Flow[In, Out] {
	return FromLogic(func() Logic[In, Out] {
		return &mapLogic[In, Out]{fn: fn}
	})
}

// Filter keeps the elements keep accepts.
func Filter[T any](keep func(T) bool) Flow[T, T] {
	return MapMaybe(func(in T) (T, bool) {
		return in, keep(in)
	})
}

type mapLogic[In, Out any] struct {
	fn func(In) (Out, bool)
}

func (m *mapLogic[In, Out]) OnPush(elem In, ports Ports[Out]) {
	if out, ok := m.fn(elem); ok {
		ports.Push(out)
		return
	}
	ports.Pull()
}

func (m *mapLogic[In, Out]) OnPull(ports Ports[Out]) {
	ports.Pull()
}

func (m *mapLogic[In, Out]) OnUpstreamFinish(ports Ports[Out]) {
	ports.Complete()
}
