package stream

import "context"

// FromFunc builds a source that calls next once per downstream request. The source
// completes when next returns false.
func FromFunc[T any](ctx context.Context, next func(ctx context.Context) (T, bool)) *Pipe[T] {
	out := NewOutlet[T]()

	go func() {
		for {
			if err := out.Flush(ctx); err != nil || out.Done() {
				return
			}

			select {
			case <-out.Demand():
				out.Accept()
				elem, ok := next(ctx)
				if !ok {
					if err := ctx.Err(); err != nil {
						out.Fail(err)
						return
					}
					out.Complete()
					continue
				}
				out.Push(elem)
			case <-ctx.Done():
				out.Fail(ctx.Err())
				return
			}
		}
	}()

	return out.Pipe()
}

// FromSlice emits items in order, then completes.
func FromSlice[T any](ctx context.Context, items []T) *Pipe[T] {
	i := 0
	return FromFunc(ctx, func(context.Context) (T, bool) {
		if i >= len(items) {
			var zero T
			return zero, false
		}
		elem := items[i]
		i++
		return elem, true
	})
}

// FromChan emits values received from ch and completes when ch is closed.
func FromChan[T any](ctx context.Context, ch <-chan T) *Pipe[T] {
	return FromFunc(ctx, func(ctx context.Context) (T, bool) {
		select {
		case elem, ok := <-ch:
			return elem, ok
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	})
}

// Empty completes immediately.
func Empty[T any](ctx context.Context) *Pipe[T] {
	return FromSlice[T](ctx, nil)
}
