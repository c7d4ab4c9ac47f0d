package stream

import "context"

// ForEach pulls every element from p and calls fn for it. It returns when p
// completes, with p's failure or the context error.
func ForEach[T any](ctx context.Context, p *Pipe[T], fn func(T)) error {
	for {
		elem, ok := p.Next(ctx)
		if !ok {
			if err := p.Err(); err != nil {
				return err
			}
			return ctx.Err()
		}
		fn(elem)
	}
}

// Collect gathers every element of p.
func Collect[T any](ctx context.Context, p *Pipe[T]) ([]T, error) {
	var out []T
	err := ForEach(ctx, p, func(elem T) {
		out = append(out, elem)
	})
	return out, err
}
