package buffer

// Queue is an unbounded FIFO backed by a growable ring. It is not safe for
// concurrent use; a stage owns its queue exclusively.
type Queue[T any] struct {
	items []T
	head  int // next read position
	size  int
}

// NewQueue creates a queue with room for capacity items before it grows.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 16
	}
	return &Queue[T]{items: make([]T, capacity)}
}

// Push appends item at the tail.
func (q *Queue[T]) Push(item T) {
	if q.size == len(q.items) {
		q.grow()
	}
	q.items[(q.head+q.size)%len(q.items)] = item
	q.size++
}

// Pop removes and returns the oldest item.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return item, true
}

// Peek returns the oldest item without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	if q.size == 0 {
		var zero T
		return zero, false
	}
	return q.items[q.head], true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return q.size
}

// IsEmpty reports whether the queue holds no items.
func (q *Queue[T]) IsEmpty() bool {
	return q.size == 0
}

func (q *Queue[T]) grow() {
	grown := make([]T, len(q.items)*2)
	for i := 0; i < q.size; i++ {
		grown[i] = q.items[(q.head+i)%len(q.items)]
	}
	q.items = grown
	q.head = 0
}
