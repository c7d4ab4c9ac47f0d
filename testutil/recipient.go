package testutil

import (
	"context"
	"sync"
	"time"
)

// RecordingRecipient is an envelope.Recipient that remembers everything it is
// told. Thread-safe for concurrent use from multiple goroutines.
type RecordingRecipient struct {
	mu       sync.Mutex
	messages []any
	notify   chan struct{}
	err      error
}

// NewRecordingRecipient creates an empty recorder.
func NewRecordingRecipient() *RecordingRecipient {
	return &RecordingRecipient{notify: make(chan struct{}, 1)}
}

// Tell records msg. It returns the error configured with FailWith.
func (r *RecordingRecipient) Tell(_ context.Context, msg any) error {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	err := r.err
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return err
}

// FailWith makes every later Tell return err after recording the message.
func (r *RecordingRecipient) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Messages returns a copy of everything told so far.
func (r *RecordingRecipient) Messages() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.messages))
	copy(out, r.messages)
	return out
}

// Count returns the number of messages told so far.
func (r *RecordingRecipient) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// WaitFor blocks until at least n messages were told or timeout expires, and
// reports whether the count was reached.
func (r *RecordingRecipient) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if r.Count() >= n {
			return true
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			return r.Count() >= n
		}
	}
}
