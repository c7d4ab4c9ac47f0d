package dispatch

// Admission is the result class of one Submit call.
type Admission int

const (
	// Enqueued means the message is in the admission queue.
	Enqueued Admission = iota

	// Dropped means the queue was full. The message is gone and nobody is told.
	Dropped

	// Failed means the queue could not take messages at all (not started or
	// already stopped).
	Failed
)

// String returns a human-readable representation of the admission class.
func (a Admission) String() string {
	switch a {
	case Enqueued:
		return "enqueued"
	case Dropped:
		return "dropped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// AdmissionOutcome reports what happened to a submitted message.
type AdmissionOutcome struct {
	Admission Admission
	// Cause is nil for Enqueued, errors.ErrQueueFull for Dropped and the queue
	// error for Failed.
	Cause error
}

// Accepted reports whether the message will be processed.
func (o AdmissionOutcome) Accepted() bool {
	return o.Admission == Enqueued
}

func (o AdmissionOutcome) String() string {
	if o.Cause == nil {
		return o.Admission.String()
	}
	return o.Admission.String() + ": " + o.Cause.Error()
}
