package timeout

import (
	"time"

	"k8s.io/utils/clock"
)

// Cancellable is a handle to a scheduled callback. Cancel is idempotent and
// reports whether it prevented the callback from running.
type Cancellable interface {
	Cancel() bool
}

// Scheduler runs a callback once after a delay.
type Scheduler interface {
	ScheduleOnce(after time.Duration, fn func()) Cancellable
}

// ClockScheduler schedules on a k8s clock, so tests can drive it with a fake.
type ClockScheduler struct {
	Clock clock.WithDelayedExecution
}

// NewClockScheduler returns a scheduler on the wall clock.
func NewClockScheduler() ClockScheduler {
	return ClockScheduler{Clock: clock.RealClock{}}
}

// ScheduleOnce implements Scheduler.
func (s ClockScheduler) ScheduleOnce(after time.Duration, fn func()) Cancellable {
	return timerHandle{timer: s.Clock.AfterFunc(after, fn)}
}

type timerHandle struct {
	timer clock.Timer
}

func (h timerHandle) Cancel() bool {
	return h.timer.Stop()
}
