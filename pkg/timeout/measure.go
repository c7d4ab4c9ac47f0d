package timeout

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"

	"github.com/c360/twinflow/stream"
)

// Sink receives one elapsed duration per element.
type Sink func(elapsed time.Duration)

// Measure reports how long inner took for each element. A nil clock means the
// wall clock.
func Measure[In, Out any](inner stream.Flow[In, Out], clk clock.PassiveClock, sink Sink) stream.Flow[In, Out] {
	if clk == nil {
		clk = clock.RealClock{}
	}

	begin := func(context.Context) func(In) time.Time {
		return func(In) time.Time {
			return clk.Now()
		}
	}

	end := func(context.Context) func(Out, time.Time) {
		return func(_ Out, started time.Time) {
			sink(clk.Since(started))
		}
	}

	return around(inner, begin, end)
}

// HistogramSink observes durations in seconds.
func HistogramSink(observer prometheus.Observer) Sink {
	return func(elapsed time.Duration) {
		observer.Observe(elapsed.Seconds())
	}
}
