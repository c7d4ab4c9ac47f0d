package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/twinflow/metric"
)

// engineMetrics mirrors the always-on Stats counters for Prometheus.
type engineMetrics struct {
	received     prometheus.Counter
	enqueued     prometheus.Counter
	dropped      prometheus.Counter
	failed       prometheus.Counter
	dequeued     prometheus.Counter
	laneFailures *prometheus.CounterVec
	queueDepth   prometheus.Gauge
}

func newEngineMetrics(registry *metric.MetricsRegistry, prefix string) (*engineMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "twinflow",
			Subsystem:   "dispatch",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        help,
		})
	}

	m := &engineMetrics{
		received: counter("received_total", "Total messages submitted"),
		enqueued: counter("enqueue_succeeded_total", "Messages accepted into the admission queue"),
		dropped:  counter("enqueue_dropped_total", "Messages dropped because the admission queue was full"),
		failed:   counter("enqueue_failed_total", "Messages refused because the admission queue was closed"),
		dequeued: counter("dequeued_total", "Messages taken from the admission queue for partitioning"),
		laneFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "twinflow",
			Subsystem:   "dispatch",
			Name:        "lane_failures_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Processing failures isolated at the lane boundary",
		}, []string{"lane"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "twinflow",
			Subsystem:   "dispatch",
			Name:        "queue_depth",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current admission queue depth",
		}),
	}

	counters := []struct {
		name    string
		counter prometheus.Counter
	}{
		{"dispatch_received", m.received},
		{"dispatch_enqueued", m.enqueued},
		{"dispatch_dropped", m.dropped},
		{"dispatch_failed", m.failed},
		{"dispatch_dequeued", m.dequeued},
	}
	for _, c := range counters {
		if err := registry.RegisterCounter(prefix, c.name, c.counter); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterCounterVec(prefix, "dispatch_lane_failures", m.laneFailures); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "dispatch_queue_depth", m.queueDepth); err != nil {
		return nil, err
	}

	return m, nil
}
