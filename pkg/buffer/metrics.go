package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/twinflow/metric"
)

// bufferMetrics holds Prometheus metrics for fail-fast buffer activity.
type bufferMetrics struct {
	admitted  prometheus.Counter
	delivered prometheus.Counter
	overloads prometheus.Counter

	size prometheus.Gauge
}

// newBufferMetrics creates and registers buffer metrics with the provided registry.
func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	m := &bufferMetrics{
		admitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "twinflow",
			Subsystem:   "buffer",
			Name:        "admitted_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of elements received by the fail-fast buffer",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "twinflow",
			Subsystem:   "buffer",
			Name:        "delivered_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of elements handed downstream",
		}),
		overloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "twinflow",
			Subsystem:   "buffer",
			Name:        "overload_notifications_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of overload notifications sent to reply handles",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "twinflow",
			Subsystem:   "buffer",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of buffered elements across lanes",
		}),
	}

	if err := registry.RegisterCounter(prefix, "buffer_admitted", m.admitted); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_delivered", m.delivered); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_overloads", m.overloads); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_size", m.size); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *bufferMetrics) recordAdmit() {
	m.admitted.Inc()
}

func (m *bufferMetrics) recordDeliver() {
	m.delivered.Inc()
}

func (m *bufferMetrics) recordOverload() {
	m.overloads.Inc()
}

func (m *bufferMetrics) updateSize(size int64) {
	m.size.Set(float64(size))
}
