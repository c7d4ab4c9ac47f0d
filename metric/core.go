package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains process-wide metrics that are not owned by a single engine or stage
type Metrics struct {
	RepliesSent          *prometheus.CounterVec
	TimeoutNotifications *prometheus.CounterVec
	LaneFailures         *prometheus.CounterVec
	ProcessingDuration   *prometheus.HistogramVec
	HealthStatus         *prometheus.GaugeVec

	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RepliesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "twinflow",
				Subsystem: "replies",
				Name:      "sent_total",
				Help:      "Total number of replies sent to reply handles, by status",
			},
			[]string{"component", "status"},
		),

		TimeoutNotifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "twinflow",
				Subsystem: "timeout",
				Name:      "notifications_total",
				Help:      "Total number of per-element timeout notifications sent",
			},
			[]string{"component"},
		),

		LaneFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "twinflow",
				Subsystem: "lane",
				Name:      "failures_total",
				Help:      "Processing failures caught at the lane boundary",
			},
			[]string{"component", "lane"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "twinflow",
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Per-element processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"component"},
		),

		HealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "twinflow",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=degraded, 2=healthy)",
			},
			[]string{"component"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "twinflow",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "twinflow",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

func (c *Metrics) register(r prometheus.Registerer) {
	r.MustRegister(
		c.RepliesSent,
		c.TimeoutNotifications,
		c.LaneFailures,
		c.ProcessingDuration,
		c.HealthStatus,
		c.NATSConnected,
		c.NATSReconnects,
	)
}

// RecordReply increments the reply counter
func (c *Metrics) RecordReply(component, status string) {
	c.RepliesSent.WithLabelValues(component, status).Inc()
}

// RecordTimeout increments the timeout notification counter
func (c *Metrics) RecordTimeout(component string) {
	c.TimeoutNotifications.WithLabelValues(component).Inc()
}

// RecordLaneFailure increments the lane failure counter
func (c *Metrics) RecordLaneFailure(component, lane string) {
	c.LaneFailures.WithLabelValues(component, lane).Inc()
}

// RecordProcessingDuration records processing time
func (c *Metrics) RecordProcessingDuration(component string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(component).Observe(duration.Seconds())
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, status int) {
	c.HealthStatus.WithLabelValues(component).Set(float64(status))
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}
