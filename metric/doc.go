// Package metric provides Prometheus-based metrics collection for twinflow.
//
// A MetricsRegistry wraps a private prometheus.Registry. It carries a small set of
// process-wide core metrics (replies sent, timeout notifications, lane failures,
// processing duration, health and NATS status) and lets engines and stages register
// their own collectors under a "component.metric" key:
//
//	registry := metric.NewMetricsRegistry()
//	engine, err := dispatch.NewEngine(cfg, dispatch.WithMetricsRegistry[Cmd, Reply](registry, "commands"))
//
//	http.Handle("/metrics", registry.Handler())
//
// Registration is idempotent per key: registering the same component/metric pair
// twice returns an invalid-class error rather than panicking, so a misconfigured
// component fails its constructor instead of the process.
//
// Statistics kept by engines and buffers are always on (atomic counters); the
// Prometheus collectors registered here are the optional, externally scraped view of
// the same numbers.
package metric
