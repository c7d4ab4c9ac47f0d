// Package health provides thread-safe health tracking and aggregation for the
// dispatch engine, the NATS connection and any other long-running component.
//
// # Health States
//
//   - Healthy: component operating normally
//   - Degraded: component operating with reduced functionality
//   - Unhealthy: component not functioning properly
//
// # Usage
//
// Statuses are either pushed or pulled. Pushed statuses come from the
// component itself; pulled statuses are produced by a Check on every Refresh:
//
//	monitor := health.NewMonitor(registry.CoreMetrics())
//	monitor.Register("engine", func(context.Context) health.Status {
//	    if !engine.Running() {
//	        return health.NewUnhealthy("engine", "stopped")
//	    }
//	    return health.NewHealthy("engine", "running")
//	})
//	monitor.UpdateUnhealthy("reconcile", "indexed snapshot unavailable")
//
//	mux.Handle("/healthz", monitor.Handler("twinflow"))
//
// Aggregation rules:
//   - Any unhealthy component → system unhealthy (HTTP 503)
//   - Any degraded component (with no unhealthy) → system degraded
//   - All healthy → system healthy
//
// FromError turns a check error into a status, removing URLs, paths, addresses,
// ports and credentials from the message first.
//
// When the monitor is given core metrics, every recorded status also updates
// twinflow_health_status{component} (0 unhealthy, 1 degraded, 2 healthy).
package health
