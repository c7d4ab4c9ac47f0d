// Package buffer provides the fail-fast buffer stage and the growable FIFO it is
// built on, with built-in statistics tracking and optional Prometheus metrics.
//
// # Overview
//
// FailFast sits between a fast producer and a slow consumer. It never applies
// backpressure to the producer: every element is admitted and queued, and the
// queue is drained in arrival order as the consumer pulls. Instead of blocking,
// the buffer signals overload out of band. When an element arrives while the queue
// holds exactly maxSize elements and the element has a reply handle, the sender is
// told it is overloaded. The element is still delivered downstream later.
//
// # Quick Start
//
//	ff, err := buffer.NewFailFast[Command](128,
//		func(env envelope.Envelope[Command]) any { return TooManyRequests{ID: env.Message().ID} },
//		buffer.WithMetrics(registry, "commands"),
//	)
//	if err != nil {
//		return err
//	}
//
//	out := ff.Flow()(ctx, in)
//
// Each call to Flow materializes an independent queue, so one FailFast can be
// shared by every lane of a dispatch engine while the statistics aggregate.
//
// # Observability Architecture
//
// The package implements the dual-tracking pattern used across twinflow:
//
// Statistics (Always On):
//   - Atomic counters for admitted, delivered and overload notifications
//   - Current and high-water queue size across lanes
//   - Computed throughput and overload rate
//   - Available via ff.Stats()
//
// Prometheus Metrics (Optional):
//   - Enabled with WithMetrics(registry, prefix)
//   - twinflow_buffer_admitted_total, twinflow_buffer_delivered_total,
//     twinflow_buffer_overload_notifications_total, twinflow_buffer_size
//   - Labelled with the prefix as component
//
// # Thread Safety
//
// Queue is owned by exactly one stage goroutine and is not synchronized.
// Statistics and metrics are safe for concurrent use.
package buffer
