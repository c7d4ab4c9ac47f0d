// Package dispatch provides the partitioned dispatch engine: bounded admission,
// per-entity ordered lanes and fan-in to a single sink.
//
// # Admission
//
// Submit is the single entry point. It offers the message to a bounded queue
// and returns immediately with an AdmissionOutcome:
//
//   - Enqueued: the message will be processed
//   - Dropped: the queue was full; the message is discarded silently and counted
//   - Failed: the queue is closed (engine stopped) or not yet started
//
// # Lanes
//
// Each queued message passes through the PreProcess hook and is then assigned a
// lane. Lane 0 is reserved for messages without an entity ID and for messages
// carrying the special-lane marker; every other message goes to lane
// 1 + xxhash64(entityID) mod Lanes. Each lane runs its own pipeline, built from
// the stream primitives, sequentially; lanes run concurrently.
//
// # Failures
//
// A Handler is wrapped in Guard, which recovers panics and errors per message,
// logs them, replies an internal error to the message's ReplyTo and keeps the lane
// running. Custom pipelines use Guard themselves.
//
// # Observability
//
// Stats are always on: received, enqueued, dropped, failed and dequeued counters
// plus lane failures and queue depth. WithMetricsRegistry mirrors them as
// Prometheus metrics under twinflow_dispatch_*.
//
// # Lifecycle
//
//	engine, err := dispatch.NewEngine(cfg, dispatch.WithMetricsRegistry[Cmd, Reply](registry, "commands"))
//	if err := engine.Start(ctx); err != nil { ... }
//	outcome := engine.Submit(cmd, replyTo)
//	err = engine.Stop(5 * time.Second) // drain, then ErrStopTimeout if too slow
package dispatch
