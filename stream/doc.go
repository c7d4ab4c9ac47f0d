// Package stream is the demand-driven stage engine the twinflow primitives run on.
//
// A Pipe connects exactly one producer stage to exactly one consumer. The consumer
// signals readiness by placing a demand token on the pipe (at most one outstanding),
// and the producer answers with one element or with completion. Because a producer
// may only push after it has taken a demand token, "consumer ready" is an observable
// event and backpressure propagates stage by stage without buffering.
//
// Every stage is driven by a single goroutine running a select loop over its input
// data, input completion, and output demand. A stage's state is touched only by that
// goroutine, so stage logic needs no locks:
//
//	src := stream.FromSlice(ctx, []int{1, 2, 3})
//	doubled := stream.Map(func(n int) int { return n * 2 })(ctx, src)
//	out, err := stream.Collect(ctx, doubled)
//
// Single-input stages implement Logic and are run with Via. Stages with several
// inputs or outputs (routers, merges, gates) run their own select loop over Inlet
// and Outlet values, which expose the same port semantics.
//
// Cancelling the context tears a pipeline down: every stage closes its output with
// the context error, which consumers observe through Pipe.Err and Collect.
package stream
