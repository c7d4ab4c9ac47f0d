// Package twinflow is a dataflow toolkit for keeping digital twins of IoT
// devices in step with the commands that change them.
//
// # Layers
//
// The toolkit has two layers. The primitives are generic; the service layer
// binds them to twins and NATS.
//
// Primitives (no knowledge of twins or transports):
//   - stream: demand-driven stages (Pipe, Flow, Via, Merge) every primitive is built on
//   - either: two-variant results and a router that splits them
//   - envelope: a message paired with the recipient its reply goes to
//   - pkg/buffer: fail-fast bounded buffer that answers overload instead of blocking
//   - pkg/ratelimit: fixed-window limiter that answers rejections with a retry hint
//   - pkg/timeout: per-element deadlines with a late-reply notification
//   - pkg/transistor: credit-gated consumption of a source
//   - pkg/mergesort: merge-join of two sorted streams into pairs
//   - pkg/retry: exponential backoff for transient failures
//   - dispatch: partitioned engine with bounded admission, one lane per entity hash
//     and a guard that turns lane failures into replies
//
// Service layer:
//   - twin: the thing store and the commands that act on it
//   - ingress: the NATS command gateway that runs commands through the engine
//   - reconcile: background comparison of the store with its index
//   - natsclient, config, metric, health, errors: ambient infrastructure
//
// # Command Path
//
//	NATS twin.commands.>
//	        │  (queue group)
//	        ↓
//	┌──────────────────┐
//	│  ingress.Gateway │  decode, headers, correlation id
//	└────────┬─────────┘
//	         ↓
//	┌──────────────────┐
//	│ dispatch.Engine  │  bounded queue → lane = hash(thing id) mod N
//	└────────┬─────────┘
//	         ↓  per lane
//	  buffer → ratelimit → timeout(guard(apply))
//	         ↓
//	   reply to msg.Reply
//
// Every admitted command gets exactly one reply: ok, invalid, rate_limited,
// overloaded, timeout or error. Commands for the same thing always share a
// lane, so they apply in arrival order.
//
// # Binary
//
//	./bin/twinflow --config twinflow.yaml
//
// cmd/twinflow wires the gateway, the reconciler, /metrics and /healthz.
package twinflow
