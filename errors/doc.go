// Package errors provides standardized error handling for the twinflow dataflow toolkit.
//
// # Overview
//
// Every failure in a pipeline falls into one of three classes:
//
//   - Transient: overload and timing conditions (full admission queue, fail-fast
//     overload notification, rate limiting, timeouts). Surfaced as data.
//   - Invalid: malformed input or configuration. Surfaced as data.
//   - Fatal: a stage can no longer make progress, or a caller broke a precondition
//     (ErrContractViolation). Contract violations are raised with panic.
//
// # Propagation
//
// Stages never unwind a stream for transient or invalid failures. They count them,
// reply to the message's reply handle, or route them to an error channel:
//
//	if outcome := engine.Submit(msg, replyTo); outcome.Dropped() {
//	    // counted by the engine; no reply is sent
//	}
//
// Only a contract violation, such as a sorted merge reaching completion with an
// unconsumed real value, is fatal to the stage:
//
//	panic(errors.Violation("mergesort", "completed with unconsumed left value"))
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Engine", "Submit", "offer")
//	errors.WrapInvalid(err, "Config", "Validate", "lanes")
//	errors.WrapFatal(err, "Engine", "Stop", "drain lanes")
//
// The classification survives further wrapping with fmt.Errorf("%w") and is
// recovered with errors.As on *ClassifiedError.
package errors
