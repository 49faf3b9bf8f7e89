// Package emit provides event emission and observability for the step
// loop's stream modes (values, updates, debug).
package emit

import "context"

// Emitter receives observability events produced while a run executes.
//
// Implementations should be non-blocking and thread-safe: Emit may be
// called concurrently from multiple in-flight tasks within a step.
type Emitter interface {
	// Emit sends a single event to the configured backend. Emit must
	// not block the step loop and must not panic; errors should be
	// logged internally rather than surfaced to the caller.
	Emit(event Event)

	// EmitBatch sends multiple events in one operation, preserving
	// their relative order. The step loop itself calls Emit once per
	// event.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until all buffered events have been delivered, or
	// ctx is done. Safe to call more than once.
	Flush(ctx context.Context) error
}
