package emit

// Event is an observability event emitted during a run of the step loop.
//
// The step loop emits one event per enabled stream mode each time it
// absorbs input or applies a step's writes ("values", "updates",
// "debug"); it emits no per-task or interrupt events.
type Event struct {
	// ThreadID identifies the run that emitted this event.
	ThreadID string

	// Step is the superstep number (0-indexed). Zero for run-level
	// events (start, done, error) that precede the first step.
	Step int

	// Process identifies which process emitted this event. Empty for
	// step-level or run-level events not attributable to one process.
	Process string

	// Msg is a short, machine-greppable event name; the step loop uses
	// "values", "updates" and "debug".
	Msg string

	// Meta carries event-specific structured data. Keys the step loop
	// sets:
	//   - "channel_values": channel snapshot ("values")
	//   - "channels": channel names written, in first-write order ("updates")
	//   - "payload": a pregel.DebugPayload ("debug")
	Meta map[string]interface{}
}
