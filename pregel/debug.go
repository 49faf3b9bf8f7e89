package pregel

import "github.com/pregel-run/pregel-go/checkpoint"

// DebugPayload is what the "debug" stream mode emits at each step: the
// step's metadata (Writes holds the writes applied, nil for the input
// step), the tasks prepared for the step, and the config current when
// the event is emitted. A source=loop event is emitted before the new
// checkpoint is persisted, so its Config names the checkpoint the step
// started from. Channel values are not included.
type DebugPayload struct {
	Config   checkpoint.Config
	Metadata checkpoint.Metadata
	Tasks    []Task
}
