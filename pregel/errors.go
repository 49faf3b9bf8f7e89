package pregel

import (
	"errors"
	"fmt"

	"github.com/pregel-run/pregel-go/channel"
	"github.com/pregel-run/pregel-go/checkpoint"
)

// Re-exported so callers need not import channel directly to check
// for these with errors.Is.
var (
	ErrEmptyChannel  = channel.ErrEmptyChannel
	ErrInvalidUpdate = channel.ErrInvalidUpdate
)

// ErrReservedChannelWrite is returned by ApplyWrites when a write
// targets a reserved channel name.
var ErrReservedChannelWrite = errors.New("pregel: write to reserved channel")

// ErrTaskNotFound is returned by PrepareSingleTask when the named
// path does not resolve to a triggerable process in the current
// checkpoint — the task was already applied, or the path is stale.
var ErrTaskNotFound = errors.New("pregel: task not found")

// ErrCheckpointNotFound aliases checkpoint.ErrNotFound so callers can
// check either package's sentinel interchangeably.
var ErrCheckpointNotFound = checkpoint.ErrNotFound

// ErrOutOfSteps is returned when a run exceeds its recursion limit.
var ErrOutOfSteps = errors.New("pregel: recursion limit exceeded")

// StepTimeoutError reports that a superstep did not complete within
// its configured timeout.
type StepTimeoutError struct {
	Step int
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("pregel: step %d timed out", e.Step)
}

// Error wraps an underlying failure with the step it occurred in, for
// callers that want structured access rather than string matching.
type Error struct {
	Code string
	Step int
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("pregel: %s at step %d", e.Code, e.Step)
	}
	return fmt.Sprintf("pregel: %s at step %d: %v", e.Code, e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// classifyApplyError maps an ApplyWrites error to the apply_conflicts_total
// "kind" label.
func classifyApplyError(err error) string {
	switch {
	case errors.Is(err, ErrReservedChannelWrite):
		return "reserved_channel"
	case errors.Is(err, ErrInvalidUpdate):
		return "invalid_update"
	default:
		return "unknown_channel"
	}
}
