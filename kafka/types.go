// Package kafka implements the distributed variant of the step loop:
// an Orchestrator worker that owns checkpointing and task scheduling,
// and Worker (executor) processes that run exactly one task per
// message and report back, connected by an abstract message Bus. The
// name follows the system this was modelled on; MemoryBus is the only
// transport provided here — a production deployment supplies its own
// Bus over a durable broker.
package kafka

import (
	"context"
	"time"

	"github.com/pregel-run/pregel-go/checkpoint"
)

// Topics names the bus topics the orchestrator and executor workers
// exchange messages on.
type Topics struct {
	Orchestrator string
	Executor     string
}

// MessageToOrchestrator either starts (or restarts) a thread's run by
// carrying Input, or reports that one dispatched task has finished —
// successfully, with its writes already durable via PutWrites, or
// failed. The orchestrator advances the thread's run once every task
// of the current superstep has reported in. Finally, if set, is
// published to the executor topic once the run this message concerns
// ends: at a fixed point, past RecursionLimit, or on a task error. The
// orchestrator does not handle interrupts.
type MessageToOrchestrator struct {
	Config  checkpoint.Config  `json:"config"`
	Input   any                `json:"input,omitempty"`
	TaskID  string             `json:"task_id,omitempty"`
	Error   string             `json:"error,omitempty"`
	Finally *MessageToExecutor `json:"finally,omitempty"`
}

// MessageToExecutor assigns exactly one task to whichever executor
// worker consumes it next. Path and Step are the inputs
// pregel.PrepareSingleTask needs to reconstruct the task without the
// worker recomputing the whole superstep's task list. Resuming and
// Finally are not set by the orchestrator and are not read by the
// worker; the message the orchestrator publishes at the end of a run
// is the one carried in MessageToOrchestrator.Finally.
type MessageToExecutor struct {
	Config   checkpoint.Config  `json:"config"`
	TaskID   string             `json:"task_id"`
	Path     []string           `json:"path"`
	Step     int                `json:"step"`
	Resuming bool               `json:"resuming,omitempty"`
	Finally  *MessageToExecutor `json:"finally,omitempty"`
}

// Message is one payload read off a Bus topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Bus is the abstract transport the orchestrator and executor workers
// exchange task assignments and completions over.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error

	// Consume returns up to batchMaxN messages, waiting at most
	// batchMaxWait for the first one to arrive if the topic is
	// currently empty. It returns a nil or short slice without error
	// when nothing arrives before batchMaxWait elapses.
	Consume(ctx context.Context, topic string, batchMaxN int, batchMaxWait time.Duration) ([]Message, error)
}
