package pregel

import (
	"context"
	"fmt"

	"github.com/pregel-run/pregel-go/channel"
)

// Result is what Run returns: the terminal status and, when the run
// ends without an error, the channel values as of that status.
type Result struct {
	Status Status
	Values map[string]any
}

// Run drives registry to completion (or an interrupt, or the
// recursion limit) against the channels named by factories, using
// input as the first superstep's absorbed value. It is a convenience
// wrapper over NewLoop/Loop.Run for callers that do not need to hold
// onto the Loop across multiple resumes.
func Run(ctx context.Context, registry []Process, factories map[string]channel.Factory, input any, opts ...Option) (Result, error) {
	loop := NewLoop(registry, factories, opts...)
	status, err := loop.Run(ctx, input)
	if err != nil {
		return Result{Status: status}, err
	}
	return Result{Status: status, Values: loop.Values()}, nil
}

// Resume continues a previously interrupted run on the same thread,
// identified by WithThreadID among opts, without absorbing new input.
// It fails if the thread has no checkpoint to resume from.
func Resume(ctx context.Context, registry []Process, factories map[string]channel.Factory, opts ...Option) (Result, error) {
	loop := NewLoop(registry, factories, opts...)
	if loop.config.ThreadID == "" {
		return Result{}, fmt.Errorf("pregel: Resume requires WithThreadID")
	}
	status, err := loop.Run(ctx, nil)
	if err != nil {
		return Result{Status: status}, err
	}
	return Result{Status: status, Values: loop.Values()}, nil
}
