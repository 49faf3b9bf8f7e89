package pregel

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// writeSink collects the writes tasks produce during one step. Append
// is the only legal mutation from task code and must be safe for
// concurrent use, since tasks run independently within a step.
type writeSink struct {
	mu     sync.Mutex
	writes []Write
}

func (s *writeSink) append(ws ...Write) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, ws...)
}

func (s *writeSink) snapshot() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Write, len(s.writes))
	copy(out, s.writes)
	return out
}

// Executor runs the tasks of a single superstep concurrently,
// cancelling every in-flight task on the first failure or on step
// timeout, and returning the writes each task produced, keyed by task
// ID.
type Executor struct {
	registry map[string]Process
}

// NewExecutor returns an Executor resolving processes by name from
// registry.
func NewExecutor(registry []Process) *Executor {
	m := make(map[string]Process, len(registry))
	for _, p := range registry {
		m[p.Name] = p
	}
	return &Executor{registry: m}
}

// Run executes tasks concurrently. On success, the returned map has
// one entry per task ID holding that task's writes, in the order the
// task produced them. On the first task failure, every other in-
// flight task is cancelled, their partial writes are discarded, and
// the original error is returned. On timeout, the same cancellation
// happens and a *StepTimeoutError is returned.
func (e *Executor) Run(ctx context.Context, tasks []Task, timeout time.Duration) (map[string][]Write, error) {
	if len(tasks) == 0 {
		return map[string][]Write{}, nil
	}

	runCtx := ctx
	var cancelTimeout context.CancelFunc
	if timeout > 0 {
		runCtx, cancelTimeout = context.WithTimeout(ctx, timeout)
		defer cancelTimeout()
	}

	g, gctx := errgroup.WithContext(runCtx)
	sinks := make(map[string]*writeSink, len(tasks))

	for _, task := range tasks {
		task := task
		proc, ok := e.registry[task.Process]
		if !ok {
			return nil, &Error{Code: "TaskNotFound", Step: task.Step}
		}
		sink := &writeSink{}
		sinks[task.ID] = sink

		g.Go(func() error {
			writes, err := proc.Run(gctx, task.Input)
			if err != nil {
				return err
			}
			sink.append(writes...)
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, &StepTimeoutError{Step: tasks[0].Step}
		}
		return nil, err
	}

	out := make(map[string][]Write, len(sinks))
	for id, sink := range sinks {
		out[id] = sink.snapshot()
	}
	return out, nil
}
