package pregel

import (
	"time"

	"github.com/pregel-run/pregel-go/checkpoint"
	"github.com/pregel-run/pregel-go/emit"
)

// StreamMode selects which output stream(s) a run emits. Unlike a
// single selected mode, Config treats stream mode as a set: a caller
// may ask for values and debug together.
type StreamMode string

const (
	StreamValues  StreamMode = "values"
	StreamUpdates StreamMode = "updates"
	StreamDebug   StreamMode = "debug"
)

// Config is the run-time configuration surface for a step loop run.
type Config struct {
	ThreadID        string
	RecursionLimit  int
	StepTimeout     time.Duration
	InterruptBefore map[string]bool
	InterruptAfter  map[string]bool
	StreamModes     map[StreamMode]bool
	Checkpointer    checkpoint.Checkpointer
	Emitter         emit.Emitter
	Metrics         *Metrics
}

// defaultConfig returns the Config a Run starts from before options
// are applied.
func defaultConfig() Config {
	return Config{
		RecursionLimit:  25,
		InterruptBefore: map[string]bool{},
		InterruptAfter:  map[string]bool{},
		StreamModes:     map[StreamMode]bool{StreamValues: true},
		Checkpointer:    checkpoint.NewMemCheckpointer(),
		Emitter:         emit.NewNullEmitter(),
	}
}

// Option configures a Config.
type Option func(*Config)

func WithThreadID(id string) Option {
	return func(c *Config) { c.ThreadID = id }
}

// WithRecursionLimit bounds the step counter: a run terminates with
// ErrOutOfSteps once its step exceeds n, so at most n+1 supersteps
// (steps 0 through n) execute. Default 25.
func WithRecursionLimit(n int) Option {
	return func(c *Config) { c.RecursionLimit = n }
}

// WithStepTimeout bounds how long a single superstep's tasks may run
// before they are cancelled and StepTimeoutError is surfaced.
func WithStepTimeout(d time.Duration) Option {
	return func(c *Config) { c.StepTimeout = d }
}

// WithInterruptBefore pauses the run before any named process runs.
func WithInterruptBefore(names ...string) Option {
	return func(c *Config) {
		for _, n := range names {
			c.InterruptBefore[n] = true
		}
	}
}

// WithInterruptAfter pauses the run after any named process runs.
func WithInterruptAfter(names ...string) Option {
	return func(c *Config) {
		for _, n := range names {
			c.InterruptAfter[n] = true
		}
	}
}

// WithStreamMode enables the given output mode(s); it does not
// disable the default values mode unless called with a set that
// excludes it.
func WithStreamMode(modes ...StreamMode) Option {
	return func(c *Config) {
		c.StreamModes = map[StreamMode]bool{}
		for _, m := range modes {
			c.StreamModes[m] = true
		}
	}
}

func WithCheckpointer(cp checkpoint.Checkpointer) Option {
	return func(c *Config) { c.Checkpointer = cp }
}

func WithEmitter(e emit.Emitter) Option {
	return func(c *Config) { c.Emitter = e }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}
