package pregel

import (
	"errors"
	"sort"

	"github.com/pregel-run/pregel-go/channel"
	"github.com/pregel-run/pregel-go/checkpoint"
)

// ChannelsManager materializes live channels from a checkpoint on
// entry and tears them down, in reverse materialization order, on
// exit — whether exit is reached via success or failure. Materialized
// channels are owned by the step loop for the lifetime of the scope.
type ChannelsManager struct {
	factories map[string]channel.Factory
	channels  map[string]channel.Channel
	order     []string
}

// NewChannelsManager returns a manager over the given channel
// factories, keyed by channel name.
func NewChannelsManager(factories map[string]channel.Factory) *ChannelsManager {
	return &ChannelsManager{
		factories: factories,
		channels:  map[string]channel.Channel{},
	}
}

// WithReservedChannels returns factories merged with default LastValue
// factories for the reserved error and is_last_step channels, for
// callers that materialize channels without going through NewLoop —
// the distributed Orchestrator and Executor worker need the same
// defaulting NewLoop applies for the local step loop.
func WithReservedChannels(factories map[string]channel.Factory) map[string]channel.Factory {
	out := make(map[string]channel.Factory, len(factories)+2)
	for name, f := range factories {
		out[name] = f
	}
	if _, ok := out[checkpoint.Error]; !ok {
		out[checkpoint.Error] = channel.NewLastValue[any]()
	}
	if _, ok := out[checkpoint.IsLastStep]; !ok {
		out[checkpoint.IsLastStep] = channel.NewLastValue[bool]()
	}
	return out
}

// Enter instantiates every declared channel and restores it from cp's
// checkpointed state, if any. Materialization order is the sorted
// channel name — deterministic, so Exit's reverse order is
// reproducible across runs.
func (m *ChannelsManager) Enter(cp checkpoint.Checkpoint) error {
	names := make([]string, 0, len(m.factories))
	for name := range m.factories {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ch := m.factories[name]()
		if state, ok := cp.ChannelValues[name]; ok {
			if err := ch.Restore(state); err != nil {
				return err
			}
		}
		if scoped, ok := ch.(channel.Scoped); ok {
			if err := scoped.Enter(); err != nil {
				return err
			}
		}
		m.channels[name] = ch
		m.order = append(m.order, name)
	}
	return nil
}

// Exit releases every materialized channel in reverse order,
// collecting and joining any release errors rather than stopping at
// the first one — every channel gets a chance to release regardless
// of a sibling's failure.
func (m *ChannelsManager) Exit() error {
	var errs []error
	for i := len(m.order) - 1; i >= 0; i-- {
		ch := m.channels[m.order[i]]
		if scoped, ok := ch.(channel.Scoped); ok {
			if err := scoped.Exit(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	m.order = nil
	m.channels = map[string]channel.Channel{}
	return errors.Join(errs...)
}

// Channels returns the live channel set. Valid only between Enter and
// Exit.
func (m *ChannelsManager) Channels() map[string]channel.Channel {
	return m.channels
}

// Checkpoint snapshots every live channel's current state, keyed by
// channel name, suitable for checkpoint.Checkpoint.ChannelValues.
func (m *ChannelsManager) Checkpoint() map[string]any {
	out := make(map[string]any, len(m.channels))
	for name, ch := range m.channels {
		if v, err := ch.Checkpoint(); err == nil {
			out[name] = v
		}
	}
	return out
}
