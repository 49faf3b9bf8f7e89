// Package channel implements the typed communication primitives that
// Pregel processes read from and write to. A channel is a named cell
// with update/read/checkpoint/restore semantics; the variants differ
// only in how concurrent writes within a superstep are folded into
// the stored value.
package channel

import (
	"errors"
	"reflect"
)

// ErrEmptyChannel is returned by Get when a channel has never been written.
// Callers reading a non-trigger input channel should treat this as "absent"
// rather than a failure; readers of a trigger channel must surface it.
var ErrEmptyChannel = errors.New("channel: empty channel")

// ErrInvalidUpdate is returned when a write violates a channel's update
// contract, e.g. a second write to a LastValue channel within one step.
var ErrInvalidUpdate = errors.New("channel: invalid update")

// Channel is the type-erased contract every variant satisfies. Update
// receives every value written to the channel during one superstep, in
// the order they were produced; it is called exactly once per step per
// channel, with an empty slice when nothing was written so that variants
// which reset on a step boundary (Inbox) can observe it.
type Channel interface {
	// Update folds this step's writes into the channel's stored value.
	Update(values []any) error

	// Get returns the channel's current value, or ErrEmptyChannel.
	Get() (any, error)

	// Checkpoint returns an opaque, JSON-serializable snapshot of the
	// channel's internal state.
	Checkpoint() (any, error)

	// Restore replaces the channel's internal state with one previously
	// produced by Checkpoint. A nil state restores the channel to empty.
	Restore(state any) error
}

// Typed is satisfied by channels that can report their update/value
// types reflectively. Every variant in this package implements it; the
// graph builder does not consult it, so wiring is not type-checked.
type Typed interface {
	Channel
	UpdateType() reflect.Type
	ValueType() reflect.Type
}

// Factory constructs a fresh, empty instance of a channel variant. The
// registry a graph is built against stores one Factory per channel name;
// ChannelsManager calls it once per run to materialize a live channel.
type Factory func() Channel
