package channel

import (
	"fmt"
	"reflect"
)

// Stream is an append-only log: every write from every step is kept, in
// the order it was produced, and Get returns the whole buffer. It is the
// channel variant behind observable, replayable process output.
type Stream[T any] struct {
	buffer []T
}

// NewStream returns a Factory producing Stream[T] channels.
func NewStream[T any]() Factory {
	return func() Channel { return &Stream[T]{} }
}

func (c *Stream[T]) Update(values []any) error {
	for _, raw := range values {
		v, ok := raw.(T)
		if !ok {
			return fmt.Errorf("%w: Stream expected %T, got %T", ErrInvalidUpdate, *new(T), raw)
		}
		c.buffer = append(c.buffer, v)
	}
	return nil
}

func (c *Stream[T]) Get() (any, error) {
	out := make([]T, len(c.buffer))
	copy(out, c.buffer)
	return out, nil
}

func (c *Stream[T]) Checkpoint() (any, error) {
	return c.buffer, nil
}

func (c *Stream[T]) Restore(state any) error {
	if state == nil {
		c.buffer = nil
		return nil
	}
	v, ok := state.([]T)
	if !ok {
		return fmt.Errorf("%w: Stream cannot restore from %T", ErrInvalidUpdate, state)
	}
	c.buffer = v
	return nil
}

func (c *Stream[T]) UpdateType() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }
func (c *Stream[T]) ValueType() reflect.Type  { return reflect.TypeOf((*[]T)(nil)).Elem() }
