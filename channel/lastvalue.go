package channel

import (
	"fmt"
	"reflect"
)

// LastValue holds exactly one write per step; a second write in the same
// step is rejected with ErrInvalidUpdate. This is the default channel
// variant for scalar process output ("the answer so far").
type LastValue[T any] struct {
	value T
	set   bool
}

// NewLastValue returns a Factory producing empty LastValue[T] channels.
func NewLastValue[T any]() Factory {
	return func() Channel { return &LastValue[T]{} }
}

func (c *LastValue[T]) Update(values []any) error {
	if len(values) == 0 {
		return nil
	}
	if len(values) > 1 {
		return fmt.Errorf("%w: LastValue received %d writes in one step", ErrInvalidUpdate, len(values))
	}
	v, ok := values[0].(T)
	if !ok {
		return fmt.Errorf("%w: LastValue expected %T, got %T", ErrInvalidUpdate, c.value, values[0])
	}
	c.value = v
	c.set = true
	return nil
}

func (c *LastValue[T]) Get() (any, error) {
	if !c.set {
		return nil, ErrEmptyChannel
	}
	return c.value, nil
}

func (c *LastValue[T]) Checkpoint() (any, error) {
	if !c.set {
		return nil, nil
	}
	return c.value, nil
}

func (c *LastValue[T]) Restore(state any) error {
	if state == nil {
		c.value = *new(T)
		c.set = false
		return nil
	}
	v, ok := state.(T)
	if !ok {
		return fmt.Errorf("%w: LastValue cannot restore from %T", ErrInvalidUpdate, state)
	}
	c.value = v
	c.set = true
	return nil
}

func (c *LastValue[T]) UpdateType() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }
func (c *LastValue[T]) ValueType() reflect.Type  { return reflect.TypeOf((*T)(nil)).Elem() }
