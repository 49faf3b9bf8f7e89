package channel

import (
	"fmt"
	"reflect"
)

// Set accumulates the union of every value ever written across the whole
// run; unlike Inbox it is never cleared on a step boundary. Membership is
// compared via fmt.Sprintf("%v", ...) so T need not be comparable.
type Set[T any] struct {
	order []T
	seen  map[string]struct{}
}

// NewSet returns a Factory producing Set[T] channels.
func NewSet[T any]() Factory {
	return func() Channel { return &Set[T]{seen: make(map[string]struct{})} }
}

func (c *Set[T]) Update(values []any) error {
	for _, raw := range values {
		v, ok := raw.(T)
		if !ok {
			return fmt.Errorf("%w: Set expected %T, got %T", ErrInvalidUpdate, *new(T), raw)
		}
		key := fmt.Sprintf("%v", v)
		if _, dup := c.seen[key]; dup {
			continue
		}
		c.seen[key] = struct{}{}
		c.order = append(c.order, v)
	}
	return nil
}

func (c *Set[T]) Get() (any, error) {
	out := make([]T, len(c.order))
	copy(out, c.order)
	return out, nil
}

func (c *Set[T]) Checkpoint() (any, error) {
	return c.order, nil
}

func (c *Set[T]) Restore(state any) error {
	if state == nil {
		c.order = nil
		c.seen = make(map[string]struct{})
		return nil
	}
	v, ok := state.([]T)
	if !ok {
		return fmt.Errorf("%w: Set cannot restore from %T", ErrInvalidUpdate, state)
	}
	c.order = v
	c.seen = make(map[string]struct{}, len(v))
	for _, item := range v {
		c.seen[fmt.Sprintf("%v", item)] = struct{}{}
	}
	return nil
}

func (c *Set[T]) UpdateType() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }
func (c *Set[T]) ValueType() reflect.Type  { return reflect.TypeOf((*[]T)(nil)).Elem() }
