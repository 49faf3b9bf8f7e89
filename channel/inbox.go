package channel

import (
	"fmt"
	"reflect"
)

// Inbox holds the writes made to it during the current step only; it is
// rewritten, not appended to, on every Update call, so a step with no
// writes clears it. Use it to fan writes from several producers into one
// consumer that reads "everything written this step".
type Inbox[T any] struct {
	items  []T
	unique bool
	seen   map[string]struct{}
}

// NewInbox returns a Factory producing Inbox[T] channels that keep every
// write, including duplicates, in insertion order.
func NewInbox[T any]() Factory {
	return func() Channel { return &Inbox[T]{} }
}

// NewUniqueInbox returns a Factory producing Inbox[T] channels that drop
// duplicate writes (compared via fmt.Sprintf("%v", ...)) while preserving
// the insertion order of the first occurrence.
func NewUniqueInbox[T any]() Factory {
	return func() Channel { return &Inbox[T]{unique: true, seen: make(map[string]struct{})} }
}

func (c *Inbox[T]) Update(values []any) error {
	c.items = nil
	if c.unique {
		c.seen = make(map[string]struct{}, len(values))
	}
	for _, raw := range values {
		v, ok := raw.(T)
		if !ok {
			return fmt.Errorf("%w: Inbox expected %T, got %T", ErrInvalidUpdate, *new(T), raw)
		}
		if c.unique {
			key := fmt.Sprintf("%v", v)
			if _, dup := c.seen[key]; dup {
				continue
			}
			c.seen[key] = struct{}{}
		}
		c.items = append(c.items, v)
	}
	return nil
}

func (c *Inbox[T]) Get() (any, error) {
	if c.items == nil {
		return []T{}, nil
	}
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out, nil
}

func (c *Inbox[T]) Checkpoint() (any, error) {
	return c.items, nil
}

func (c *Inbox[T]) Restore(state any) error {
	if state == nil {
		c.items = nil
		return nil
	}
	v, ok := state.([]T)
	if !ok {
		return fmt.Errorf("%w: Inbox cannot restore from %T", ErrInvalidUpdate, state)
	}
	c.items = v
	if c.unique {
		c.seen = make(map[string]struct{}, len(v))
		for _, item := range v {
			c.seen[fmt.Sprintf("%v", item)] = struct{}{}
		}
	}
	return nil
}

func (c *Inbox[T]) UpdateType() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }
func (c *Inbox[T]) ValueType() reflect.Type  { return reflect.TypeOf((*[]T)(nil)).Elem() }
