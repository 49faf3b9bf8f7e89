package pregel

import (
	"context"

	"github.com/pregel-run/pregel-go/channel"
)

// NodeFunc is the single-input, single-output computation a graph node
// runs. It is a convenience wrapper over ProcessFunc for the common
// case of one upstream value in, one value out to every downstream
// edge; nodes with multiple reads or writes should build a Process
// directly instead of going through Builder.
type NodeFunc func(ctx context.Context, value any) (any, error)

// Builder assembles a registry of Process values and their channel
// factories from a small node/edge vocabulary, for callers who do not
// want to hand-write ChannelRef wiring. It is not part of the core
// step loop contract — Loop only needs the []Process and factory map
// a Builder produces.
type Builder struct {
	nodes    map[string]NodeFunc
	order    []string
	edges    map[string][]string
	entry    string
	channels map[string]channel.Factory
}

// NewGraph returns an empty Builder.
func NewGraph() *Builder {
	return &Builder{
		nodes:    map[string]NodeFunc{},
		edges:    map[string][]string{},
		channels: map[string]channel.Factory{},
	}
}

// nodeChannel is the LastValue channel a node's output is written to
// and its downstream edges read from.
func nodeChannel(name string) string {
	return "node:" + name
}

// AddNode registers a node under name, backed by fn. Its output
// channel is a LastValue unless overridden by AddChannel.
func (b *Builder) AddNode(name string, fn NodeFunc) *Builder {
	b.nodes[name] = fn
	b.order = append(b.order, name)
	if _, ok := b.channels[nodeChannel(name)]; !ok {
		b.channels[nodeChannel(name)] = channel.NewLastValue[any]()
	}
	return b
}

// AddChannel overrides the channel factory backing name — either a
// node's output channel (see nodeChannel) or a custom channel name
// read directly by a node added with AddNode and wired by AddEdge.
func (b *Builder) AddChannel(name string, factory channel.Factory) *Builder {
	b.channels[name] = factory
	return b
}

// AddEdge wires to's trigger input to from's output. A node may have
// any number of incoming edges; its Process assembles a
// map[string]any keyed by the upstream node name when it has more
// than one.
func (b *Builder) AddEdge(from, to string) *Builder {
	b.edges[to] = append(b.edges[to], from)
	return b
}

// SetEntryPoint marks name as the graph's entry node: it reads the
// reserved DefaultInputChannel as an additional trigger, so caller
// input (written there by Loop.Run) starts the run.
func (b *Builder) SetEntryPoint(name string) *Builder {
	b.entry = name
	if _, ok := b.channels[DefaultInputChannel]; !ok {
		b.channels[DefaultInputChannel] = channel.NewLastValue[any]()
	}
	return b
}

// Build resolves every added node into a Process reading its upstream
// edges (and the input channel, for the entry point) and writing its
// single output to its own node channel, plus the full channel
// factory map AddChannel/AddNode/SetEntryPoint accumulated.
func (b *Builder) Build() ([]Process, map[string]channel.Factory) {
	registry := make([]Process, 0, len(b.order))

	for _, name := range b.order {
		fn := b.nodes[name]
		reads := make([]ChannelRef, 0, len(b.edges[name])+1)
		multi := len(b.edges[name]) > 1 || (name == b.entry && len(b.edges[name]) > 0)
		for _, from := range b.edges[name] {
			ref := ChannelRef{Name: nodeChannel(from), Trigger: true}
			if multi {
				ref.Key = from
			}
			reads = append(reads, ref)
		}
		if name == b.entry {
			reads = append(reads, ChannelRef{Name: DefaultInputChannel, Trigger: true})
		}

		out := nodeChannel(name)
		registry = append(registry, Process{
			Name:  name,
			Reads: reads,
			Run: func(ctx context.Context, input any) ([]Write, error) {
				v, err := fn(ctx, input)
				if err != nil {
					return nil, err
				}
				return []Write{{Channel: out, Value: v}}, nil
			},
		})
	}

	return registry, b.channels
}
