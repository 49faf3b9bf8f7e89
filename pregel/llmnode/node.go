package llmnode

import (
	"context"
	"fmt"

	"github.com/pregel-run/pregel-go/pregel"
)

// Config holds the channel wiring and tool offer for a chat node.
// Options mutate it; Node starts from a Config that reads
// pregel.DefaultInputChannel and writes a channel named after the node.
type Config struct {
	Read  string
	Write string
	Tools []ToolSpec
}

type Option func(*Config)

// WithReadChannel overrides the channel a chat node reads its prompt from.
func WithReadChannel(name string) Option {
	return func(c *Config) { c.Read = name }
}

// WithWriteChannel overrides the channel a chat node writes its reply to.
func WithWriteChannel(name string) Option {
	return func(c *Config) { c.Write = name }
}

// WithTools offers a fixed set of tools on every call to the node.
func WithTools(tools []ToolSpec) Option {
	return func(c *Config) { c.Tools = tools }
}

// Node wraps any ChatModel as a process. Its input may be a string (wrapped
// as a single user message), a []Message, or a Message.
func Node(name string, model ChatModel, opts ...Option) pregel.Process {
	cfg := Config{Read: pregel.DefaultInputChannel, Write: name}
	for _, opt := range opts {
		opt(&cfg)
	}

	return pregel.Process{
		Name:  name,
		Reads: []pregel.ChannelRef{{Name: cfg.Read, Trigger: true}},
		Run: func(ctx context.Context, input any) ([]pregel.Write, error) {
			messages, err := toMessages(input)
			if err != nil {
				return nil, fmt.Errorf("llmnode %s: %w", name, err)
			}
			out, err := model.Chat(ctx, messages, cfg.Tools)
			if err != nil {
				return nil, err
			}
			return []pregel.Write{{Channel: cfg.Write, Value: out}}, nil
		},
	}
}

func toMessages(input any) ([]Message, error) {
	switch v := input.(type) {
	case string:
		return []Message{{Role: RoleUser, Content: v}}, nil
	case Message:
		return []Message{v}, nil
	case []Message:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported chat input type %T", input)
	}
}
