package llmnode

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/pregel-run/pregel-go/pregel"
	"google.golang.org/api/option"
)

// Google returns a process backed by the Gemini API. modelName defaults to
// gemini-2.5-flash when empty.
func Google(name, apiKey, modelName string, opts ...Option) pregel.Process {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	return Node(name, &googleModel{apiKey: apiKey, modelName: modelName}, opts...)
}

type googleModel struct {
	apiKey    string
	modelName string
}

func (m *googleModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if m.apiKey == "" {
		return ChatOut{}, fmt.Errorf("llmnode: google api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(m.apiKey))
	if err != nil {
		return ChatOut{}, fmt.Errorf("google: new client: %w", err)
	}
	defer client.Close()

	gm := client.GenerativeModel(m.modelName)
	if len(tools) > 0 {
		gm.Tools = googleTools(tools)
	}

	resp, err := gm.GenerateContent(ctx, googleParts(messages)...)
	if err != nil {
		return ChatOut{}, fmt.Errorf("google: %w", err)
	}
	return googleChatOut(resp), nil
}

func googleParts(messages []Message) []genai.Part {
	var parts []genai.Part
	for _, msg := range messages {
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}
	return parts
}

func googleTools(tools []ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  googleSchema(tool.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func googleSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	result := &genai.Schema{Type: genai.TypeObject}
	if props, ok := schema["properties"].(map[string]any); ok {
		properties := make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			propMap, ok := val.(map[string]any)
			if !ok {
				continue
			}
			prop := &genai.Schema{}
			if t, ok := propMap["type"].(string); ok {
				prop.Type = googleType(t)
			}
			if d, ok := propMap["description"].(string); ok {
				prop.Description = d
			}
			properties[key] = prop
		}
		result.Properties = properties
	}
	if required, ok := schema["required"].([]string); ok {
		result.Required = required
	}
	return result
}

func googleType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func googleChatOut(resp *genai.GenerateContentResponse) ChatOut {
	var out ChatOut
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, ToolCall{Name: p.Name, Input: p.Args})
		}
	}
	return out
}
