// Package anthropic provides a model.Model implementation backed by the
// Anthropic Messages API, with tool use mapped onto DentalDesk's normalized
// content parts.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/dentaldesk/dentaldesk/core"
	"github.com/dentaldesk/dentaldesk/model"
)

// Options configure the Anthropic model adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client. The
// client reads ANTHROPIC_API_KEY from the environment.
func NewModel(optFns ...func(o *Options)) *Model {
	client := anthropic.NewClient()
	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       anthropic.ModelClaudeSonnet4_0,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements model.Model. Only the non-streaming path is supported,
// matching how the orchestration engine consumes planner output.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)

		if req.Stream {
			errCh <- fmt.Errorf("anthropic: streaming not supported by this adapter")
			return
		}

		params := anthropic.MessageNewParams{
			Model:       m.opts.Model,
			MaxTokens:   m.opts.MaxTokens,
			Temperature: anthropic.Float(m.opts.Temperature),
			Messages:    buildMessages(req.Contents),
			Tools:       buildTools(req.Tools),
		}
		if system := systemText(req); system != "" {
			params.System = []anthropic.TextBlockParam{{Text: system}}
		}

		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		parts := make([]core.Part, 0, len(resp.Content))
		for _, block := range resp.Content {
			switch b := block.AsAny().(type) {
			case anthropic.TextBlock:
				parts = append(parts, core.TextPart{Text: b.Text})
			case anthropic.ToolUseBlock:
				parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
					ID:        b.ID,
					Name:      b.Name,
					Arguments: string(b.Input),
				}})
			}
		}

		out <- model.Response{
			ID:           resp.ID,
			Partial:      false,
			Content:      core.Content{Role: "assistant", Parts: parts},
			FinishReason: string(resp.StopReason),
			Usage: &model.TokenUsage{
				PromptTokens:     int(resp.Usage.InputTokens),
				CompletionTokens: int(resp.Usage.OutputTokens),
				TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
			},
		}
	}()
	return out, errCh
}

// systemText merges explicit instructions with any system-role contents.
func systemText(req model.Request) string {
	var b strings.Builder
	b.WriteString(req.Instructions)
	for _, c := range req.Contents {
		if c.Role != "system" {
			continue
		}
		for _, p := range c.Parts {
			if tp, ok := p.(core.TextPart); ok {
				if b.Len() > 0 {
					b.WriteString("\n\n")
				}
				b.WriteString(tp.Text)
			}
		}
	}
	return b.String()
}

// buildMessages converts normalized contents into Anthropic messages. Tool
// results become user-role tool_result blocks, which is how the Messages API
// expects them.
func buildMessages(contents []core.Content) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, c := range contents {
		switch c.Role {
		case "system":
			// Lifted into the top-level system prompt by systemText.
		case "user":
			if blocks := userBlocks(c); len(blocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(blocks...))
			}
		case "assistant":
			if blocks := assistantBlocks(c); len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		case "tool":
			if blocks := toolResultBlocks(c); len(blocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(blocks...))
			}
		}
	}
	return messages
}

func userBlocks(c core.Content) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range c.Parts {
		if tp, ok := p.(core.TextPart); ok && tp.Text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(tp.Text))
		}
	}
	return blocks
}

func assistantBlocks(c core.Content) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range c.Parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case core.FunctionCallPart:
			var input any
			if err := json.Unmarshal([]byte(part.FunctionCall.Arguments), &input); err != nil {
				input = map[string]any{}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(part.FunctionCall.ID, input, part.FunctionCall.Name))
		}
	}
	return blocks
}

func toolResultBlocks(c core.Content) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range c.Parts {
		fr, ok := p.(core.FunctionResponsePart)
		if !ok {
			continue
		}
		isError := fr.FunctionResponse.Error != ""
		content := fr.FunctionResponse.Error
		if !isError {
			if s, ok := fr.FunctionResponse.Response.(string); ok {
				content = s
			} else {
				content = fmt.Sprintf("%v", fr.FunctionResponse.Response)
			}
		}
		blocks = append(blocks, anthropic.NewToolResultBlock(fr.FunctionResponse.ID, content, isError))
	}
	return blocks
}

// buildTools converts generic tool definitions into Anthropic tool params.
func buildTools(defs []model.ToolDefinition) []anthropic.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, tdef := range defs {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if props, ok := tdef.Function.Parameters["properties"]; ok {
			schema.Properties = props
		}
		if required, ok := tdef.Function.Parameters["required"].([]string); ok {
			schema.Required = required
		} else if raw, ok := tdef.Function.Parameters["required"].([]any); ok {
			for _, r := range raw {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		tools = append(tools, anthropic.ToolUnionParamOfTool(schema, tdef.Function.Name))
	}
	return tools
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
