package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider for Anthropic Claude.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Stream makes an API call to Anthropic Claude and emits the response as a
// turn-bounded delta sequence. The channel is closed after the done delta.
func (p *AnthropicProvider) Stream(ctx context.Context, messages []Message, tools []ToolSchema, settings Settings) (<-chan Delta, error) {
	params, err := p.buildParams(messages, tools, settings)
	if err != nil {
		return nil, err
	}

	ch := make(chan Delta, 16)
	go func() {
		defer close(ch)

		response, err := p.client.Messages.New(ctx, params)
		if err != nil {
			ch <- Delta{Type: DeltaError, Err: err}
			return
		}

		for _, block := range response.Content {
			switch b := block.AsAny().(type) {
			case anthropic.TextBlock:
				ch <- Delta{Type: DeltaText, Text: b.Text}
			case anthropic.ThinkingBlock:
				ch <- Delta{Type: DeltaReasoning, Text: b.Thinking}
			case anthropic.ToolUseBlock:
				args, err := ParseValue([]byte(b.JSON.Input.Raw()))
				if err != nil {
					ch <- Delta{Type: DeltaError, Err: fmt.Errorf("parse tool input: %w", err)}
					return
				}
				ch <- Delta{Type: DeltaToolCall, ToolCall: &ToolCall{
					ID:   b.ID,
					Name: b.Name,
					Args: args,
				}}
			}
		}

		ch <- Delta{Type: DeltaDone, Usage: &Usage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		}}
	}()
	return ch, nil
}

func (p *AnthropicProvider) buildParams(messages []Message, tools []ToolSchema, settings Settings) (anthropic.MessageNewParams, error) {
	anthropicMessages := []anthropic.MessageParam{}
	system := ""

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			// System messages are carried out of band.
			system += msg.Text()

		case RoleTool:
			blocks := []anthropic.ContentBlockParamUnion{}
			for _, part := range msg.Parts {
				if part.Type != PartToolResult || part.ToolResult == nil {
					continue
				}
				result := part.ToolResult
				blocks = append(blocks, anthropic.NewToolResultBlock(result.CallID, result.Text(), result.Failed()))
			}
			if len(blocks) > 0 {
				anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(blocks...))
			}

		case RoleUser:
			blocks := []anthropic.ContentBlockParamUnion{}
			for _, part := range msg.Parts {
				switch part.Type {
				case PartText:
					blocks = append(blocks, anthropic.NewTextBlock(part.Text))
				case PartImage:
					if part.Image != nil {
						encoded := base64.StdEncoding.EncodeToString(part.Image.Data)
						blocks = append(blocks, anthropic.NewImageBlockBase64(part.Image.MediaType, encoded))
					}
				}
			}
			if len(blocks) > 0 {
				anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(blocks...))
			}

		case RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			for _, part := range msg.Parts {
				switch part.Type {
				case PartText:
					if part.Text != "" {
						blocks = append(blocks, anthropic.NewTextBlock(part.Text))
					}
				case PartToolCall:
					if part.ToolCall != nil {
						call := part.ToolCall
						blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Args.ToAny(), call.Name))
					}
				}
			}
			if len(blocks) > 0 {
				anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
					Role:    anthropic.MessageParamRoleAssistant,
					Content: blocks,
				})
			}
		}
	}

	maxTokens := settings.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(settings.Model),
		Messages:  anthropicMessages,
		MaxTokens: int64(maxTokens),
	}

	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	if settings.Temperature > 0 {
		params.Temperature = anthropic.Float(settings.Temperature)
	}

	if len(tools) > 0 {
		toolParams := []anthropic.ToolUnionParam{}
		for _, tool := range tools {
			var schema map[string]interface{}
			if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
				return anthropic.MessageNewParams{}, fmt.Errorf("tool %s: invalid schema: %w", tool.Name, err)
			}

			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema["properties"],
				},
			}

			if required, ok := schema["required"].([]interface{}); ok {
				strs := make([]string, len(required))
				for i, v := range required {
					strs[i], _ = v.(string)
				}
				toolParam.InputSchema.Required = strs
			}

			toolParams = append(toolParams, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = toolParams
	}

	return params, nil
}
