package agent

import (
	"context"
	"encoding/json"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider for OpenAI chat models.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Stream makes an API call to OpenAI and emits the response as a turn-bounded
// delta sequence. The channel is closed after the done delta.
func (p *OpenAIProvider) Stream(ctx context.Context, messages []Message, tools []ToolSchema, settings Settings) (<-chan Delta, error) {
	params, err := p.buildParams(messages, tools, settings)
	if err != nil {
		return nil, err
	}

	ch := make(chan Delta, 16)
	go func() {
		defer close(ch)

		response, err := p.client.Chat.Completions.New(ctx, params)
		if err != nil {
			ch <- Delta{Type: DeltaError, Err: err}
			return
		}
		if len(response.Choices) == 0 {
			ch <- Delta{Type: DeltaError, Err: fmt.Errorf("no response choices returned")}
			return
		}

		choice := response.Choices[0]
		if choice.Message.Content != "" {
			ch <- Delta{Type: DeltaText, Text: choice.Message.Content}
		}

		for _, tc := range choice.Message.ToolCalls {
			args, err := ParseValue([]byte(tc.Function.Arguments))
			if err != nil {
				ch <- Delta{Type: DeltaError, Err: fmt.Errorf("parse tool arguments: %w", err)}
				return
			}
			id := tc.ID
			if id == "" {
				id = "call_" + gonanoid.Must(12)
			}
			ch <- Delta{Type: DeltaToolCall, ToolCall: &ToolCall{
				ID:   id,
				Name: tc.Function.Name,
				Args: args,
			}}
		}

		ch <- Delta{Type: DeltaDone, Usage: &Usage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		}}
	}()
	return ch, nil
}

func (p *OpenAIProvider) buildParams(messages []Message, tools []ToolSchema, settings Settings) (openai.ChatCompletionNewParams, error) {
	converted := []openai.ChatCompletionMessageParamUnion{}

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			converted = append(converted, openai.SystemMessage(msg.Text()))

		case RoleUser:
			converted = append(converted, openai.UserMessage(msg.Text()))

		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type != PartToolResult || part.ToolResult == nil {
					continue
				}
				result := part.ToolResult
				converted = append(converted, openai.ToolMessage(result.CallID, result.Text()))
			}

		case RoleAssistant:
			calls := msg.ToolCalls()
			if len(calls) == 0 {
				converted = append(converted, openai.AssistantMessage(msg.Text()))
				continue
			}

			toolCalls := []openai.ChatCompletionMessageToolCall{}
			for _, call := range calls {
				argsJSON, err := json.Marshal(call.Args)
				if err != nil {
					return openai.ChatCompletionNewParams{}, fmt.Errorf("marshal tool arguments: %w", err)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   call.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      call.Name,
						Arguments: string(argsJSON),
					},
				})
			}

			assistantMsg := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Text(),
				ToolCalls: toolCalls,
			}
			converted = append(converted, assistantMsg.ToParam())
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(settings.Model),
		Messages: converted,
	}

	if settings.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(settings.MaxTokens))
	}
	if settings.Temperature > 0 {
		params.Temperature = openai.Float(settings.Temperature)
	}

	if len(tools) > 0 {
		toolParams := []openai.ChatCompletionToolParam{}
		for _, tool := range tools {
			var schema map[string]interface{}
			if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
				return openai.ChatCompletionNewParams{}, fmt.Errorf("tool %s: invalid schema: %w", tool.Name, err)
			}
			toolParams = append(toolParams, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(schema),
				},
			})
		}
		params.Tools = toolParams
	}

	return params, nil
}
