package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicClient adapts the Messages API to LLMClient. Structured
// output is requested via a forced tool call whose input schema is
// opts.JSONSchema, the same technique the engine's LLM extractor uses to
// make every provider emit schema-conformant JSON.
type anthropicClient struct {
	client anthropic.Client
}

// NewAnthropicClient builds an LLMClient backed by the Anthropic API.
func NewAnthropicClient(apiKey string) LLMClient {
	return &anthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

const structuredOutputToolName = "emit_structured_output"

func (c *anthropicClient) Call(ctx context.Context, opts CallOptions) (*CallResult, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(opts.Model),
		MaxTokens: int64(maxTokensOrDefault(opts.MaxTokens)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(opts.UserPrompt)),
		},
	}
	if opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.SystemPrompt}}
	}

	if len(opts.JSONSchema) > 0 {
		var schema map[string]any
		if err := json.Unmarshal(opts.JSONSchema, &schema); err != nil {
			return nil, fmt.Errorf("llmclient: decode json schema: %w", err)
		}
		params.Tools = []anthropic.ToolUnionParam{
			{
				OfTool: &anthropic.ToolParam{
					Name:        structuredOutputToolName,
					InputSchema: anthropic.ToolInputSchemaParam{Properties: schema["properties"]},
				},
			},
		}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: structuredOutputToolName},
		}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
			return nil, &ErrRateLimited{Provider: "anthropic"}
		}
		return nil, fmt.Errorf("llmclient: anthropic call: %w", err)
	}

	content, err := extractAnthropicContent(msg, len(opts.JSONSchema) > 0)
	if err != nil {
		return nil, err
	}

	return &CallResult{
		Content:      content,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		StopReason:   string(msg.StopReason),
	}, nil
}

func extractAnthropicContent(msg *anthropic.Message, structured bool) (string, error) {
	for _, block := range msg.Content {
		if structured {
			if block.Type == "tool_use" && block.Name == structuredOutputToolName {
				raw, err := json.Marshal(block.Input)
				if err != nil {
					return "", fmt.Errorf("llmclient: marshal tool_use input: %w", err)
				}
				return string(raw), nil
			}
			continue
		}
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("llmclient: no usable content block in anthropic response")
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}
