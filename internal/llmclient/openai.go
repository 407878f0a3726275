package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// openaiClient adapts the Chat Completions API to LLMClient, using a
// json_schema response_format for structured output requests.
type openaiClient struct {
	client openai.Client
}

// NewOpenAIClient builds an LLMClient backed by the OpenAI API. baseURL
// may be overridden to point at an Ollama or other OpenAI-compatible
// endpoint.
func NewOpenAIClient(apiKey, baseURL string) LLMClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openaiClient{client: openai.NewClient(opts...)}
}

func (c *openaiClient) Call(ctx context.Context, opts CallOptions) (*CallResult, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if opts.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(opts.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(opts.UserPrompt))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(opts.Model),
		Messages:    messages,
		Temperature: openai.Float(opts.Temperature),
	}

	if len(opts.JSONSchema) > 0 {
		var schema any
		if err := json.Unmarshal(opts.JSONSchema, &schema); err != nil {
			return nil, fmt.Errorf("llmclient: decode json schema: %w", err)
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "extraction_result",
					Schema: schema,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
			return nil, &ErrRateLimited{Provider: "openai"}
		}
		return nil, fmt.Errorf("llmclient: openai call: %w", err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("llmclient: openai response had no choices")
	}

	return &CallResult{
		Content:      completion.Choices[0].Message.Content,
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
		StopReason:   string(completion.Choices[0].FinishReason),
	}, nil
}
