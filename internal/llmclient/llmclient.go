// Package llmclient declares the LLMClient interface the extraction
// engine calls out to for structured-output extraction and schema
// analysis, plus concrete Anthropic and OpenAI adapters.
package llmclient

import (
	"context"
	"fmt"
)

// CallOptions configures one LLM call.
type CallOptions struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	JSONSchema   []byte // when set, the provider is asked for schema-constrained structured output
	Temperature  float64
	MaxTokens    int
}

// CallResult is the normalized response shape across providers.
type CallResult struct {
	Content      string // raw text, or the JSON object when JSONSchema was set
	InputTokens  int
	OutputTokens int
	StopReason   string
}

// LLMClient is the interface the analyzer and extractor depend on. The
// engine injects a concrete provider adapter at startup; tests inject a
// fake.
type LLMClient interface {
	Call(ctx context.Context, opts CallOptions) (*CallResult, error)
}

// ErrRateLimited is returned by adapters when the provider signals a
// rate limit (HTTP 429), distinguishing a retryable condition from a
// hard failure.
type ErrRateLimited struct {
	Provider string
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("llmclient: %s rate limited the request", e.Provider)
}
