// Package llm provides provider-neutral chat completion clients for the
// text polishing stage. DeepSeek and ModelScope speak the OpenAI wire
// format and are reached through the openai provider with a base URL.
package llm

import (
	"context"
	"fmt"
)

type Message struct {
	Role    string
	Content string
}

// Completion carries the model output plus the token usage the caller
// records against the active model's quota.
type Completion struct {
	Text        string
	TotalTokens int
}

type Client interface {
	Complete(ctx context.Context, messages []Message) (Completion, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai", "deepseek", "modelscope":
		return newOpenAIClient(apiKey, model, o)
	case "anthropic":
		return newAnthropicClient(apiKey, model, o)
	case "gemini":
		return newGeminiClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, deepseek, modelscope, anthropic, gemini", provider)
	}
}
