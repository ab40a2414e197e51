package adk

import (
	"context"
	"fmt"
)

// Providers lists the supported provider names.
var Providers = []string{"gemini", "openai", "anthropic"}

func NewProvider(ctx context.Context, providerName string, opts Options) (LLMProvider, error) {
	switch providerName {
	case "gemini":
		return NewGeminiProvider(ctx, opts)
	case "openai":
		return NewOpenAIProvider(opts), nil
	case "anthropic":
		return NewAnthropicProvider(opts), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", providerName)
	}
}
